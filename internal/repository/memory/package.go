package memory

import (
	"context"
	"sort"

	"powerbank-rental-backend/internal/domain"
)

type packageRepository struct {
	s    *Store
	inTx bool
}

func (r *packageRepository) GetByID(ctx context.Context, id int32) (*domain.RentalPackage, error) {
	var out *domain.RentalPackage
	r.s.run(r.inTx, func(db *state) {
		if p, ok := db.packages[id]; ok {
			out = &p
		}
	})
	if out == nil {
		return nil, domain.NewNotFoundError("packageRepository.GetByID", "package", id)
	}
	return out, nil
}

func (r *packageRepository) ListActive(ctx context.Context) ([]domain.RentalPackage, error) {
	var out []domain.RentalPackage
	r.s.run(r.inTx, func(db *state) {
		for _, p := range db.packages {
			if p.IsActive {
				out = append(out, p)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
