package postgres

import (
	"context"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/repository"
)

const packageColumns = `id, name, duration_minutes, price, payment_model, is_active, created_at`

func scanPackage(row rowScanner) (*domain.RentalPackage, error) {
	p := &domain.RentalPackage{}
	if err := row.Scan(&p.ID, &p.Name, &p.DurationMinutes, &p.Price, &p.PaymentModel, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

type packageRepository struct {
	db querier
}

func NewPackageRepository(db querier) repository.PackageRepository {
	return &packageRepository{db: db}
}

func (r *packageRepository) GetByID(ctx context.Context, id int32) (*domain.RentalPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM rental_packages WHERE id = $1`
	p, err := scanPackage(r.db.QueryRowContext(ctx, query, id))
	return notFound(p, err, "packageRepository.GetByID", "package", id)
}

func (r *packageRepository) ListActive(ctx context.Context) ([]domain.RentalPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM rental_packages WHERE is_active = TRUE ORDER BY payment_model, duration_minutes, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pkgs []domain.RentalPackage
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, *p)
	}
	return pkgs, rows.Err()
}
