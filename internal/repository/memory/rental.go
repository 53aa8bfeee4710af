package memory

import (
	"context"
	"time"

	"powerbank-rental-backend/internal/domain"
)

type rentalRepository struct {
	s    *Store
	inTx bool
}

func (r *rentalRepository) Create(ctx context.Context, rental *domain.Rental) error {
	var err error
	r.s.run(r.inTx, func(db *state) {
		for _, existing := range db.rentals {
			if existing.UserID == rental.UserID && existing.IsOpen() {
				err = domain.ErrActiveRentalExists.WithOp("rentalRepository.Create")
				return
			}
		}
		now := time.Now().UTC()
		rental.ID = db.next("rentals")
		if rental.CreatedAt.IsZero() {
			rental.CreatedAt = now
		}
		rental.UpdatedAt = now
		db.rentals[rental.ID] = *rental
	})
	return err
}

func (r *rentalRepository) GetByID(ctx context.Context, id int32) (*domain.Rental, error) {
	var out *domain.Rental
	r.s.run(r.inTx, func(db *state) {
		if rt, ok := db.rentals[id]; ok {
			out = &rt
		}
	})
	if out == nil {
		return nil, domain.NewNotFoundError("rentalRepository.GetByID", "rental", id)
	}
	return out, nil
}

func (r *rentalRepository) LockByID(ctx context.Context, id int32) (*domain.Rental, error) {
	return r.GetByID(ctx, id)
}

func (r *rentalRepository) LockActiveByPowerBank(ctx context.Context, powerBankID int32) (*domain.Rental, error) {
	return r.findOne(func(rt domain.Rental) bool {
		return rt.PowerBankID == powerBankID && rt.Status == domain.RentalStatusActive
	}), nil
}

func (r *rentalRepository) LatestByPowerBank(ctx context.Context, powerBankID int32) (*domain.Rental, error) {
	var out *domain.Rental
	r.s.run(r.inTx, func(db *state) {
		for _, rt := range db.rentals {
			if rt.PowerBankID != powerBankID {
				continue
			}
			if out == nil || rt.ID > out.ID {
				cp := rt
				out = &cp
			}
		}
	})
	return out, nil
}

func (r *rentalRepository) FindOpenByUser(ctx context.Context, userID int32) (*domain.Rental, error) {
	return r.findOne(func(rt domain.Rental) bool {
		return rt.UserID == userID && rt.IsOpen()
	}), nil
}

func (r *rentalRepository) findOne(match func(domain.Rental) bool) *domain.Rental {
	found := r.filter(match)
	if len(found) == 0 {
		return nil
	}
	return &found[0]
}

// filter returns matching rentals ordered by id.
func (r *rentalRepository) filter(match func(domain.Rental) bool) []domain.Rental {
	var out []domain.Rental
	r.s.run(r.inTx, func(db *state) {
		for _, rt := range db.rentals {
			if match(rt) {
				out = append(out, rt)
			}
		}
	})
	sortRentals(out, func(a, b domain.Rental) bool { return a.ID < b.ID })
	return out
}

func (r *rentalRepository) Update(ctx context.Context, rental *domain.Rental) error {
	var err error
	r.s.run(r.inTx, func(db *state) {
		existing, ok := db.rentals[rental.ID]
		if !ok {
			err = domain.NewNotFoundError("rentalRepository.Update", "rental", rental.ID)
			return
		}
		rental.CreatedAt = existing.CreatedAt
		rental.UpdatedAt = time.Now().UTC()
		db.rentals[rental.ID] = *rental
	})
	return err
}

func (r *rentalRepository) ListByUser(ctx context.Context, userID int32, status domain.RentalStatus, pageNum, pageSize int32) ([]domain.Rental, int32, error) {
	all := r.filter(func(rt domain.Rental) bool {
		return rt.UserID == userID && (status == "" || rt.Status == status)
	})
	sortRentals(all, func(a, b domain.Rental) bool { return a.ID > b.ID })
	return page(all, pageNum, pageSize), int32(len(all)), nil
}

func (r *rentalRepository) ListOverdue(ctx context.Context, now time.Time, afterID, n int32) ([]domain.Rental, error) {
	return r.candidates(afterID, n, func(rt domain.Rental) bool {
		return rt.Status == domain.RentalStatusActive && rt.DueAt != nil && rt.DueAt.Before(now)
	}), nil
}

func (r *rentalRepository) ListDueSoon(ctx context.Context, now, until time.Time, afterID, n int32) ([]domain.Rental, error) {
	return r.candidates(afterID, n, func(rt domain.Rental) bool {
		return rt.Status == domain.RentalStatusActive && rt.DueAt != nil && rt.DueReminderSentAt == nil &&
			rt.DueAt.After(now) && !rt.DueAt.After(until)
	}), nil
}

func (r *rentalRepository) ListOutstanding(ctx context.Context, afterID, n int32) ([]domain.Rental, error) {
	return r.candidates(afterID, n, func(rt domain.Rental) bool { return rt.HasOutstandingDues() }), nil
}

func (r *rentalRepository) ListStalePending(ctx context.Context, createdBefore time.Time, afterID, n int32) ([]domain.Rental, error) {
	return r.candidates(afterID, n, func(rt domain.Rental) bool {
		return rt.Status == domain.RentalStatusPending && rt.CreatedAt.Before(createdBefore)
	}), nil
}

// candidates is one keyset page of matching rentals in id order.
func (r *rentalRepository) candidates(afterID, n int32, match func(domain.Rental) bool) []domain.Rental {
	return limit(r.filter(func(rt domain.Rental) bool { return rt.ID > afterID && match(rt) }), n)
}

func (r *rentalRepository) AddExtension(ctx context.Context, ext *domain.RentalExtension) error {
	r.s.run(r.inTx, func(db *state) {
		ext.ID = db.next("rental_extensions")
		if ext.CreatedAt.IsZero() {
			ext.CreatedAt = time.Now().UTC()
		}
		db.extensions = append(db.extensions, *ext)
	})
	return nil
}

func (r *rentalRepository) ListExtensions(ctx context.Context, rentalID int32) ([]domain.RentalExtension, error) {
	var out []domain.RentalExtension
	r.s.run(r.inTx, func(db *state) {
		for _, e := range db.extensions {
			if e.RentalID == rentalID {
				out = append(out, e)
			}
		}
	})
	return out, nil
}
