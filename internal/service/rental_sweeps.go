package service

import (
	"context"
	"errors"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/repository"
)

func (s *rentalService) AccrueOverdue(ctx context.Context, rentalID int32) (bool, error) {
	out, err := s.fire(ctx, request{transition: domain.TransitionAccrueOverdue, rentalID: rentalID, system: true})
	return out.changed, err
}

func (s *rentalService) ExpirePending(ctx context.Context, rentalID int32) (bool, error) {
	out, err := s.fire(ctx, request{transition: domain.TransitionExpirePending, rentalID: rentalID, system: true})
	return out.changed, err
}

// accrueOverdue refreshes the late-charge estimate of an ACTIVE rental past
// its due time. Nothing is charged until the bank is returned.
func (s *rentalService) accrueOverdue(ctx context.Context, req request) (outcome, error) {
	var out outcome
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		rt, err := tx.Rentals().LockByID(ctx, req.rentalID)
		if err != nil {
			return err
		}
		now := s.now()
		if rt.Status != domain.RentalStatusActive || rt.StartedAt == nil || rt.DueAt == nil || !now.After(*rt.DueAt) {
			return nil
		}
		estimate := s.chargeAt(rt, now).OverdueAmount
		if estimate.Equal(rt.OverdueAmount) {
			return nil
		}
		rt.OverdueAmount = estimate
		if err := tx.Rentals().Update(ctx, rt); err != nil {
			return err
		}
		out = outcome{rental: rt, changed: true, events: []domain.Event{s.event(domain.EventRentalOverdue, rt, estimate)}}
		return nil
	})
	if err != nil {
		return outcome{}, err
	}
	if out.changed {
		logger.WithRental(out.rental.ID).Info("Overdue estimate updated", "overdue", out.rental.OverdueAmount.StringFixed(2))
	}
	return out, nil
}

// SendDueReminder emits one due-soon reminder per due time.
func (s *rentalService) SendDueReminder(ctx context.Context, rentalID int32) (bool, error) {
	var out outcome
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		rt, err := tx.Rentals().LockByID(ctx, rentalID)
		if err != nil {
			return err
		}
		now := s.now()
		if rt.Status != domain.RentalStatusActive || rt.DueAt == nil || rt.DueReminderSentAt != nil ||
			!rt.DueAt.After(now) || rt.DueAt.After(now.Add(s.policy.DueSoonWindow)) {
			return nil
		}
		rt.DueReminderSentAt = &now
		if err := tx.Rentals().Update(ctx, rt); err != nil {
			return err
		}
		out = outcome{rental: rt, changed: true, events: []domain.Event{s.event(domain.EventRentalDueSoon, rt, rt.AmountPaid)}}
		return nil
	})
	if err != nil {
		return false, err
	}
	s.publish(ctx, out.events)
	return out.changed, nil
}

// expirePending resolves a rental stuck in PENDING, which happens when the
// process died or the database failed between charging and recording the
// dispense outcome. A confirmed dispense is activated; anything else is
// compensated.
func (s *rentalService) expirePending(ctx context.Context, req request) (outcome, error) {
	rt, err := s.store.Rentals().GetByID(ctx, req.rentalID)
	if err != nil {
		return outcome{}, err
	}
	cutoff := s.now().Add(-s.policy.PendingTimeout)
	if rt.Status != domain.RentalStatusPending || !rt.CreatedAt.Before(cutoff) {
		return outcome{}, nil
	}

	if rt.DispensedAt != nil {
		out, err := s.activate(ctx, rt.ID, *rt.DispensedAt)
		if errors.Is(err, domain.ErrInvalidState) {
			return outcome{}, nil
		}
		if err == nil {
			logger.WithRental(rt.ID).Info("Activated dispensed rental left PENDING", "dispensedAt", *rt.DispensedAt)
		}
		return out, err
	}

	out, err := s.compensate(ctx, rt.ID, "dispense not confirmed")
	s.metrics.RecordCompensation("pending_timeout", err)
	if errors.Is(err, domain.ErrInvalidState) {
		return outcome{}, nil
	}
	return out, err
}
