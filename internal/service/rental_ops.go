package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/repository"
)

// extend buys more time for an ACTIVE prepaid rental with an extension
// package. The status is re-checked under the rental lock so an extension
// racing a return cannot charge a completed rental.
func (s *rentalService) extend(ctx context.Context, req request) (outcome, error) {
	const op = "rentalService.ExtendRental"
	logger.EnterMethod(op, "userID", req.userID, "rentalID", req.rentalID, "packageID", req.packageID)

	pkg, err := s.store.Packages().GetByID(ctx, req.packageID)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return outcome{}, err
	}
	if !pkg.IsActive || pkg.PaymentModel != domain.PaymentModelPrepaid {
		return outcome{}, domain.NewPreconditionError(op, "package %d cannot be used to extend a rental", pkg.ID)
	}

	var out outcome
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Balances().LockBalance(ctx, req.userID); err != nil {
			return err
		}
		rt, err := tx.Rentals().LockByID(ctx, req.rentalID)
		if err != nil {
			return err
		}
		if rt.UserID != req.userID {
			return domain.NewNotFoundError(op, "rental", req.rentalID)
		}
		if rt.Status != domain.RentalStatusActive || rt.DueAt == nil {
			return domain.ErrInvalidState.WithOp(op)
		}
		if rt.PaymentModel != domain.PaymentModelPrepaid {
			return domain.NewPreconditionError(op, "postpaid rentals are billed by usage and cannot be extended")
		}
		if s.policy.MaxExtensions > 0 && rt.ExtensionCount >= s.policy.MaxExtensions {
			return domain.NewPreconditionError(op, "rental %d already has %d extensions", rt.ID, rt.ExtensionCount)
		}

		alloc, txn, err := s.collect(ctx, tx, rt, domain.ScenarioExtension, pkg.Price, fmt.Sprintf("Rental extension: %s", pkg.Name))
		if err != nil {
			return err
		}
		ext := &domain.RentalExtension{
			RentalID:        rt.ID,
			PackageID:       pkg.ID,
			ExtendedMinutes: pkg.DurationMinutes,
			Cost:            alloc.Covered(),
			CreatedAt:       s.now(),
		}
		if txn != nil {
			ext.TransactionID = txn.ID
		}
		if err := tx.Rentals().AddExtension(ctx, ext); err != nil {
			return err
		}

		due := rt.DueAt.Add(time.Duration(pkg.DurationMinutes) * time.Minute)
		rt.DueAt = &due
		rt.ExtensionMinutes += pkg.DurationMinutes
		rt.ExtensionCount++
		rt.DueReminderSentAt = nil
		if rt.OverdueAmount.IsPositive() {
			rt.OverdueAmount = s.chargeAt(rt, s.now()).OverdueAmount
		}
		if err := tx.Rentals().Update(ctx, rt); err != nil {
			return err
		}
		out = outcome{rental: rt, changed: true}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return outcome{}, err
	}
	logger.Transition(out.rental.ID, string(domain.TransitionExtend), string(domain.RentalStatusActive), string(domain.RentalStatusActive),
		"minutes", pkg.DurationMinutes, "dueAt", out.rental.DueAt)
	logger.ExitMethod(op)
	return out, nil
}

// cancel ends an ACTIVE rental at the user's request inside the configured
// window and refunds everything charged. The bank stays RENTED until the
// station reports it back; keeping it past the window is charged then. A
// PENDING rental belongs to its dispense and is only cancelled by
// compensation.
func (s *rentalService) cancel(ctx context.Context, req request) (outcome, error) {
	const op = "rentalService.CancelRental"
	logger.EnterMethod(op, "userID", req.userID, "rentalID", req.rentalID)

	reason := strings.TrimSpace(req.reason)
	if reason == "" {
		reason = "cancelled by user"
	}
	if len(reason) > 255 {
		return outcome{}, domain.NewValidationError(op, "reason is too long")
	}

	var out outcome
	var from domain.RentalStatus
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Balances().LockBalance(ctx, req.userID); err != nil {
			return err
		}
		rt, err := tx.Rentals().LockByID(ctx, req.rentalID)
		if err != nil {
			return err
		}
		if rt.UserID != req.userID {
			return domain.NewNotFoundError(op, "rental", req.rentalID)
		}
		from = rt.Status

		switch rt.Status {
		case domain.RentalStatusActive:
			if s.policy.CancelWindow <= 0 || rt.StartedAt == nil || s.now().Sub(*rt.StartedAt) > s.policy.CancelWindow {
				return domain.NewPreconditionError(op, "rental %d can no longer be cancelled", rt.ID)
			}
		default:
			return domain.ErrInvalidState.WithOp(op)
		}

		refund, err := s.refundAll(ctx, tx, rt, "Refund: "+reason)
		if err != nil {
			return err
		}
		s.markCancelled(rt, reason)
		if err := tx.Rentals().Update(ctx, rt); err != nil {
			return err
		}
		out = outcome{rental: rt, changed: true, events: []domain.Event{s.event(domain.EventRentalCancelled, rt, refund.Total())}}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return outcome{}, err
	}
	logger.Transition(out.rental.ID, string(domain.TransitionCancel), string(from), string(domain.RentalStatusCancelled), "reason", reason)
	logger.ExitMethod(op)
	return out, nil
}
