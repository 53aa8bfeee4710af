package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/device"
	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/repository"
)

// start reserves hardware and takes payment in one transaction, dispenses
// outside it, then activates or compensates in a second transaction.
func (s *rentalService) start(ctx context.Context, req request) (outcome, error) {
	const op = "rentalService.StartRental"
	logger.EnterMethod(op, "userID", req.userID, "stationID", req.stationID, "packageID", req.packageID)

	if req.userID <= 0 || req.stationID <= 0 || req.packageID <= 0 {
		return outcome{}, domain.NewValidationError(op, "user, station and package are required")
	}
	pkg, err := s.store.Packages().GetByID(ctx, req.packageID)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return outcome{}, err
	}
	if !pkg.IsActive {
		return outcome{}, domain.NewPreconditionError(op, "package %d is not available", pkg.ID)
	}
	scenario := domain.ScenarioForStart(pkg.PaymentModel)

	var rt *domain.Rental
	var station *domain.Station
	var slot *domain.Slot
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		// The balance row is the per-user lock; the open-rental check below
		// is only trustworthy while it is held.
		balance, err := tx.Balances().LockBalance(ctx, req.userID)
		if err != nil {
			return err
		}
		open, err := tx.Rentals().FindOpenByUser(ctx, req.userID)
		if err != nil {
			return err
		}
		if open != nil {
			return domain.ErrActiveRentalExists.WithOp(op)
		}

		station, err = tx.Inventory().GetStation(ctx, req.stationID)
		if err != nil {
			return err
		}
		if station.Status != domain.StationStatusOnline {
			return domain.NewPreconditionError(op, "station %d is %s", station.ID, station.Status)
		}
		if scenario == domain.ScenarioPostpaidStart && s.policy.PostpaidMinWallet.IsPositive() &&
			balance.Wallet.LessThan(s.policy.PostpaidMinWallet) {
			return domain.NewInsufficientBalanceError(op, s.policy.PostpaidMinWallet.Sub(balance.Wallet))
		}

		pb, reserved, err := s.reservation.ReserveForPickup(ctx, tx, station.ID, s.policy.MinBatteryLevel)
		if err != nil {
			return err
		}
		slot = reserved

		rt = &domain.Rental{
			UserID:                 req.userID,
			PackageID:              pkg.ID,
			Status:                 domain.RentalStatusPending,
			PaymentStatus:          domain.PaymentStatusPending,
			PaymentModel:           pkg.PaymentModel,
			PackagePrice:           pkg.Price,
			PackageDurationMinutes: pkg.DurationMinutes,
			AmountPaid:             decimal.Zero,
			OverdueAmount:          decimal.Zero,
			PickupStationID:        station.ID,
			PickupSlotID:           slot.ID,
			PowerBankID:            pb.ID,
			CreatedAt:              s.now(),
		}
		if err := tx.Rentals().Create(ctx, rt); err != nil {
			return err
		}
		if err := s.reservation.AttachRental(ctx, tx, slot, rt.ID); err != nil {
			return err
		}

		if scenario == domain.ScenarioPrepaidStart {
			if _, _, err := s.collect(ctx, tx, rt, scenario, pkg.Price, fmt.Sprintf("Rental charge: %s", pkg.Name)); err != nil {
				return err
			}
			rt.PaymentStatus = domain.PaymentStatusPaid
			if err := tx.Rentals().Update(ctx, rt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return outcome{}, err
	}
	logger.Transition(rt.ID, string(domain.TransitionStart), "", string(domain.RentalStatusPending), "powerBankID", rt.PowerBankID)

	out, err := s.dispenseAndActivate(ctx, rt, station, slot)
	if err != nil {
		logger.ExitMethodWithError(op, err, "rentalID", rt.ID)
		return out, err
	}
	logger.ExitMethod(op, "rentalID", rt.ID)
	return out, nil
}

func (s *rentalService) dispenseAndActivate(ctx context.Context, rt *domain.Rental, station *domain.Station, slot *domain.Slot) (outcome, error) {
	const op = "rentalService.StartRental"

	dctx, cancel := context.WithTimeout(ctx, s.policy.DispenseTimeout)
	began := time.Now()
	res, derr := s.gateway.Dispense(dctx, station.SerialNumber, slot.SlotNumber)
	cancel()
	if derr == nil && (res == nil || !res.Success) {
		derr = device.ErrDispenseRejected
	}
	s.metrics.RecordDispense(time.Since(began), derr == nil)

	// The charge is committed; whatever happens next must run to completion
	// even if the caller went away.
	bg := context.WithoutCancel(ctx)

	if derr != nil {
		logger.Warn("Dispense failed, compensating", "rentalID", rt.ID, "station", station.SerialNumber, "slot", slot.SlotNumber, "error", derr)
		out, cerr := s.compensate(bg, rt.ID, "dispense failed")
		if errors.Is(cerr, domain.ErrInvalidState) {
			// Already reaped while the command was in flight.
			logger.Info("Rental left PENDING before dispense failed", "rentalID", rt.ID)
			return outcome{}, domain.NewDeviceError(op, derr)
		}
		s.metrics.RecordCompensation("dispense_failed", cerr)
		if cerr != nil {
			logger.Error("Compensation failed, rental left PENDING for the reaper", "rentalID", rt.ID, "error", cerr)
			return out, errors.Join(domain.NewDeviceError(op, derr), cerr)
		}
		return out, domain.NewDeviceError(op, derr)
	}

	dispensedAt := s.now()
	out, err := s.activateWithRetry(bg, rt.ID, dispensedAt)
	if errors.Is(err, domain.ErrInvalidState) {
		// Reaped while the command was in flight, yet the bank is out.
		s.markTaken(bg, rt.ID, dispensedAt)
		return outcome{}, err
	}
	if err != nil {
		// The bank is with the user; leave a trail the reaper activates from.
		logger.Error("Power bank dispensed but rental could not be activated", "rentalID", rt.ID, "error", err)
		if merr := s.markDispensed(bg, rt.ID, dispensedAt); merr != nil {
			logger.Error("Failed to record dispense confirmation", "rentalID", rt.ID, "error", merr)
			s.metrics.RecordInconsistency()
		}
		return outcome{}, err
	}
	return out, nil
}

const (
	activationAttempts = 3
	activationBackoff  = 50 * time.Millisecond
)

// activateWithRetry retries the activation transaction after a confirmed
// dispense. A rental that is no longer PENDING is not retried.
func (s *rentalService) activateWithRetry(ctx context.Context, rentalID int32, dispensedAt time.Time) (outcome, error) {
	var err error
	for attempt := 1; attempt <= activationAttempts; attempt++ {
		var out outcome
		out, err = s.activate(ctx, rentalID, dispensedAt)
		if err == nil || errors.Is(err, domain.ErrInvalidState) {
			return out, err
		}
		logger.Warn("Activation failed, retrying", "rentalID", rentalID, "attempt", attempt, "error", err)
		if attempt < activationAttempts {
			time.Sleep(time.Duration(attempt) * activationBackoff)
		}
	}
	return outcome{}, err
}

// activate moves a dispensed PENDING rental to ACTIVE. The rental clock
// starts when the station confirmed the dispense.
func (s *rentalService) activate(ctx context.Context, rentalID int32, dispensedAt time.Time) (outcome, error) {
	const op = "rentalService.activate"

	var activated *domain.Rental
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		cur, err := tx.Rentals().LockByID(ctx, rentalID)
		if err != nil {
			return err
		}
		if cur.Status != domain.RentalStatusPending {
			return domain.ErrInvalidState.WithOp(op)
		}
		if err := s.reservation.HandOver(ctx, tx, cur.PowerBankID, cur.PickupSlotID, cur.ID); err != nil {
			return err
		}
		started := dispensedAt
		cur.Status = domain.RentalStatusActive
		cur.StartedAt = &started
		cur.DispensedAt = &started
		cur.DueAt = s.dueAt(cur, started)
		if err := tx.Rentals().Update(ctx, cur); err != nil {
			return err
		}
		activated = cur
		return nil
	})
	if err != nil {
		return outcome{}, err
	}
	logger.Transition(activated.ID, string(domain.TransitionStart), string(domain.RentalStatusPending), string(domain.RentalStatusActive))
	return outcome{
		rental:  activated,
		changed: true,
		events:  []domain.Event{s.event(domain.EventRentalStarted, activated, activated.AmountPaid)},
	}, nil
}

// markDispensed records the confirmation on a rental still PENDING.
func (s *rentalService) markDispensed(ctx context.Context, rentalID int32, dispensedAt time.Time) error {
	return s.store.WithinTx(ctx, func(tx repository.Tx) error {
		rt, err := tx.Rentals().LockByID(ctx, rentalID)
		if err != nil {
			return err
		}
		if rt.Status != domain.RentalStatusPending || rt.DispensedAt != nil {
			return nil
		}
		rt.DispensedAt = &dispensedAt
		return tx.Rentals().Update(ctx, rt)
	})
}

// markTaken handles a dispense that succeeded after its rental was already
// cancelled: the bank is taken out of circulation and the rental clock starts,
// so the user pays for the time held once the bank comes back.
func (s *rentalService) markTaken(ctx context.Context, rentalID int32, dispensedAt time.Time) {
	s.metrics.RecordInconsistency()
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		rt, err := tx.Rentals().LockByID(ctx, rentalID)
		if err != nil {
			return err
		}
		if rt.Status != domain.RentalStatusCancelled || rt.StartedAt != nil {
			return nil
		}
		if err := s.reservation.MarkTaken(ctx, tx, rt.PowerBankID, rt.PickupSlotID); err != nil {
			return err
		}
		rt.StartedAt = &dispensedAt
		rt.DispensedAt = &dispensedAt
		return tx.Rentals().Update(ctx, rt)
	})
	if err != nil {
		logger.Error("Failed to take dispensed bank out of circulation", "rentalID", rentalID, "error", err)
		return
	}
	logger.Warn("Bank dispensed for a cancelled rental, held until returned", "rentalID", rentalID)
}

// compensate cancels a PENDING rental whose dispense failed or never
// reported back: everything charged is refunded and the reserved hardware
// returns to circulation.
func (s *rentalService) compensate(ctx context.Context, rentalID int32, reason string) (outcome, error) {
	const op = "rentalService.compensate"
	logger.EnterMethod(op, "rentalID", rentalID, "reason", reason)

	var cancelled *domain.Rental
	var events []domain.Event
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		peek, err := tx.Rentals().GetByID(ctx, rentalID)
		if err != nil {
			return err
		}
		if _, err := tx.Balances().LockBalance(ctx, peek.UserID); err != nil {
			return err
		}
		rt, err := tx.Rentals().LockByID(ctx, rentalID)
		if err != nil {
			return err
		}
		if rt.Status != domain.RentalStatusPending {
			return domain.ErrInvalidState.WithOp(op)
		}

		refund, err := s.refundAll(ctx, tx, rt, "Refund: "+reason)
		if err != nil {
			return err
		}
		if err := s.reservation.ReleaseReserved(ctx, tx, rt.PowerBankID, rt.PickupSlotID); err != nil {
			return err
		}
		s.markCancelled(rt, reason)
		if err := tx.Rentals().Update(ctx, rt); err != nil {
			return err
		}
		cancelled = rt
		events = []domain.Event{s.event(domain.EventRentalCancelled, rt, refund.Total())}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return outcome{}, err
	}
	logger.Transition(rentalID, string(domain.TransitionCancel), string(domain.RentalStatusPending), string(domain.RentalStatusCancelled), "reason", reason)
	logger.ExitMethod(op)
	return outcome{rental: cancelled, changed: true, events: events}, nil
}

func (s *rentalService) markCancelled(rt *domain.Rental, reason string) {
	now := s.now()
	rt.Status = domain.RentalStatusCancelled
	rt.EndedAt = &now
	rt.CancelReason = reason
	rt.DueReminderSentAt = nil
}
