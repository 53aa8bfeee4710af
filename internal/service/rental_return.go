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
	"powerbank-rental-backend/internal/pricing"
	"powerbank-rental-backend/internal/repository"
)

// handleReturn closes the rental holding the returned bank and settles it
// against the time the station observed the return.
func (s *rentalService) handleReturn(ctx context.Context, req request) (outcome, error) {
	const op = "rentalService.HandleReturn"
	ev := req.returned
	if ev == nil {
		return outcome{}, domain.NewValidationError(op, "missing return event")
	}
	if err := ev.Validate(); err != nil {
		return outcome{}, err
	}
	logger.EnterMethod(op, "powerBank", ev.PowerBankSerial, "station", ev.StationSerial, "slot", ev.SlotNumber, "observedAt", ev.ObservedAt)

	var out outcome
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		out = outcome{}
		pb, err := tx.Inventory().LockPowerBankBySerial(ctx, ev.PowerBankSerial)
		if err != nil {
			return err
		}
		station, err := tx.Inventory().GetStationBySerial(ctx, ev.StationSerial)
		if err != nil {
			return err
		}

		latest, err := tx.Rentals().LatestByPowerBank(ctx, pb.ID)
		if err != nil {
			return err
		}
		observed := ev.ObservedAt.UTC()
		if latest != nil && latest.Status == domain.RentalStatusCancelled && latest.StartedAt != nil &&
			latest.ReturnStationID == nil && !observed.Before(latest.CreatedAt) {
			var err error
			out, err = s.returnAfterCancel(ctx, tx, pb, station, ev, latest.ID, observed)
			return err
		}
		if latest == nil || latest.Status != domain.RentalStatusActive || observed.Before(latest.CreatedAt) {
			// Re-delivery of a return already applied, a stale event from an
			// earlier rental, or a bank coming back after a cancellation. Only
			// the physical location is recorded.
			if latest == nil || latest.Status != domain.RentalStatusActive {
				if _, err := s.reservation.ReleaseAndOccupy(ctx, tx, 0, pb, 0, station.ID, ev.SlotNumber, ev.BatteryLevel); err != nil {
					return err
				}
			}
			out.rental = latest
			return nil
		}

		if _, err := tx.Balances().LockBalance(ctx, latest.UserID); err != nil {
			return err
		}
		rt, err := tx.Rentals().LockActiveByPowerBank(ctx, pb.ID)
		if err != nil {
			return err
		}
		if rt == nil || rt.ID != latest.ID {
			return domain.ErrInvalidState.WithOp(op)
		}
		if rt.StartedAt == nil {
			return domain.NewInconsistencyError(op, "active rental %d has no start time", rt.ID)
		}
		if observed.Before(*rt.StartedAt) {
			observed = *rt.StartedAt
		}

		dest, err := s.reservation.ReleaseAndOccupy(ctx, tx, rt.ID, pb, rt.PickupSlotID, station.ID, ev.SlotNumber, ev.BatteryLevel)
		if err != nil {
			return err
		}

		charge := s.chargeAt(rt, observed)
		outstanding := charge.OverdueAmount
		if rt.PaymentModel == domain.PaymentModelPostpaid {
			outstanding = charge.TotalDue
		}
		alloc, _, err := s.collect(ctx, tx, rt, domain.ScenarioReturnSettlement, outstanding,
			fmt.Sprintf("Rental settlement: %d min, %d min overdue", pricing.ElapsedMinutes(*rt.StartedAt, observed), charge.OverdueMinutes))
		if err != nil {
			return err
		}

		battery := ev.BatteryLevel
		rt.Status = domain.RentalStatusCompleted
		rt.EndedAt = &observed
		rt.ReturnStationID = &station.ID
		rt.ReturnSlotID = &dest.ID
		rt.ReturnBatteryPct = &battery
		rt.IsReturnedOnTime = rt.DueAt == nil || !observed.After(*rt.DueAt)

		var events []domain.Event
		if alloc.IsShort() {
			rt.PaymentStatus = domain.PaymentStatusPartial
			rt.OverdueAmount = alloc.Shortfall
			events = append(events, s.event(domain.EventPaymentDue, rt, alloc.Shortfall))
		} else {
			rt.PaymentStatus = domain.PaymentStatusPaid
			rt.OverdueAmount = decimal.Zero
			bonus, err := s.awardBonuses(ctx, tx, rt)
			if err != nil {
				return err
			}
			events = append(events, bonus...)
		}
		if err := tx.Rentals().Update(ctx, rt); err != nil {
			return err
		}

		out = outcome{
			rental:  rt,
			changed: true,
			events:  append([]domain.Event{s.event(domain.EventRentalCompleted, rt, rt.AmountPaid)}, events...),
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return outcome{}, err
	}
	if out.changed && out.rental.Status == domain.RentalStatusCompleted {
		logger.Transition(out.rental.ID, string(domain.TransitionReturn), string(domain.RentalStatusActive), string(domain.RentalStatusCompleted),
			"paymentStatus", out.rental.PaymentStatus, "overdue", out.rental.OverdueAmount.StringFixed(2))
	}
	logger.ExitMethod(op, "changed", out.changed)
	return out, nil
}

// returnAfterCancel docks a bank that came back after its rental was
// cancelled while the user held it. Time held past the cancel window is
// charged like a rental without extensions; a shortfall is left as dues.
func (s *rentalService) returnAfterCancel(ctx context.Context, tx repository.Tx, pb *domain.PowerBank, station *domain.Station,
	ev *device.ReturnedEvent, rentalID int32, observed time.Time) (outcome, error) {

	const op = "rentalService.returnAfterCancel"
	peek, err := tx.Rentals().GetByID(ctx, rentalID)
	if err != nil {
		return outcome{}, err
	}
	if _, err := tx.Balances().LockBalance(ctx, peek.UserID); err != nil {
		return outcome{}, err
	}
	rt, err := tx.Rentals().LockByID(ctx, rentalID)
	if err != nil {
		return outcome{}, err
	}
	if rt.Status != domain.RentalStatusCancelled || rt.StartedAt == nil || rt.ReturnStationID != nil {
		return outcome{}, domain.ErrInvalidState.WithOp(op)
	}
	if observed.Before(*rt.StartedAt) {
		observed = *rt.StartedAt
	}

	dest, err := s.reservation.ReleaseAndOccupy(ctx, tx, rt.ID, pb, rt.PickupSlotID, station.ID, ev.SlotNumber, ev.BatteryLevel)
	if err != nil {
		return outcome{}, err
	}
	battery := ev.BatteryLevel
	rt.EndedAt = &observed
	rt.ReturnStationID = &station.ID
	rt.ReturnSlotID = &dest.ID
	rt.ReturnBatteryPct = &battery

	var events []domain.Event
	held := observed.Sub(*rt.StartedAt)
	if s.policy.CancelWindow <= 0 || held > s.policy.CancelWindow {
		usage := *rt
		usage.ExtensionMinutes = 0
		amount := s.chargeAt(&usage, observed).TotalDue
		alloc, _, err := s.collect(ctx, tx, rt, domain.ScenarioReturnSettlement, amount,
			fmt.Sprintf("Usage after cancellation: %d min", pricing.ElapsedMinutes(*rt.StartedAt, observed)))
		if err != nil {
			return outcome{}, err
		}
		if alloc.IsShort() {
			rt.PaymentStatus = domain.PaymentStatusPartial
			rt.OverdueAmount = alloc.Shortfall
			events = append(events, s.event(domain.EventPaymentDue, rt, alloc.Shortfall))
		} else {
			rt.PaymentStatus = domain.PaymentStatusPaid
			rt.OverdueAmount = decimal.Zero
		}
		logger.WithRental(rt.ID).Info("Charged usage of a bank kept after cancellation",
			"heldMinutes", pricing.ElapsedMinutes(*rt.StartedAt, observed), "charged", alloc.Covered().StringFixed(2))
	}
	if err := tx.Rentals().Update(ctx, rt); err != nil {
		return outcome{}, err
	}
	return outcome{rental: rt, changed: true, events: events}, nil
}

// settleDues charges the outstanding amount of a PARTIAL rental in full or
// not at all.
func (s *rentalService) settleDues(ctx context.Context, req request) (outcome, error) {
	const op = "rentalService.SettleDues"
	logger.EnterMethod(op, "userID", req.userID, "rentalID", req.rentalID, "system", req.system)

	var out outcome
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		peek, err := tx.Rentals().GetByID(ctx, req.rentalID)
		if err != nil {
			return err
		}
		if !req.system && peek.UserID != req.userID {
			return domain.NewNotFoundError(op, "rental", req.rentalID)
		}
		if _, err := tx.Balances().LockBalance(ctx, peek.UserID); err != nil {
			return err
		}
		rt, err := tx.Rentals().LockByID(ctx, req.rentalID)
		if err != nil {
			return err
		}
		if !rt.HasOutstandingDues() {
			return domain.ErrInvalidState.WithOp(op)
		}

		owed := rt.OverdueAmount
		if _, _, err := s.collect(ctx, tx, rt, domain.ScenarioSettleDues, owed, "Outstanding rental dues"); err != nil {
			return err
		}
		rt.OverdueAmount = decimal.Zero
		rt.PaymentStatus = domain.PaymentStatusPaid
		var events []domain.Event
		if rt.Status == domain.RentalStatusCompleted {
			if events, err = s.awardBonuses(ctx, tx, rt); err != nil {
				return err
			}
		}
		if err := tx.Rentals().Update(ctx, rt); err != nil {
			return err
		}
		out = outcome{rental: rt, changed: true, events: events}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return outcome{}, err
	}
	logger.Transition(out.rental.ID, string(domain.TransitionSettleDues), string(domain.PaymentStatusPartial), string(domain.PaymentStatusPaid))
	logger.ExitMethod(op)
	return out, nil
}

// SettleOutstanding retries settlement for the sweep. A balance that is still
// short is not an error.
func (s *rentalService) SettleOutstanding(ctx context.Context, rentalID int32) (bool, error) {
	out, err := s.fire(ctx, request{transition: domain.TransitionSettleDues, rentalID: rentalID, system: true})
	if errors.Is(err, domain.ErrInsufficientBalance) || errors.Is(err, domain.ErrInvalidState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.changed, nil
}
