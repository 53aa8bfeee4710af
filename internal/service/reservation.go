package service

import (
	"context"
	"fmt"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/repository"
)

type reservationService struct{}

func NewReservationService() ReservationService {
	return &reservationService{}
}

// ReserveForPickup locks the best rentable pair at the station and takes it
// out of circulation: bank RENTED, slot OCCUPIED.
func (s *reservationService) ReserveForPickup(ctx context.Context, tx repository.Tx, stationID, minBattery int32) (*domain.PowerBank, *domain.Slot, error) {
	const op = "reservationService.ReserveForPickup"
	logger.EnterMethod(op, "stationID", stationID, "minBattery", minBattery)

	pb, slot, err := tx.Inventory().LockAvailablePair(ctx, stationID, minBattery)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return nil, nil, err
	}
	if pb == nil || slot == nil {
		err := domain.ErrNoAvailableResource.WithOp(op)
		logger.ExitMethodWithError(op, err)
		return nil, nil, err
	}

	pb.Status = domain.PowerBankStatusRented
	if err := tx.Inventory().UpdatePowerBank(ctx, pb); err != nil {
		return nil, nil, fmt.Errorf("reserve power bank %d: %w", pb.ID, err)
	}
	slot.Status = domain.SlotStatusOccupied
	if err := tx.Inventory().UpdateSlot(ctx, slot); err != nil {
		return nil, nil, fmt.Errorf("reserve slot %d: %w", slot.ID, err)
	}

	logger.ExitMethod(op, "powerBankID", pb.ID, "slotID", slot.ID)
	return pb, slot, nil
}

// AttachRental binds a reserved slot to the rental that holds it.
func (s *reservationService) AttachRental(ctx context.Context, tx repository.Tx, slot *domain.Slot, rentalID int32) error {
	slot.CurrentRentalID = &rentalID
	return tx.Inventory().UpdateSlot(ctx, slot)
}

// HandOver records that the bank left its slot: the slot is free again and
// the bank has no location until it is returned.
func (s *reservationService) HandOver(ctx context.Context, tx repository.Tx, powerBankID, slotID, rentalID int32) error {
	pb, err := tx.Inventory().LockPowerBank(ctx, powerBankID)
	if err != nil {
		return err
	}
	slot, err := tx.Inventory().LockSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.CurrentRentalID == nil || *slot.CurrentRentalID != rentalID {
		return domain.NewInconsistencyError("reservationService.HandOver", "slot %d is not held by rental %d", slotID, rentalID)
	}

	pb.Status = domain.PowerBankStatusRented
	pb.CurrentStationID = nil
	pb.CurrentSlotID = nil
	if err := tx.Inventory().UpdatePowerBank(ctx, pb); err != nil {
		return err
	}
	freeSlot(slot)
	return tx.Inventory().UpdateSlot(ctx, slot)
}

// ReleaseAndOccupy docks a returned bank at the destination slot and makes it
// rentable. If the rental still holds its origin slot, that slot is freed. A
// bank already AVAILABLE in the destination slot is left as is.
func (s *reservationService) ReleaseAndOccupy(ctx context.Context, tx repository.Tx, rentalID int32, pb *domain.PowerBank,
	originSlotID, destStationID, destSlotNumber, battery int32) (*domain.Slot, error) {

	const op = "reservationService.ReleaseAndOccupy"
	logger.EnterMethod(op, "rentalID", rentalID, "powerBankID", pb.ID, "destStationID", destStationID, "destSlot", destSlotNumber)

	dest, err := tx.Inventory().LockSlotByNumber(ctx, destStationID, destSlotNumber)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return nil, err
	}

	if pb.Status == domain.PowerBankStatusAvailable && dest.PowerBankID != nil && *dest.PowerBankID == pb.ID {
		logger.ExitMethod(op, "alreadyDocked", true)
		return dest, nil
	}

	if originSlotID != 0 && originSlotID != dest.ID {
		origin, err := tx.Inventory().LockSlot(ctx, originSlotID)
		if err != nil {
			logger.ExitMethodWithError(op, err)
			return nil, err
		}
		if rentalID != 0 && origin.CurrentRentalID != nil && *origin.CurrentRentalID == rentalID {
			freeSlot(origin)
			if err := tx.Inventory().UpdateSlot(ctx, origin); err != nil {
				return nil, err
			}
		}
	}

	// A bank moved between slots without a rental leaves a stale record behind.
	if pb.CurrentSlotID != nil && *pb.CurrentSlotID != dest.ID && *pb.CurrentSlotID != originSlotID {
		prev, err := tx.Inventory().LockSlot(ctx, *pb.CurrentSlotID)
		if err != nil {
			logger.ExitMethodWithError(op, err)
			return nil, err
		}
		if prev.PowerBankID != nil && *prev.PowerBankID == pb.ID {
			freeSlot(prev)
			if err := tx.Inventory().UpdateSlot(ctx, prev); err != nil {
				return nil, err
			}
		}
	}

	// The station reported the bank in this slot; hardware state wins over ours.
	if dest.PowerBankID != nil && *dest.PowerBankID != pb.ID {
		logger.Warn("Returned bank docked in a slot we thought held another bank",
			"slotID", dest.ID, "recordedBankID", *dest.PowerBankID, "powerBankID", pb.ID)
	}
	if dest.Status == domain.SlotStatusMaintenance {
		logger.Warn("Returned bank docked in a slot under maintenance", "slotID", dest.ID)
	} else {
		dest.Status = domain.SlotStatusAvailable
	}
	pbID := pb.ID
	dest.PowerBankID = &pbID
	dest.CurrentRentalID = nil
	if err := tx.Inventory().UpdateSlot(ctx, dest); err != nil {
		return nil, err
	}

	if pb.Status != domain.PowerBankStatusMaintenance {
		pb.Status = domain.PowerBankStatusAvailable
	}
	pb.BatteryLevel = battery
	destID := dest.ID
	pb.CurrentStationID = &destStationID
	pb.CurrentSlotID = &destID
	if err := tx.Inventory().UpdatePowerBank(ctx, pb); err != nil {
		return nil, err
	}

	logger.ExitMethod(op, "slotID", dest.ID)
	return dest, nil
}

// ReleaseReserved undoes ReserveForPickup: the bank is still docked in its
// origin slot and both become rentable again.
func (s *reservationService) ReleaseReserved(ctx context.Context, tx repository.Tx, powerBankID, slotID int32) error {
	const op = "reservationService.ReleaseReserved"
	logger.EnterMethod(op, "powerBankID", powerBankID, "slotID", slotID)

	pb, err := tx.Inventory().LockPowerBank(ctx, powerBankID)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return err
	}
	slot, err := tx.Inventory().LockSlot(ctx, slotID)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return err
	}

	pb.Status = domain.PowerBankStatusAvailable
	stationID, originID := slot.StationID, slot.ID
	pb.CurrentStationID = &stationID
	pb.CurrentSlotID = &originID
	if err := tx.Inventory().UpdatePowerBank(ctx, pb); err != nil {
		return err
	}

	slot.Status = domain.SlotStatusAvailable
	slot.PowerBankID = &powerBankID
	slot.CurrentRentalID = nil
	if err := tx.Inventory().UpdateSlot(ctx, slot); err != nil {
		return err
	}

	logger.ExitMethod(op)
	return nil
}

// MarkTaken records that a bank left its slot after its rental was already
// closed. The bank stays RENTED with no location until a station docks it,
// and the slot only forgets the bank if it still records it.
func (s *reservationService) MarkTaken(ctx context.Context, tx repository.Tx, powerBankID, slotID int32) error {
	const op = "reservationService.MarkTaken"
	logger.EnterMethod(op, "powerBankID", powerBankID, "slotID", slotID)

	pb, err := tx.Inventory().LockPowerBank(ctx, powerBankID)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return err
	}
	slot, err := tx.Inventory().LockSlot(ctx, slotID)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return err
	}
	if pb.CurrentSlotID != nil && *pb.CurrentSlotID != slotID {
		// Already docked somewhere else; the station knows better.
		logger.ExitMethod(op, "moved", true)
		return nil
	}

	pb.Status = domain.PowerBankStatusRented
	pb.CurrentStationID = nil
	pb.CurrentSlotID = nil
	if err := tx.Inventory().UpdatePowerBank(ctx, pb); err != nil {
		return err
	}
	if slot.PowerBankID != nil && *slot.PowerBankID == powerBankID {
		freeSlot(slot)
		if err := tx.Inventory().UpdateSlot(ctx, slot); err != nil {
			return err
		}
	}

	logger.ExitMethod(op)
	return nil
}

func freeSlot(slot *domain.Slot) {
	slot.Status = domain.SlotStatusAvailable
	slot.PowerBankID = nil
	slot.CurrentRentalID = nil
}
