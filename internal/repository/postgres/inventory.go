package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/repository"
)

const (
	stationColumns   = `id, serial_number, name, status, last_seen_at`
	powerBankColumns = `id, serial_number, status, battery_level, current_station_id, current_slot_id, updated_at`
	slotColumns      = `id, station_id, slot_number, status, power_bank_id, current_rental_id, updated_at`
)

func scanStation(row rowScanner) (*domain.Station, error) {
	s := &domain.Station{}
	if err := row.Scan(&s.ID, &s.SerialNumber, &s.Name, &s.Status, &s.LastSeenAt); err != nil {
		return nil, err
	}
	return s, nil
}

func scanPowerBank(row rowScanner) (*domain.PowerBank, error) {
	pb := &domain.PowerBank{}
	if err := row.Scan(&pb.ID, &pb.SerialNumber, &pb.Status, &pb.BatteryLevel, &pb.CurrentStationID, &pb.CurrentSlotID, &pb.UpdatedAt); err != nil {
		return nil, err
	}
	return pb, nil
}

func scanSlot(row rowScanner) (*domain.Slot, error) {
	s := &domain.Slot{}
	if err := row.Scan(&s.ID, &s.StationID, &s.SlotNumber, &s.Status, &s.PowerBankID, &s.CurrentRentalID, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func notFound[T any](v T, err error, op, what string, key any) (T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, domain.NewNotFoundError(op, what, key)
	}
	return v, err
}

type inventoryRepository struct {
	db querier
}

func NewInventoryRepository(db querier) repository.InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) GetStation(ctx context.Context, id int32) (*domain.Station, error) {
	query := `SELECT ` + stationColumns + ` FROM stations WHERE id = $1`
	s, err := scanStation(r.db.QueryRowContext(ctx, query, id))
	return notFound(s, err, "inventoryRepository.GetStation", "station", id)
}

func (r *inventoryRepository) GetStationBySerial(ctx context.Context, serial string) (*domain.Station, error) {
	query := `SELECT ` + stationColumns + ` FROM stations WHERE serial_number = $1`
	s, err := scanStation(r.db.QueryRowContext(ctx, query, serial))
	return notFound(s, err, "inventoryRepository.GetStationBySerial", "station", serial)
}

// LockAvailablePair locks the bank first and its slot second, the same order
// the return path uses.
func (r *inventoryRepository) LockAvailablePair(ctx context.Context, stationID, minBattery int32) (*domain.PowerBank, *domain.Slot, error) {
	logger.EnterMethod("inventoryRepository.LockAvailablePair", "stationID", stationID, "minBattery", minBattery)

	query := `SELECT pb.id, pb.serial_number, pb.status, pb.battery_level, pb.current_station_id, pb.current_slot_id, pb.updated_at
	          FROM power_banks pb
	          JOIN slots s ON s.power_bank_id = pb.id
	          WHERE s.station_id = $1
	            AND s.status = 'AVAILABLE'
	            AND pb.status = 'AVAILABLE'
	            AND pb.battery_level >= $2
	          ORDER BY pb.battery_level DESC, pb.id
	          FOR UPDATE OF pb SKIP LOCKED
	          LIMIT 1`
	logger.DatabaseCall("SELECT FOR UPDATE SKIP LOCKED", "power_banks", "stationID", stationID)
	pb, err := scanPowerBank(r.db.QueryRowContext(ctx, query, stationID, minBattery))
	if errors.Is(err, sql.ErrNoRows) {
		logger.ExitMethod("inventoryRepository.LockAvailablePair", "found", false)
		return nil, nil, nil
	}
	if err != nil {
		logger.ExitMethodWithError("inventoryRepository.LockAvailablePair", err)
		return nil, nil, err
	}

	slotQuery := `SELECT ` + slotColumns + ` FROM slots WHERE power_bank_id = $1 AND station_id = $2 AND status = 'AVAILABLE' FOR UPDATE SKIP LOCKED`
	slot, err := scanSlot(r.db.QueryRowContext(ctx, slotQuery, pb.ID, stationID))
	if errors.Is(err, sql.ErrNoRows) {
		// Slot taken by a concurrent transaction after the bank was chosen.
		logger.ExitMethod("inventoryRepository.LockAvailablePair", "found", false, "reason", "slot locked")
		return nil, nil, nil
	}
	if err != nil {
		logger.ExitMethodWithError("inventoryRepository.LockAvailablePair", err)
		return nil, nil, err
	}

	logger.ExitMethod("inventoryRepository.LockAvailablePair", "powerBankID", pb.ID, "slotID", slot.ID)
	return pb, slot, nil
}

func (r *inventoryRepository) LockPowerBank(ctx context.Context, id int32) (*domain.PowerBank, error) {
	query := `SELECT ` + powerBankColumns + ` FROM power_banks WHERE id = $1 FOR UPDATE`
	pb, err := scanPowerBank(r.db.QueryRowContext(ctx, query, id))
	return notFound(pb, err, "inventoryRepository.LockPowerBank", "power bank", id)
}

func (r *inventoryRepository) LockPowerBankBySerial(ctx context.Context, serial string) (*domain.PowerBank, error) {
	query := `SELECT ` + powerBankColumns + ` FROM power_banks WHERE serial_number = $1 FOR UPDATE`
	pb, err := scanPowerBank(r.db.QueryRowContext(ctx, query, serial))
	return notFound(pb, err, "inventoryRepository.LockPowerBankBySerial", "power bank", serial)
}

func (r *inventoryRepository) LockSlot(ctx context.Context, id int32) (*domain.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1 FOR UPDATE`
	s, err := scanSlot(r.db.QueryRowContext(ctx, query, id))
	return notFound(s, err, "inventoryRepository.LockSlot", "slot", id)
}

func (r *inventoryRepository) LockSlotByNumber(ctx context.Context, stationID, slotNumber int32) (*domain.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE station_id = $1 AND slot_number = $2 FOR UPDATE`
	s, err := scanSlot(r.db.QueryRowContext(ctx, query, stationID, slotNumber))
	return notFound(s, err, "inventoryRepository.LockSlotByNumber", "slot", slotNumber)
}

func (r *inventoryRepository) UpdatePowerBank(ctx context.Context, pb *domain.PowerBank) error {
	query := `UPDATE power_banks SET status=$1, battery_level=$2, current_station_id=$3, current_slot_id=$4, updated_at=$5 WHERE id=$6`
	pb.UpdatedAt = time.Now().UTC()
	logger.DatabaseCall("UPDATE", "power_banks", "powerBankID", pb.ID, "status", pb.Status)
	_, err := r.db.ExecContext(ctx, query, pb.Status, pb.BatteryLevel, pb.CurrentStationID, pb.CurrentSlotID, pb.UpdatedAt, pb.ID)
	logger.DatabaseResult("UPDATE", 1, err, "powerBankID", pb.ID)
	return err
}

func (r *inventoryRepository) UpdateSlot(ctx context.Context, slot *domain.Slot) error {
	query := `UPDATE slots SET status=$1, power_bank_id=$2, current_rental_id=$3, updated_at=$4 WHERE id=$5`
	slot.UpdatedAt = time.Now().UTC()
	logger.DatabaseCall("UPDATE", "slots", "slotID", slot.ID, "status", slot.Status)
	_, err := r.db.ExecContext(ctx, query, slot.Status, slot.PowerBankID, slot.CurrentRentalID, slot.UpdatedAt, slot.ID)
	logger.DatabaseResult("UPDATE", 1, err, "slotID", slot.ID)
	return err
}

func (r *inventoryRepository) CountAvailable(ctx context.Context, stationID, minBattery int32) (int32, error) {
	query := `SELECT count(*) FROM power_banks pb JOIN slots s ON s.power_bank_id = pb.id
	          WHERE s.station_id = $1 AND s.status = 'AVAILABLE' AND pb.status = 'AVAILABLE' AND pb.battery_level >= $2`
	var count int32
	err := r.db.QueryRowContext(ctx, query, stationID, minBattery).Scan(&count)
	return count, err
}
