package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/repository"
)

const rentalColumns = `id, user_id, package_id, status, payment_status, payment_model, package_price, package_duration_minutes,
	started_at, due_at, ended_at, amount_paid, overdue_amount, pickup_station_id, pickup_slot_id, power_bank_id,
	return_station_id, return_slot_id, return_battery_level, is_returned_on_time, timely_return_bonus_awarded,
	completion_bonus_awarded, extension_minutes, extension_count, due_reminder_sent_at, cancel_reason, dispensed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRental(row rowScanner) (*domain.Rental, error) {
	rt := &domain.Rental{}
	err := row.Scan(&rt.ID, &rt.UserID, &rt.PackageID, &rt.Status, &rt.PaymentStatus, &rt.PaymentModel, &rt.PackagePrice, &rt.PackageDurationMinutes,
		&rt.StartedAt, &rt.DueAt, &rt.EndedAt, &rt.AmountPaid, &rt.OverdueAmount, &rt.PickupStationID, &rt.PickupSlotID, &rt.PowerBankID,
		&rt.ReturnStationID, &rt.ReturnSlotID, &rt.ReturnBatteryPct, &rt.IsReturnedOnTime, &rt.TimelyReturnBonusAwarded,
		&rt.CompletionBonusAwarded, &rt.ExtensionMinutes, &rt.ExtensionCount, &rt.DueReminderSentAt, &rt.CancelReason, &rt.DispensedAt, &rt.CreatedAt, &rt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

type rentalRepository struct {
	db querier
}

func NewRentalRepository(db querier) repository.RentalRepository {
	return &rentalRepository{db: db}
}

func (r *rentalRepository) Create(ctx context.Context, rt *domain.Rental) error {
	logger.EnterMethod("rentalRepository.Create", "userID", rt.UserID, "stationID", rt.PickupStationID)

	query := `INSERT INTO rentals (user_id, package_id, status, payment_status, payment_model, package_price, package_duration_minutes,
	          amount_paid, overdue_amount, pickup_station_id, pickup_slot_id, power_bank_id, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13) RETURNING id`
	now := rt.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	logger.DatabaseCall("INSERT", "rentals", "userID", rt.UserID)
	err := r.db.QueryRowContext(ctx, query, rt.UserID, rt.PackageID, rt.Status, rt.PaymentStatus, rt.PaymentModel, rt.PackagePrice,
		rt.PackageDurationMinutes, rt.AmountPaid, rt.OverdueAmount, rt.PickupStationID, rt.PickupSlotID, rt.PowerBankID, now).Scan(&rt.ID)
	logger.DatabaseResult("INSERT", 1, err, "rentalID", rt.ID)
	if err != nil {
		if isUniqueViolation(err, "rentals_one_open_per_user") {
			err = domain.ErrActiveRentalExists.WithOp("rentalRepository.Create")
		}
		logger.ExitMethodWithError("rentalRepository.Create", err)
		return err
	}
	rt.CreatedAt = now
	rt.UpdatedAt = now

	logger.ExitMethod("rentalRepository.Create", "rentalID", rt.ID)
	return nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id int32) (*domain.Rental, error) {
	return r.getOne(ctx, "rentalRepository.GetByID", `SELECT `+rentalColumns+` FROM rentals WHERE id = $1`, id)
}

func (r *rentalRepository) LockByID(ctx context.Context, id int32) (*domain.Rental, error) {
	return r.getOne(ctx, "rentalRepository.LockByID", `SELECT `+rentalColumns+` FROM rentals WHERE id = $1 FOR UPDATE`, id)
}

func (r *rentalRepository) getOne(ctx context.Context, op, query string, id int32) (*domain.Rental, error) {
	rt, err := scanRental(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError(op, "rental", id)
	}
	return rt, err
}

func (r *rentalRepository) LockActiveByPowerBank(ctx context.Context, powerBankID int32) (*domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE power_bank_id = $1 AND status = 'ACTIVE' FOR UPDATE`
	return r.optional(scanRental(r.db.QueryRowContext(ctx, query, powerBankID)))
}

func (r *rentalRepository) LatestByPowerBank(ctx context.Context, powerBankID int32) (*domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE power_bank_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	return r.optional(scanRental(r.db.QueryRowContext(ctx, query, powerBankID)))
}

func (r *rentalRepository) FindOpenByUser(ctx context.Context, userID int32) (*domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE user_id = $1 AND status IN ('PENDING', 'ACTIVE') LIMIT 1`
	return r.optional(scanRental(r.db.QueryRowContext(ctx, query, userID)))
}

func (r *rentalRepository) optional(rt *domain.Rental, err error) (*domain.Rental, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rt, err
}

func (r *rentalRepository) Update(ctx context.Context, rt *domain.Rental) error {
	query := `UPDATE rentals SET status=$1, payment_status=$2, started_at=$3, due_at=$4, ended_at=$5, amount_paid=$6, overdue_amount=$7,
	          return_station_id=$8, return_slot_id=$9, return_battery_level=$10, is_returned_on_time=$11, timely_return_bonus_awarded=$12,
	          completion_bonus_awarded=$13, extension_minutes=$14, extension_count=$15, due_reminder_sent_at=$16, cancel_reason=$17, dispensed_at=$18, updated_at=$19
	          WHERE id=$20`
	rt.UpdatedAt = time.Now().UTC()
	logger.DatabaseCall("UPDATE", "rentals", "rentalID", rt.ID, "status", rt.Status)
	res, err := r.db.ExecContext(ctx, query, rt.Status, rt.PaymentStatus, rt.StartedAt, rt.DueAt, rt.EndedAt, rt.AmountPaid, rt.OverdueAmount,
		rt.ReturnStationID, rt.ReturnSlotID, rt.ReturnBatteryPct, rt.IsReturnedOnTime, rt.TimelyReturnBonusAwarded,
		rt.CompletionBonusAwarded, rt.ExtensionMinutes, rt.ExtensionCount, rt.DueReminderSentAt, rt.CancelReason, rt.DispensedAt, rt.UpdatedAt, rt.ID)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "rentalID", rt.ID)
		return err
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, nil, "rentalID", rt.ID)
	if n == 0 {
		return domain.NewNotFoundError("rentalRepository.Update", "rental", rt.ID)
	}
	return nil
}

func (r *rentalRepository) ListByUser(ctx context.Context, userID int32, status domain.RentalStatus, page, pageSize int32) ([]domain.Rental, int32, error) {
	offset := (page - 1) * pageSize
	where := ` FROM rentals WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2
	if status != "" {
		where += " AND status = $2"
		args = append(args, status)
		argIdx++
	}

	var count int32
	if err := r.db.QueryRowContext(ctx, "SELECT count(*)"+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + rentalColumns + where + fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, pageSize, offset)
	rentals, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return rentals, count, nil
}

func (r *rentalRepository) ListOverdue(ctx context.Context, now time.Time, afterID, limit int32) ([]domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE status = 'ACTIVE' AND due_at < $1 AND id > $2 ORDER BY id LIMIT $3`
	return r.list(ctx, query, now, afterID, limit)
}

func (r *rentalRepository) ListDueSoon(ctx context.Context, now, until time.Time, afterID, limit int32) ([]domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals
	          WHERE status = 'ACTIVE' AND due_at > $1 AND due_at <= $2 AND due_reminder_sent_at IS NULL AND id > $3
	          ORDER BY id LIMIT $4`
	return r.list(ctx, query, now, until, afterID, limit)
}

func (r *rentalRepository) ListOutstanding(ctx context.Context, afterID, limit int32) ([]domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals
	          WHERE status IN ('COMPLETED', 'CANCELLED') AND payment_status = 'PARTIAL' AND overdue_amount > 0 AND id > $1
	          ORDER BY id LIMIT $2`
	return r.list(ctx, query, afterID, limit)
}

func (r *rentalRepository) ListStalePending(ctx context.Context, createdBefore time.Time, afterID, limit int32) ([]domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE status = 'PENDING' AND created_at < $1 AND id > $2 ORDER BY id LIMIT $3`
	return r.list(ctx, query, createdBefore, afterID, limit)
}

func (r *rentalRepository) list(ctx context.Context, query string, args ...any) ([]domain.Rental, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rentals []domain.Rental
	for rows.Next() {
		rt, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		rentals = append(rentals, *rt)
	}
	return rentals, rows.Err()
}

func (r *rentalRepository) AddExtension(ctx context.Context, ext *domain.RentalExtension) error {
	query := `INSERT INTO rental_extensions (rental_id, package_id, extended_minutes, cost, transaction_id, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if ext.CreatedAt.IsZero() {
		ext.CreatedAt = time.Now().UTC()
	}
	logger.DatabaseCall("INSERT", "rental_extensions", "rentalID", ext.RentalID)
	err := r.db.QueryRowContext(ctx, query, ext.RentalID, ext.PackageID, ext.ExtendedMinutes, ext.Cost, ext.TransactionID, ext.CreatedAt).Scan(&ext.ID)
	logger.DatabaseResult("INSERT", 1, err, "extensionID", ext.ID)
	return err
}

func (r *rentalRepository) ListExtensions(ctx context.Context, rentalID int32) ([]domain.RentalExtension, error) {
	query := `SELECT id, rental_id, package_id, extended_minutes, cost, transaction_id, created_at
	          FROM rental_extensions WHERE rental_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, rentalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exts []domain.RentalExtension
	for rows.Next() {
		var e domain.RentalExtension
		if err := rows.Scan(&e.ID, &e.RentalID, &e.PackageID, &e.ExtendedMinutes, &e.Cost, &e.TransactionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		exts = append(exts, e)
	}
	return exts, rows.Err()
}
