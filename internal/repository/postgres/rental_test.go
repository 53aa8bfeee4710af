package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/repository/postgres"
)

var rentalCols = []string{"id", "user_id", "package_id", "status", "payment_status", "payment_model", "package_price", "package_duration_minutes",
	"started_at", "due_at", "ended_at", "amount_paid", "overdue_amount", "pickup_station_id", "pickup_slot_id", "power_bank_id",
	"return_station_id", "return_slot_id", "return_battery_level", "is_returned_on_time", "timely_return_bonus_awarded",
	"completion_bonus_awarded", "extension_minutes", "extension_count", "due_reminder_sent_at", "cancel_reason", "dispensed_at", "created_at", "updated_at"}

func rentalRow(rows *sqlmock.Rows, id int32, status string) *sqlmock.Rows {
	now := time.Now()
	due := now.Add(time.Hour)
	return rows.AddRow(id, 7, 3, status, "PAID", "PREPAID", "30.00", 60,
		now, due, nil, "30.00", "0.00", 1, 11, 21,
		nil, nil, nil, false, false,
		false, 0, 0, nil, "", nil, now, now)
}

func TestRentalRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()

	rental := &domain.Rental{
		UserID:                 7,
		PackageID:              3,
		Status:                 domain.RentalStatusPending,
		PaymentStatus:          domain.PaymentStatusPending,
		PaymentModel:           domain.PaymentModelPrepaid,
		PackagePrice:           decimal.RequireFromString("30.00"),
		PackageDurationMinutes: 60,
		PickupStationID:        1,
		PickupSlotID:           11,
		PowerBankID:            21,
	}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO rentals").
			WithArgs(rental.UserID, rental.PackageID, rental.Status, rental.PaymentStatus, rental.PaymentModel, sqlmock.AnyArg(),
				rental.PackageDurationMinutes, sqlmock.AnyArg(), sqlmock.AnyArg(), rental.PickupStationID, rental.PickupSlotID, rental.PowerBankID, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		err := repo.Create(ctx, rental)
		assert.NoError(t, err)
		assert.Equal(t, int32(1), rental.ID)
		assert.False(t, rental.CreatedAt.IsZero())
	})

	t.Run("Second open rental for user", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO rentals").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "rentals_one_open_per_user"})

		err := repo.Create(ctx, rental)
		assert.ErrorIs(t, err, domain.ErrActiveRentalExists)
		assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM rentals WHERE id = \\$1").
			WithArgs(int32(1)).
			WillReturnRows(rentalRow(sqlmock.NewRows(rentalCols), 1, "ACTIVE"))

		rental, err := repo.GetByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int32(1), rental.ID)
		assert.Equal(t, domain.RentalStatusActive, rental.Status)
		assert.Equal(t, "30.00", rental.PackagePrice.StringFixed(2))
		assert.NotNil(t, rental.DueAt)
		assert.Nil(t, rental.EndedAt)
		assert.Nil(t, rental.ReturnStationID)
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM rentals WHERE id = \\$1").
			WithArgs(int32(99)).
			WillReturnRows(sqlmock.NewRows(rentalCols))

		_, err := repo.GetByID(ctx, 99)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_LockByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM rentals WHERE id = \\$1 FOR UPDATE").
		WithArgs(int32(5)).
		WillReturnRows(rentalRow(sqlmock.NewRows(rentalCols), 5, "ACTIVE"))

	rental, err := repo.LockByID(context.Background(), 5)
	assert.NoError(t, err)
	assert.Equal(t, int32(5), rental.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_LockActiveByPowerBank(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery("FROM rentals WHERE power_bank_id = \\$1 AND status = 'ACTIVE' FOR UPDATE").
			WithArgs(int32(21)).
			WillReturnRows(rentalRow(sqlmock.NewRows(rentalCols), 4, "ACTIVE"))

		rental, err := repo.LockActiveByPowerBank(ctx, 21)
		assert.NoError(t, err)
		require.NotNil(t, rental)
		assert.Equal(t, int32(4), rental.ID)
	})

	t.Run("None", func(t *testing.T) {
		mock.ExpectQuery("FROM rentals WHERE power_bank_id = \\$1 AND status = 'ACTIVE' FOR UPDATE").
			WithArgs(int32(22)).
			WillReturnRows(sqlmock.NewRows(rentalCols))

		rental, err := repo.LockActiveByPowerBank(ctx, 22)
		assert.NoError(t, err)
		assert.Nil(t, rental)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()
	rental := &domain.Rental{ID: 3, Status: domain.RentalStatusCompleted, PaymentStatus: domain.PaymentStatusPartial}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec("UPDATE rentals SET").WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.Update(ctx, rental))
	})

	t.Run("Missing row", func(t *testing.T) {
		mock.ExpectExec("UPDATE rentals SET").WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, repo.Update(ctx, rental), domain.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_ListByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM rentals WHERE user_id = \\$1 AND status = \\$2").
		WithArgs(int32(7), domain.RentalStatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	rows := sqlmock.NewRows(rentalCols)
	rentalRow(rows, 1, "COMPLETED")
	rentalRow(rows, 2, "COMPLETED")
	mock.ExpectQuery("SELECT (.+) FROM rentals WHERE user_id = \\$1 AND status = \\$2 ORDER BY created_at DESC, id DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs(int32(7), domain.RentalStatusCompleted, int32(10), int32(0)).
		WillReturnRows(rows)

	rentals, count, err := repo.ListByUser(context.Background(), 7, domain.RentalStatusCompleted, 1, 10)
	assert.NoError(t, err)
	assert.Equal(t, int32(2), count)
	assert.Len(t, rentals, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_SweepQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("WHERE status = 'ACTIVE' AND due_at < \\$1 AND id > \\$2 ORDER BY id LIMIT \\$3").
		WithArgs(now, int32(0), int32(50)).
		WillReturnRows(rentalRow(sqlmock.NewRows(rentalCols), 1, "ACTIVE"))
	overdue, err := repo.ListOverdue(ctx, now, 0, 50)
	assert.NoError(t, err)
	assert.Len(t, overdue, 1)

	mock.ExpectQuery("due_reminder_sent_at IS NULL").
		WithArgs(now, now.Add(15*time.Minute), int32(0), int32(50)).
		WillReturnRows(sqlmock.NewRows(rentalCols))
	dueSoon, err := repo.ListDueSoon(ctx, now, now.Add(15*time.Minute), 0, 50)
	assert.NoError(t, err)
	assert.Empty(t, dueSoon)

	mock.ExpectQuery("payment_status = 'PARTIAL' AND overdue_amount > 0 AND id > \\$1").
		WithArgs(int32(40), int32(50)).
		WillReturnError(errors.New("connection reset"))
	_, err = repo.ListOutstanding(ctx, 40, 50)
	assert.Error(t, err)

	cutoff := now.Add(-10 * time.Minute)
	mock.ExpectQuery("WHERE status = 'PENDING' AND created_at < \\$1 AND id > \\$2 ORDER BY id LIMIT \\$3").
		WithArgs(cutoff, int32(3), int32(50)).
		WillReturnRows(rentalRow(sqlmock.NewRows(rentalCols), 4, "PENDING"))
	stale, err := repo.ListStalePending(ctx, cutoff, 3, 50)
	assert.NoError(t, err)
	assert.Len(t, stale, 1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_AddExtension(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ext := &domain.RentalExtension{RentalID: 4, PackageID: 2, ExtendedMinutes: 30, Cost: decimal.RequireFromString("15.00"), TransactionID: 9}

	mock.ExpectQuery("INSERT INTO rental_extensions").
		WithArgs(int32(4), int32(2), int32(30), sqlmock.AnyArg(), int32(9), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))

	assert.NoError(t, repo.AddExtension(context.Background(), ext))
	assert.Equal(t, int32(12), ext.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
