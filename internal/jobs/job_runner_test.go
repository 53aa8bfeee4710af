package jobs_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"powerbank-rental-backend/internal/config"
	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/jobs"
	"powerbank-rental-backend/internal/metrics"
	"powerbank-rental-backend/internal/repository"
	"powerbank-rental-backend/internal/repository/memory"
	"powerbank-rental-backend/internal/service"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// MockRentalService covers the sweep entry points. The embedded interface is
// nil, so any other method panics.
type MockRentalService struct {
	mock.Mock
	service.RentalService
}

func (m *MockRentalService) AccrueOverdue(ctx context.Context, rentalID int32) (bool, error) {
	args := m.Called(ctx, rentalID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRentalService) SendDueReminder(ctx context.Context, rentalID int32) (bool, error) {
	args := m.Called(ctx, rentalID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRentalService) SettleOutstanding(ctx context.Context, rentalID int32) (bool, error) {
	args := m.Called(ctx, rentalID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRentalService) ExpirePending(ctx context.Context, rentalID int32) (bool, error) {
	args := m.Called(ctx, rentalID)
	return args.Bool(0), args.Error(1)
}

type harness struct {
	store   *memory.Store
	rentals *MockRentalService
	ledger  service.LedgerService
	metrics *metrics.Metrics
	runner  *jobs.JobRunner
}

func newHarness(t *testing.T, batch int32) *harness {
	t.Helper()
	h := &harness{
		store:   memory.NewStore(),
		rentals: new(MockRentalService),
		metrics: metrics.New("test"),
	}
	h.ledger = service.NewLedgerService(h.store, nil)
	cfg := &config.Config{Rental: config.RentalConfig{PendingTimeoutMinutes: 5, DueSoonMinutes: 15}}
	h.runner = jobs.NewJobRunner(h.store, &jobs.Services{Rental: h.rentals, Ledger: h.ledger}, cfg, h.metrics,
		jobs.WithClock(func() time.Time { return now }), jobs.WithBatchSize(batch))
	return h
}

// addRental stores a rental for its own user, bypassing the service.
func (h *harness) addRental(t *testing.T, userID int32, mutate func(rt *domain.Rental)) int32 {
	t.Helper()
	started := now.Add(-2 * time.Hour)
	due := now.Add(-time.Hour)
	rt := &domain.Rental{
		UserID:                 userID,
		PackageID:              1,
		Status:                 domain.RentalStatusActive,
		PaymentStatus:          domain.PaymentStatusPaid,
		PaymentModel:           domain.PaymentModelPrepaid,
		PackagePrice:           decimal.RequireFromString("25"),
		PackageDurationMinutes: 60,
		StartedAt:              &started,
		DueAt:                  &due,
		AmountPaid:             decimal.RequireFromString("25"),
		OverdueAmount:          decimal.Zero,
		PickupStationID:        1,
		PickupSlotID:           1,
		PowerBankID:            userID,
		CreatedAt:              started,
	}
	if mutate != nil {
		mutate(rt)
	}
	require.NoError(t, h.store.WithinTx(context.Background(), func(tx repository.Tx) error {
		return tx.Rentals().Create(context.Background(), rt)
	}))
	return rt.ID
}

func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestJobRunner_SweepOverdueRentals(t *testing.T) {
	h := newHarness(t, 10)
	overdue := h.addRental(t, 1, nil)
	notDue := h.addRental(t, 2, func(rt *domain.Rental) {
		due := now.Add(time.Hour)
		rt.DueAt = &due
	})
	h.addRental(t, 3, func(rt *domain.Rental) { rt.Status = domain.RentalStatusCompleted })

	h.rentals.On("AccrueOverdue", mock.Anything, overdue).Return(true, nil).Once()

	require.NoError(t, h.runner.SweepOverdueRentals())
	h.rentals.AssertExpectations(t)
	h.rentals.AssertNotCalled(t, "AccrueOverdue", mock.Anything, notDue)
	assert.Contains(t, h.scrape(t), `test_jobs_runs_total{job="sweep-overdue-rentals",success="true"} 1`)
}

func TestJobRunner_SweepContinuesPastFailures(t *testing.T) {
	h := newHarness(t, 10)
	first := h.addRental(t, 1, nil)
	second := h.addRental(t, 2, func(rt *domain.Rental) {
		due := now.Add(-30 * time.Minute)
		rt.DueAt = &due
	})

	h.rentals.On("AccrueOverdue", mock.Anything, first).Return(false, errors.New("db down")).Once()
	h.rentals.On("AccrueOverdue", mock.Anything, second).Return(true, nil).Once()

	err := h.runner.SweepOverdueRentals()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 rentals failed")
	h.rentals.AssertExpectations(t)
	assert.Contains(t, h.scrape(t), `test_jobs_runs_total{job="sweep-overdue-rentals",success="false"} 1`)
}

func TestJobRunner_SweepsPageThroughEveryCandidate(t *testing.T) {
	h := newHarness(t, 1)
	older := h.addRental(t, 1, nil)
	newer := h.addRental(t, 2, func(rt *domain.Rental) {
		due := now.Add(-30 * time.Minute)
		rt.DueAt = &due
	})
	// Accruing leaves both rentals overdue, so they keep matching the query.
	h.rentals.On("AccrueOverdue", mock.Anything, older).Return(true, nil).Once()
	h.rentals.On("AccrueOverdue", mock.Anything, newer).Return(true, nil).Once()

	owes := func(rt *domain.Rental) {
		rt.Status = domain.RentalStatusCompleted
		rt.PaymentStatus = domain.PaymentStatusPartial
		rt.OverdueAmount = decimal.RequireFromString("5")
	}
	firstDebt := h.addRental(t, 3, owes)
	secondDebt := h.addRental(t, 4, owes)
	h.rentals.On("SettleOutstanding", mock.Anything, firstDebt).Return(false, domain.ErrInsufficientBalance).Once()
	h.rentals.On("SettleOutstanding", mock.Anything, secondDebt).Return(true, nil).Once()

	require.NoError(t, h.runner.SweepOverdueRentals())
	err := h.runner.SettleOutstandingDues()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 rentals failed")
	h.rentals.AssertExpectations(t)
}

func TestJobRunner_SendDueSoonReminders(t *testing.T) {
	h := newHarness(t, 10)
	soon := h.addRental(t, 1, func(rt *domain.Rental) {
		due := now.Add(10 * time.Minute)
		rt.DueAt = &due
	})
	h.addRental(t, 2, func(rt *domain.Rental) {
		due := now.Add(30 * time.Minute)
		rt.DueAt = &due
	})
	h.addRental(t, 3, func(rt *domain.Rental) {
		due := now.Add(5 * time.Minute)
		sent := now.Add(-time.Minute)
		rt.DueAt = &due
		rt.DueReminderSentAt = &sent
	})

	h.rentals.On("SendDueReminder", mock.Anything, soon).Return(true, nil).Once()

	require.NoError(t, h.runner.SendDueSoonReminders())
	h.rentals.AssertExpectations(t)
	h.rentals.AssertNumberOfCalls(t, "SendDueReminder", 1)
}

func TestJobRunner_SettleOutstandingDues(t *testing.T) {
	h := newHarness(t, 10)
	partial := h.addRental(t, 1, func(rt *domain.Rental) {
		rt.Status = domain.RentalStatusCompleted
		rt.PaymentStatus = domain.PaymentStatusPartial
		rt.OverdueAmount = decimal.RequireFromString("15")
	})
	h.addRental(t, 2, func(rt *domain.Rental) {
		rt.Status = domain.RentalStatusCompleted
	})

	h.rentals.On("SettleOutstanding", mock.Anything, partial).Return(false, nil).Once()

	require.NoError(t, h.runner.SettleOutstandingDues())
	h.rentals.AssertExpectations(t)
	h.rentals.AssertNumberOfCalls(t, "SettleOutstanding", 1)
}

func TestJobRunner_ReapStalePending(t *testing.T) {
	h := newHarness(t, 10)
	stale := h.addRental(t, 1, func(rt *domain.Rental) {
		rt.Status = domain.RentalStatusPending
		rt.StartedAt, rt.DueAt = nil, nil
		rt.CreatedAt = now.Add(-10 * time.Minute)
	})
	h.addRental(t, 2, func(rt *domain.Rental) {
		rt.Status = domain.RentalStatusPending
		rt.StartedAt, rt.DueAt = nil, nil
		rt.CreatedAt = now.Add(-time.Minute)
	})

	h.rentals.On("ExpirePending", mock.Anything, stale).Return(true, nil).Once()

	require.NoError(t, h.runner.RunJob(jobs.JobReapStalePending))
	h.rentals.AssertExpectations(t)
	h.rentals.AssertNumberOfCalls(t, "ExpirePending", 1)
}

func TestJobRunner_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, 10)
	id := h.addRental(t, 1, nil)
	h.rentals.On("AccrueOverdue", mock.Anything, id).Run(func(mock.Arguments) { panic("boom") })

	var err error
	assert.NotPanics(t, func() { err = h.runner.SweepOverdueRentals() })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestJobRunner_VerifyLedger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2)
	for userID := int32(1); userID <= 5; userID++ {
		_, err := h.ledger.TopUp(ctx, userID, decimal.RequireFromString("10"), "top-up")
		require.NoError(t, err)
	}

	t.Run("Consistent", func(t *testing.T) {
		assert.NoError(t, h.runner.VerifyLedger())
	})

	t.Run("Drift is reported", func(t *testing.T) {
		require.NoError(t, h.store.WithinTx(ctx, func(tx repository.Tx) error {
			b, err := tx.Balances().LockBalance(ctx, 4)
			if err != nil {
				return err
			}
			b.Wallet = decimal.RequireFromString("99")
			return tx.Balances().UpdateBalance(ctx, b)
		}))

		err := h.runner.VerifyLedger()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 5 balances")
	})
}

func TestJobRunner_RunJob(t *testing.T) {
	h := newHarness(t, 10)

	assert.Error(t, h.runner.RunJob("mark-overdue-rentals"))
	assert.Len(t, jobs.JobNames(), 5)
	assert.Contains(t, jobs.JobNames(), jobs.JobVerifyLedger)

	// Nothing to do anywhere: every job succeeds.
	assert.NoError(t, h.runner.RunJob("all"))
	h.rentals.AssertNotCalled(t, "AccrueOverdue", mock.Anything, mock.Anything)
}
