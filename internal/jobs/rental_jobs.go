package jobs

import (
	"context"
	"time"

	"powerbank-rental-backend/internal/domain"
)

// SweepOverdueRentals refreshes the late-charge estimate of ACTIVE rentals
// past their due time.
func (jr *JobRunner) SweepOverdueRentals() error {
	return jr.runWithRecovery(JobSweepOverdueRentals, func() error {
		now := jr.now()
		return jr.sweep(context.Background(), JobSweepOverdueRentals, func(ctx context.Context, afterID, limit int32) ([]domain.Rental, error) {
			return jr.store.Rentals().ListOverdue(ctx, now, afterID, limit)
		}, jr.services.Rental.AccrueOverdue)
	})
}

// SettleOutstandingDues retries collecting PARTIAL payments from whatever
// balance the user has gained since the return.
func (jr *JobRunner) SettleOutstandingDues() error {
	return jr.runWithRecovery(JobSettleOutstandingDues, func() error {
		return jr.sweep(context.Background(), JobSettleOutstandingDues, jr.store.Rentals().ListOutstanding, jr.services.Rental.SettleOutstanding)
	})
}

// ReapStalePending resolves rentals whose dispense outcome was never
// recorded within the pending timeout.
func (jr *JobRunner) ReapStalePending() error {
	return jr.runWithRecovery(JobReapStalePending, func() error {
		timeout := time.Duration(jr.config.Rental.PendingTimeoutMinutes) * time.Minute
		cutoff := jr.now().Add(-timeout)
		return jr.sweep(context.Background(), JobReapStalePending, func(ctx context.Context, afterID, limit int32) ([]domain.Rental, error) {
			return jr.store.Rentals().ListStalePending(ctx, cutoff, afterID, limit)
		}, jr.services.Rental.ExpirePending)
	})
}
