package jobs

import (
	"context"
	"time"

	"powerbank-rental-backend/internal/domain"
)

// SendDueSoonReminders notifies users whose rental is due within the
// configured window. Each due time gets at most one reminder.
func (jr *JobRunner) SendDueSoonReminders() error {
	return jr.runWithRecovery(JobSendDueSoonReminders, func() error {
		now := jr.now()
		until := now.Add(time.Duration(jr.config.Rental.DueSoonMinutes) * time.Minute)
		return jr.sweep(context.Background(), JobSendDueSoonReminders, func(ctx context.Context, afterID, limit int32) ([]domain.Rental, error) {
			return jr.store.Rentals().ListDueSoon(ctx, now, until, afterID, limit)
		}, jr.services.Rental.SendDueReminder)
	})
}
