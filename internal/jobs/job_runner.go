package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"powerbank-rental-backend/internal/config"
	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/metrics"
	"powerbank-rental-backend/internal/repository"
	"powerbank-rental-backend/internal/service"
)

// Job names accepted by RunJob and the cronjob -run-once flag.
const (
	JobSweepOverdueRentals   = "sweep-overdue-rentals"
	JobSendDueSoonReminders  = "send-due-soon-reminders"
	JobSettleOutstandingDues = "settle-outstanding-dues"
	JobReapStalePending      = "reap-stale-pending"
	JobVerifyLedger          = "verify-ledger"
)

const defaultBatchSize = 200

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	store     repository.Store
	services  *Services
	config    *config.Config
	metrics   *metrics.Metrics
	now       func() time.Time
	batchSize int32
}

// Services holds all service dependencies needed by jobs
type Services struct {
	Rental service.RentalService
	Ledger service.LedgerService
}

type Option func(*JobRunner)

// WithClock overrides the time source used to pick sweep candidates.
func WithClock(now func() time.Time) Option {
	return func(jr *JobRunner) { jr.now = now }
}

// WithBatchSize sets the page size sweeps read candidates with.
func WithBatchSize(n int32) Option {
	return func(jr *JobRunner) {
		if n > 0 {
			jr.batchSize = n
		}
	}
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(store repository.Store, services *Services, cfg *config.Config, m *metrics.Metrics, opts ...Option) *JobRunner {
	jr := &JobRunner{
		store:     store,
		services:  services,
		config:    cfg,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(jr)
	}
	return jr
}

func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
			err = fmt.Errorf("job %s panicked: %v", jobName, r)
		}
		jr.metrics.RecordJob(jobName, time.Since(start), err == nil)
	}()

	logger.Info("Starting job", "job", jobName)
	if err = jobFunc(); err != nil {
		logger.Error("Job failed", "job", jobName, "error", err)
		return err
	}
	logger.Info("Job completed", "job", jobName, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// candidatePage loads the next page of sweep candidates after a rental id.
type candidatePage func(ctx context.Context, afterID, limit int32) ([]domain.Rental, error)

// sweep walks every candidate page by page and applies fn to each rental. A
// failure on one rental is logged and counted; the rest still run. Rentals
// that still qualify after fn are not revisited in the same run.
func (jr *JobRunner) sweep(ctx context.Context, jobName string, next candidatePage, fn func(ctx context.Context, rentalID int32) (bool, error)) error {
	var after int32
	seen, changed, failed := 0, 0, 0
	var firstErr error
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		candidates, err := next(ctx, after, jr.batchSize)
		if err != nil {
			return err
		}
		for _, rt := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			seen++
			after = rt.ID
			ok, err := fn(ctx, rt.ID)
			if err != nil {
				failed++
				if firstErr == nil {
					firstErr = err
				}
				logger.WithRental(rt.ID).Warn("Sweep step failed", "job", jobName, "error", err)
				continue
			}
			if ok {
				changed++
			}
		}
		if int32(len(candidates)) < jr.batchSize {
			break
		}
	}
	logger.Info("Sweep finished", "job", jobName, "candidates", seen, "changed", changed, "failed", failed)
	if firstErr != nil {
		return fmt.Errorf("%s: %d of %d rentals failed, first error: %w", jobName, failed, seen, firstErr)
	}
	return nil
}

// RunJob runs one job by name, or every job for "all".
func (jr *JobRunner) RunJob(name string) error {
	if name == "all" {
		return jr.RunAll()
	}
	job, ok := jr.jobs()[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return job()
}

// RunAll runs every job once in a fixed order, reaping stale dispenses first
// so their hardware is back before the other sweeps look at it.
func (jr *JobRunner) RunAll() error {
	var failed []string
	for _, name := range []string{
		JobReapStalePending,
		JobSweepOverdueRentals,
		JobSendDueSoonReminders,
		JobSettleOutstandingDues,
		JobVerifyLedger,
	} {
		if err := jr.jobs()[name](); err != nil {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("jobs failed: %v", failed)
	}
	return nil
}

// JobNames lists every job RunJob accepts.
func JobNames() []string {
	names := make([]string, 0, 5)
	for name := range (&JobRunner{}).jobs() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (jr *JobRunner) jobs() map[string]func() error {
	return map[string]func() error{
		JobSweepOverdueRentals:   jr.SweepOverdueRentals,
		JobSendDueSoonReminders:  jr.SendDueSoonReminders,
		JobSettleOutstandingDues: jr.SettleOutstandingDues,
		JobReapStalePending:      jr.ReapStalePending,
		JobVerifyLedger:          jr.VerifyLedger,
	}
}
