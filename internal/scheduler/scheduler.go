package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"powerbank-rental-backend/internal/jobs"
	"powerbank-rental-backend/internal/logger"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *jobs.JobRunner
}

// NewScheduler creates a new scheduler with the provided job runner
func NewScheduler(jobRunner *jobs.JobRunner) *Scheduler {
	// Create cron with UTC timezone and seconds precision. A sweep still
	// running when its next tick fires is skipped rather than overlapped.
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}

	s.registerJobs()
	return s
}

// registerJobs registers all scheduled jobs with the cron scheduler
func (s *Scheduler) registerJobs() {
	cfg := s.jobs.Config().Scheduler

	entries := []struct {
		name string
		spec string
		run  func() error
	}{
		{jobs.JobReapStalePending, cfg.ReapStalePending, s.jobs.ReapStalePending},
		{jobs.JobSweepOverdueRentals, cfg.SweepOverdueRentals, s.jobs.SweepOverdueRentals},
		{jobs.JobSendDueSoonReminders, cfg.SendDueSoonReminders, s.jobs.SendDueSoonReminders},
		{jobs.JobSettleOutstandingDues, cfg.SettleOutstandingDues, s.jobs.SettleOutstandingDues},
		{jobs.JobVerifyLedger, cfg.VerifyLedger, s.jobs.VerifyLedger},
	}

	registered := 0
	for _, e := range entries {
		run := e.run
		// Failures are already logged and counted by the job runner.
		if _, err := s.cron.AddFunc(e.spec, func() { _ = run() }); err != nil {
			logger.Error("Failed to register job", "job", e.name, "schedule", e.spec, "error", err)
			continue
		}
		registered++
	}

	logger.Info("Cron jobs registered", "count", registered)
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	logger.Info("Starting cron scheduler...")
	s.cron.Start()
	logger.Info("Cron scheduler started successfully")
}

// Stop gracefully stops the cron scheduler, waiting for running jobs
func (s *Scheduler) Stop() {
	logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Cron scheduler stopped")
}

// IsRunning returns true if the scheduler is running
func (s *Scheduler) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}
