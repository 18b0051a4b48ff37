/**
 * @description
 * Cron scheduler setup for the billing sweeps.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// SchedulerConfig holds the cron expressions of the jobs. An empty expression disables a job.
type SchedulerConfig struct {
	PendingPaymentSweepSchedule string
	GraceExpirySchedule         string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config SchedulerConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Register adds the jobs to the cron table and returns how many were scheduled.
func (s *Scheduler) Register() int {
	scheduled := 0
	entries := []struct {
		name     string
		schedule string
		run      func()
	}{
		{name: "pending payment sweep", schedule: s.config.PendingPaymentSweepSchedule, run: s.jobs.ReconcilePendingPayments},
		{name: "grace period expiry", schedule: s.config.GraceExpirySchedule, run: s.jobs.ExpireGracePeriods},
	}

	for _, entry := range entries {
		if entry.schedule == "" {
			s.logger.Info("job disabled", "job", entry.name)
			continue
		}
		if _, err := s.cron.AddFunc(entry.schedule, entry.run); err != nil {
			s.logger.Error("failed to schedule job", "job", entry.name, "schedule", entry.schedule, "error", err)
			continue
		}
		s.logger.Info("scheduled job", "job", entry.name, "schedule", entry.schedule)
		scheduled++
	}
	return scheduled
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Register()
	s.cron.Start()
}

// Stop stops the scheduler; the returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
