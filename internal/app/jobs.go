/**
 * @description
 * Scheduled job implementations. Each job is a thin wrapper that runs one
 * service sweep with a timeout and logs the summary.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/virtualmercado/shopdrive-sub004/internal/metrics"
)

const jobTimeout = 5 * time.Minute

// SweepRunner defines the sweeps the scheduled jobs trigger.
type SweepRunner interface {
	ReconcilePendingPayments(ctx context.Context) (*SweepResult, error)
	ExpireGracePeriods(ctx context.Context) (*GraceExpiryResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	runner  SweepRunner
	logger  *slog.Logger
	metrics *metrics.BillingMetrics
}

// NewJobs creates a new Jobs runner.
func NewJobs(runner SweepRunner, logger *slog.Logger) *Jobs {
	return &Jobs{runner: runner, logger: logger, metrics: metrics.Get()}
}

// ReconcilePendingPayments is the cron entry for the pending-payment sweep.
func (j *Jobs) ReconcilePendingPayments() {
	j.logger.Info("starting pending payment sweep job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := j.runner.ReconcilePendingPayments(ctx)
	j.metrics.RecordJobRun("pending_payment_sweep", err)
	if err != nil {
		j.logger.Error("pending payment sweep failed", "error", err)
		return
	}

	j.logger.Info("pending payment sweep job finished",
		"evaluated", result.Evaluated,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"failed", result.Failed,
	)
}

// ExpireGracePeriods is the cron entry for suspending expired grace periods.
func (j *Jobs) ExpireGracePeriods() {
	j.logger.Info("starting grace period expiry job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := j.runner.ExpireGracePeriods(ctx)
	j.metrics.RecordJobRun("grace_expiry", err)
	if err != nil {
		j.logger.Error("grace period expiry failed", "error", err)
		return
	}

	if result.Evaluated == 0 {
		j.logger.Info("no expired grace periods to process")
		return
	}
	j.logger.Info("grace period expiry job finished",
		"evaluated", result.Evaluated,
		"suspended", result.Suspended,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
}
