package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type sweepRunnerStub struct {
	sweepCalls  int
	graceCalls  int
	err         error
	hadDeadline bool
}

func (s *sweepRunnerStub) ReconcilePendingPayments(ctx context.Context) (*SweepResult, error) {
	s.sweepCalls++
	_, s.hadDeadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	return &SweepResult{Evaluated: 2, Updated: 1, Unchanged: 1}, nil
}

func (s *sweepRunnerStub) ExpireGracePeriods(ctx context.Context) (*GraceExpiryResult, error) {
	s.graceCalls++
	_, s.hadDeadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	return &GraceExpiryResult{}, nil
}

func TestJobs_RunSweepsWithTimeout(t *testing.T) {
	runner := &sweepRunnerStub{}
	jobs := NewJobs(runner, discardLogger())

	jobs.ReconcilePendingPayments()
	assert.Equal(t, 1, runner.sweepCalls)
	assert.True(t, runner.hadDeadline)

	jobs.ExpireGracePeriods()
	assert.Equal(t, 1, runner.graceCalls)
}

func TestJobs_FailuresAreContained(t *testing.T) {
	runner := &sweepRunnerStub{err: errors.New("database unavailable")}
	jobs := NewJobs(runner, discardLogger())

	assert.NotPanics(t, jobs.ReconcilePendingPayments)
	assert.NotPanics(t, jobs.ExpireGracePeriods)
}
