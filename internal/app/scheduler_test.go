package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_Register(t *testing.T) {
	tests := []struct {
		name string
		cfg  SchedulerConfig
		want int
	}{
		{name: "both jobs", cfg: SchedulerConfig{PendingPaymentSweepSchedule: "*/10 * * * *", GraceExpirySchedule: "15 * * * *"}, want: 2},
		{name: "grace expiry disabled", cfg: SchedulerConfig{PendingPaymentSweepSchedule: "*/10 * * * *"}, want: 1},
		{name: "invalid expression", cfg: SchedulerConfig{PendingPaymentSweepSchedule: "every ten minutes", GraceExpirySchedule: "15 * * * *"}, want: 1},
		{name: "all disabled", cfg: SchedulerConfig{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(NewJobs(&sweepRunnerStub{}, discardLogger()), discardLogger(), tt.cfg)
			assert.Equal(t, tt.want, s.Register())
			assert.Len(t, s.cron.Entries(), tt.want)
		})
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(NewJobs(&sweepRunnerStub{}, discardLogger()), discardLogger(), SchedulerConfig{GraceExpirySchedule: "@hourly"})
	s.Start()
	<-s.Stop().Done()
}
