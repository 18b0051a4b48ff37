package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestResolveBillingStatus(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		in       BillingInput
		want     domain.BillingState
		wantDays int
	}{
		{
			name: "no charge overrides suspended",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusSuspended, NoCharge: ptr(true)},
			want: domain.BillingStateActive,
		},
		{
			name: "no charge overrides grace period",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusPastDue, GracePeriodEnd: ptr(now.Add(48 * time.Hour)), NoCharge: ptr(true)},
			want: domain.BillingStateActive,
		},
		{
			name: "no charge false is ignored",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusCancelled, NoCharge: ptr(false)},
			want: domain.BillingStateCancelled,
		},
		{
			name: "active with previous plan is downgraded",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusActive, PreviousPlanID: ptr("premium")},
			want: domain.BillingStateDowngraded,
		},
		{
			name: "active with empty previous plan stays active",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusActive, PreviousPlanID: ptr("")},
			want: domain.BillingStateActive,
		},
		{
			name:     "past due inside grace period",
			in:       BillingInput{RawStatus: domain.SubscriptionStatusPastDue, GracePeriodEnd: ptr(now.Add(36 * time.Hour))},
			want:     domain.BillingStateInGracePeriod,
			wantDays: 2,
		},
		{
			name:     "grace period ending in one minute still counts one day",
			in:       BillingInput{RawStatus: domain.SubscriptionStatusPastDue, GracePeriodEnd: ptr(now.Add(time.Minute))},
			want:     domain.BillingStateInGracePeriod,
			wantDays: 1,
		},
		{
			name: "past due after grace period",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusPastDue, GracePeriodEnd: ptr(now.Add(-time.Hour))},
			want: domain.BillingStatePastDue,
		},
		{
			name: "past due without grace period",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusPastDue},
			want: domain.BillingStatePastDue,
		},
		{
			name: "pending is processing",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusPending},
			want: domain.BillingStateProcessing,
		},
		{
			name: "payment pending is processing",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusPaymentPending},
			want: domain.BillingStateProcessing,
		},
		{
			name: "payment failed is past due",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusPaymentFailed},
			want: domain.BillingStatePastDue,
		},
		{
			name: "suspended",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusSuspended},
			want: domain.BillingStateSuspended,
		},
		{
			name: "cancelled",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusCancelled},
			want: domain.BillingStateCancelled,
		},
		{
			name: "inadimplent falls through to active",
			in:   BillingInput{RawStatus: domain.SubscriptionStatusInadimplent},
			want: domain.BillingStateActive,
		},
		{
			name: "unknown status falls through to active",
			in:   BillingInput{RawStatus: "trialing"},
			want: domain.BillingStateActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveBillingStatus(tt.in, now)
			assert.Equal(t, tt.want, got.State)
			assert.Equal(t, tt.wantDays, got.DaysRemaining)
			assert.Equal(t, tt.in.RawStatus, got.RawStatus)
		})
	}
}

func TestResolveBillingStatus_NoChargeAlwaysActive(t *testing.T) {
	now := time.Now()
	statuses := []string{
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusPending,
		domain.SubscriptionStatusPaymentPending,
		domain.SubscriptionStatusPastDue,
		domain.SubscriptionStatusPaymentFailed,
		domain.SubscriptionStatusSuspended,
		domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusInadimplent,
	}
	graces := []*time.Time{nil, ptr(now.Add(72 * time.Hour)), ptr(now.Add(-72 * time.Hour))}
	previous := []*string{nil, ptr("basic")}

	for _, status := range statuses {
		for _, grace := range graces {
			for _, prev := range previous {
				got := ResolveBillingStatus(BillingInput{
					RawStatus:      status,
					GracePeriodEnd: grace,
					PreviousPlanID: prev,
					NoCharge:       ptr(true),
				}, now)
				if got.State != domain.BillingStateActive {
					t.Fatalf("expected active for no_charge with status=%s, got %s", status, got.State)
				}
				if !got.NoCharge {
					t.Fatal("expected NoCharge to be echoed in the result")
				}
			}
		}
	}
}

func TestResolveBillingStatus_GracePeriodCountdownToExpiry(t *testing.T) {
	end := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	in := BillingInput{RawStatus: domain.SubscriptionStatusPastDue, GracePeriodEnd: &end}

	for offset := 5 * 24 * time.Hour; offset > 0; offset -= 7 * time.Hour {
		got := ResolveBillingStatus(in, end.Add(-offset))
		if got.State != domain.BillingStateInGracePeriod {
			t.Fatalf("expected in_grace_period %s before end, got %s", offset, got.State)
		}
		if got.DaysRemaining < 1 {
			t.Fatalf("expected at least one day remaining %s before end, got %d", offset, got.DaysRemaining)
		}
	}

	for _, after := range []time.Duration{0, time.Second, 48 * time.Hour} {
		got := ResolveBillingStatus(in, end.Add(after))
		if got.State != domain.BillingStatePastDue || got.DaysRemaining != 0 {
			t.Fatalf("expected past_due with 0 days %s after end, got %s/%d", after, got.State, got.DaysRemaining)
		}
	}
}
