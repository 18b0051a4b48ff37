/**
 * @description
 * Maps a stored subscription to the billing state shown to merchants.
 *
 * @notes
 * - Pure function of the stored fields and the clock. Nothing here touches the
 *   database, so the poller, the status endpoint and the internal API all agree.
 */
package app

import (
	"math"
	"time"

	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
)

// BillingInput is the subset of a subscription the resolver looks at.
type BillingInput struct {
	RawStatus      string
	GracePeriodEnd *time.Time
	PreviousPlanID *string
	NoCharge       *bool
}

// BillingInputFromSubscription extracts the resolver input from a subscription row.
func BillingInputFromSubscription(sub *domain.Subscription) BillingInput {
	return BillingInput{
		RawStatus:      sub.Status,
		GracePeriodEnd: sub.GracePeriodEnd,
		PreviousPlanID: sub.PreviousPlanID,
		NoCharge:       sub.NoCharge,
	}
}

// ResolveBillingStatus applies the billing rules in priority order; the first match wins.
func ResolveBillingStatus(in BillingInput, now time.Time) domain.BillingStatus {
	status := domain.BillingStatus{
		RawStatus:      in.RawStatus,
		GracePeriodEnd: in.GracePeriodEnd,
		PreviousPlanID: in.PreviousPlanID,
		NoCharge:       in.NoCharge != nil && *in.NoCharge,
	}

	switch {
	case status.NoCharge:
		status.State = domain.BillingStateActive
	case in.RawStatus == domain.SubscriptionStatusActive && hasValue(in.PreviousPlanID):
		status.State = domain.BillingStateDowngraded
	case in.RawStatus == domain.SubscriptionStatusPastDue && in.GracePeriodEnd != nil && in.GracePeriodEnd.After(now):
		status.State = domain.BillingStateInGracePeriod
		status.DaysRemaining = daysUntil(*in.GracePeriodEnd, now)
	case in.RawStatus == domain.SubscriptionStatusPending || in.RawStatus == domain.SubscriptionStatusPaymentPending:
		status.State = domain.BillingStateProcessing
	case in.RawStatus == domain.SubscriptionStatusPastDue || in.RawStatus == domain.SubscriptionStatusPaymentFailed:
		status.State = domain.BillingStatePastDue
	case in.RawStatus == domain.SubscriptionStatusSuspended:
		status.State = domain.BillingStateSuspended
	case in.RawStatus == domain.SubscriptionStatusCancelled:
		status.State = domain.BillingStateCancelled
	default:
		status.State = domain.BillingStateActive
	}

	return status
}

// daysUntil rounds the remaining time up to whole days and never goes negative.
func daysUntil(end, now time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

func hasValue(s *string) bool {
	return s != nil && *s != ""
}
