package domain

import "time"

// BillingState is the user-facing billing state derived from a subscription.
type BillingState string

const (
	BillingStateActive        BillingState = "active"
	BillingStatePastDue       BillingState = "past_due"
	BillingStateInGracePeriod BillingState = "in_grace_period"
	BillingStateProcessing    BillingState = "processing"
	BillingStateDowngraded    BillingState = "downgraded"
	BillingStateSuspended     BillingState = "suspended"
	BillingStateCancelled     BillingState = "cancelled"
)

// BillingStatus is the DTO returned to clients rendering the billing page.
type BillingStatus struct {
	State          BillingState `json:"state"`
	RawStatus      string       `json:"raw_status"`
	DaysRemaining  int          `json:"days_remaining"`
	GracePeriodEnd *time.Time   `json:"grace_period_end,omitempty"`
	PreviousPlanID *string      `json:"previous_plan_id,omitempty"`
	NoCharge       bool         `json:"no_charge"`
}

// SubscriptionCheck is the response of a synchronous status check.
type SubscriptionCheck struct {
	Subscription *Subscription `json:"subscription"`
	Payment      *Payment      `json:"payment,omitempty"`
	Billing      BillingStatus `json:"billing"`
	Reconciled   bool          `json:"reconciled"`
}
