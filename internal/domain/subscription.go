/**
 * @description
 * This file defines the core domain models for the billing service.
 * It includes the Subscription struct that maps to the subscriptions table,
 * the closed set of raw subscription statuses and the billing cycles.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Raw subscription statuses as stored in the subscriptions table.
const (
	SubscriptionStatusActive         = "active"
	SubscriptionStatusPending        = "pending"
	SubscriptionStatusPaymentPending = "payment_pending"
	SubscriptionStatusPastDue        = "past_due"
	SubscriptionStatusPaymentFailed  = "payment_failed"
	SubscriptionStatusSuspended      = "suspended"
	SubscriptionStatusCancelled      = "cancelled"
	// SubscriptionStatusInadimplent is written when a monthly charge fails.
	// The spelling is kept as-is because existing rows and clients rely on it.
	SubscriptionStatusInadimplent = "inadimplent"
)

// Billing cycles.
const (
	BillingCycleMonthly = "monthly"
	BillingCycleAnnual  = "annual"
)

// Subscription represents a merchant's billing relationship with the platform.
type Subscription struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	PlanID         string     `json:"plan_id"`
	BillingCycle   string     `json:"billing_cycle"`
	Status         string     `json:"status"`
	GracePeriodEnd *time.Time `json:"grace_period_end,omitempty"`
	PreviousPlanID *string    `json:"previous_plan_id,omitempty"`

	LastDeclineCode    *string    `json:"last_decline_code,omitempty"`
	LastDeclineMessage *string    `json:"last_decline_message,omitempty"`
	LastDeclinedAt     *time.Time `json:"last_declined_at,omitempty"`

	Card *CardInfo `json:"card,omitempty"`

	// NoCharge is joined from the merchant profile; courtesy accounts are never billed.
	NoCharge *bool `json:"no_charge,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CardInfo holds non-sensitive metadata about the card on file.
type CardInfo struct {
	Brand           string     `json:"brand"`
	LastFour        string     `json:"last_four"`
	HolderName      string     `json:"holder_name"`
	ExpirationMonth int        `json:"expiration_month"`
	ExpirationYear  int        `json:"expiration_year"`
	ValidatedAt     *time.Time `json:"validated_at,omitempty"`
}

// Plan is a sellable platform plan.
type Plan struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	MonthlyPriceCents int64  `json:"monthly_price_cents"`
	AnnualPriceCents  int64  `json:"annual_price_cents"`
	Currency          string `json:"currency"`
}

// PriceFor returns the plan price for the given billing cycle.
func (p Plan) PriceFor(cycle string) int64 {
	if cycle == BillingCycleAnnual {
		return p.AnnualPriceCents
	}
	return p.MonthlyPriceCents
}

// MerchantContact is the minimal profile data needed to reach a merchant by email.
type MerchantContact struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	StoreName string    `json:"store_name"`
}
