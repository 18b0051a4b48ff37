package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the billing events exchange.
const (
	RoutingKeyPaymentStatusChanged      = "payment.status.changed"
	RoutingKeySubscriptionStatusChanged = "subscription.status.changed"
	RoutingKeyCardValidated             = "card.validated"
	RoutingKeyPaymentCreated            = "payment.created"
)

// PaymentStatusChangedEvent is published after a payment transition is persisted.
type PaymentStatusChangedEvent struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	Provider       string    `json:"provider"`
	OldStatus      string    `json:"old_status"`
	NewStatus      string    `json:"new_status"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// SubscriptionStatusChangedEvent is published after a subscription transition is persisted.
type SubscriptionStatusChangedEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	PlanID         string    `json:"plan_id"`
	BillingCycle   string    `json:"billing_cycle"`
	OldStatus      string    `json:"old_status"`
	NewStatus      string    `json:"new_status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// CardValidatedEvent is published after a card passed the zero-capture authorization.
type CardValidatedEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	Brand          string    `json:"brand"`
	LastFour       string    `json:"last_four"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// PaymentCreatedEvent is published when a new charge is initiated.
type PaymentCreatedEvent struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	Method         string    `json:"method"`
	AmountCents    int64     `json:"amount_cents"`
	OccurredAt     time.Time `json:"occurred_at"`
}
