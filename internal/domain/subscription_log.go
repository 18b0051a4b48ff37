package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Subscription log event types.
const (
	LogEventPaymentStatusChanged      = "payment_status_changed"
	LogEventSubscriptionStatusChanged = "subscription_status_changed"
	LogEventCardValidated             = "card_validated"
	LogEventCardDeclined              = "card_declined"
	LogEventPaymentCreated            = "payment_created"
	LogEventGracePeriodExpired        = "grace_period_expired"
)

// SubscriptionLog is an append-only audit row describing one state transition.
type SubscriptionLog struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	PaymentID      *uuid.UUID      `json:"payment_id,omitempty"`
	EventType      string          `json:"event_type"`
	Description    string          `json:"description"`
	OldValue       json.RawMessage `json:"old_value,omitempty"`
	NewValue       json.RawMessage `json:"new_value,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
