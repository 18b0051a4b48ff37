/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the billing service. Business logic depends on
 * this interface rather than on PostgreSQL directly, which keeps the reconciliation
 * rules testable with in-memory stubs.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrMerchantNotFound     = errors.New("merchant not found")
	ErrCredentialsNotFound  = errors.New("gateway credentials not found")
	// ErrVersionConflict is returned when a row changed between read and write.
	ErrVersionConflict = errors.New("row version conflict")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Subscription methods
	GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error)
	GetSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	ListExpiredGracePeriods(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error)
	SuspendSubscription(ctx context.Context, update SubscriptionUpdate, logEntry domain.SubscriptionLog) error
	SaveValidatedCard(ctx context.Context, sub *domain.Subscription, card domain.CardInfo, logEntry domain.SubscriptionLog) error
	RecordCardDecline(ctx context.Context, subscriptionID uuid.UUID, code, message string, at time.Time, logEntry domain.SubscriptionLog) error

	// Payment methods
	GetPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	GetPaymentByGatewayID(ctx context.Context, provider, gatewayPaymentID string) (*domain.Payment, error)
	GetLatestPaymentBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Payment, error)
	ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error)
	CreatePayment(ctx context.Context, payment *domain.Payment, logEntry domain.SubscriptionLog) (*domain.Payment, error)

	// ApplyReconciliation persists a payment update, an optional subscription update and
	// the audit rows in one transaction. Both updates are version-checked.
	ApplyReconciliation(ctx context.Context, write ReconciliationWrite) error

	// Catalog and profile methods
	GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error)
	GetMerchantContact(ctx context.Context, userID uuid.UUID) (*domain.MerchantContact, error)

	// Gateway credentials
	GetGatewayAccessToken(ctx context.Context, provider string) (string, error)
}

// PaymentUpdate sets a payment to the latest known gateway state.
type PaymentUpdate struct {
	ID              uuid.UUID
	ExpectedVersion int64
	Status          string
	PaidAt          *time.Time
	RefundedAt      *time.Time
	GatewayResponse json.RawMessage
}

// SubscriptionUpdate moves a subscription to a new raw status.
type SubscriptionUpdate struct {
	ID               uuid.UUID
	ExpectedVersion  int64
	Status           string
	ClearGracePeriod bool
}

// ReconciliationWrite groups everything a single reconciliation persists.
type ReconciliationWrite struct {
	Payment      PaymentUpdate
	Subscription *SubscriptionUpdate
	Logs         []domain.SubscriptionLog
}
