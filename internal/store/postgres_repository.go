/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for the subscriptions, payments, subscription_logs, plans,
 * profiles and platform_gateway_credentials tables.
 *
 * @notes
 * - Every status-changing UPDATE is guarded by the row's `version` column and bumps it,
 *   so a webhook racing the status poller fails with ErrVersionConflict instead of
 *   silently overwriting the other writer.
 * - subscription_logs is insert-only.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const subscriptionColumns = `
	s.id, s.user_id, s.plan_id, s.billing_cycle, s.status, s.grace_period_end, s.previous_plan_id,
	s.last_decline_code, s.last_decline_message, s.last_declined_at,
	s.card_brand, s.card_last_four, s.card_holder_name, s.card_expiration_month, s.card_expiration_year, s.card_validated_at,
	p.no_charge, s.version, s.created_at, s.updated_at`

const paymentColumns = `
	id, subscription_id, user_id, provider, gateway_payment_id, status, method, amount_cents, currency,
	paid_at, refunded_at, gateway_response, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var (
		sub        domain.Subscription
		cardBrand  *string
		lastFour   *string
		holderName *string
		expMonth   *int
		expYear    *int
		validated  *time.Time
	)
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanID,
		&sub.BillingCycle,
		&sub.Status,
		&sub.GracePeriodEnd,
		&sub.PreviousPlanID,
		&sub.LastDeclineCode,
		&sub.LastDeclineMessage,
		&sub.LastDeclinedAt,
		&cardBrand,
		&lastFour,
		&holderName,
		&expMonth,
		&expYear,
		&validated,
		&sub.NoCharge,
		&sub.Version,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if cardBrand != nil && lastFour != nil {
		sub.Card = &domain.CardInfo{
			Brand:       *cardBrand,
			LastFour:    *lastFour,
			ValidatedAt: validated,
		}
		if holderName != nil {
			sub.Card.HolderName = *holderName
		}
		if expMonth != nil {
			sub.Card.ExpirationMonth = *expMonth
		}
		if expYear != nil {
			sub.Card.ExpirationYear = *expYear
		}
	}
	return &sub, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var raw []byte
	err := row.Scan(
		&p.ID,
		&p.SubscriptionID,
		&p.UserID,
		&p.Provider,
		&p.GatewayPaymentID,
		&p.Status,
		&p.Method,
		&p.AmountCents,
		&p.Currency,
		&p.PaidAt,
		&p.RefundedAt,
		&raw,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		p.GatewayResponse = raw
	}
	return &p, nil
}

// GetSubscriptionByID retrieves a subscription by its primary key.
func (r *PostgresRepository) GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		LEFT JOIN profiles p ON p.id = s.user_id
		WHERE s.id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, subscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// GetSubscriptionByUserID retrieves the most recent subscription of a merchant.
func (r *PostgresRepository) GetSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		LEFT JOIN profiles p ON p.id = s.user_id
		WHERE s.user_id = $1
		ORDER BY s.created_at DESC
		LIMIT 1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// ListExpiredGracePeriods returns past_due subscriptions whose grace period has ended.
func (r *PostgresRepository) ListExpiredGracePeriods(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		LEFT JOIN profiles p ON p.id = s.user_id
		WHERE s.status = $1
		  AND s.grace_period_end IS NOT NULL
		  AND s.grace_period_end <= $2
		  AND COALESCE(p.no_charge, FALSE) = FALSE
		ORDER BY s.grace_period_end ASC
		LIMIT $3`
	rows, err := r.db.Query(ctx, query, domain.SubscriptionStatusPastDue, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// SuspendSubscription moves a subscription to suspended if it was not touched concurrently.
func (r *PostgresRepository) SuspendSubscription(ctx context.Context, update SubscriptionUpdate, logEntry domain.SubscriptionLog) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateSubscriptionStatus(ctx, tx, update); err != nil {
		return err
	}
	if err := insertLog(ctx, tx, logEntry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveValidatedCard stores the validated card on the subscription and the merchant profile.
func (r *PostgresRepository) SaveValidatedCard(ctx context.Context, sub *domain.Subscription, card domain.CardInfo, logEntry domain.SubscriptionLog) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE subscriptions
		SET card_brand = $2,
		    card_last_four = $3,
		    card_holder_name = $4,
		    card_expiration_month = $5,
		    card_expiration_year = $6,
		    card_validated_at = $7,
		    last_decline_code = NULL,
		    last_decline_message = NULL,
		    last_declined_at = NULL,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1`,
		sub.ID, card.Brand, card.LastFour, card.HolderName, card.ExpirationMonth, card.ExpirationYear, card.ValidatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription card: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE profiles
		SET card_brand = $2,
		    card_last_four = $3,
		    card_holder_name = $4,
		    card_expiration_month = $5,
		    card_expiration_year = $6,
		    updated_at = NOW()
		WHERE id = $1`,
		sub.UserID, card.Brand, card.LastFour, card.HolderName, card.ExpirationMonth, card.ExpirationYear,
	)
	if err != nil {
		return fmt.Errorf("update profile card: %w", err)
	}

	if err := insertLog(ctx, tx, logEntry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordCardDecline stores the last decline on the subscription for support and UI hints.
func (r *PostgresRepository) RecordCardDecline(ctx context.Context, subscriptionID uuid.UUID, code, message string, at time.Time, logEntry domain.SubscriptionLog) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE subscriptions
		SET last_decline_code = $2,
		    last_decline_message = $3,
		    last_declined_at = $4,
		    updated_at = NOW()
		WHERE id = $1`,
		subscriptionID, code, message, at,
	)
	if err != nil {
		return fmt.Errorf("record decline: %w", err)
	}
	if err := insertLog(ctx, tx, logEntry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetPaymentByID retrieves a payment by its primary key.
func (r *PostgresRepository) GetPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetPaymentByGatewayID finds the local payment linked to a gateway payment id.
func (r *PostgresRepository) GetPaymentByGatewayID(ctx context.Context, provider, gatewayPaymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = $1 AND gateway_payment_id = $2`
	p, err := scanPayment(r.db.QueryRow(ctx, query, provider, gatewayPaymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetLatestPaymentBySubscriptionID returns the most recent charge attempt of a subscription.
func (r *PostgresRepository) GetLatestPaymentBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, subscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListPendingPayments returns pending gateway-linked payments created before the cutoff.
func (r *PostgresRepository) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = $1
		  AND gateway_payment_id IS NOT NULL
		  AND gateway_payment_id <> ''
		  AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3`
	rows, err := r.db.Query(ctx, query, domain.PaymentStatusPending, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// CreatePayment inserts a new charge attempt together with its audit row.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment *domain.Payment, logEntry domain.SubscriptionLog) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO payments (id, subscription_id, user_id, provider, gateway_payment_id, status, method,
		                      amount_cents, currency, gateway_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
		RETURNING ` + paymentColumns
	created, err := scanPayment(tx.QueryRow(ctx, query,
		payment.ID,
		payment.SubscriptionID,
		payment.UserID,
		payment.Provider,
		payment.GatewayPaymentID,
		payment.Status,
		payment.Method,
		payment.AmountCents,
		payment.Currency,
		nullableJSON(payment.GatewayResponse),
	))
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	if err := insertLog(ctx, tx, logEntry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// ApplyReconciliation persists the outcome of a gateway reconciliation atomically.
func (r *PostgresRepository) ApplyReconciliation(ctx context.Context, write ReconciliationWrite) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $3,
		    paid_at = COALESCE($4, paid_at),
		    refunded_at = COALESCE($5, refunded_at),
		    gateway_response = COALESCE($6::jsonb, gateway_response),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		write.Payment.ID,
		write.Payment.ExpectedVersion,
		write.Payment.Status,
		write.Payment.PaidAt,
		write.Payment.RefundedAt,
		nullableJSON(write.Payment.GatewayResponse),
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	if write.Subscription != nil {
		if err := updateSubscriptionStatus(ctx, tx, *write.Subscription); err != nil {
			return err
		}
	}

	for _, entry := range write.Logs {
		if err := insertLog(ctx, tx, entry); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetPlanByID loads a plan from the catalog.
func (r *PostgresRepository) GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error) {
	var plan domain.Plan
	err := r.db.QueryRow(ctx, `
		SELECT id, name, monthly_price_cents, annual_price_cents, currency
		FROM plans
		WHERE id = $1`, planID,
	).Scan(&plan.ID, &plan.Name, &plan.MonthlyPriceCents, &plan.AnnualPriceCents, &plan.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// GetMerchantContact loads the merchant email and store name.
func (r *PostgresRepository) GetMerchantContact(ctx context.Context, userID uuid.UUID) (*domain.MerchantContact, error) {
	var contact domain.MerchantContact
	err := r.db.QueryRow(ctx, `
		SELECT id, email, COALESCE(store_name, '')
		FROM profiles
		WHERE id = $1`, userID,
	).Scan(&contact.UserID, &contact.Email, &contact.StoreName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}
	return &contact, nil
}

// GetGatewayAccessToken reads the platform's active access token for a provider.
func (r *PostgresRepository) GetGatewayAccessToken(ctx context.Context, provider string) (string, error) {
	var token string
	err := r.db.QueryRow(ctx, `
		SELECT access_token
		FROM platform_gateway_credentials
		WHERE provider = $1 AND active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1`, provider,
	).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrCredentialsNotFound
		}
		return "", err
	}
	if token == "" {
		return "", ErrCredentialsNotFound
	}
	return token, nil
}

func updateSubscriptionStatus(ctx context.Context, tx pgx.Tx, update SubscriptionUpdate) error {
	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = $3,
		    grace_period_end = CASE WHEN $4 THEN NULL ELSE grace_period_end END,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		update.ID, update.ExpectedVersion, update.Status, update.ClearGracePeriod,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func insertLog(ctx context.Context, tx pgx.Tx, entry domain.SubscriptionLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO subscription_logs (id, subscription_id, payment_id, event_type, description, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)`,
		entry.ID,
		entry.SubscriptionID,
		entry.PaymentID,
		entry.EventType,
		entry.Description,
		nullableJSON(entry.OldValue),
		nullableJSON(entry.NewValue),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription log: %w", err)
	}
	return nil
}

// nullableJSON turns a payload into a jsonb text argument. Raw bytes would be
// sent as bytea under the simple protocol; empty payloads become SQL NULL.
func nullableJSON(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
