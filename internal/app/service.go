/**
 * @description
 * Core business logic for subscription billing. The Service ties together the
 * repository, the payment gateways, the event publisher and the rate limiter.
 *
 * @notes
 * - Gateway credentials come from configuration first and from the
 *   platform_gateway_credentials table second.
 * - Events are published after the database commit; a failed publish is logged
 *   and never rolls back the transition.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/metrics"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
	"github.com/virtualmercado/shopdrive-sub004/pkg/mercadopago"
	"github.com/virtualmercado/shopdrive-sub004/pkg/pagbank"
)

// MercadoPagoClient defines the Mercado Pago calls the service makes.
type MercadoPagoClient interface {
	GetPayment(ctx context.Context, accessToken, paymentID string) (*mercadopago.Payment, error)
	CreatePayment(ctx context.Context, accessToken, idempotencyKey string, req mercadopago.PaymentRequest) (*mercadopago.Payment, error)
	CancelPayment(ctx context.Context, accessToken, paymentID string) (*mercadopago.Payment, error)
	GetMerchantOrder(ctx context.Context, accessToken, orderID string) (*mercadopago.MerchantOrder, error)
}

// PagBankClient defines the PagBank calls the service makes.
type PagBankClient interface {
	GetCharge(ctx context.Context, token, chargeID string) (*pagbank.Charge, error)
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// CardAttemptLimiter throttles card validation attempts per subscription.
type CardAttemptLimiter interface {
	RegisterAttempt(ctx context.Context, subscriptionID uuid.UUID, limit int, window time.Duration, now time.Time) (AttemptDecision, error)
}

// Options carries the tunables of the Service.
type Options struct {
	Exchange                   string
	MercadoPagoAccessToken     string
	PagBankToken               string
	CardValidationAttemptLimit int
	CardValidationWindow       time.Duration
	PendingPaymentMinAge       time.Duration
	// NotificationURL is sent to the gateway on new charges, e.g. https://api.example.com/webhooks/mercadopago.
	NotificationURL string
}

// Service provides the business logic for subscription billing.
type Service struct {
	repo        store.Repository
	mercadoPago MercadoPagoClient
	pagBank     PagBankClient
	publisher   EventPublisher
	limiter     CardAttemptLimiter
	logger      *slog.Logger
	metrics     *metrics.BillingMetrics
	opts        Options
	now         func() time.Time
}

// NewService creates a new billing service. limiter may be nil to disable throttling.
func NewService(
	repo store.Repository,
	mercadoPago MercadoPagoClient,
	pagBank PagBankClient,
	publisher EventPublisher,
	limiter CardAttemptLimiter,
	logger *slog.Logger,
	opts Options,
) *Service {
	if opts.Exchange == "" {
		opts.Exchange = "billing.events"
	}
	if opts.CardValidationWindow <= 0 {
		opts.CardValidationWindow = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		mercadoPago: mercadoPago,
		pagBank:     pagBank,
		publisher:   publisher,
		limiter:     limiter,
		logger:      logger,
		metrics:     metrics.Get(),
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetBillingStatus resolves the billing state of a merchant's subscription.
func (s *Service) GetBillingStatus(ctx context.Context, userID string) (*domain.BillingStatus, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}

	sub, err := s.repo.GetSubscriptionByUserID(ctx, uid)
	if err != nil {
		return nil, err
	}

	status := ResolveBillingStatus(BillingInputFromSubscription(sub), s.now())
	return &status, nil
}

// accessToken resolves the platform credential for a provider.
func (s *Service) accessToken(ctx context.Context, provider string) (string, error) {
	switch provider {
	case domain.ProviderMercadoPago:
		if token := strings.TrimSpace(s.opts.MercadoPagoAccessToken); token != "" {
			return token, nil
		}
	case domain.ProviderPagBank:
		if token := strings.TrimSpace(s.opts.PagBankToken); token != "" {
			return token, nil
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	token, err := s.repo.GetGatewayAccessToken(ctx, provider)
	if err != nil {
		if errors.Is(err, store.ErrCredentialsNotFound) {
			return "", fmt.Errorf("%s: %w", provider, err)
		}
		return "", fmt.Errorf("load %s credentials: %w", provider, err)
	}
	return token, nil
}

// fetchGatewayPayment asks the provider for the authoritative payment state.
// Transport and API failures are wrapped in ErrGatewayUnavailable.
func (s *Service) fetchGatewayPayment(ctx context.Context, provider, accessToken, gatewayPaymentID string) (*domain.GatewayPayment, error) {
	start := time.Now()
	defer s.metrics.ObserveGateway(provider, "fetch_payment", start)

	switch provider {
	case domain.ProviderMercadoPago:
		payment, err := s.mercadoPago.GetPayment(ctx, accessToken, gatewayPaymentID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return &domain.GatewayPayment{
			ID:           payment.IDString(),
			Status:       payment.Status,
			StatusDetail: payment.StatusDetail,
			Raw:          payment.Raw,
		}, nil
	case domain.ProviderPagBank:
		charge, err := s.pagBank.GetCharge(ctx, accessToken, gatewayPaymentID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return &domain.GatewayPayment{
			ID:           charge.ID,
			Status:       pagbank.NormalizeStatus(charge.Status),
			StatusDetail: charge.PaymentResponse.Message,
			Raw:          charge.Raw,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
}

func (s *Service) publish(ctx context.Context, routingKey string, event interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, s.opts.Exchange, routingKey, event); err != nil {
		s.logger.Warn("failed to publish billing event", "routing_key", routingKey, "error", err)
	}
}

func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, invalidInput("user id must be a UUID")
	}
	return id, nil
}
