package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
)

// maxReconcileAttempts bounds the reload-and-retry loop on version conflicts.
const maxReconcileAttempts = 3

// Reconciliation sources, used in logs and metrics.
const (
	SourceWebhook = "webhook"
	SourcePoller  = "poller"
	SourceSweep   = "sweep"
)

// Reasons reported when a notification is not processed.
const (
	ReasonPaymentNotFound    = "payment_not_found"
	ReasonGatewayUnavailable = "gateway_unavailable"
	ReasonNoPaymentID        = "no_payment_id"
	ReasonIgnoredTopic       = "ignored_topic"
)

// ReconcileResult describes the state after a reconciliation.
type ReconcileResult struct {
	Processed           bool                 `json:"processed"`
	Reason              string               `json:"reason,omitempty"`
	Payment             *domain.Payment      `json:"payment,omitempty"`
	Subscription        *domain.Subscription `json:"subscription,omitempty"`
	PaymentChanged      bool                 `json:"payment_changed"`
	SubscriptionChanged bool                 `json:"subscription_changed"`
}

// ReconcileGatewayPayment reconciles the local payment linked to a gateway payment id.
// An unknown payment is a benign no-op so gateways stop retrying.
func (s *Service) ReconcileGatewayPayment(ctx context.Context, provider, gatewayPaymentID string) (*ReconcileResult, error) {
	payment, err := s.repo.GetPaymentByGatewayID(ctx, provider, gatewayPaymentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			s.logger.Info("webhook references unknown payment", "provider", provider, "gateway_payment_id", gatewayPaymentID)
			s.metrics.RecordReconciliation(SourceWebhook, ReasonPaymentNotFound)
			return &ReconcileResult{Reason: ReasonPaymentNotFound}, nil
		}
		return nil, fmt.Errorf("load payment by gateway id: %w", err)
	}

	return s.reconcilePayment(ctx, payment, SourceWebhook)
}

// ReconcileMerchantOrder reconciles every payment of a Mercado Pago merchant order.
func (s *Service) ReconcileMerchantOrder(ctx context.Context, orderID string) (*ReconcileResult, error) {
	token, err := s.accessToken(ctx, domain.ProviderMercadoPago)
	if err != nil {
		return nil, err
	}

	order, err := s.mercadoPago.GetMerchantOrder(ctx, token, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	aggregate := &ReconcileResult{Reason: ReasonPaymentNotFound}
	for _, paymentID := range order.PaymentIDs() {
		result, err := s.ReconcileGatewayPayment(ctx, domain.ProviderMercadoPago, paymentID)
		if err != nil {
			if errors.Is(err, ErrGatewayUnavailable) {
				s.logger.Warn("skipping merchant order payment", "order_id", orderID, "gateway_payment_id", paymentID, "error", err)
				continue
			}
			return nil, err
		}
		if result.Processed {
			aggregate.Processed = true
			aggregate.Reason = ""
			aggregate.PaymentChanged = aggregate.PaymentChanged || result.PaymentChanged
			aggregate.SubscriptionChanged = aggregate.SubscriptionChanged || result.SubscriptionChanged
		}
	}
	return aggregate, nil
}

// reconcilePayment fetches the gateway state of payment and applies it.
func (s *Service) reconcilePayment(ctx context.Context, payment *domain.Payment, source string) (*ReconcileResult, error) {
	if !payment.HasGatewayID() {
		return &ReconcileResult{Reason: ReasonNoPaymentID, Payment: payment}, nil
	}

	token, err := s.accessToken(ctx, payment.Provider)
	if err != nil {
		s.metrics.RecordReconciliation(source, "credentials_error")
		return nil, err
	}

	gp, err := s.fetchGatewayPayment(ctx, payment.Provider, token, *payment.GatewayPaymentID)
	if err != nil {
		s.logger.Warn("gateway payment lookup failed; leaving payment unchanged",
			"source", source, "payment_id", payment.ID, "provider", payment.Provider, "error", err)
		s.metrics.RecordReconciliation(source, ReasonGatewayUnavailable)
		return nil, err
	}

	return s.applyGatewayPayment(ctx, payment, *gp, source)
}

// applyGatewayPayment runs Reconcile and persists it, reloading and recomputing
// when another writer bumped the row version in between.
func (s *Service) applyGatewayPayment(ctx context.Context, payment *domain.Payment, gp domain.GatewayPayment, source string) (*ReconcileResult, error) {
	current := payment
	for attempt := 1; ; attempt++ {
		sub, err := s.repo.GetSubscriptionByID(ctx, current.SubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("load subscription %s: %w", current.SubscriptionID, err)
		}

		outcome := Reconcile(current, sub, gp, s.now())
		err = s.repo.ApplyReconciliation(ctx, outcome.Write())
		if err == nil {
			result := buildResult(current, sub, outcome)
			s.afterReconcile(ctx, result, outcome, source)
			return result, nil
		}

		if !errors.Is(err, store.ErrVersionConflict) || attempt >= maxReconcileAttempts {
			s.metrics.RecordReconciliation(source, "error")
			return nil, fmt.Errorf("apply reconciliation for payment %s: %w", current.ID, err)
		}

		s.logger.Info("version conflict while reconciling; reloading",
			"source", source, "payment_id", current.ID, "attempt", attempt)
		current, err = s.repo.GetPaymentByID(ctx, current.ID)
		if err != nil {
			return nil, fmt.Errorf("reload payment %s: %w", payment.ID, err)
		}
	}
}

// buildResult returns copies of the rows as they are after the write.
func buildResult(payment *domain.Payment, sub *domain.Subscription, outcome Outcome) *ReconcileResult {
	updatedPayment := *payment
	updatedPayment.Status = outcome.Payment.Status
	updatedPayment.Version++
	if outcome.Payment.PaidAt != nil {
		updatedPayment.PaidAt = outcome.Payment.PaidAt
	}
	if outcome.Payment.RefundedAt != nil {
		updatedPayment.RefundedAt = outcome.Payment.RefundedAt
	}
	if len(outcome.Payment.GatewayResponse) > 0 {
		updatedPayment.GatewayResponse = outcome.Payment.GatewayResponse
	}

	updatedSub := *sub
	if outcome.Subscription != nil {
		updatedSub.Status = outcome.Subscription.Status
		updatedSub.Version++
		if outcome.Subscription.ClearGracePeriod {
			updatedSub.GracePeriodEnd = nil
		}
	}

	return &ReconcileResult{
		Processed:           true,
		Payment:             &updatedPayment,
		Subscription:        &updatedSub,
		PaymentChanged:      outcome.PaymentChanged(),
		SubscriptionChanged: outcome.SubscriptionChanged(),
	}
}

func (s *Service) afterReconcile(ctx context.Context, result *ReconcileResult, outcome Outcome, source string) {
	now := s.now()

	if !result.PaymentChanged {
		s.metrics.RecordReconciliation(source, "unchanged")
		return
	}
	s.metrics.RecordReconciliation(source, "updated")

	s.logger.Info("payment reconciled",
		"source", source,
		"payment_id", result.Payment.ID,
		"old_status", outcome.OldPaymentStatus,
		"new_status", outcome.NewPaymentStatus,
		"subscription_id", result.Subscription.ID,
		"subscription_status", result.Subscription.Status,
	)

	s.publish(ctx, domain.RoutingKeyPaymentStatusChanged, domain.PaymentStatusChangedEvent{
		PaymentID:      result.Payment.ID,
		SubscriptionID: result.Payment.SubscriptionID,
		UserID:         result.Payment.UserID,
		Provider:       result.Payment.Provider,
		OldStatus:      outcome.OldPaymentStatus,
		NewStatus:      outcome.NewPaymentStatus,
		AmountCents:    result.Payment.AmountCents,
		Currency:       result.Payment.Currency,
		OccurredAt:     now,
	})

	if result.SubscriptionChanged {
		s.publish(ctx, domain.RoutingKeySubscriptionStatusChanged, domain.SubscriptionStatusChangedEvent{
			SubscriptionID: result.Subscription.ID,
			UserID:         result.Subscription.UserID,
			PlanID:         result.Subscription.PlanID,
			BillingCycle:   result.Subscription.BillingCycle,
			OldStatus:      outcome.OldSubscriptionStatus,
			NewStatus:      outcome.NewSubscriptionStatus,
			OccurredAt:     now,
		})
	}
}
