package app

import (
	"context"
	"errors"

	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
)

// CheckSubscriptionStatus re-reads a merchant's subscription and, when its latest
// payment is still pending at the gateway, reconciles it inline before answering.
// A gateway outage leaves the payment as it is; missing credentials fail the call.
func (s *Service) CheckSubscriptionStatus(ctx context.Context, userID string) (*domain.SubscriptionCheck, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}

	sub, err := s.repo.GetSubscriptionByUserID(ctx, uid)
	if err != nil {
		return nil, err
	}

	check := &domain.SubscriptionCheck{Subscription: sub}

	payment, err := s.repo.GetLatestPaymentBySubscriptionID(ctx, sub.ID)
	switch {
	case errors.Is(err, store.ErrPaymentNotFound):
		payment = nil
	case err != nil:
		return nil, err
	}
	check.Payment = payment

	if payment != nil && payment.Status == domain.PaymentStatusPending && payment.HasGatewayID() {
		result, err := s.reconcilePayment(ctx, payment, SourcePoller)
		switch {
		case errors.Is(err, ErrGatewayUnavailable):
			// keep the stored payment; the sweep job retries later
		case err != nil:
			return nil, err
		case result.Processed:
			check.Payment = result.Payment
			check.Subscription = result.Subscription
			check.Reconciled = true
		}
	}

	check.Billing = ResolveBillingStatus(BillingInputFromSubscription(check.Subscription), s.now())
	return check, nil
}
