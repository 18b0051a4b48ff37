package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
)

const sweepBatchSize = 100

// SweepResult summarizes a pending-payment sweep.
type SweepResult struct {
	Evaluated int `json:"evaluated"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// GraceExpiryResult summarizes a grace-period expiry run.
type GraceExpiryResult struct {
	Evaluated int `json:"evaluated"`
	Suspended int `json:"suspended"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ReconcilePendingPayments reconciles pending gateway payments that are older
// than the configured minimum age, covering webhooks that never arrived.
func (s *Service) ReconcilePendingPayments(ctx context.Context) (*SweepResult, error) {
	cutoff := s.now().Add(-s.opts.PendingPaymentMinAge)
	payments, err := s.repo.ListPendingPayments(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}

	result := &SweepResult{Evaluated: len(payments)}
	for i := range payments {
		payment := &payments[i]
		reconciled, err := s.reconcilePayment(ctx, payment, SourceSweep)
		if err != nil {
			if errors.Is(err, store.ErrCredentialsNotFound) {
				return result, err
			}
			s.logger.Warn("pending payment sweep failed for payment", "payment_id", payment.ID, "error", err)
			result.Failed++
			continue
		}
		if reconciled.PaymentChanged {
			result.Updated++
		} else {
			result.Unchanged++
		}
	}

	return result, nil
}

// ExpireGracePeriods suspends past_due subscriptions whose grace period has ended.
func (s *Service) ExpireGracePeriods(ctx context.Context) (*GraceExpiryResult, error) {
	now := s.now()
	subs, err := s.repo.ListExpiredGracePeriods(ctx, now, sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list expired grace periods: %w", err)
	}

	result := &GraceExpiryResult{Evaluated: len(subs)}
	for _, sub := range subs {
		update := store.SubscriptionUpdate{
			ID:              sub.ID,
			ExpectedVersion: sub.Version,
			Status:          domain.SubscriptionStatusSuspended,
		}
		entry := domain.SubscriptionLog{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			EventType:      domain.LogEventGracePeriodExpired,
			Description:    fmt.Sprintf("Grace period ended; subscription moved from %s to %s", sub.Status, domain.SubscriptionStatusSuspended),
			OldValue:       statusJSON(sub.Status, ""),
			NewValue:       statusJSON(domain.SubscriptionStatusSuspended, ""),
			CreatedAt:      now,
		}
		if sub.GracePeriodEnd != nil {
			entry.OldValue = graceJSON(sub.Status, *sub.GracePeriodEnd)
		}

		if err := s.repo.SuspendSubscription(ctx, update, entry); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.logger.Info("subscription changed during grace expiry; skipping", "subscription_id", sub.ID)
				result.Skipped++
				continue
			}
			s.logger.Error("failed to suspend subscription", "subscription_id", sub.ID, "error", err)
			result.Failed++
			continue
		}

		result.Suspended++
		s.logger.Info("subscription suspended after grace period", "subscription_id", sub.ID, "user_id", sub.UserID)
		s.publish(ctx, domain.RoutingKeySubscriptionStatusChanged, domain.SubscriptionStatusChangedEvent{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			PlanID:         sub.PlanID,
			BillingCycle:   sub.BillingCycle,
			OldStatus:      sub.Status,
			NewStatus:      domain.SubscriptionStatusSuspended,
			OccurredAt:     now,
		})
	}

	return result, nil
}

func graceJSON(status string, end time.Time) []byte {
	raw, _ := json.Marshal(map[string]string{
		"status":           status,
		"grace_period_end": end.UTC().Format(time.RFC3339),
	})
	return raw
}
