/**
 * @description
 * Reconcile is the single transition routine shared by the webhook, the status
 * poller and the pending-payment sweep. It turns (local payment, subscription,
 * authoritative gateway payment) into the writes that bring local state in line.
 *
 * @notes
 * - Pure: no I/O, the caller persists the Outcome through store.ApplyReconciliation.
 * - Log rows are produced only for values that actually change, so replaying the
 *   same gateway status is a no-op apart from refreshing the response snapshot.
 */
package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
)

// Gateway payment statuses in the Mercado Pago vocabulary.
const (
	GatewayStatusApproved   = "approved"
	GatewayStatusAuthorized = "authorized"
	GatewayStatusPending    = "pending"
	GatewayStatusInProcess  = "in_process"
	GatewayStatusRejected   = "rejected"
	GatewayStatusCancelled  = "cancelled"
	GatewayStatusRefunded   = "refunded"
)

var gatewayToPaymentStatus = map[string]string{
	GatewayStatusApproved:   domain.PaymentStatusPaid,
	GatewayStatusPending:    domain.PaymentStatusPending,
	GatewayStatusInProcess:  domain.PaymentStatusPending,
	GatewayStatusAuthorized: domain.PaymentStatusPending,
	GatewayStatusRejected:   domain.PaymentStatusFailed,
	GatewayStatusCancelled:  domain.PaymentStatusCancelled,
	GatewayStatusRefunded:   domain.PaymentStatusRefunded,
}

// MapGatewayStatus converts a gateway status to a local payment status.
// The boolean is false for statuses this service does not act on.
func MapGatewayStatus(gatewayStatus string) (string, bool) {
	status, ok := gatewayToPaymentStatus[strings.ToLower(strings.TrimSpace(gatewayStatus))]
	return status, ok
}

// SubscriptionStatusFor returns the subscription status a payment status implies.
// Only paid and failed payments move the subscription.
func SubscriptionStatusFor(paymentStatus, billingCycle string) (string, bool) {
	switch paymentStatus {
	case domain.PaymentStatusPaid:
		return domain.SubscriptionStatusActive, true
	case domain.PaymentStatusFailed:
		if billingCycle == domain.BillingCycleMonthly {
			return domain.SubscriptionStatusInadimplent, true
		}
		return domain.SubscriptionStatusCancelled, true
	default:
		return "", false
	}
}

// Outcome is the result of reconciling one payment against the gateway.
type Outcome struct {
	Payment      store.PaymentUpdate
	Subscription *store.SubscriptionUpdate
	Logs         []domain.SubscriptionLog

	OldPaymentStatus      string
	NewPaymentStatus      string
	OldSubscriptionStatus string
	NewSubscriptionStatus string
}

// PaymentChanged reports whether the payment status moved.
func (o Outcome) PaymentChanged() bool {
	return o.OldPaymentStatus != o.NewPaymentStatus
}

// SubscriptionChanged reports whether the subscription status moved.
func (o Outcome) SubscriptionChanged() bool {
	return o.Subscription != nil
}

// Write converts the outcome into the repository write.
func (o Outcome) Write() store.ReconciliationWrite {
	return store.ReconciliationWrite{
		Payment:      o.Payment,
		Subscription: o.Subscription,
		Logs:         o.Logs,
	}
}

// Reconcile computes the writes needed to apply the gateway's view of a payment.
// The subscription only moves when the payment status itself changes, so a
// replayed approval never revives a subscription that was suspended later.
func Reconcile(payment *domain.Payment, sub *domain.Subscription, gp domain.GatewayPayment, now time.Time) Outcome {
	out := Outcome{
		OldPaymentStatus:      payment.Status,
		NewPaymentStatus:      payment.Status,
		OldSubscriptionStatus: sub.Status,
		NewSubscriptionStatus: sub.Status,
	}

	if mapped, ok := MapGatewayStatus(gp.Status); ok {
		out.NewPaymentStatus = mapped
	}

	out.Payment = store.PaymentUpdate{
		ID:              payment.ID,
		ExpectedVersion: payment.Version,
		Status:          out.NewPaymentStatus,
		GatewayResponse: gp.Raw,
	}

	if !out.PaymentChanged() {
		return out
	}

	switch out.NewPaymentStatus {
	case domain.PaymentStatusPaid:
		if payment.PaidAt == nil {
			paidAt := now
			out.Payment.PaidAt = &paidAt
		}
	case domain.PaymentStatusRefunded:
		if payment.RefundedAt == nil {
			refundedAt := now
			out.Payment.RefundedAt = &refundedAt
		}
	}

	paymentID := payment.ID
	out.Logs = append(out.Logs, domain.SubscriptionLog{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		PaymentID:      &paymentID,
		EventType:      domain.LogEventPaymentStatusChanged,
		Description:    fmt.Sprintf("Payment status changed from %s to %s", out.OldPaymentStatus, out.NewPaymentStatus),
		OldValue:       statusJSON(out.OldPaymentStatus, ""),
		NewValue:       statusJSON(out.NewPaymentStatus, gp.StatusDetail),
		CreatedAt:      now,
	})

	target, ok := SubscriptionStatusFor(out.NewPaymentStatus, sub.BillingCycle)
	if !ok || target == sub.Status {
		return out
	}

	out.NewSubscriptionStatus = target
	out.Subscription = &store.SubscriptionUpdate{
		ID:               sub.ID,
		ExpectedVersion:  sub.Version,
		Status:           target,
		ClearGracePeriod: target == domain.SubscriptionStatusActive,
	}
	out.Logs = append(out.Logs, domain.SubscriptionLog{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		PaymentID:      &paymentID,
		EventType:      domain.LogEventSubscriptionStatusChanged,
		Description:    fmt.Sprintf("Subscription status changed from %s to %s", sub.Status, target),
		OldValue:       statusJSON(sub.Status, ""),
		NewValue:       statusJSON(target, ""),
		CreatedAt:      now,
	})

	return out
}

func statusJSON(status, detail string) json.RawMessage {
	payload := map[string]string{"status": status}
	if detail != "" {
		payload["status_detail"] = detail
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
