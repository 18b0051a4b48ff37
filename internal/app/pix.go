package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/pkg/mercadopago"
)

// PixChargeRequest optionally overrides the payer email.
type PixChargeRequest struct {
	PayerEmail string `json:"payer_email,omitempty"`
}

// CreatePixCharge opens a PIX charge for the merchant's current plan and cycle.
func (s *Service) CreatePixCharge(ctx context.Context, userID string, req PixChargeRequest) (*domain.PixCharge, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}

	sub, err := s.repo.GetSubscriptionByUserID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if sub.NoCharge != nil && *sub.NoCharge {
		return nil, invalidInput("subscription is exempt from charges")
	}

	plan, err := s.repo.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", sub.PlanID, err)
	}
	amount := plan.PriceFor(sub.BillingCycle)
	if amount <= 0 {
		return nil, invalidInput("plan has no price for the billing cycle")
	}

	payerEmail := strings.TrimSpace(req.PayerEmail)
	if payerEmail == "" {
		contact, err := s.repo.GetMerchantContact(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("load merchant contact: %w", err)
		}
		payerEmail = contact.Email
	}

	token, err := s.accessToken(ctx, domain.ProviderMercadoPago)
	if err != nil {
		return nil, err
	}

	now := s.now()
	idempotencyKey := fmt.Sprintf("pix-%s-%d", sub.ID, now.UnixMilli())
	start := time.Now()
	gatewayPayment, err := s.mercadoPago.CreatePayment(ctx, token, idempotencyKey, mercadopago.PaymentRequest{
		TransactionAmount: float64(amount) / 100,
		Description:       fmt.Sprintf("Assinatura %s (%s)", plan.Name, cycleLabel(sub.BillingCycle)),
		PaymentMethodID:   "pix",
		ExternalReference: sub.ID.String(),
		NotificationURL:   s.opts.NotificationURL,
		Payer:             mercadopago.Payer{Email: payerEmail},
	})
	s.metrics.ObserveGateway(domain.ProviderMercadoPago, "create_pix", start)
	if err != nil {
		var apiErr *mercadopago.ErrorResponse
		if errors.As(err, &apiErr) && !apiErr.IsServerError() {
			return nil, invalidInput(apiErr.Error())
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	gatewayID := gatewayPayment.IDString()
	currency := defaultString(gatewayPayment.CurrencyID, defaultString(plan.Currency, "BRL"))
	payment := &domain.Payment{
		ID:               uuid.New(),
		SubscriptionID:   sub.ID,
		UserID:           sub.UserID,
		Provider:         domain.ProviderMercadoPago,
		GatewayPaymentID: &gatewayID,
		Status:           domain.PaymentStatusPending,
		Method:           domain.PaymentMethodPix,
		AmountCents:      amount,
		Currency:         currency,
		GatewayResponse:  gatewayPayment.Raw,
	}
	entry := domain.SubscriptionLog{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		PaymentID:      &payment.ID,
		EventType:      domain.LogEventPaymentCreated,
		Description:    fmt.Sprintf("PIX charge of %d cents created", amount),
		NewValue: mustJSON(map[string]interface{}{
			"status":             payment.Status,
			"method":             payment.Method,
			"amount_cents":       amount,
			"gateway_payment_id": gatewayID,
		}),
		CreatedAt: now,
	}

	created, err := s.repo.CreatePayment(ctx, payment, entry)
	if err != nil {
		return nil, fmt.Errorf("persist pix payment: %w", err)
	}

	s.publish(ctx, domain.RoutingKeyPaymentCreated, domain.PaymentCreatedEvent{
		PaymentID:      created.ID,
		SubscriptionID: created.SubscriptionID,
		UserID:         created.UserID,
		Method:         created.Method,
		AmountCents:    created.AmountCents,
		OccurredAt:     now,
	})

	data := gatewayPayment.PointOfInteraction.TransactionData
	return &domain.PixCharge{
		Payment:      created,
		QRCode:       data.QRCode,
		QRCodeBase64: data.QRCodeBase64,
		TicketURL:    data.TicketURL,
		ExpiresAt:    gatewayPayment.DateOfExpiration,
	}, nil
}

func cycleLabel(cycle string) string {
	if cycle == domain.BillingCycleAnnual {
		return "anual"
	}
	return "mensal"
}
