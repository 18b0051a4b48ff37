/**
 * @description
 * Card validation: a R$1.00 authorization with capture disabled proves a card is
 * chargeable. Approved authorizations are cancelled straight away, declines are
 * translated to messages the merchant can act on.
 */
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

const (
	cardValidationAmount = 1.00

	DefaultDeclineMessage = "Cartão recusado. Verifique os dados ou tente outro cartão"
)

var declineMessages = map[string]string{
	"cc_rejected_insufficient_amount":      "Saldo insuficiente no cartão",
	"cc_rejected_bad_filled_card_number":   "Número do cartão inválido",
	"cc_rejected_bad_filled_date":          "Data de validade inválida",
	"cc_rejected_bad_filled_security_code": "Código de segurança inválido",
	"cc_rejected_card_disabled":            "Cartão desabilitado. Entre em contato com o banco emissor",
	"cc_rejected_high_risk":                "Pagamento recusado por segurança. Tente outro cartão",
}

// DeclineMessage maps a gateway decline code to the message shown to the merchant.
func DeclineMessage(code string) string {
	if msg, ok := declineMessages[strings.TrimSpace(code)]; ok {
		return msg
	}
	return DefaultDeclineMessage
}

// CardValidationRequest is the tokenized card plus holder metadata sent by the browser.
type CardValidationRequest struct {
	Token                string `json:"token"`
	PaymentMethodID      string `json:"payment_method_id"`
	IssuerID             string `json:"issuer_id,omitempty"`
	HolderName           string `json:"holder_name"`
	LastFour             string `json:"last_four"`
	ExpirationMonth      int    `json:"expiration_month"`
	ExpirationYear       int    `json:"expiration_year"`
	PayerEmail           string `json:"payer_email,omitempty"`
	IdentificationType   string `json:"identification_type,omitempty"`
	IdentificationNumber string `json:"identification_number,omitempty"`
}

func (r CardValidationRequest) validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return invalidInput("card token is required")
	}
	if strings.TrimSpace(r.PaymentMethodID) == "" {
		return invalidInput("payment_method_id is required")
	}
	if r.ExpirationMonth != 0 && (r.ExpirationMonth < 1 || r.ExpirationMonth > 12) {
		return invalidInput("expiration_month must be between 1 and 12")
	}
	return nil
}

// CardValidationResult is returned to the client for both approvals and declines.
type CardValidationResult struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message,omitempty"`
	DeclineCode string           `json:"decline_code,omitempty"`
	Card        *domain.CardInfo `json:"card,omitempty"`
}

// CardValidationIdempotencyKey derives the gateway idempotency key of a validation attempt.
func CardValidationIdempotencyKey(userID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("card-validation-%s-%d", userID, at.UnixMilli())
}

// ValidateCard authorizes R$1.00 on the card without capturing it.
func (s *Service) ValidateCard(ctx context.Context, userID string, req CardValidationRequest) (*CardValidationResult, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	sub, err := s.repo.GetSubscriptionByUserID(ctx, uid)
	if err != nil {
		return nil, err
	}

	if err := s.checkCardValidationLimit(ctx, sub); err != nil {
		return nil, err
	}

	token, err := s.accessToken(ctx, domain.ProviderMercadoPago)
	if err != nil {
		return nil, err
	}

	payerEmail := strings.TrimSpace(req.PayerEmail)
	if payerEmail == "" {
		if contact, err := s.repo.GetMerchantContact(ctx, uid); err == nil {
			payerEmail = contact.Email
		}
	}

	capture := false
	paymentReq := mercadopago.PaymentRequest{
		TransactionAmount: cardValidationAmount,
		Token:             req.Token,
		Description:       "Validação de cartão",
		Installments:      1,
		PaymentMethodID:   req.PaymentMethodID,
		IssuerID:          req.IssuerID,
		Capture:           &capture,
		ExternalReference: "card-validation-" + sub.ID.String(),
		Payer:             mercadopago.Payer{Email: payerEmail},
	}
	if req.IdentificationNumber != "" {
		paymentReq.Payer.Identification = &mercadopago.Identification{
			Type:   defaultString(req.IdentificationType, "CPF"),
			Number: req.IdentificationNumber,
		}
	}

	now := s.now()
	start := time.Now()
	authorization, err := s.mercadoPago.CreatePayment(ctx, token, CardValidationIdempotencyKey(uid, now), paymentReq)
	s.metrics.ObserveGateway(domain.ProviderMercadoPago, "card_authorization", start)
	if err != nil {
		var apiErr *mercadopago.ErrorResponse
		if errors.As(err, &apiErr) && !apiErr.IsServerError() {
			// The gateway refused the request itself, e.g. an expired card token.
			return s.declineCard(ctx, sub, apiErr.Code, now)
		}
		s.metrics.RecordCardValidation("gateway_error")
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	switch authorization.Status {
	case GatewayStatusAuthorized, GatewayStatusApproved:
		s.cancelAuthorization(ctx, token, authorization)
		return s.acceptCard(ctx, sub, req, authorization, now)
	case GatewayStatusRejected:
		return s.declineCard(ctx, sub, authorization.StatusDetail, now)
	default:
		// in_process and pending are not a usable validation; release the hold.
		s.cancelAuthorization(ctx, token, authorization)
		return s.declineCard(ctx, sub, authorization.StatusDetail, now)
	}
}

func (s *Service) checkCardValidationLimit(ctx context.Context, sub *domain.Subscription) error {
	if s.limiter == nil || s.opts.CardValidationAttemptLimit <= 0 {
		return nil
	}
	decision, err := s.limiter.RegisterAttempt(ctx, sub.ID, s.opts.CardValidationAttemptLimit, s.opts.CardValidationWindow, s.now())
	if err != nil {
		s.logger.Warn("card validation limiter unavailable; allowing request", "subscription_id", sub.ID, "error", err)
		return nil
	}
	if !decision.Allowed {
		s.metrics.RecordCardValidation("rate_limited")
		return &RateLimitError{RetryAfterSeconds: decision.RetryAfterSeconds()}
	}
	return nil
}

// cancelAuthorization releases the R$1.00 hold. Failures are logged, never surfaced.
func (s *Service) cancelAuthorization(ctx context.Context, token string, authorization *mercadopago.Payment) {
	if _, err := s.mercadoPago.CancelPayment(ctx, token, authorization.IDString()); err != nil {
		s.logger.Warn("failed to cancel card validation authorization",
			"gateway_payment_id", authorization.IDString(), "error", err)
	}
}

func (s *Service) acceptCard(ctx context.Context, sub *domain.Subscription, req CardValidationRequest, authorization *mercadopago.Payment, now time.Time) (*CardValidationResult, error) {
	card := domain.CardInfo{
		Brand:           defaultString(authorization.PaymentMethodID, req.PaymentMethodID),
		LastFour:        defaultString(authorization.Card.LastFourDigits, req.LastFour),
		HolderName:      defaultString(req.HolderName, authorization.Card.Cardholder.Name),
		ExpirationMonth: defaultInt(req.ExpirationMonth, authorization.Card.ExpirationMonth),
		ExpirationYear:  defaultInt(req.ExpirationYear, authorization.Card.ExpirationYear),
		ValidatedAt:     &now,
	}

	entry := domain.SubscriptionLog{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		EventType:      domain.LogEventCardValidated,
		Description:    fmt.Sprintf("Card %s ending in %s validated", card.Brand, card.LastFour),
		NewValue: mustJSON(map[string]interface{}{
			"brand":              card.Brand,
			"last_four":          card.LastFour,
			"gateway_payment_id": authorization.IDString(),
		}),
		CreatedAt: now,
	}
	if sub.Card != nil {
		entry.OldValue = mustJSON(map[string]string{"brand": sub.Card.Brand, "last_four": sub.Card.LastFour})
	}

	if err := s.repo.SaveValidatedCard(ctx, sub, card, entry); err != nil {
		return nil, fmt.Errorf("save validated card: %w", err)
	}

	s.metrics.RecordCardValidation("approved")
	s.publish(ctx, domain.RoutingKeyCardValidated, domain.CardValidatedEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Brand:          card.Brand,
		LastFour:       card.LastFour,
		OccurredAt:     now,
	})

	return &CardValidationResult{Success: true, Message: "Cartão validado com sucesso", Card: &card}, nil
}

func (s *Service) declineCard(ctx context.Context, sub *domain.Subscription, code string, now time.Time) (*CardValidationResult, error) {
	message := DeclineMessage(code)
	entry := domain.SubscriptionLog{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		EventType:      domain.LogEventCardDeclined,
		Description:    "Card validation declined",
		NewValue:       mustJSON(map[string]string{"decline_code": code, "message": message}),
		CreatedAt:      now,
	}
	if err := s.repo.RecordCardDecline(ctx, sub.ID, code, message, now, entry); err != nil {
		s.logger.Error("failed to record card decline", "subscription_id", sub.ID, "error", err)
	}

	s.metrics.RecordCardValidation("declined")
	return &CardValidationResult{Success: false, Message: message, DeclineCode: code}, nil
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func defaultInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
