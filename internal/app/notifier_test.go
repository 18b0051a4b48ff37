package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
)

type directoryStub struct {
	contacts map[uuid.UUID]*domain.MerchantContact
	err      error
}

func (d *directoryStub) GetMerchantContact(ctx context.Context, userID uuid.UUID) (*domain.MerchantContact, error) {
	if d.err != nil {
		return nil, d.err
	}
	c, ok := d.contacts[userID]
	if !ok {
		return nil, store.ErrMerchantNotFound
	}
	return c, nil
}

func newTestNotifier() (*Notifier, *emailSenderStub, *directoryStub, uuid.UUID) {
	userID := uuid.New()
	sender := &emailSenderStub{}
	dir := &directoryStub{contacts: map[uuid.UUID]*domain.MerchantContact{
		userID: {UserID: userID, Email: "loja@example.com", StoreName: "Empório da Ana"},
	}}
	n := NewNotifier(sender, dir, "Assinaturas <billing@example.com>", "https://app.example.com/", discardLogger())
	return n, sender, dir, userID
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestNotifier_Bindings(t *testing.T) {
	n, _, _, _ := newTestNotifier()
	bindings := n.Bindings()

	assert.Len(t, bindings, 3)
	assert.Contains(t, bindings, domain.RoutingKeyPaymentStatusChanged)
	assert.Contains(t, bindings, domain.RoutingKeySubscriptionStatusChanged)
	assert.Contains(t, bindings, domain.RoutingKeyCardValidated)
}

func TestNotifier_PaymentConfirmed(t *testing.T) {
	n, sender, _, userID := newTestNotifier()

	ok := n.HandlePaymentStatusChanged(mustMarshal(t, domain.PaymentStatusChangedEvent{
		UserID:      userID,
		OldStatus:   domain.PaymentStatusPending,
		NewStatus:   domain.PaymentStatusPaid,
		AmountCents: 4990,
	}))

	assert.True(t, ok)
	require.Len(t, sender.sent, 1)
	email := sender.sent[0]
	assert.Equal(t, []string{"loja@example.com"}, email.To)
	assert.Equal(t, "Pagamento confirmado", email.Subject)
	assert.Contains(t, email.HTML, "R$ 49,90")
	assert.Contains(t, email.HTML, "Empório da Ana")
	assert.Contains(t, email.HTML, "https://app.example.com/painel/financeiro")
}

func TestNotifier_IgnoresUninterestingTransitions(t *testing.T) {
	n, sender, _, userID := newTestNotifier()

	assert.True(t, n.HandlePaymentStatusChanged(mustMarshal(t, domain.PaymentStatusChangedEvent{UserID: userID, NewStatus: domain.PaymentStatusPending})))
	assert.True(t, n.HandleSubscriptionStatusChanged(mustMarshal(t, domain.SubscriptionStatusChangedEvent{UserID: userID, NewStatus: domain.SubscriptionStatusActive})))
	assert.True(t, n.HandlePaymentStatusChanged([]byte("{not json")))
	assert.Empty(t, sender.sent)
}

func TestNotifier_SubscriptionTemplates(t *testing.T) {
	tests := map[string]string{
		domain.SubscriptionStatusInadimplent: "Sua assinatura está em atraso",
		domain.SubscriptionStatusCancelled:   "Sua assinatura foi cancelada",
		domain.SubscriptionStatusSuspended:   "Sua loja foi suspensa",
	}
	for status, subject := range tests {
		t.Run(status, func(t *testing.T) {
			n, sender, _, userID := newTestNotifier()
			assert.True(t, n.HandleSubscriptionStatusChanged(mustMarshal(t, domain.SubscriptionStatusChangedEvent{UserID: userID, NewStatus: status})))
			require.Len(t, sender.sent, 1)
			assert.Equal(t, subject, sender.sent[0].Subject)
		})
	}
}

func TestNotifier_CardValidated(t *testing.T) {
	n, sender, _, userID := newTestNotifier()

	assert.True(t, n.HandleCardValidated(mustMarshal(t, domain.CardValidatedEvent{UserID: userID, Brand: "visa", LastFour: "4242"})))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].HTML, "VISA final 4242")
}

func TestNotifier_RetryPolicy(t *testing.T) {
	t.Run("unknown merchant is dropped", func(t *testing.T) {
		n, sender, _, _ := newTestNotifier()
		assert.True(t, n.HandleCardValidated(mustMarshal(t, domain.CardValidatedEvent{UserID: uuid.New()})))
		assert.Empty(t, sender.sent)
	})

	t.Run("directory failure is retried", func(t *testing.T) {
		n, _, dir, userID := newTestNotifier()
		dir.err = errors.New("connection refused")
		assert.False(t, n.HandleCardValidated(mustMarshal(t, domain.CardValidatedEvent{UserID: userID})))
	})

	t.Run("email failure is retried", func(t *testing.T) {
		n, sender, _, userID := newTestNotifier()
		sender.err = errors.New("resend: 500")
		assert.False(t, n.HandleCardValidated(mustMarshal(t, domain.CardValidatedEvent{UserID: userID})))
	})
}

func TestNotifier_SendOrderConfirmation(t *testing.T) {
	n, sender, _, _ := newTestNotifier()

	id, err := n.SendOrderConfirmation(testContext(t), OrderConfirmationRequest{
		To:           "cliente@example.com",
		CustomerName: "João",
		StoreName:    "Empório da Ana",
		OrderNumber:  "1042",
		ReplyTo:      "contato@emporio.example.com",
		Items: []OrderItem{
			{Name: "Café especial", Quantity: 2, UnitPriceCents: 3450},
		},
		TotalCents: 6900,
	})
	require.NoError(t, err)

	assert.Equal(t, "email_1", id)
	require.Len(t, sender.sent, 1)
	email := sender.sent[0]
	assert.Equal(t, "Pedido 1042 confirmado - Empório da Ana", email.Subject)
	assert.Equal(t, "contato@emporio.example.com", email.ReplyTo)
	assert.Contains(t, email.HTML, "2x Café especial")
	assert.Contains(t, email.HTML, "R$ 69,00")
}

func TestNotifier_SendSupportResponse(t *testing.T) {
	n, sender, _, _ := newTestNotifier()

	_, err := n.SendSupportResponse(testContext(t), SupportResponseRequest{To: "cliente@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = n.SendSupportResponse(testContext(t), SupportResponseRequest{
		To:            "cliente@example.com",
		TicketNumber:  "88",
		TicketSubject: "Troca de produto",
		Response:      "Sua troca foi aprovada.",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Re: Troca de produto", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].HTML, "#88")
}
