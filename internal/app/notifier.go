/**
 * @description
 * Notifier turns billing events consumed from RabbitMQ into merchant emails sent
 * through Resend, and sends the storefront's order confirmation and support
 * reply emails requested over the internal API.
 *
 * @notes
 * - Handlers return false only for failures worth retrying (email API errors);
 *   malformed events and unknown merchants are acknowledged and dropped.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/metrics"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
	"github.com/virtualmercado/shopdrive-sub004/pkg/rabbitmq"
	"github.com/virtualmercado/shopdrive-sub004/pkg/resend"
)

const notifierTimeout = 20 * time.Second

// EmailSender sends a rendered email.
type EmailSender interface {
	SendEmail(ctx context.Context, email resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// MerchantDirectory resolves where to email a merchant.
type MerchantDirectory interface {
	GetMerchantContact(ctx context.Context, userID uuid.UUID) (*domain.MerchantContact, error)
}

// Notifier sends transactional email.
type Notifier struct {
	sender     EmailSender
	merchants  MerchantDirectory
	from       string
	appBaseURL string
	logger     *slog.Logger
	metrics    *metrics.BillingMetrics
}

// NewNotifier creates a new Notifier.
func NewNotifier(sender EmailSender, merchants MerchantDirectory, from, appBaseURL string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender:     sender,
		merchants:  merchants,
		from:       from,
		appBaseURL: strings.TrimSuffix(appBaseURL, "/"),
		logger:     logger,
		metrics:    metrics.Get(),
	}
}

// Bindings maps billing routing keys to their handlers.
func (n *Notifier) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		domain.RoutingKeyPaymentStatusChanged:      n.HandlePaymentStatusChanged,
		domain.RoutingKeySubscriptionStatusChanged: n.HandleSubscriptionStatusChanged,
		domain.RoutingKeyCardValidated:             n.HandleCardValidated,
	}
}

type merchantEmailData struct {
	StoreName    string
	Amount       string
	LinkURL      string
	CardBrand    string
	CardLastFour string
}

// HandlePaymentStatusChanged emails the merchant when a charge is paid or fails.
func (n *Notifier) HandlePaymentStatusChanged(body []byte) bool {
	var event domain.PaymentStatusChangedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		n.logger.Warn("dropping malformed payment event", "error", err)
		return true
	}

	var name string
	switch event.NewStatus {
	case domain.PaymentStatusPaid:
		name = TemplatePaymentConfirmed
	case domain.PaymentStatusFailed:
		name = TemplatePaymentFailed
	default:
		return true
	}

	return n.notifyMerchant(event.UserID, name, merchantEmailData{Amount: FormatBRL(event.AmountCents)})
}

// HandleSubscriptionStatusChanged emails the merchant when the subscription degrades.
func (n *Notifier) HandleSubscriptionStatusChanged(body []byte) bool {
	var event domain.SubscriptionStatusChangedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		n.logger.Warn("dropping malformed subscription event", "error", err)
		return true
	}

	var name string
	switch event.NewStatus {
	case domain.SubscriptionStatusInadimplent:
		name = TemplateSubscriptionOverdue
	case domain.SubscriptionStatusCancelled:
		name = TemplateSubscriptionEnded
	case domain.SubscriptionStatusSuspended:
		name = TemplateSubscriptionSuspend
	default:
		return true
	}

	return n.notifyMerchant(event.UserID, name, merchantEmailData{})
}

// HandleCardValidated confirms a newly validated card to the merchant.
func (n *Notifier) HandleCardValidated(body []byte) bool {
	var event domain.CardValidatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		n.logger.Warn("dropping malformed card event", "error", err)
		return true
	}
	return n.notifyMerchant(event.UserID, TemplateCardValidated, merchantEmailData{
		CardBrand:    strings.ToUpper(event.Brand),
		CardLastFour: event.LastFour,
	})
}

var merchantSubjects = map[string]string{
	TemplatePaymentConfirmed:    "Pagamento confirmado",
	TemplatePaymentFailed:       "Pagamento recusado",
	TemplateSubscriptionOverdue: "Sua assinatura está em atraso",
	TemplateSubscriptionEnded:   "Sua assinatura foi cancelada",
	TemplateSubscriptionSuspend: "Sua loja foi suspensa",
	TemplateCardValidated:       "Cartão cadastrado com sucesso",
}

func (n *Notifier) notifyMerchant(userID uuid.UUID, name string, data merchantEmailData) bool {
	ctx, cancel := context.WithTimeout(context.Background(), notifierTimeout)
	defer cancel()

	contact, err := n.merchants.GetMerchantContact(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrMerchantNotFound) {
			n.logger.Warn("no merchant contact for billing email", "user_id", userID, "template", name)
			return true
		}
		n.logger.Error("failed to load merchant contact", "user_id", userID, "error", err)
		return false
	}
	if strings.TrimSpace(contact.Email) == "" {
		return true
	}

	data.StoreName = contact.StoreName
	if n.appBaseURL != "" {
		data.LinkURL = n.appBaseURL + "/painel/financeiro"
	}

	html, err := renderEmail(name, data)
	if err != nil {
		n.logger.Error("failed to render email", "template", name, "error", err)
		return true
	}

	_, err = n.sender.SendEmail(ctx, resend.SendEmailRequest{
		From:    n.from,
		To:      []string{contact.Email},
		Subject: merchantSubjects[name],
		HTML:    html,
		Tags:    []resend.Tag{{Name: "category", Value: name}},
	})
	n.metrics.RecordEmail(name, err)
	if err != nil {
		n.logger.Error("failed to send billing email", "user_id", userID, "template", name, "error", err)
		return false
	}
	return true
}

// OrderItem is one line of an order confirmation.
type OrderItem struct {
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// OrderConfirmationRequest asks for an order confirmation email to a storefront customer.
type OrderConfirmationRequest struct {
	To           string      `json:"to"`
	CustomerName string      `json:"customer_name"`
	StoreName    string      `json:"store_name"`
	OrderNumber  string      `json:"order_number"`
	ReplyTo      string      `json:"reply_to,omitempty"`
	Items        []OrderItem `json:"items"`
	TotalCents   int64       `json:"total_cents"`
}

type orderItemView struct {
	Name     string
	Quantity int
	Total    string
}

// SendOrderConfirmation emails a storefront customer their order summary.
func (n *Notifier) SendOrderConfirmation(ctx context.Context, req OrderConfirmationRequest) (string, error) {
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.OrderNumber) == "" {
		return "", invalidInput("to and order_number are required")
	}

	items := make([]orderItemView, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, orderItemView{
			Name:     item.Name,
			Quantity: item.Quantity,
			Total:    FormatBRL(item.UnitPriceCents * int64(item.Quantity)),
		})
	}

	html, err := renderEmail(TemplateOrderConfirmation, struct {
		CustomerName string
		StoreName    string
		OrderNumber  string
		Items        []orderItemView
		Total        string
	}{req.CustomerName, req.StoreName, req.OrderNumber, items, FormatBRL(req.TotalCents)})
	if err != nil {
		return "", err
	}

	return n.send(ctx, TemplateOrderConfirmation, resend.SendEmailRequest{
		From:    n.from,
		To:      []string{req.To},
		Subject: fmt.Sprintf("Pedido %s confirmado - %s", req.OrderNumber, req.StoreName),
		HTML:    html,
		ReplyTo: req.ReplyTo,
	})
}

// SupportResponseRequest asks for a support-ticket reply email.
type SupportResponseRequest struct {
	To            string `json:"to"`
	CustomerName  string `json:"customer_name"`
	TicketNumber  string `json:"ticket_number,omitempty"`
	TicketSubject string `json:"ticket_subject"`
	Response      string `json:"response"`
	ReplyTo       string `json:"reply_to,omitempty"`
}

// SendSupportResponse emails the answer to a support ticket.
func (n *Notifier) SendSupportResponse(ctx context.Context, req SupportResponseRequest) (string, error) {
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Response) == "" {
		return "", invalidInput("to and response are required")
	}

	html, err := renderEmail(TemplateSupportResponse, req)
	if err != nil {
		return "", err
	}

	subject := "Resposta ao seu chamado"
	if req.TicketSubject != "" {
		subject = "Re: " + req.TicketSubject
	}
	return n.send(ctx, TemplateSupportResponse, resend.SendEmailRequest{
		From:    n.from,
		To:      []string{req.To},
		Subject: subject,
		HTML:    html,
		ReplyTo: req.ReplyTo,
	})
}

func (n *Notifier) send(ctx context.Context, name string, email resend.SendEmailRequest) (string, error) {
	resp, err := n.sender.SendEmail(ctx, email)
	n.metrics.RecordEmail(name, err)
	if err != nil {
		return "", fmt.Errorf("send %s email: %w", name, err)
	}
	return resp.ID, nil
}
