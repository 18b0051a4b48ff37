package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Local payment statuses.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusRefunded  = "refunded"
)

// Payment methods.
const (
	PaymentMethodCreditCard = "credit_card"
	PaymentMethodPix        = "pix"
	PaymentMethodBoleto     = "boleto"
)

// Gateway providers.
const (
	ProviderMercadoPago = "mercadopago"
	ProviderPagBank     = "pagbank"
)

// Payment is one attempt to collect a subscription charge.
type Payment struct {
	ID               uuid.UUID       `json:"id"`
	SubscriptionID   uuid.UUID       `json:"subscription_id"`
	UserID           uuid.UUID       `json:"user_id"`
	Provider         string          `json:"provider"`
	GatewayPaymentID *string         `json:"gateway_payment_id,omitempty"`
	Status           string          `json:"status"`
	Method           string          `json:"method"`
	AmountCents      int64           `json:"amount_cents"`
	Currency         string          `json:"currency"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
	GatewayResponse  json.RawMessage `json:"gateway_response,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HasGatewayID reports whether the payment is linked to a gateway-side payment.
func (p Payment) HasGatewayID() bool {
	return p.GatewayPaymentID != nil && *p.GatewayPaymentID != ""
}

// GatewayPayment is the authoritative view of a payment fetched from a gateway.
// Status uses the Mercado Pago vocabulary; other providers are normalized into it.
type GatewayPayment struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	StatusDetail string          `json:"status_detail,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// PixCharge is the payer-facing data of a freshly created PIX payment.
type PixCharge struct {
	Payment      *Payment   `json:"payment"`
	QRCode       string     `json:"qr_code"`
	QRCodeBase64 string     `json:"qr_code_base64"`
	TicketURL    string     `json:"ticket_url,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}
