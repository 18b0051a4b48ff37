/**
 * @description
 * This package provides a client for the Mercado Pago REST API. It covers the
 * calls the billing service makes: payment lookup, payment creation (card
 * authorizations and PIX charges), authorization cancellation and merchant
 * order lookup.
 *
 * @notes
 * - The access token is passed per call because the platform token can be
 *   rotated in the database without restarting the service.
 * - Every decoded Payment keeps the raw response body in Raw for auditing.
 */
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.mercadopago.com"

// Client is a client for the Mercado Pago API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new Mercado Pago API client.
func NewClient(baseURL string) *Client {
	normalized := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if normalized == "" {
		normalized = DefaultBaseURL
	}
	return &Client{
		BaseURL: normalized,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Identification is a payer document such as a CPF.
type Identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

// Payer identifies who is paying.
type Payer struct {
	Email          string          `json:"email,omitempty"`
	FirstName      string          `json:"first_name,omitempty"`
	Identification *Identification `json:"identification,omitempty"`
}

// PaymentRequest is the body of POST /v1/payments.
type PaymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Token             string  `json:"token,omitempty"`
	Description       string  `json:"description,omitempty"`
	Installments      int     `json:"installments,omitempty"`
	PaymentMethodID   string  `json:"payment_method_id"`
	IssuerID          string  `json:"issuer_id,omitempty"`
	Capture           *bool   `json:"capture,omitempty"` // pointer so an explicit false is sent
	ExternalReference string  `json:"external_reference,omitempty"`
	NotificationURL   string  `json:"notification_url,omitempty"`
	Payer             Payer   `json:"payer"`
}

// Payment is the subset of the Mercado Pago payment resource the service reads.
type Payment struct {
	ID                int64      `json:"id"`
	Status            string     `json:"status"`
	StatusDetail      string     `json:"status_detail"`
	PaymentMethodID   string     `json:"payment_method_id"`
	PaymentTypeID     string     `json:"payment_type_id"`
	TransactionAmount float64    `json:"transaction_amount"`
	CurrencyID        string     `json:"currency_id"`
	ExternalReference string     `json:"external_reference"`
	DateOfExpiration  *time.Time `json:"date_of_expiration"`
	Card              struct {
		LastFourDigits  string `json:"last_four_digits"`
		ExpirationMonth int    `json:"expiration_month"`
		ExpirationYear  int    `json:"expiration_year"`
		Cardholder      struct {
			Name string `json:"name"`
		} `json:"cardholder"`
	} `json:"card"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`

	Raw json.RawMessage `json:"-"`
}

// IDString returns the payment id in the string form used by webhooks.
func (p Payment) IDString() string {
	return strconv.FormatInt(p.ID, 10)
}

// MerchantOrder groups the payments of one checkout.
type MerchantOrder struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Payments []struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"payments"`
}

// PaymentIDs returns the ids of the order's payments as strings.
func (o MerchantOrder) PaymentIDs() []string {
	ids := make([]string, 0, len(o.Payments))
	for _, p := range o.Payments {
		ids = append(ids, strconv.FormatInt(p.ID, 10))
	}
	return ids
}

// ErrorResponse represents an error from the Mercado Pago API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Code       string `json:"error"`
	Cause      []struct {
		Code        json.RawMessage `json:"code"`
		Description string          `json:"description"`
	} `json:"cause"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mercadopago api error: status=%d %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("mercadopago api error: status=%d", e.StatusCode)
}

// IsServerError reports whether the failure is on Mercado Pago's side.
func (e *ErrorResponse) IsServerError() bool {
	return e.StatusCode >= 500
}

var ErrMissingAccessToken = errors.New("mercadopago access token is required")

// GetPayment fetches a payment by id.
func (c *Client) GetPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error) {
	var payment Payment
	raw, err := c.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), accessToken, "", nil, &payment)
	if err != nil {
		return nil, err
	}
	payment.Raw = raw
	return &payment, nil
}

// CreatePayment creates a payment. idempotencyKey is sent as X-Idempotency-Key.
func (c *Client) CreatePayment(ctx context.Context, accessToken, idempotencyKey string, req PaymentRequest) (*Payment, error) {
	var payment Payment
	raw, err := c.do(ctx, "create_payment", http.MethodPost, "/v1/payments", accessToken, idempotencyKey, req, &payment)
	if err != nil {
		return nil, err
	}
	payment.Raw = raw
	return &payment, nil
}

// CancelPayment cancels a pending or authorized payment.
func (c *Client) CancelPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error) {
	var payment Payment
	body := map[string]string{"status": "cancelled"}
	raw, err := c.do(ctx, "cancel_payment", http.MethodPut, "/v1/payments/"+url.PathEscape(paymentID), accessToken, "", body, &payment)
	if err != nil {
		return nil, err
	}
	payment.Raw = raw
	return &payment, nil
}

// GetMerchantOrder fetches a merchant order by id.
func (c *Client) GetMerchantOrder(ctx context.Context, accessToken, orderID string) (*MerchantOrder, error) {
	var order MerchantOrder
	if _, err := c.do(ctx, "get_merchant_order", http.MethodGet, "/merchant_orders/"+url.PathEscape(orderID), accessToken, "", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// do executes a request and decodes a 2xx body into out. It returns the raw body.
func (c *Client) do(ctx context.Context, op, method, path, accessToken, idempotencyKey string, payload, out interface{}) ([]byte, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrMissingAccessToken
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=mercadopago_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return nil, &ErrorResponse{StatusCode: resp.StatusCode}
		}
		errResp.StatusCode = resp.StatusCode
		log.Printf("level=warn component=mercadopago_client op=%s status=%d error=%q message=%q", op, resp.StatusCode, errResp.Code, errResp.Message)
		return nil, &errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return bodyBytes, nil
}
