/**
 * @description
 * This package provides a client for the PagBank (PagSeguro) orders API. The
 * billing service only needs to read charges to reconcile them, plus a status
 * normalizer that converts PagBank charge statuses into the Mercado Pago
 * vocabulary the reconciler works with.
 */
package pagbank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.pagseguro.com"

// PagBank charge statuses.
const (
	StatusAuthorized = "AUTHORIZED"
	StatusPaid       = "PAID"
	StatusInAnalysis = "IN_ANALYSIS"
	StatusDeclined   = "DECLINED"
	StatusCanceled   = "CANCELED"
	StatusWaiting    = "WAITING"
)

var ErrMissingToken = errors.New("pagbank token is required")

// Client is a client for the PagBank API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new PagBank API client.
func NewClient(baseURL string) *Client {
	normalized := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if normalized == "" {
		normalized = DefaultBaseURL
	}
	return &Client{
		BaseURL:    normalized,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Charge is the subset of the PagBank charge resource the service reads.
type Charge struct {
	ID          string `json:"id"`
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
	Amount      struct {
		Value    int64  `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	PaymentResponse struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"payment_response"`

	Raw json.RawMessage `json:"-"`
}

// ErrorResponse represents an error from the PagBank API.
type ErrorResponse struct {
	StatusCode    int `json:"-"`
	ErrorMessages []struct {
		Code          string `json:"code"`
		Description   string `json:"description"`
		ParameterName string `json:"parameter_name"`
	} `json:"error_messages"`
}

func (e *ErrorResponse) Error() string {
	if len(e.ErrorMessages) > 0 {
		return fmt.Sprintf("pagbank api error: status=%d %s - %s", e.StatusCode, e.ErrorMessages[0].Code, e.ErrorMessages[0].Description)
	}
	return fmt.Sprintf("pagbank api error: status=%d", e.StatusCode)
}

// GetCharge fetches a charge by id.
func (c *Client) GetCharge(ctx context.Context, token, chargeID string) (*Charge, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/charges/"+url.PathEscape(chargeID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute charge request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read charge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=pagbank_client op=get_charge charge_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", chargeID, resp.StatusCode)
		} else {
			log.Printf("level=warn component=pagbank_client op=get_charge charge_id=%s status=%d", chargeID, resp.StatusCode)
		}
		errResp.StatusCode = resp.StatusCode
		return nil, &errResp
	}

	var charge Charge
	if err := json.Unmarshal(bodyBytes, &charge); err != nil {
		return nil, fmt.Errorf("failed to decode charge response: %w", err)
	}
	charge.Raw = bodyBytes
	return &charge, nil
}

// NormalizeStatus converts a PagBank charge status to the Mercado Pago vocabulary.
// Unknown statuses are lowercased and passed through.
func NormalizeStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case StatusPaid:
		return "approved"
	case StatusAuthorized:
		return "authorized"
	case StatusInAnalysis, StatusWaiting:
		return "in_process"
	case StatusDeclined:
		return "rejected"
	case StatusCanceled:
		return "cancelled"
	default:
		return strings.ToLower(strings.TrimSpace(status))
	}
}
