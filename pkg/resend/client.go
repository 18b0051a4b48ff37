/**
 * @description
 * Minimal client for the Resend transactional email API (POST /emails).
 */
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.resend.com"

var ErrNotConfigured = errors.New("resend api key is not configured")

// Client is a client for the Resend API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Resend client.
func NewClient(baseURL, apiKey string) *Client {
	normalized := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if normalized == "" {
		normalized = DefaultBaseURL
	}
	return &Client{
		baseURL:    normalized,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// SendEmailRequest is the body of POST /emails.
type SendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

// Tag annotates an email for filtering in the Resend dashboard.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SendEmailResponse is returned when Resend accepts an email.
type SendEmailResponse struct {
	ID string `json:"id"`
}

// ErrorResponse represents an error from the Resend API.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("resend api error: status=%d %s - %s", e.StatusCode, e.Name, e.Message)
}

// SendEmail submits an email for delivery.
func (c *Client) SendEmail(ctx context.Context, email SendEmailRequest) (*SendEmailResponse, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if len(email.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	body, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute email request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read email response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{}
		_ = json.Unmarshal(bodyBytes, &errResp)
		errResp.StatusCode = resp.StatusCode
		log.Printf("level=warn component=resend_client op=send_email status=%d name=%q message=%q", resp.StatusCode, errResp.Name, errResp.Message)
		return nil, &errResp
	}

	var sent SendEmailResponse
	if err := json.Unmarshal(bodyBytes, &sent); err != nil {
		return nil, fmt.Errorf("failed to decode email response: %w", err)
	}
	return &sent, nil
}
