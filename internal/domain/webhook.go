/**
 * @description
 * This file models the inbound webhook payloads from the payment gateways.
 * Mercado Pago has shipped several notification formats over time (IPN with
 * topic/id, webhooks with type/data.id, and resource URLs), so the struct keeps
 * every field optional and the API layer decides which one to trust.
 */
package domain

import "encoding/json"

// MercadoPagoNotification covers both the legacy IPN and the current webhook formats.
type MercadoPagoNotification struct {
	ID       json.RawMessage `json:"id,omitempty"`
	Type     string          `json:"type,omitempty"`
	Topic    string          `json:"topic,omitempty"`
	Action   string          `json:"action,omitempty"`
	Resource string          `json:"resource,omitempty"`
	LiveMode bool            `json:"live_mode,omitempty"`
	Data     struct {
		ID json.RawMessage `json:"id,omitempty"`
	} `json:"data"`
}

// PagBankNotification is the order payload PagBank posts to notification_urls.
type PagBankNotification struct {
	ID          string `json:"id"`
	ReferenceID string `json:"reference_id,omitempty"`
	Charges     []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"charges"`
}

// WebhookResult is the body returned to gateways for every delivery.
type WebhookResult struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	Reason    string `json:"reason,omitempty"`
}
