/**
 * @description
 * Gateway webhook handlers. Gateways retry anything that is not a 2xx, so every
 * delivery we cannot act on (unknown shape, unknown payment, gateway outage)
 * is answered 200 with processed=false. Only internal failures such as missing
 * credentials or a database error return 500.
 */
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/virtualmercado/shopdrive-sub004/internal/app"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
)

const (
	topicPayment       = "payment"
	topicMerchantOrder = "merchant_order"
)

// mercadoPagoTarget is the resource a Mercado Pago notification points at.
type mercadoPagoTarget struct {
	Topic string
	ID    string
}

// resolveMercadoPagoTarget reads the topic and resource id from any of the
// notification formats: webhook (type, data.id), IPN (topic, id) and resource URLs.
func resolveMercadoPagoTarget(n domain.MercadoPagoNotification, query url.Values) mercadoPagoTarget {
	topic := firstNonEmpty(n.Type, n.Topic, query.Get("type"), query.Get("topic"))
	if topic == "" && n.Action != "" {
		// e.g. "payment.updated"
		topic, _, _ = strings.Cut(n.Action, ".")
	}
	topic = strings.ToLower(strings.TrimSpace(topic))

	id := firstNonEmpty(
		rawID(n.Data.ID),
		query.Get("data.id"),
		lastPathSegment(n.Resource),
		query.Get("id"),
	)
	// In the webhook format the top-level id is the notification id, not the resource.
	if id == "" && n.Type == "" {
		id = rawID(n.ID)
	}

	return mercadoPagoTarget{Topic: topic, ID: id}
}

// rawID accepts ids sent either as JSON strings or numbers.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String()
	}
	return ""
}

func lastPathSegment(resource string) string {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return ""
	}
	if u, err := url.Parse(resource); err == nil && u.Path != "" {
		resource = u.Path
	}
	resource = strings.TrimRight(resource, "/")
	if idx := strings.LastIndex(resource, "/"); idx != -1 {
		return resource[idx+1:]
	}
	return resource
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (h *Handler) handleMercadoPagoWebhook(w http.ResponseWriter, r *http.Request) {
	var notification domain.MercadoPagoNotification
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &notification); err != nil {
			log.Printf("level=warn component=api endpoint=mercadopago_webhook outcome=ignored reason=malformed_body err=%v", err)
		}
	}

	target := resolveMercadoPagoTarget(notification, r.URL.Query())

	var result *app.ReconcileResult
	switch {
	case target.ID == "":
		h.respondWebhook(w, domain.ProviderMercadoPago, domain.WebhookResult{Received: true, Reason: app.ReasonNoPaymentID})
		return
	case target.Topic == topicMerchantOrder:
		result, err = h.service.ReconcileMerchantOrder(r.Context(), target.ID)
	case target.Topic == topicPayment || target.Topic == "":
		result, err = h.service.ReconcileGatewayPayment(r.Context(), domain.ProviderMercadoPago, target.ID)
	default:
		h.respondWebhook(w, domain.ProviderMercadoPago, domain.WebhookResult{Received: true, Reason: app.ReasonIgnoredTopic})
		return
	}

	h.finishWebhook(w, domain.ProviderMercadoPago, target.ID, result, err)
}

func (h *Handler) handlePagBankWebhook(w http.ResponseWriter, r *http.Request) {
	var notification domain.PagBankNotification
	if err := decodeJSON(r, &notification); err != nil {
		log.Printf("level=warn component=api endpoint=pagbank_webhook outcome=ignored reason=malformed_body err=%v", err)
		h.respondWebhook(w, domain.ProviderPagBank, domain.WebhookResult{Received: true, Reason: app.ReasonNoPaymentID})
		return
	}

	aggregate := &app.ReconcileResult{Reason: app.ReasonNoPaymentID}
	for _, charge := range notification.Charges {
		chargeID := strings.TrimSpace(charge.ID)
		if chargeID == "" {
			continue
		}
		result, err := h.service.ReconcileGatewayPayment(r.Context(), domain.ProviderPagBank, chargeID)
		if err != nil {
			h.finishWebhook(w, domain.ProviderPagBank, chargeID, nil, err)
			return
		}
		if result.Processed {
			aggregate.Processed = true
			aggregate.Reason = ""
		} else if !aggregate.Processed {
			aggregate.Reason = result.Reason
		}
	}

	h.finishWebhook(w, domain.ProviderPagBank, notification.ID, aggregate, nil)
}

func (h *Handler) finishWebhook(w http.ResponseWriter, provider, id string, result *app.ReconcileResult, err error) {
	if err != nil {
		if errors.Is(err, app.ErrGatewayUnavailable) {
			log.Printf("level=warn component=api endpoint=%s_webhook outcome=deferred id=%s err=%v", provider, id, err)
			h.respondWebhook(w, provider, domain.WebhookResult{Received: true, Reason: app.ReasonGatewayUnavailable})
			return
		}
		log.Printf("level=error component=api endpoint=%s_webhook outcome=failed id=%s err=%v", provider, id, err)
		h.metrics.RecordWebhook(provider, false)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.respondWebhook(w, provider, domain.WebhookResult{
		Received:  true,
		Processed: result.Processed,
		Reason:    result.Reason,
	})
}

func (h *Handler) respondWebhook(w http.ResponseWriter, provider string, result domain.WebhookResult) {
	h.metrics.RecordWebhook(provider, result.Processed)
	respondWithJSON(w, http.StatusOK, result)
}
