/**
 * @description
 * HTTP handlers for the billing service.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/virtualmercado/shopdrive-sub004/internal/app"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/metrics"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
)

const maxBodyBytes = 1 << 20

// BillingService is the part of app.Service the handlers call.
type BillingService interface {
	GetBillingStatus(ctx context.Context, userID string) (*domain.BillingStatus, error)
	CheckSubscriptionStatus(ctx context.Context, userID string) (*domain.SubscriptionCheck, error)
	ValidateCard(ctx context.Context, userID string, req app.CardValidationRequest) (*app.CardValidationResult, error)
	CreatePixCharge(ctx context.Context, userID string, req app.PixChargeRequest) (*domain.PixCharge, error)
	ReconcileGatewayPayment(ctx context.Context, provider, gatewayPaymentID string) (*app.ReconcileResult, error)
	ReconcileMerchantOrder(ctx context.Context, orderID string) (*app.ReconcileResult, error)
	ReconcilePendingPayments(ctx context.Context) (*app.SweepResult, error)
}

// Mailer sends the storefront's transactional emails.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, req app.OrderConfirmationRequest) (string, error)
	SendSupportResponse(ctx context.Context, req app.SupportResponseRequest) (string, error)
}

// Handler holds the application services that handlers interact with.
type Handler struct {
	service BillingService
	mailer  Mailer
	metrics *metrics.BillingMetrics
}

// NewHandler creates a new Handler.
func NewHandler(service BillingService, mailer Mailer) *Handler {
	return &Handler{service: service, mailer: mailer, metrics: metrics.Get()}
}

func (h *Handler) handleGetBillingStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	status, err := h.service.GetBillingStatus(r.Context(), userID)
	if err != nil {
		respondServiceError(w, "get_billing_status", userID, err)
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

func (h *Handler) handleCheckSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	check, err := h.service.CheckSubscriptionStatus(r.Context(), userID)
	if err != nil {
		respondServiceError(w, "check_subscription", userID, err)
		return
	}

	respondWithJSON(w, http.StatusOK, check)
}

func (h *Handler) handleValidateCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req app.CardValidationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.ValidateCard(r.Context(), userID, req)
	if err != nil {
		respondServiceError(w, "validate_card", userID, err)
		return
	}

	// Declines are a normal answer, not an HTTP failure.
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCreatePixCharge(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req app.PixChargeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	charge, err := h.service.CreatePixCharge(r.Context(), userID, req)
	if err != nil {
		respondServiceError(w, "create_pix_charge", userID, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, charge)
}

func (h *Handler) handleRunReconciliation(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ReconcilePendingPayments(r.Context())
	if err != nil {
		respondServiceError(w, "run_reconciliation", "", err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetUserStatusInternal(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	status, err := h.service.GetBillingStatus(r.Context(), userID)
	if err != nil {
		respondServiceError(w, "get_user_status_internal", userID, err)
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

func (h *Handler) handleOrderConfirmation(w http.ResponseWriter, r *http.Request) {
	var req app.OrderConfirmationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.mailer.SendOrderConfirmation(r.Context(), req)
	if err != nil {
		respondServiceError(w, "order_confirmation_email", "", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true, "email_id": id})
}

func (h *Handler) handleSupportResponse(w http.ResponseWriter, r *http.Request) {
	var req app.SupportResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.mailer.SendSupportResponse(r.Context(), req)
	if err != nil {
		respondServiceError(w, "support_response_email", "", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true, "email_id": id})
}

// respondServiceError maps service errors to HTTP status codes.
func respondServiceError(w http.ResponseWriter, op, userID string, err error) {
	var rateErr *app.RateLimitError
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, "Subscription not found")
	case errors.Is(err, store.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, "Plan not found")
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "Too many card validation attempts. Please try again later.")
	case errors.Is(err, app.ErrGatewayUnavailable):
		log.Printf("level=warn component=api op=%s user_id=%s msg=\"payment gateway unavailable\" err=%v", op, userID, err)
		writeError(w, http.StatusBadGateway, "Payment gateway unavailable. Please try again.")
	case errors.Is(err, store.ErrCredentialsNotFound):
		log.Printf("level=error component=api op=%s msg=\"gateway credentials missing\" err=%v", op, err)
		writeError(w, http.StatusInternalServerError, "Payment gateway is not configured")
	default:
		log.Printf("level=error component=api op=%s user_id=%s err=%v", op, userID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
