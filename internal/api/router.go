/**
 * @description
 * HTTP router setup for the billing service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the security settings of the router.
type RouterConfig struct {
	Auth              AuthConfig
	InternalAPIKey    string
	WebhookLimiter    *IPRateLimiter
	// TrustProxyHeaders takes the client IP from X-Real-IP/X-Forwarded-For.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// NewRouter creates a new Chi router and registers the billing routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Billing service is healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		if cfg.TrustProxyHeaders {
			r.Use(middleware.RealIP)
		}
		if cfg.WebhookLimiter != nil {
			r.Use(cfg.WebhookLimiter.Middleware)
		}
		r.Post("/mercadopago", h.handleMercadoPagoWebhook)
		r.Post("/pagbank", h.handlePagBankWebhook)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/billing/reconcile", h.handleRunReconciliation)
		r.Get("/billing/users/{userID}/status", h.handleGetUserStatusInternal)
		r.Post("/emails/order-confirmation", h.handleOrderConfirmation)
		r.Post("/emails/support-response", h.handleSupportResponse)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))
		r.Get("/billing/status", h.handleGetBillingStatus)
		r.Post("/billing/subscription/check", h.handleCheckSubscription)
		r.Post("/billing/card/validate", h.handleValidateCard)
		r.Post("/billing/payments/pix", h.handleCreatePixCharge)
	})

	return r
}
