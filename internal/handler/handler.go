// Package handler exposes the order lifecycle and the analytics reports over
// HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/domain/auth"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/export"
)

// DefaultAPIKeyHeader carries the caller's API key.
const DefaultAPIKeyHeader = "X-API-Key"

// Config holds non-dependency configuration for the Handler.
type Config struct {
	APIKeyHeader string
	// AuthDisabled treats every caller as an admin. Meant for local runs.
	AuthDisabled bool
	// ConflictRetries bounds how often a write that lost a version race is
	// retried when the caller did not pin a version.
	ConflictRetries int
	// Location interprets date-only query parameters. Nil means UTC.
	Location *time.Location
}

// Handler serves the API routes.
type Handler struct {
	orders   *order.Service
	reports  *analytics.Aggregator
	exporter *export.Exporter
	authn    *auth.Authenticator
	policy   auth.Policy
	cfg      Config
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	orders *order.Service,
	reports *analytics.Aggregator,
	exporter *export.Exporter,
	authn *auth.Authenticator,
	policy auth.Policy,
) *Handler {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if policy == nil {
		policy = auth.DefaultPolicy()
	}
	return &Handler{
		orders:   orders,
		reports:  reports,
		exporter: exporter,
		authn:    authn,
		policy:   policy,
		cfg:      cfg,
	}
}

// Routes mounts the API under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)

		r.With(h.require(auth.CapOrdersWrite)).Post("/orders", h.createOrder)
		r.Route("/orders/{id}", func(r chi.Router) {
			r.With(h.require(auth.CapOrdersRead)).Get("/", h.getOrder)
			r.With(h.require(auth.CapOrdersWrite)).Post("/status", h.advanceStatus)
			r.With(h.require(auth.CapPaymentsWrite)).Post("/payments", h.recordPayment)
			r.With(h.require(auth.CapOrdersWrite)).Post("/refunds", h.recordRefund)
		})

		r.With(h.require(auth.CapAnalyticsExport)).Get("/analytics/export", h.exportReport)
		r.With(h.require(auth.CapAnalyticsRead)).Get("/analytics/{report}", h.getReport)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "validation", "method not allowed")
	})
	return r
}
