// Package billing exposes the payment HTTP surface: the per-gateway webhook
// receivers and the manual payment check endpoint. Responses never leak
// internal state; gateways only need the status code.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
)

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 1 << 20

// WebhookParser authenticates a gateway delivery and normalizes it. Each
// adapter in pkg/gateway implements this next to its Provider methods.
type WebhookParser interface {
	ParseWebhook(r *http.Request, body []byte) (payment.Notification, error)
}

// Processor drives an authenticated notification through the record state
// machine. Satisfied by payment.Reconciler.
type Processor interface {
	Process(ctx context.Context, n payment.Notification) error
}

// Confirmer is the manual "I paid" path. Satisfied by checkout.Service.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, userID int64, provider payment.ProviderID, externalID string, plan entitlement.PlanType, locale string) (payment.ReportedStatus, error)
}

// RouterOptions wires the billing module. Parsers maps gateway IDs to their
// webhook parsers; a gateway without a parser returns 404 on its webhook
// path, which keeps unconfigured gateways invisible.
type RouterOptions struct {
	Parsers    map[payment.ProviderID]WebhookParser
	Reconciler Processor
	Checkout   Confirmer
	// Health, when set, is consulted by GET /health (pg.Healthcheck fits).
	Health func(context.Context) error
	Logger *slog.Logger
}

// Router mounts the billing endpoints.
//
//	POST /webhooks/{provider}  gateway webhook receiver
//	POST /payments/check       manual status poll
//	GET  /health               liveness probe
func Router(opts RouterOptions) chi.Router {
	if opts.Reconciler == nil {
		panic("billing: Processor is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	h := &handler{
		parsers:    opts.Parsers,
		reconciler: opts.Reconciler,
		checkout:   opts.Checkout,
		log:        log,
	}

	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", h.webhook)
	if opts.Checkout != nil {
		r.Post("/payments/check", h.checkPayment)
	}
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(req.Context()); err != nil {
				log.ErrorContext(req.Context(), "health check failed", slog.Any("error", err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

type handler struct {
	parsers    map[payment.ProviderID]WebhookParser
	reconciler Processor
	checkout   Confirmer
	log        *slog.Logger
}

// webhook authenticates and reconciles one gateway delivery. The contract
// with upstreams: 2xx only after the state transition is durable, 401 for
// failed authentication, 400 for payloads that will never parse, 5xx when a
// retry might succeed.
func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	providerID, err := payment.ParseProviderID(chi.URLParam(r, "provider"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
		return
	}
	parser, ok := h.parsers[providerID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "provider not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	n, err := parser.ParseWebhook(r, body)
	switch {
	case errors.Is(err, payment.ErrUnauthorized):
		h.log.WarnContext(r.Context(), "webhook authentication failed",
			slog.String("provider", string(providerID)),
			slog.Any("error", err))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	case err != nil:
		h.log.WarnContext(r.Context(), "webhook payload rejected",
			slog.String("provider", string(providerID)),
			slog.Any("error", err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	if err := h.reconciler.Process(r.Context(), n); err != nil {
		// An event with no record and no usable metadata will never
		// reconcile; acknowledge it so the gateway stops retrying.
		if errors.Is(err, payment.ErrPaymentNotFound) {
			h.log.WarnContext(r.Context(), "webhook ignored, nothing to reconcile",
				slog.String("provider", string(providerID)),
				slog.String("external_id", n.ExternalID),
				slog.Any("error", err))
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.log.ErrorContext(r.Context(), "webhook reconciliation failed",
			slog.String("provider", string(providerID)),
			slog.String("external_id", n.ExternalID),
			slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reconciliation failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type checkPaymentRequest struct {
	UserID     int64  `json:"user_id"`
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
	Plan       string `json:"plan"`
	Locale     string `json:"locale"`
}

func (h *handler) checkPayment(w http.ResponseWriter, r *http.Request) {
	var req checkPaymentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request"})
		return
	}
	providerID, err := payment.ParseProviderID(req.Provider)
	if err != nil || req.UserID <= 0 || req.ExternalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	status, err := h.checkout.ConfirmPayment(r.Context(), req.UserID, providerID, req.ExternalID,
		entitlement.PlanType(req.Plan), req.Locale)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
	case errors.Is(err, payment.ErrExternalIDClaimed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "payment belongs to another user"})
	case errors.Is(err, payment.ErrAmountMismatch):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "amount mismatch"})
	case errors.Is(err, payment.ErrPaymentNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment not found"})
	case errors.Is(err, payment.ErrProviderUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "provider unavailable"})
	case errors.Is(err, payment.ErrProviderTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "provider timeout"})
	default:
		h.log.ErrorContext(r.Context(), "manual payment check failed",
			slog.String("provider", string(providerID)),
			slog.String("external_id", req.ExternalID),
			slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "check failed"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
