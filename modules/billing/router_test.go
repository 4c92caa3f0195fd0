package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafitos77/vipgate/modules/billing"
	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
)

type stubParser struct {
	notification payment.Notification
	err          error
}

func (p *stubParser) ParseWebhook(*http.Request, []byte) (payment.Notification, error) {
	return p.notification, p.err
}

type stubReconciler struct {
	err   error
	seen  []payment.Notification
	calls int
}

func (r *stubReconciler) Process(_ context.Context, n payment.Notification) error {
	r.calls++
	r.seen = append(r.seen, n)
	return r.err
}

type stubConfirmer struct {
	status payment.ReportedStatus
	err    error
}

func (c *stubConfirmer) ConfirmPayment(context.Context, int64, payment.ProviderID, string, entitlement.PlanType, string) (payment.ReportedStatus, error) {
	return c.status, c.err
}

func TestWebhookEndpoint(t *testing.T) {
	t.Parallel()

	newRouter := func(parser billing.WebhookParser, rc billing.Processor) http.Handler {
		return billing.Router(billing.RouterOptions{
			Parsers:    map[payment.ProviderID]billing.WebhookParser{payment.ProviderPushinPay: parser},
			Reconciler: rc,
		})
	}

	send := func(h http.Handler, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{}`))))
		return rec
	}

	t.Run("paid event acknowledged after reconciliation", func(t *testing.T) {
		t.Parallel()

		rc := &stubReconciler{}
		h := newRouter(&stubParser{notification: payment.Notification{
			Provider:   payment.ProviderPushinPay,
			ExternalID: "pix-1",
			Status:     payment.ReportedPaid,
		}}, rc)

		rec := send(h, "/webhooks/pushinpay")
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, rc.seen, 1)
		assert.Equal(t, "pix-1", rc.seen[0].ExternalID)
	})

	t.Run("failed authentication returns 401", func(t *testing.T) {
		t.Parallel()

		rc := &stubReconciler{}
		h := newRouter(&stubParser{err: payment.ErrUnauthorized}, rc)

		rec := send(h, "/webhooks/pushinpay")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, rc.calls, "unauthenticated payload must not reach the reconciler")
	})

	t.Run("malformed payload returns 400", func(t *testing.T) {
		t.Parallel()

		h := newRouter(&stubParser{err: errors.New("malformed payload")}, &stubReconciler{})
		rec := send(h, "/webhooks/pushinpay")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reconciliation failure returns 500 for retry", func(t *testing.T) {
		t.Parallel()

		h := newRouter(&stubParser{notification: payment.Notification{
			Provider: payment.ProviderPushinPay, ExternalID: "pix-1", Status: payment.ReportedPaid,
		}}, &stubReconciler{err: errors.New("store down")})

		rec := send(h, "/webhooks/pushinpay")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unreconcilable event acknowledged to stop retries", func(t *testing.T) {
		t.Parallel()

		h := newRouter(&stubParser{notification: payment.Notification{
			Provider: payment.ProviderPushinPay, ExternalID: "pix-unknown", Status: payment.ReportedPaid,
		}}, &stubReconciler{err: payment.ErrPaymentNotFound})

		rec := send(h, "/webhooks/pushinpay")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ignored", body["status"])
	})

	t.Run("unknown provider returns 404", func(t *testing.T) {
		t.Parallel()

		h := newRouter(&stubParser{}, &stubReconciler{})
		rec := send(h, "/webhooks/venmo")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("known but unconfigured provider returns 404", func(t *testing.T) {
		t.Parallel()

		h := newRouter(&stubParser{}, &stubReconciler{})
		rec := send(h, "/webhooks/stripe")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCheckPaymentEndpoint(t *testing.T) {
	t.Parallel()

	newRouter := func(c billing.Confirmer) http.Handler {
		return billing.Router(billing.RouterOptions{
			Parsers:    map[payment.ProviderID]billing.WebhookParser{},
			Reconciler: &stubReconciler{},
			Checkout:   c,
		})
	}

	send := func(h http.Handler, body any) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(body)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/check", bytes.NewReader(payload)))
		return rec
	}

	valid := map[string]any{
		"user_id":     42,
		"provider":    "pushinpay",
		"external_id": "pix-1",
		"plan":        "monthly",
		"locale":      "pt-BR",
	}

	t.Run("paid", func(t *testing.T) {
		t.Parallel()

		rec := send(newRouter(&stubConfirmer{status: payment.ReportedPaid}), valid)
		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "paid", body["status"])
	})

	t.Run("claimed by another user", func(t *testing.T) {
		t.Parallel()

		rec := send(newRouter(&stubConfirmer{err: payment.ErrExternalIDClaimed}), valid)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		t.Parallel()

		rec := send(newRouter(&stubConfirmer{err: payment.ErrAmountMismatch}), valid)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		rec := send(newRouter(&stubConfirmer{err: payment.ErrPaymentNotFound}), valid)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("provider timeout", func(t *testing.T) {
		t.Parallel()

		rec := send(newRouter(&stubConfirmer{err: payment.ErrProviderTimeout}), valid)
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("invalid request body", func(t *testing.T) {
		t.Parallel()

		h := newRouter(&stubConfirmer{status: payment.ReportedPaid})

		for name, body := range map[string]map[string]any{
			"missing user":     {"provider": "pushinpay", "external_id": "pix-1"},
			"unknown provider": {"user_id": 42, "provider": "venmo", "external_id": "pix-1"},
			"no external id":   {"user_id": 42, "provider": "pushinpay"},
		} {
			rec := send(h, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("ok without probe", func(t *testing.T) {
		t.Parallel()

		h := billing.Router(billing.RouterOptions{Reconciler: &stubReconciler{}})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("failing probe returns 503", func(t *testing.T) {
		t.Parallel()

		h := billing.Router(billing.RouterOptions{
			Reconciler: &stubReconciler{},
			Health:     func(context.Context) error { return errors.New("db down") },
		})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
