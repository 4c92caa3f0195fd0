package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

// paypalStub serves the OAuth token endpoint plus whatever order handlers a
// test registers.
func paypalStub(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-1",
			"expires_in":   3600,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPayPalCreateCharge(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		var body struct {
			Intent        string `json:"intent"`
			PurchaseUnits []struct {
				CustomID string `json:"custom_id"`
				Amount   struct {
					CurrencyCode string `json:"currency_code"`
					Value        string `json:"value"`
				} `json:"amount"`
			} `json:"purchase_units"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CAPTURE", body.Intent)
		require.Len(t, body.PurchaseUnits, 1)
		assert.Equal(t, "tg:42:monthly", body.PurchaseUnits[0].CustomID)
		assert.Equal(t, "14.00", body.PurchaseUnits[0].Amount.Value)
		assert.Equal(t, "USD", body.PurchaseUnits[0].Amount.CurrencyCode)

		json.NewEncoder(w).Encode(map[string]any{
			"id":     "ORDER-1",
			"status": "CREATED",
			"links": []map[string]string{
				{"rel": "self", "href": "https://paypal.test/orders/ORDER-1"},
				{"rel": "approve", "href": "https://paypal.test/approve/ORDER-1"},
			},
		})
	})
	srv := paypalStub(t, mux)

	p, err := NewPayPal(PayPalConfig{ClientID: "client-id", Secret: "client-secret", BaseURL: srv.URL})
	require.NoError(t, err)

	charge, err := p.CreateCharge(context.Background(), payment.ChargeRequest{
		UserID: 42,
		Plan:   entitlement.PlanMonthly,
		Price:  pricing.Money{Amount: 1400, Currency: "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderPayPal, charge.Provider)
	assert.Equal(t, "ORDER-1", charge.ExternalID)
	assert.Equal(t, "https://paypal.test/approve/ORDER-1", charge.CheckoutURL)
}

func TestPayPalGetStatusCapturesApprovedOrder(t *testing.T) {
	t.Parallel()

	var captured atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/checkout/orders/ORDER-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "ORDER-1",
			"status": "APPROVED",
		})
	})
	mux.HandleFunc("POST /v2/checkout/orders/ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
		captured.Store(true)
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "ORDER-1",
			"status": "COMPLETED",
			"purchase_units": []map[string]any{{
				"amount": map[string]string{"currency_code": "USD", "value": "14.00"},
			}},
		})
	})
	srv := paypalStub(t, mux)

	p, err := NewPayPal(PayPalConfig{ClientID: "client-id", Secret: "client-secret", BaseURL: srv.URL})
	require.NoError(t, err)

	report, err := p.GetStatus(context.Background(), "ORDER-1")
	require.NoError(t, err)
	assert.True(t, captured.Load(), "approved order must be captured")
	assert.Equal(t, payment.ReportedPaid, report.Status)
	assert.Equal(t, int64(1400), report.Amount.Amount)
}

func TestPayPalTokenReuse(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "token-1", "expires_in": 3600})
	})
	mux.HandleFunc("/v2/checkout/orders/ORDER-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "ORDER-1", "status": "COMPLETED"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewPayPal(PayPalConfig{ClientID: "client-id", Secret: "client-secret", BaseURL: srv.URL})
	require.NoError(t, err)

	for range 3 {
		_, err := p.GetStatus(context.Background(), "ORDER-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), tokenCalls.Load(), "token must be cached across calls")
}

func TestPayPalParseWebhook(t *testing.T) {
	t.Parallel()

	newAdapter := func(t *testing.T, verification string) *PayPal {
		t.Helper()
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				WebhookID string `json:"webhook_id"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "WH-1", body.WebhookID)
			json.NewEncoder(w).Encode(map[string]string{"verification_status": verification})
		})
		srv := paypalStub(t, mux)
		p, err := NewPayPal(PayPalConfig{
			ClientID: "client-id", Secret: "client-secret", WebhookID: "WH-1", BaseURL: srv.URL,
		})
		require.NoError(t, err)
		return p
	}

	t.Run("capture completed", func(t *testing.T) {
		t.Parallel()

		p := newAdapter(t, "SUCCESS")
		body := []byte(`{
			"event_type": "PAYMENT.CAPTURE.COMPLETED",
			"resource": {
				"id": "CAP-1",
				"status": "COMPLETED",
				"custom_id": "tg:42:monthly",
				"amount": {"currency_code": "USD", "value": "14.00"},
				"supplementary_data": {"related_ids": {"order_id": "ORDER-1"}}
			}
		}`)
		r := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewReader(body))

		n, err := p.ParseWebhook(r, body)
		require.NoError(t, err)
		assert.Equal(t, payment.ReportedPaid, n.Status)
		assert.Equal(t, "ORDER-1", n.ExternalID, "capture events must resolve to the order id")
		assert.Equal(t, int64(42), n.UserID)
		assert.Equal(t, entitlement.PlanMonthly, n.Plan)
		assert.Equal(t, int64(1400), n.Amount.Amount)
	})

	t.Run("failed verification rejected", func(t *testing.T) {
		t.Parallel()

		p := newAdapter(t, "FAILURE")
		body := []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1"}}`)
		r := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewReader(body))

		_, err := p.ParseWebhook(r, body)
		assert.ErrorIs(t, err, payment.ErrUnauthorized)
	})

	t.Run("approval is pending, not paid", func(t *testing.T) {
		t.Parallel()

		p := newAdapter(t, "SUCCESS")
		body := []byte(`{"event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"ORDER-1","status":"APPROVED"}}`)
		r := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewReader(body))

		n, err := p.ParseWebhook(r, body)
		require.NoError(t, err)
		assert.Equal(t, payment.ReportedPending, n.Status)
	})
}
