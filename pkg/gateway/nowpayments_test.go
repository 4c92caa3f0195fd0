package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

func TestNOWPaymentsCreateCharge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 25.0, body["price_amount"])
		assert.Equal(t, "usd", body["price_currency"])
		assert.Equal(t, "usdttrc20", body["pay_currency"])
		assert.Equal(t, "tg:42:lifetime", body["order_id"])

		json.NewEncoder(w).Encode(map[string]any{
			"payment_id":     5077125356,
			"payment_status": "waiting",
			"pay_address":    "TNDFkiSmBQorNFacb3735q8MnT3hasdf1",
			"pay_amount":     25.1203,
			"pay_currency":   "usdttrc20",
		})
	}))
	defer srv.Close()

	n, err := NewNOWPayments(NOWPaymentsConfig{APIKey: "test-key", PayCurrency: "usdttrc20", BaseURL: srv.URL})
	require.NoError(t, err)

	charge, err := n.CreateCharge(context.Background(), payment.ChargeRequest{
		UserID: 42,
		Plan:   entitlement.PlanLifetime,
		Price:  pricing.Money{Amount: 2500, Currency: "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderNOWPayments, charge.Provider)
	assert.Equal(t, "5077125356", charge.ExternalID)
	assert.Equal(t, "TNDFkiSmBQorNFacb3735q8MnT3hasdf1", charge.CryptoPayAddress)
	assert.Equal(t, "25.1203", charge.CryptoPayAmount)
	assert.Equal(t, "USDTTRC20", charge.CryptoPayCurrency)
}

func TestNOWPaymentsGetStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment/5077125356", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"payment_id":     5077125356,
			"payment_status": "finished",
			"price_amount":   25.0,
			"price_currency": "usd",
		})
	}))
	defer srv.Close()

	n, err := NewNOWPayments(NOWPaymentsConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	report, err := n.GetStatus(context.Background(), "5077125356")
	require.NoError(t, err)
	assert.Equal(t, payment.ReportedPaid, report.Status)
	assert.Equal(t, int64(2500), report.Amount.Amount)
	assert.Equal(t, "USD", report.Amount.Currency)
}

func TestNOWPaymentsParseWebhook(t *testing.T) {
	t.Parallel()

	const secret = "ipn-secret"

	// The gateway signs the payload with keys sorted at every nesting level.
	signCanonical := func(canonical string) string {
		mac := hmac.New(sha512.New, []byte(secret))
		mac.Write([]byte(canonical))
		return hex.EncodeToString(mac.Sum(nil))
	}

	n, err := NewNOWPayments(NOWPaymentsConfig{APIKey: "test-key", IPNSecret: secret})
	require.NoError(t, err)

	t.Run("valid signature over unsorted payload", func(t *testing.T) {
		t.Parallel()

		// Keys deliberately out of order; the signature covers the sorted form.
		body := []byte(`{"payment_status":"finished","payment_id":5077125356,"order_id":"tg:42:lifetime","price_currency":"usd","price_amount":25.0}`)
		canonical := `{"order_id":"tg:42:lifetime","payment_id":5077125356,"payment_status":"finished","price_amount":25.0,"price_currency":"usd"}`

		r := httptest.NewRequest(http.MethodPost, "/webhooks/nowpayments", bytes.NewReader(body))
		r.Header.Set("x-nowpayments-sig", signCanonical(canonical))

		notif, err := n.ParseWebhook(r, body)
		require.NoError(t, err)
		assert.Equal(t, payment.ReportedPaid, notif.Status)
		assert.Equal(t, "5077125356", notif.ExternalID)
		assert.Equal(t, int64(42), notif.UserID)
		assert.Equal(t, entitlement.PlanLifetime, notif.Plan)
		assert.Equal(t, int64(2500), notif.Amount.Amount)
	})

	t.Run("partially paid still activates", func(t *testing.T) {
		t.Parallel()

		body := []byte(`{"payment_id":1,"payment_status":"partially_paid"}`)
		canonical := `{"payment_id":1,"payment_status":"partially_paid"}`

		r := httptest.NewRequest(http.MethodPost, "/webhooks/nowpayments", bytes.NewReader(body))
		r.Header.Set("x-nowpayments-sig", signCanonical(canonical))

		notif, err := n.ParseWebhook(r, body)
		require.NoError(t, err)
		assert.Equal(t, payment.ReportedPaid, notif.Status)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		t.Parallel()

		body := []byte(`{"payment_id":1,"payment_status":"finished"}`)
		r := httptest.NewRequest(http.MethodPost, "/webhooks/nowpayments", bytes.NewReader(body))
		r.Header.Set("x-nowpayments-sig", "deadbeef")

		_, err := n.ParseWebhook(r, body)
		assert.ErrorIs(t, err, payment.ErrUnauthorized)
	})
}

func TestCanonicalJSON(t *testing.T) {
	t.Parallel()

	t.Run("sorts keys recursively and keeps numeric formatting", func(t *testing.T) {
		t.Parallel()

		body := []byte(`{"b":2,"a":{"d":4.50,"c":"x"},"e":[{"g":1,"f":2}]}`)
		got, err := canonicalJSON(body)
		require.NoError(t, err)
		assert.JSONEq(t, string(body), string(got))
		assert.Equal(t, `{"a":{"c":"x","d":4.50},"b":2,"e":[{"f":2,"g":1}]}`, string(got))
	})

	t.Run("keeps html characters and utf-8 literal", func(t *testing.T) {
		t.Parallel()

		body := []byte(`{"order_description":"VIP <weekly> & more","payer":"João"}`)
		got, err := canonicalJSON(body)
		require.NoError(t, err)
		assert.Equal(t, `{"order_description":"VIP <weekly> & more","payer":"João"}`, string(got))
		assert.NotContains(t, string(got), `&`)
		assert.NotContains(t, string(got), "\n")
	})
}
