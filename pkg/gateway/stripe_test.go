package gateway

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
)

func TestNewStripe(t *testing.T) {
	t.Parallel()

	_, err := NewStripe(StripeConfig{})
	assert.ErrorIs(t, err, payment.ErrProviderUnavailable)

	s, err := NewStripe(StripeConfig{SecretKey: "sk_test_123"})
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderStripe, s.ID())
}

func TestStripeParseWebhook(t *testing.T) {
	t.Parallel()

	const secret = "whsec_test"

	signedRequest := func(t *testing.T, eventJSON string) (*http.Request, []byte) {
		t.Helper()
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   []byte(eventJSON),
			Secret:    secret,
			Timestamp: time.Now(),
		})
		r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
		r.Header.Set("Stripe-Signature", signed.Header)
		return r, signed.Payload
	}

	s, err := NewStripe(StripeConfig{SecretKey: "sk_test_123", WebhookSecret: secret})
	require.NoError(t, err)

	t.Run("checkout completed", func(t *testing.T) {
		t.Parallel()

		r, body := signedRequest(t, `{
			"id": "evt_1",
			"type": "checkout.session.completed",
			"data": {
				"object": {
					"id": "cs_test_1",
					"amount_total": 1400,
					"currency": "usd",
					"metadata": {"user_id": "42", "plan": "monthly", "locale": "en"}
				}
			}
		}`)

		n, err := s.ParseWebhook(r, body)
		require.NoError(t, err)
		assert.Equal(t, payment.ReportedPaid, n.Status)
		assert.Equal(t, "cs_test_1", n.ExternalID)
		assert.Equal(t, int64(42), n.UserID)
		assert.Equal(t, entitlement.PlanMonthly, n.Plan)
		assert.Equal(t, int64(1400), n.Amount.Amount)
		assert.Equal(t, "USD", n.Amount.Currency)
	})

	t.Run("session expired", func(t *testing.T) {
		t.Parallel()

		r, body := signedRequest(t, `{
			"id": "evt_2",
			"type": "checkout.session.expired",
			"data": {"object": {"id": "cs_test_2", "metadata": {}}}
		}`)

		n, err := s.ParseWebhook(r, body)
		require.NoError(t, err)
		assert.Equal(t, payment.ReportedExpired, n.Status)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		t.Parallel()

		body := []byte(`{"id":"evt_3","type":"checkout.session.completed"}`)
		r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
		r.Header.Set("Stripe-Signature", "t=1,v1=invalid")

		_, err := s.ParseWebhook(r, body)
		assert.ErrorIs(t, err, payment.ErrUnauthorized)
	})

	t.Run("no webhook secret configured", func(t *testing.T) {
		t.Parallel()

		bare, err := NewStripe(StripeConfig{SecretKey: "sk_test_123"})
		require.NoError(t, err)

		body := []byte(`{}`)
		r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
		_, err = bare.ParseWebhook(r, body)
		assert.ErrorIs(t, err, payment.ErrUnauthorized)
	})
}
