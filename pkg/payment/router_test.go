package payment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
)

func TestSelectProvider(t *testing.T) {
	t.Parallel()

	router := payment.NewRouter(payment.RouterConfig{})

	tests := []struct {
		name     string
		locale   string
		currency string
		want     payment.ProviderID
	}{
		{"domestic locale and currency", "pt", "BRL", payment.ProviderAsaas},
		{"domestic currency alone", "en", "BRL", payment.ProviderAsaas},
		{"domestic locale alone", "pt", "USD", payment.ProviderAsaas},
		{"regional domestic locale", "pt-BR", "USD", payment.ProviderAsaas},
		{"underscore locale separator", "pt_BR", "USD", payment.ProviderAsaas},
		{"lowercase currency", "en", "brl", payment.ProviderAsaas},
		{"international", "en", "USD", payment.ProviderStripe},
		{"spanish international", "es", "USD", payment.ProviderStripe},
		{"empty locale", "", "EUR", payment.ProviderStripe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, router.SelectProvider(tt.locale, tt.currency))
		})
	}
}

func TestSelectProviderConfiguredMarket(t *testing.T) {
	t.Parallel()

	router := payment.NewRouter(payment.RouterConfig{
		DomesticLocale:        "es",
		DomesticCurrency:      "MXN",
		DomesticProvider:      payment.ProviderPushinPay,
		InternationalProvider: payment.ProviderPayPal,
	})

	assert.Equal(t, payment.ProviderPushinPay, router.SelectProvider("es-MX", "MXN"))
	assert.Equal(t, payment.ProviderPayPal, router.SelectProvider("pt", "BRL"))
}

func TestSelectCrypto(t *testing.T) {
	t.Parallel()

	router := payment.NewRouter(payment.RouterConfig{
		CryptoDisabledPlans: []string{"weekly"},
	})

	id, ok := router.SelectCrypto(entitlement.PlanLifetime)
	assert.True(t, ok)
	assert.Equal(t, payment.ProviderNOWPayments, id)

	_, ok = router.SelectCrypto(entitlement.PlanWeekly)
	assert.False(t, ok, "crypto is hidden for disabled plans")

	assert.True(t, router.CryptoAllowed(entitlement.PlanMonthly))
	assert.False(t, router.CryptoAllowed(entitlement.PlanWeekly))
}

func TestParseProviderID(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"stripe", "asaas", "pushinpay", "nowpayments", "paypal"} {
		id, err := payment.ParseProviderID(valid)
		assert.NoError(t, err)
		assert.Equal(t, payment.ProviderID(valid), id)
	}

	_, err := payment.ParseProviderID("mercadopago")
	assert.ErrorIs(t, err, payment.ErrUnknownProvider)

	_, err = payment.ParseProviderID("")
	assert.ErrorIs(t, err, payment.ErrUnknownProvider)
}
