package payment

import (
	"slices"
	"strings"

	"github.com/rafitos77/vipgate/pkg/entitlement"
)

// RouterConfig declares the routing rule inputs.
type RouterConfig struct {
	DomesticLocale        string     `env:"ROUTER_DOMESTIC_LOCALE" envDefault:"pt"`
	DomesticCurrency      string     `env:"ROUTER_DOMESTIC_CURRENCY" envDefault:"BRL"`
	DomesticProvider      ProviderID `env:"ROUTER_DOMESTIC_PROVIDER" envDefault:"asaas"`
	InternationalProvider ProviderID `env:"ROUTER_INTERNATIONAL_PROVIDER" envDefault:"stripe"`
	CryptoProvider        ProviderID `env:"ROUTER_CRYPTO_PROVIDER" envDefault:"nowpayments"`
	// CryptoDisabledPlans hides the crypto provider for the listed plans,
	// e.g. "weekly,monthly".
	CryptoDisabledPlans []string `env:"ROUTER_CRYPTO_DISABLED_PLANS" envSeparator:","`
}

// Router maps (locale, currency) to a gateway. All methods are pure so the
// routing rule is trivially testable.
type Router struct {
	cfg RouterConfig
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.DomesticLocale == "" {
		cfg.DomesticLocale = "pt"
	}
	if cfg.DomesticCurrency == "" {
		cfg.DomesticCurrency = "BRL"
	}
	if cfg.DomesticProvider == "" {
		cfg.DomesticProvider = ProviderAsaas
	}
	if cfg.InternationalProvider == "" {
		cfg.InternationalProvider = ProviderStripe
	}
	if cfg.CryptoProvider == "" {
		cfg.CryptoProvider = ProviderNOWPayments
	}
	return &Router{cfg: cfg}
}

// SelectProvider picks the gateway for a charge: the domestic PIX provider
// when the currency or the locale's base language matches the configured
// domestic market, the international card provider otherwise.
func (r *Router) SelectProvider(locale, currency string) ProviderID {
	if strings.EqualFold(currency, r.cfg.DomesticCurrency) ||
		baseLanguage(locale) == strings.ToLower(r.cfg.DomesticLocale) {
		return r.cfg.DomesticProvider
	}
	return r.cfg.InternationalProvider
}

// SelectCrypto returns the crypto provider for an explicit user opt-in, or
// false when the plan is on the disabled-for-crypto list.
func (r *Router) SelectCrypto(plan entitlement.PlanType) (ProviderID, bool) {
	if !r.CryptoAllowed(plan) {
		return "", false
	}
	return r.cfg.CryptoProvider, true
}

// CryptoAllowed reports whether the crypto provider may be offered for a plan.
func (r *Router) CryptoAllowed(plan entitlement.PlanType) bool {
	return !slices.Contains(r.cfg.CryptoDisabledPlans, string(plan))
}

// baseLanguage reduces a locale tag like "pt-BR" or "pt_BR" to "pt".
func baseLanguage(locale string) string {
	locale = strings.ToLower(locale)
	if i := strings.IndexAny(locale, "-_"); i >= 0 {
		return locale[:i]
	}
	return locale
}
