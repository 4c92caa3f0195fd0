package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rafitos77/vipgate/pkg/payment"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

// NOWPaymentsConfig holds the crypto gateway settings.
type NOWPaymentsConfig struct {
	APIKey       string `env:"NOWPAYMENTS_API_KEY"`
	IPNSecret    string `env:"NOWPAYMENTS_IPN_SECRET"`
	CallbackURL  string `env:"NOWPAYMENTS_CALLBACK_URL"`
	PayCurrency  string `env:"NOWPAYMENTS_PAY_CURRENCY" envDefault:"usdttrc20"`
	BaseURL      string `env:"NOWPAYMENTS_BASE_URL" envDefault:"https://api.nowpayments.io/v1"`
}

// Configured reports whether the gateway has enough settings to be offered.
func (c NOWPaymentsConfig) Configured() bool {
	return c.APIKey != ""
}

// NOWPayments implements payment.Provider for crypto charges. Charges are
// priced in fiat and paid in the configured crypto currency; the adapter
// hands back a deposit address and exact amount instead of a checkout URL.
type NOWPayments struct {
	client      *http.Client
	apiKey      string
	ipnSecret   string
	callbackURL string
	payCurrency string
	baseURL     string
}

// NewNOWPayments creates the NOWPayments adapter.
// Returns payment.ErrProviderUnavailable when no API key is configured.
func NewNOWPayments(cfg NOWPaymentsConfig) (*NOWPayments, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: NOWPAYMENTS_API_KEY is not set", payment.ErrProviderUnavailable)
	}
	return &NOWPayments{
		client:      &http.Client{Timeout: 30 * time.Second},
		apiKey:      cfg.APIKey,
		ipnSecret:   cfg.IPNSecret,
		callbackURL: cfg.CallbackURL,
		payCurrency: cfg.PayCurrency,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
	}, nil
}

func (n *NOWPayments) ID() payment.ProviderID {
	return payment.ProviderNOWPayments
}

type nowPayment struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	PayAddress    string      `json:"pay_address"`
	PayAmount     json.Number `json:"pay_amount"`
	PayCurrency   string      `json:"pay_currency"`
	PriceAmount   json.Number `json:"price_amount"`
	PriceCurrency string      `json:"price_currency"`
	OrderID       string      `json:"order_id"`
}

func (n *NOWPayments) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	body := map[string]any{
		"price_amount":   centsToDecimal(req.Price.Amount),
		"price_currency": strings.ToLower(req.Price.Currency),
		"pay_currency":   n.payCurrency,
		"order_id":       chargeReference(req.UserID, req.Plan),
		"order_description": fmt.Sprintf("VIP %s", req.Plan),
	}
	if n.callbackURL != "" {
		body["ipn_callback_url"] = n.callbackURL
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/payment", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", n.apiKey)

	var p nowPayment
	raw, err := doJSON(n.client, httpReq, &p)
	if err != nil {
		return nil, err
	}
	if p.PaymentID.String() == "" || p.PayAddress == "" {
		return nil, fmt.Errorf("%w: payment response missing payment_id or pay_address", payment.ErrProviderRejected)
	}

	return &payment.Charge{
		Provider:          payment.ProviderNOWPayments,
		ExternalID:        p.PaymentID.String(),
		CryptoPayAddress:  p.PayAddress,
		CryptoPayAmount:   p.PayAmount.String(),
		CryptoPayCurrency: strings.ToUpper(p.PayCurrency),
		Raw:               raw,
	}, nil
}

func (n *NOWPayments) GetStatus(ctx context.Context, externalID string) (payment.StatusReport, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/payment/"+externalID, nil)
	if err != nil {
		return payment.StatusReport{}, err
	}
	httpReq.Header.Set("x-api-key", n.apiKey)

	var p nowPayment
	raw, err := doJSON(n.client, httpReq, &p)
	if err != nil {
		return payment.StatusReport{}, err
	}

	report := payment.StatusReport{
		Status: mapNOWPaymentsStatus(p.PaymentStatus),
		Raw:    raw,
	}
	if amount, ok := fiatToCents(p.PriceAmount); ok {
		report.Amount = pricing.Money{Amount: amount, Currency: strings.ToUpper(p.PriceCurrency)}
	}
	return report, nil
}

// ParseWebhook verifies the x-nowpayments-sig header: an HMAC-SHA512 over the
// payload re-serialized with keys sorted at every nesting level. Numbers are
// kept as json.Number so re-serialization reproduces the exact digits the
// gateway signed.
func (n *NOWPayments) ParseWebhook(r *http.Request, body []byte) (payment.Notification, error) {
	if n.ipnSecret == "" {
		return payment.Notification{}, fmt.Errorf("%w: NOWPAYMENTS_IPN_SECRET is not set", payment.ErrUnauthorized)
	}
	canonical, err := canonicalJSON(body)
	if err != nil {
		return payment.Notification{}, fmt.Errorf("malformed nowpayments webhook payload: %w", err)
	}
	mac := hmac.New(sha512.New, []byte(n.ipnSecret))
	mac.Write(canonical)
	want := hex.EncodeToString(mac.Sum(nil))
	got := r.Header.Get("x-nowpayments-sig")
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) != 1 {
		return payment.Notification{}, fmt.Errorf("%w: x-nowpayments-sig mismatch", payment.ErrUnauthorized)
	}

	var p nowPayment
	if err := json.Unmarshal(body, &p); err != nil {
		return payment.Notification{}, fmt.Errorf("malformed nowpayments webhook payload: %w", err)
	}

	notif := payment.Notification{
		Provider:   payment.ProviderNOWPayments,
		ExternalID: p.PaymentID.String(),
		Status:     mapNOWPaymentsStatus(p.PaymentStatus),
		Raw:        body,
	}
	if amount, ok := fiatToCents(p.PriceAmount); ok {
		notif.Amount = pricing.Money{Amount: amount, Currency: strings.ToUpper(p.PriceCurrency)}
	}
	if userID, plan, ok := parseChargeReference(p.OrderID); ok {
		notif.UserID = userID
		notif.Plan = plan
	}
	return notif, nil
}

// canonicalJSON re-serializes a JSON object with keys sorted recursively:
// compact separators, raw UTF-8, no HTML escaping. encoding/json already
// emits map keys in sorted order, so decoding into maps (with UseNumber to
// keep numeric formatting intact) and re-encoding produces the canonical
// form the gateway signs. The encoder must not HTML-escape &, < and >
// because the upstream signer leaves them literal.
func canonicalJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	// Encode terminates the stream with a newline the signed form must not
	// carry.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func mapNOWPaymentsStatus(status string) payment.ReportedStatus {
	switch strings.ToLower(status) {
	case "finished", "confirmed", "partially_paid":
		return payment.ReportedPaid
	case "expired":
		return payment.ReportedExpired
	case "failed", "refunded":
		return payment.ReportedFailed
	default:
		// waiting, confirming, sending
		return payment.ReportedPending
	}
}

// fiatToCents converts a decimal fiat amount into cents.
func fiatToCents(amount json.Number) (int64, bool) {
	f, err := strconv.ParseFloat(amount.String(), 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return int64(f*100 + 0.5), true
}
