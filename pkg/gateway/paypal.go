package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rafitos77/vipgate/pkg/payment"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

// PayPalConfig holds the PayPal gateway settings.
type PayPalConfig struct {
	ClientID   string `env:"PAYPAL_CLIENT_ID"`
	Secret     string `env:"PAYPAL_SECRET"`
	WebhookID  string `env:"PAYPAL_WEBHOOK_ID"`
	SuccessURL string `env:"PAYPAL_SUCCESS_URL"`
	CancelURL  string `env:"PAYPAL_CANCEL_URL"`
	BaseURL    string `env:"PAYPAL_BASE_URL" envDefault:"https://api-m.paypal.com"`
}

// Configured reports whether the gateway has enough settings to be offered.
func (c PayPalConfig) Configured() bool {
	return c.ClientID != "" && c.Secret != ""
}

// PayPal implements payment.Provider on top of the Orders v2 API. Orders are
// created with intent CAPTURE and captured when the buyer approval comes
// back, either through the webhook or a manual status poll.
type PayPal struct {
	client     *http.Client
	clientID   string
	secret     string
	webhookID  string
	successURL string
	cancelURL  string
	baseURL    string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPal creates the PayPal adapter.
// Returns payment.ErrProviderUnavailable when credentials are not configured.
func NewPayPal(cfg PayPalConfig) (*PayPal, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: PAYPAL_CLIENT_ID or PAYPAL_SECRET is not set", payment.ErrProviderUnavailable)
	}
	return &PayPal{
		client:     &http.Client{Timeout: 30 * time.Second},
		clientID:   cfg.ClientID,
		secret:     cfg.Secret,
		webhookID:  cfg.WebhookID,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
	}, nil
}

func (p *PayPal) ID() payment.ProviderID {
	return payment.ProviderPayPal
}

// token returns a cached client-credentials access token, refreshing it a
// minute before expiry.
func (p *PayPal) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accessToken != "" && time.Now().Before(p.tokenExpiry.Add(-time.Minute)) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.clientID, p.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if _, err := doJSON(p.client, req, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", payment.ErrProviderRejected)
	}
	p.accessToken = tok.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return p.accessToken, nil
}

func (p *PayPal) authorized(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	tok, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	return req, nil
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Amount   struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
}

func (p *PayPal) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	payload, err := json.Marshal(map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"custom_id":   chargeReference(req.UserID, req.Plan),
			"description": fmt.Sprintf("VIP %s", req.Plan),
			"amount": map[string]string{
				"currency_code": strings.ToUpper(req.Price.Currency),
				"value":         fmt.Sprintf("%.2f", centsToDecimal(req.Price.Amount)),
			},
		}},
		"application_context": map[string]string{
			"return_url":          firstNonEmpty(req.SuccessURL, p.successURL),
			"cancel_url":          firstNonEmpty(req.CancelURL, p.cancelURL),
			"shipping_preference": "NO_SHIPPING",
			"user_action":         "PAY_NOW",
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := p.authorized(ctx, http.MethodPost, "/v2/checkout/orders", payload)
	if err != nil {
		return nil, err
	}

	var order paypalOrder
	raw, err := doJSON(p.client, httpReq, &order)
	if err != nil {
		return nil, err
	}
	approveURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
			break
		}
	}
	if order.ID == "" || approveURL == "" {
		return nil, fmt.Errorf("%w: order response missing id or approve link", payment.ErrProviderRejected)
	}

	return &payment.Charge{
		Provider:    payment.ProviderPayPal,
		ExternalID:  order.ID,
		CheckoutURL: approveURL,
		Raw:         raw,
	}, nil
}

// GetStatus polls the order and captures it when the buyer has approved but
// the capture has not landed yet, so a manual check can settle the payment
// without waiting for the webhook.
func (p *PayPal) GetStatus(ctx context.Context, externalID string) (payment.StatusReport, error) {
	httpReq, err := p.authorized(ctx, http.MethodGet, "/v2/checkout/orders/"+externalID, nil)
	if err != nil {
		return payment.StatusReport{}, err
	}
	var order paypalOrder
	raw, err := doJSON(p.client, httpReq, &order)
	if err != nil {
		return payment.StatusReport{}, err
	}

	if order.Status == "APPROVED" {
		captureReq, err := p.authorized(ctx, http.MethodPost, "/v2/checkout/orders/"+externalID+"/capture", []byte("{}"))
		if err != nil {
			return payment.StatusReport{}, err
		}
		raw, err = doJSON(p.client, captureReq, &order)
		if err != nil {
			return payment.StatusReport{}, err
		}
	}

	report := payment.StatusReport{
		Status: mapPayPalStatus(order.Status),
		Raw:    raw,
	}
	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		if amount, ok := fiatToCents(json.Number(unit.Amount.Value)); ok {
			report.Amount = pricing.Money{Amount: amount, Currency: strings.ToUpper(unit.Amount.CurrencyCode)}
		}
	}
	return report, nil
}

type paypalWebhookEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		CustomID string `json:"custom_id"`
		Amount   struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// ParseWebhook verifies the delivery through PayPal's verify-webhook-signature
// endpoint, then normalizes capture events. The external ID is always the
// order, matching CreateCharge, even for capture resources.
func (p *PayPal) ParseWebhook(r *http.Request, body []byte) (payment.Notification, error) {
	if p.webhookID == "" {
		return payment.Notification{}, fmt.Errorf("%w: PAYPAL_WEBHOOK_ID is not set", payment.ErrUnauthorized)
	}
	if err := p.verifyWebhook(r, body); err != nil {
		return payment.Notification{}, err
	}

	var event paypalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return payment.Notification{}, fmt.Errorf("malformed paypal webhook payload: %w", err)
	}

	externalID := event.Resource.SupplementaryData.RelatedIDs.OrderID
	if externalID == "" {
		externalID = event.Resource.ID
	}
	n := payment.Notification{
		Provider:   payment.ProviderPayPal,
		ExternalID: externalID,
		Raw:        body,
	}
	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		n.Status = payment.ReportedPaid
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.REFUNDED", "PAYMENT.CAPTURE.REVERSED":
		n.Status = payment.ReportedFailed
	default:
		// CHECKOUT.ORDER.APPROVED and friends: not settled yet.
		n.Status = payment.ReportedPending
	}
	if amount, ok := fiatToCents(json.Number(event.Resource.Amount.Value)); ok {
		n.Amount = pricing.Money{Amount: amount, Currency: strings.ToUpper(event.Resource.Amount.CurrencyCode)}
	}
	if userID, plan, ok := parseChargeReference(event.Resource.CustomID); ok {
		n.UserID = userID
		n.Plan = plan
	}
	return n, nil
}

func (p *PayPal) verifyWebhook(r *http.Request, body []byte) error {
	payload, err := json.Marshal(map[string]any{
		"transmission_id":   r.Header.Get("Paypal-Transmission-Id"),
		"transmission_time": r.Header.Get("Paypal-Transmission-Time"),
		"transmission_sig":  r.Header.Get("Paypal-Transmission-Sig"),
		"cert_url":          r.Header.Get("Paypal-Cert-Url"),
		"auth_algo":         r.Header.Get("Paypal-Auth-Algo"),
		"webhook_id":        p.webhookID,
		"webhook_event":     json.RawMessage(body),
	})
	if err != nil {
		return err
	}
	req, err := p.authorized(r.Context(), http.MethodPost, "/v1/notifications/verify-webhook-signature", payload)
	if err != nil {
		return err
	}
	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if _, err := doJSON(p.client, req, &result); err != nil {
		return err
	}
	if result.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: webhook signature verification failed", payment.ErrUnauthorized)
	}
	return nil
}

func mapPayPalStatus(status string) payment.ReportedStatus {
	switch status {
	case "COMPLETED":
		return payment.ReportedPaid
	case "VOIDED":
		return payment.ReportedFailed
	default:
		// CREATED, SAVED, APPROVED, PAYER_ACTION_REQUIRED
		return payment.ReportedPending
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
