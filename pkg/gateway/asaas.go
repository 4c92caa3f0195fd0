package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rafitos77/vipgate/pkg/payment"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

const asaasProductionURL = "https://api.asaas.com/v3"

// AsaasConfig holds the Brazilian domestic gateway settings.
type AsaasConfig struct {
	APIKey       string `env:"ASAAS_API_KEY"`
	WebhookToken string `env:"ASAAS_WEBHOOK_TOKEN"`
	BaseURL      string `env:"ASAAS_BASE_URL" envDefault:"https://api.asaas.com/v3"`
}

// Configured reports whether the gateway has enough settings to be offered.
func (c AsaasConfig) Configured() bool {
	return c.APIKey != ""
}

// Asaas implements payment.Provider on top of the Asaas payment link API.
// Payment links accept PIX and card on the hosted page, so the adapter never
// needs to pick a billing type. Asaas only settles BRL.
type Asaas struct {
	client       *http.Client
	apiKey       string
	webhookToken string
	baseURL      string
}

// NewAsaas creates the Asaas adapter.
// Returns payment.ErrProviderUnavailable when no API key is configured.
func NewAsaas(cfg AsaasConfig) (*Asaas, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: ASAAS_API_KEY is not set", payment.ErrProviderUnavailable)
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = asaasProductionURL
	}
	return &Asaas{
		client:       &http.Client{Timeout: 30 * time.Second},
		apiKey:       cfg.APIKey,
		webhookToken: cfg.WebhookToken,
		baseURL:      baseURL,
	}, nil
}

func (a *Asaas) ID() payment.ProviderID {
	return payment.ProviderAsaas
}

type asaasPaymentLink struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Value      float64 `json:"value"`
	ExternalID string  `json:"externalReference"`
}

func (a *Asaas) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	if !strings.EqualFold(req.Price.Currency, "BRL") {
		return nil, fmt.Errorf("%w: asaas settles BRL only, got %s", payment.ErrProviderRejected, req.Price.Currency)
	}

	payload, err := json.Marshal(map[string]any{
		"name":              fmt.Sprintf("VIP %s", req.Plan),
		"description":       fmt.Sprintf("Acesso VIP (%s)", req.Plan),
		"billingType":       "UNDEFINED",
		"chargeType":        "DETACHED",
		"value":             centsToDecimal(req.Price.Amount),
		"dueDateLimitDays":  1,
		"externalReference": chargeReference(req.UserID, req.Plan),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/paymentLinks", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("access_token", a.apiKey)

	var link asaasPaymentLink
	raw, err := doJSON(a.client, httpReq, &link)
	if err != nil {
		return nil, err
	}
	if link.ID == "" || link.URL == "" {
		return nil, fmt.Errorf("%w: payment link response missing id or url", payment.ErrProviderRejected)
	}

	return &payment.Charge{
		Provider:    payment.ProviderAsaas,
		ExternalID:  link.ID,
		CheckoutURL: link.URL,
		Raw:         raw,
	}, nil
}

type asaasPayment struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	Value             float64 `json:"value"`
	PaymentLink       string  `json:"paymentLink"`
	ExternalReference string  `json:"externalReference"`
}

// GetStatus polls the payments created under a payment link. A link with no
// payment yet reports pending; once any payment reaches a settled status the
// link is paid.
func (a *Asaas) GetStatus(ctx context.Context, externalID string) (payment.StatusReport, error) {
	url := fmt.Sprintf("%s/payments?paymentLink=%s&limit=10", a.baseURL, externalID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return payment.StatusReport{}, err
	}
	httpReq.Header.Set("access_token", a.apiKey)

	var page struct {
		Data []asaasPayment `json:"data"`
	}
	raw, err := doJSON(a.client, httpReq, &page)
	if err != nil {
		return payment.StatusReport{}, err
	}

	report := payment.StatusReport{Status: payment.ReportedPending, Raw: raw}
	for _, p := range page.Data {
		status := mapAsaasStatus(p.Status)
		if status == payment.ReportedPending {
			continue
		}
		report.Status = status
		report.Amount = pricing.Money{Amount: decimalToCents(p.Value), Currency: "BRL"}
		if status == payment.ReportedPaid {
			break
		}
	}
	return report, nil
}

type asaasWebhookEvent struct {
	Event   string       `json:"event"`
	Payment asaasPayment `json:"payment"`
}

// ParseWebhook authenticates the delivery with the shared asaas-access-token
// header and normalizes payment events. The external ID is the payment link
// the charge was created under, matching CreateCharge.
func (a *Asaas) ParseWebhook(r *http.Request, body []byte) (payment.Notification, error) {
	if a.webhookToken == "" {
		return payment.Notification{}, fmt.Errorf("%w: ASAAS_WEBHOOK_TOKEN is not set", payment.ErrUnauthorized)
	}
	token := r.Header.Get("asaas-access-token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.webhookToken)) != 1 {
		return payment.Notification{}, fmt.Errorf("%w: asaas-access-token mismatch", payment.ErrUnauthorized)
	}

	var event asaasWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return payment.Notification{}, fmt.Errorf("malformed asaas webhook payload: %w", err)
	}

	externalID := event.Payment.PaymentLink
	if externalID == "" {
		externalID = event.Payment.ID
	}
	n := payment.Notification{
		Provider:   payment.ProviderAsaas,
		ExternalID: externalID,
		Status:     mapAsaasEvent(event.Event, event.Payment.Status),
		Amount:     pricing.Money{Amount: decimalToCents(event.Payment.Value), Currency: "BRL"},
		Raw:        body,
	}
	if userID, plan, ok := parseChargeReference(event.Payment.ExternalReference); ok {
		n.UserID = userID
		n.Plan = plan
	}
	return n, nil
}

func mapAsaasEvent(event, status string) payment.ReportedStatus {
	switch event {
	case "PAYMENT_RECEIVED", "PAYMENT_CONFIRMED":
		return payment.ReportedPaid
	case "PAYMENT_OVERDUE":
		return payment.ReportedExpired
	case "PAYMENT_REFUNDED", "PAYMENT_DELETED":
		return payment.ReportedFailed
	}
	return mapAsaasStatus(status)
}

func mapAsaasStatus(status string) payment.ReportedStatus {
	switch status {
	case "RECEIVED", "CONFIRMED", "RECEIVED_IN_CASH":
		return payment.ReportedPaid
	case "OVERDUE":
		return payment.ReportedExpired
	case "REFUNDED", "REFUND_REQUESTED", "CHARGEBACK_REQUESTED":
		return payment.ReportedFailed
	default:
		return payment.ReportedPending
	}
}

// Gateways that quote amounts in major currency units with a fractional
// part; the rest of the system works in cents.
func centsToDecimal(cents int64) float64 {
	return float64(cents) / 100
}

func decimalToCents(value float64) int64 {
	return int64(math.Round(value * 100))
}
