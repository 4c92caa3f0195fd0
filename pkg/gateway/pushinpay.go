package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
	"github.com/rafitos77/vipgate/pkg/pricing"
	"github.com/rafitos77/vipgate/pkg/qrcode"
)

// PushinPayConfig holds the PIX gateway settings.
type PushinPayConfig struct {
	Token         string `env:"PUSHINPAY_TOKEN"`
	WebhookSecret string `env:"PUSHINPAY_WEBHOOK_SECRET"`
	WebhookURL    string `env:"PUSHINPAY_WEBHOOK_URL"`
	BaseURL       string `env:"PUSHINPAY_BASE_URL" envDefault:"https://api.pushinpay.com.br/api"`
}

// Configured reports whether the gateway has enough settings to be offered.
func (c PushinPayConfig) Configured() bool {
	return c.Token != ""
}

// PushinPay implements payment.Provider for instant PIX charges. There is no
// hosted checkout page: the charge carries the copy-paste code and a rendered
// QR so the bot can deliver both directly in chat.
type PushinPay struct {
	client        *http.Client
	token         string
	webhookSecret string
	webhookURL    string
	baseURL       string
	now           func() time.Time
}

// NewPushinPay creates the PushinPay adapter.
// Returns payment.ErrProviderUnavailable when no API token is configured.
func NewPushinPay(cfg PushinPayConfig) (*PushinPay, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: PUSHINPAY_TOKEN is not set", payment.ErrProviderUnavailable)
	}
	return &PushinPay{
		client:        &http.Client{Timeout: 30 * time.Second},
		token:         cfg.Token,
		webhookSecret: cfg.WebhookSecret,
		webhookURL:    cfg.WebhookURL,
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		now:           time.Now,
	}, nil
}

func (p *PushinPay) ID() payment.ProviderID {
	return payment.ProviderPushinPay
}

// pushinPayReference encodes the user, plan and creation time so a webhook
// can be reconciled without the pending record.
// Format: user_<id>_plan_<plan>_<unix>.
func pushinPayReference(userID int64, plan entitlement.PlanType, at time.Time) string {
	return fmt.Sprintf("user_%d_plan_%s_%d", userID, plan, at.Unix())
}

func parsePushinPayReference(ref string) (userID int64, plan entitlement.PlanType, ok bool) {
	parts := strings.Split(ref, "_")
	if len(parts) != 5 || parts[0] != "user" || parts[2] != "plan" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	plan = entitlement.PlanType(parts[3])
	if !plan.Purchasable() {
		return 0, "", false
	}
	return id, plan, true
}

type pushinPayCharge struct {
	ID     string `json:"id"`
	QRCode string `json:"qr_code"`
	Status string `json:"status"`
	Value  int64  `json:"value"`
}

func (p *PushinPay) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	if !strings.EqualFold(req.Price.Currency, "BRL") {
		return nil, fmt.Errorf("%w: pushinpay settles BRL only, got %s", payment.ErrProviderRejected, req.Price.Currency)
	}

	body := map[string]any{
		"value":              req.Price.Amount,
		"external_reference": pushinPayReference(req.UserID, req.Plan, p.now()),
	}
	if p.webhookURL != "" {
		body["webhook_url"] = p.webhookURL
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/pix/cashIn", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.token)

	var charge pushinPayCharge
	raw, err := doJSON(p.client, httpReq, &charge)
	if err != nil {
		return nil, err
	}
	if charge.ID == "" || charge.QRCode == "" {
		return nil, fmt.Errorf("%w: pix charge response missing id or qr_code", payment.ErrProviderRejected)
	}

	png, err := qrcode.PNG(charge.QRCode, 512)
	if err != nil {
		return nil, fmt.Errorf("render pix qr code: %w", err)
	}

	return &payment.Charge{
		Provider:     payment.ProviderPushinPay,
		ExternalID:   charge.ID,
		PixCopyPaste: charge.QRCode,
		PixQRCodePNG: png,
		Raw:          raw,
	}, nil
}

func (p *PushinPay) GetStatus(ctx context.Context, externalID string) (payment.StatusReport, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/transactions/"+externalID, nil)
	if err != nil {
		return payment.StatusReport{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.token)

	var charge pushinPayCharge
	raw, err := doJSON(p.client, httpReq, &charge)
	if err != nil {
		return payment.StatusReport{}, err
	}

	report := payment.StatusReport{
		Status: mapPushinPayStatus(charge.Status),
		Raw:    raw,
	}
	if charge.Value > 0 {
		report.Amount = pricing.Money{Amount: charge.Value, Currency: "BRL"}
	}
	return report, nil
}

type pushinPayWebhookEvent struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Value             int64  `json:"value"`
	ExternalReference string `json:"external_reference"`
}

// ParseWebhook verifies the X-PushinPay-Signature header, an HMAC-SHA256 of
// the raw body hex-encoded, before trusting anything in the payload.
func (p *PushinPay) ParseWebhook(r *http.Request, body []byte) (payment.Notification, error) {
	if p.webhookSecret == "" {
		return payment.Notification{}, fmt.Errorf("%w: PUSHINPAY_WEBHOOK_SECRET is not set", payment.ErrUnauthorized)
	}
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	got := r.Header.Get("X-PushinPay-Signature")
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) != 1 {
		return payment.Notification{}, fmt.Errorf("%w: X-PushinPay-Signature mismatch", payment.ErrUnauthorized)
	}

	var event pushinPayWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return payment.Notification{}, fmt.Errorf("malformed pushinpay webhook payload: %w", err)
	}

	n := payment.Notification{
		Provider:   payment.ProviderPushinPay,
		ExternalID: event.ID,
		Status:     mapPushinPayStatus(event.Status),
		Raw:        body,
	}
	if event.Value > 0 {
		n.Amount = pricing.Money{Amount: event.Value, Currency: "BRL"}
	}
	if userID, plan, ok := parsePushinPayReference(event.ExternalReference); ok {
		n.UserID = userID
		n.Plan = plan
	}
	return n, nil
}

func mapPushinPayStatus(status string) payment.ReportedStatus {
	switch strings.ToLower(status) {
	case "paid", "approved":
		return payment.ReportedPaid
	case "expired":
		return payment.ReportedExpired
	case "failed", "refunded", "canceled", "cancelled":
		return payment.ReportedFailed
	default:
		return payment.ReportedPending
	}
}
