package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

// StripeConfig holds the card provider settings.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	SuccessURL    string `env:"STRIPE_SUCCESS_URL"`
	CancelURL     string `env:"STRIPE_CANCEL_URL"`
}

// Configured reports whether the gateway has enough settings to be offered.
func (c StripeConfig) Configured() bool {
	return c.SecretKey != ""
}

// Stripe implements payment.Provider on top of Checkout Sessions. The
// license is activated from the checkout.session.completed webhook, never
// from the redirect.
type Stripe struct {
	client        *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripe creates the Stripe adapter.
// Returns payment.ErrProviderUnavailable when no secret key is configured.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: STRIPE_SECRET_KEY is not set", payment.ErrProviderUnavailable)
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Stripe{
		client:        api,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

func (s *Stripe) ID() payment.ProviderID {
	return payment.ProviderStripe
}

func (s *Stripe) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	successURL := req.SuccessURL
	if successURL == "" {
		successURL = s.successURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.cancelURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(strings.ToLower(req.Price.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("VIP %s", req.Plan)),
				},
				UnitAmount: stripe.Int64(req.Price.Amount),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatInt(req.UserID, 10))
	params.AddMetadata("plan", string(req.Plan))
	params.AddMetadata("locale", req.Locale)

	session, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	return &payment.Charge{
		Provider:    payment.ProviderStripe,
		ExternalID:  session.ID,
		CheckoutURL: session.URL,
	}, nil
}

func (s *Stripe) GetStatus(ctx context.Context, externalID string) (payment.StatusReport, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := s.client.CheckoutSessions.Get(externalID, params)
	if err != nil {
		return payment.StatusReport{}, wrapStripeErr(err)
	}

	report := payment.StatusReport{Status: payment.ReportedPending}
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		report.Status = payment.ReportedPaid
	case session.Status == stripe.CheckoutSessionStatusExpired:
		report.Status = payment.ReportedExpired
	}
	if session.AmountTotal > 0 {
		report.Amount = pricing.Money{
			Amount:   session.AmountTotal,
			Currency: strings.ToUpper(string(session.Currency)),
		}
	}
	return report, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes checkout
// session events. Returns payment.ErrUnauthorized before reading anything
// else when verification fails.
func (s *Stripe) ParseWebhook(r *http.Request, body []byte) (payment.Notification, error) {
	if s.webhookSecret == "" {
		return payment.Notification{}, fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET is not set", payment.ErrUnauthorized)
	}
	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), s.webhookSecret)
	if err != nil {
		return payment.Notification{}, errors.Join(payment.ErrUnauthorized, err)
	}

	var session struct {
		ID          string            `json:"id"`
		AmountTotal int64             `json:"amount_total"`
		Currency    string            `json:"currency"`
		Metadata    map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return payment.Notification{}, fmt.Errorf("malformed checkout session payload: %w", err)
	}

	n := payment.Notification{
		Provider:   payment.ProviderStripe,
		ExternalID: session.ID,
		Raw:        body,
	}
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		n.Status = payment.ReportedPaid
	case "checkout.session.expired":
		n.Status = payment.ReportedExpired
	case "checkout.session.async_payment_failed":
		n.Status = payment.ReportedFailed
	default:
		n.Status = payment.ReportedPending
	}

	if id, err := strconv.ParseInt(session.Metadata["user_id"], 10, 64); err == nil {
		n.UserID = id
	}
	if plan := entitlement.PlanType(session.Metadata["plan"]); plan.Purchasable() {
		n.Plan = plan
	}
	if session.AmountTotal > 0 {
		n.Amount = pricing.Money{Amount: session.AmountTotal, Currency: strings.ToUpper(session.Currency)}
	}
	return n, nil
}

// wrapStripeErr maps SDK failures onto the provider error taxonomy. The
// common decline when an account has no card payment methods enabled yet
// ("No valid payment method types") surfaces as a plain rejection so the
// caller can offer a different gateway.
func wrapStripeErr(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %s", payment.ErrProviderRejected, stripeErr.Msg)
	}
	return wrapTransportErr(err)
}
