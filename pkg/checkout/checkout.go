// Package checkout orchestrates charge creation across the configured payment
// gateways: price lookup, provider routing, the upstream call and the pending
// record, plus the manual confirmation path for gateways whose webhooks are
// unreliable.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

// chargeTimeout bounds one upstream create/status call so a slow gateway
// cannot hold a bot interaction open indefinitely.
const chargeTimeout = 30 * time.Second

// Pricer resolves a plan quote for a locale. Satisfied by pricing.Table.
type Pricer interface {
	Quote(locale string, plan entitlement.PlanType) (pricing.Quote, error)
}

// Processor drives an authenticated payment notification through the record
// state machine. Satisfied by payment.Reconciler.
type Processor interface {
	Process(ctx context.Context, n payment.Notification) error
}

// ChargeOptions tweak a single charge.
type ChargeOptions struct {
	// Downsell applies the retention discount to the quoted price.
	Downsell bool
	// PreferCrypto routes to the crypto gateway when the plan allows it.
	PreferCrypto bool
}

// Session is one created charge, ready to hand to the user.
type Session struct {
	// Reference identifies this checkout attempt in logs and support
	// conversations; it never goes upstream.
	Reference string
	Quote     pricing.Quote
	Charge    *payment.Charge
}

// Option configures the service.
type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// Service creates charges and confirms payments. Provider adapters are
// registered by ID; routing between them is the Router's job.
type Service struct {
	pricer     Pricer
	router     *payment.Router
	store      payment.Store
	reconciler Processor
	providers  map[payment.ProviderID]payment.Provider
	log        *slog.Logger
}

// NewService creates the checkout service.
// Panics if any required dependency is nil to fail fast during initialization.
func NewService(
	pricer Pricer,
	router *payment.Router,
	store payment.Store,
	reconciler Processor,
	providers []payment.Provider,
	opts ...Option,
) *Service {
	if pricer == nil {
		panic("checkout: Pricer is required")
	}
	if router == nil {
		panic("checkout: Router is required")
	}
	if store == nil {
		panic("checkout: payment.Store is required")
	}
	if reconciler == nil {
		panic("checkout: Processor is required")
	}
	byID := make(map[payment.ProviderID]payment.Provider, len(providers))
	for _, p := range providers {
		if p != nil {
			byID[p.ID()] = p
		}
	}
	s := &Service{
		pricer:     pricer,
		router:     router,
		store:      store,
		reconciler: reconciler,
		providers:  byID,
		log:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCharge prices the plan, routes it to a gateway and records the
// pending payment. No store lock is held during the upstream call; the
// pending record is written after the gateway assigns the external ID, and a
// webhook racing ahead of that write is absorbed by the reconciler's
// metadata fallback.
//
// When the routed gateway rejects the charge and the plan allows crypto, the
// charge is retried once on the crypto gateway before giving up.
func (s *Service) CreateCharge(ctx context.Context, userID int64, plan entitlement.PlanType, locale string, opts ChargeOptions) (*Session, error) {
	if !plan.Purchasable() {
		return nil, errors.Join(ErrFailedToCreateCharge, entitlement.ErrInvalidPlan)
	}

	quote, err := s.pricer.Quote(locale, plan)
	if err != nil {
		return nil, errors.Join(ErrFailedToCreateCharge, err)
	}
	if opts.Downsell {
		quote = quote.WithDownsell()
	}

	providerID := s.router.SelectProvider(locale, quote.Price.Currency)
	if opts.PreferCrypto {
		if crypto, ok := s.router.SelectCrypto(plan); ok {
			providerID = crypto
		}
	}

	reference := uuid.NewString()
	req := payment.ChargeRequest{
		UserID: userID,
		Plan:   plan,
		Price:  quote.Price,
		Locale: locale,
	}

	charge, err := s.createWith(ctx, providerID, req)
	if err != nil && errors.Is(err, payment.ErrProviderRejected) && providerID != s.cryptoID() {
		// Card networks reject for reasons a crypto payment sidesteps
		// entirely. Offer the fallback only where the plan permits it.
		if crypto, ok := s.router.SelectCrypto(plan); ok {
			s.log.WarnContext(ctx, "charge rejected, retrying via crypto gateway",
				slog.String("reference", reference),
				slog.String("provider", string(providerID)),
				slog.Any("error", err))
			charge, err = s.createWith(ctx, crypto, req)
		}
	}
	if err != nil {
		return nil, errors.Join(ErrFailedToCreateCharge, err)
	}

	rec := payment.Record{
		UserID:     userID,
		Provider:   charge.Provider,
		ExternalID: charge.ExternalID,
		Amount:     quote.Price,
		Plan:       plan,
		RawPayload: charge.Raw,
	}
	if err := s.store.CreatePending(ctx, rec); err != nil && !errors.Is(err, payment.ErrAlreadyProcessed) {
		return nil, errors.Join(ErrFailedToCreateCharge, err)
	}

	s.log.InfoContext(ctx, "charge created",
		slog.String("reference", reference),
		slog.String("provider", string(charge.Provider)),
		slog.String("external_id", charge.ExternalID),
		slog.Int64("user_id", userID),
		slog.String("plan", string(plan)),
		slog.Int64("amount", quote.Price.Amount),
		slog.String("currency", quote.Price.Currency))

	return &Session{Reference: reference, Quote: quote, Charge: charge}, nil
}

func (s *Service) createWith(ctx context.Context, id payment.ProviderID, req payment.ChargeRequest) (*payment.Charge, error) {
	provider, ok := s.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payment.ErrProviderUnavailable, id)
	}
	ctx, cancel := context.WithTimeout(ctx, chargeTimeout)
	defer cancel()
	return provider.CreateCharge(ctx, req)
}

func (s *Service) cryptoID() payment.ProviderID {
	if id, ok := s.router.SelectCrypto(entitlement.PlanLifetime); ok {
		return id
	}
	return ""
}

// ConfirmPayment is the manual "I paid" path: it polls the gateway for the
// payment's status and feeds the result into the same reconciler the
// webhooks use, so double confirmation stays harmless.
//
// A payment ID already claimed by another user is rejected with
// ErrExternalIDClaimed before any upstream call. When the gateway reports
// paid, the amount must match the plan's full or downsell price in the
// user's locale, otherwise ErrAmountMismatch.
func (s *Service) ConfirmPayment(ctx context.Context, userID int64, providerID payment.ProviderID, externalID string, plan entitlement.PlanType, locale string) (payment.ReportedStatus, error) {
	if externalID == "" {
		return "", errors.Join(ErrFailedToConfirmPayment, payment.ErrPaymentNotFound)
	}

	rec, err := s.store.Get(ctx, providerID, externalID)
	switch {
	case err == nil:
		if rec.UserID != userID {
			return "", errors.Join(ErrFailedToConfirmPayment, payment.ErrExternalIDClaimed)
		}
		// The stored record knows the plan better than the caller.
		plan = rec.Plan
	case errors.Is(err, payment.ErrPaymentNotFound):
		// No stored record: proceed with the caller-provided plan and let
		// the reconciler synthesize the record.
	default:
		return "", errors.Join(ErrFailedToConfirmPayment, err)
	}

	if paid, err := s.store.IsPaid(ctx, providerID, externalID); err == nil && paid {
		return payment.ReportedPaid, nil
	}

	provider, ok := s.providers[providerID]
	if !ok {
		return "", errors.Join(ErrFailedToConfirmPayment,
			fmt.Errorf("%w: %s", payment.ErrProviderUnavailable, providerID))
	}

	pollCtx, cancel := context.WithTimeout(ctx, chargeTimeout)
	report, err := provider.GetStatus(pollCtx, externalID)
	cancel()
	if err != nil {
		return "", errors.Join(ErrFailedToConfirmPayment, err)
	}

	if report.Status == payment.ReportedPaid {
		if err := s.verifyAmount(locale, plan, report.Amount); err != nil {
			return "", errors.Join(ErrFailedToConfirmPayment, err)
		}
	}

	n := payment.Notification{
		Provider:   providerID,
		ExternalID: externalID,
		Status:     report.Status,
		UserID:     userID,
		Plan:       plan,
		Amount:     report.Amount,
		Raw:        report.Raw,
	}
	if err := s.reconciler.Process(ctx, n); err != nil {
		return "", errors.Join(ErrFailedToConfirmPayment, err)
	}
	return report.Status, nil
}

// verifyAmount accepts the plan's full price or its downsell price. Gateways
// that do not report an amount, or report it in another currency, are
// trusted; the webhook signature or API key already authenticated the status.
func (s *Service) verifyAmount(locale string, plan entitlement.PlanType, reported pricing.Money) error {
	if reported.Amount <= 0 {
		return nil
	}
	quote, err := s.pricer.Quote(locale, plan)
	if err != nil {
		return err
	}
	if !strings.EqualFold(reported.Currency, quote.Price.Currency) {
		return nil
	}
	if reported.Amount == quote.Price.Amount || reported.Amount == quote.WithDownsell().Price.Amount {
		return nil
	}
	return fmt.Errorf("%w: reported %d, expected %d or %d %s",
		payment.ErrAmountMismatch,
		reported.Amount, quote.Price.Amount, quote.WithDownsell().Price.Amount, quote.Price.Currency)
}
