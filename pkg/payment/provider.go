package payment

import (
	"context"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

// ReportedStatus is the normalized upstream payment state. Each adapter maps
// its gateway's vocabulary onto this set.
type ReportedStatus string

const (
	ReportedPending ReportedStatus = "pending"
	ReportedPaid    ReportedStatus = "paid"
	ReportedFailed  ReportedStatus = "failed"
	ReportedExpired ReportedStatus = "expired"
)

// ChargeRequest contains everything an adapter needs to create a charge.
type ChargeRequest struct {
	UserID     int64
	Plan       entitlement.PlanType
	Price      pricing.Money
	Locale     string
	SuccessURL string
	CancelURL  string
}

// Charge is the normalized result of creating a charge with any gateway.
// Only the fields relevant to the chosen gateway are set.
type Charge struct {
	Provider    ProviderID
	ExternalID  string
	CheckoutURL string

	// PIX extras (domestic providers)
	PixCopyPaste string
	PixQRCodePNG []byte

	// Crypto extras
	CryptoPayAddress  string
	CryptoPayAmount   string
	CryptoPayCurrency string

	Raw []byte
}

// StatusReport is the result of a manual status poll.
type StatusReport struct {
	Status ReportedStatus
	// Amount as reported by the gateway; zero value when the gateway does not
	// report one.
	Amount pricing.Money
	Raw    []byte
}

// Provider is the contract every payment gateway adapter implements.
// Adapters are swappable; the core never branches on provider identity except
// via the Router. Constructors return ErrProviderUnavailable when the gateway
// is not configured, and methods wrap upstream failures with ErrProviderRejected
// or ErrProviderTimeout.
type Provider interface {
	ID() ProviderID
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetStatus(ctx context.Context, externalID string) (StatusReport, error)
}
