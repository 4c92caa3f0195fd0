package payment

import (
	"fmt"
	"time"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

// Status is the lifecycle state of a payment record.
// pending -> paid is the only success transition; pending -> failed and
// pending -> expired are the terminal failures. Nothing leaves a terminal
// state.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusExpired
}

// ProviderID is the closed set of payment gateways. Inbound identifiers are
// decoded once at the boundary with ParseProviderID and never re-parsed
// downstream.
type ProviderID string

const (
	ProviderStripe      ProviderID = "stripe"
	ProviderAsaas       ProviderID = "asaas"
	ProviderPushinPay   ProviderID = "pushinpay"
	ProviderNOWPayments ProviderID = "nowpayments"
	ProviderPayPal      ProviderID = "paypal"
)

// ParseProviderID decodes a provider identifier from the wire.
func ParseProviderID(s string) (ProviderID, error) {
	switch ProviderID(s) {
	case ProviderStripe, ProviderAsaas, ProviderPushinPay, ProviderNOWPayments, ProviderPayPal:
		return ProviderID(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Record is one attempted charge, keyed by (Provider, ExternalID).
// Many records may reference one entitlement; a successful transition to paid
// triggers exactly one license activation.
type Record struct {
	UserID     int64
	Provider   ProviderID
	ExternalID string
	Amount     pricing.Money
	Plan       entitlement.PlanType
	Status     Status
	CreatedAt  time.Time
	PaidAt     *time.Time
	RawPayload []byte // opaque upstream payload, kept for audits
}
