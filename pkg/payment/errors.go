package payment

import "errors"

var (
	ErrPaymentNotFound   = errors.New("payment record not found")
	ErrExternalIDClaimed = errors.New("external id already claimed by another user")
	ErrUnknownProvider   = errors.New("unknown payment provider")

	// ErrAlreadyProcessed marks an idempotency short-circuit, not a failure.
	// Callers should treat it as success.
	ErrAlreadyProcessed = errors.New("payment already processed")

	// Provider error taxonomy. Adapters wrap their upstream failures with one
	// of these so callers can pick a user-facing fallback without inspecting
	// gateway-specific errors.
	ErrProviderUnavailable = errors.New("payment provider not configured")
	ErrProviderRejected    = errors.New("payment provider rejected the request")
	ErrProviderTimeout     = errors.New("payment provider timed out")

	// ErrUnauthorized means a webhook signature or token check failed.
	// Never retried: the caller rejects the delivery before any state mutation.
	ErrUnauthorized = errors.New("webhook authentication failed")

	// ErrAmountMismatch is returned on the manual-confirmation path when the
	// reported amount does not match the expected plan price.
	ErrAmountMismatch = errors.New("payment amount does not match plan price")
)
