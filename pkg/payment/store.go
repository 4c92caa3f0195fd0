package payment

import "context"

// Store persists payment records keyed by (provider, external id).
//
// Every mutation is atomic per record. Implementations must make MarkPaid a
// single conditional write so that two concurrent "paid" deliveries for the
// same key yield exactly one transition.
type Store interface {
	// CreatePending upserts a pending record. Re-running it for the same key
	// and user overwrites the pending fields, and a failed or expired record
	// is reset back to pending (retry before paid); the original creation
	// time is kept and PaidAt is cleared. It returns ErrExternalIDClaimed
	// when the key belongs to a different user and ErrAlreadyProcessed when
	// the record is already paid. Paid is the only state CreatePending never
	// leaves.
	CreatePending(ctx context.Context, rec Record) error

	// Get returns the stored record or ErrPaymentNotFound.
	Get(ctx context.Context, provider ProviderID, externalID string) (Record, error)

	// MarkPaid transitions pending -> paid, filling PaidAt at most once and
	// keeping the first non-empty raw payload. It reports whether this call
	// performed the transition; calling it again, or for a record in any
	// terminal state, is a no-op with transitioned=false.
	MarkPaid(ctx context.Context, provider ProviderID, externalID string, raw []byte) (Record, bool, error)

	// MarkFailed and MarkExpired transition pending records to their terminal
	// failure states. Records already terminal are left untouched.
	MarkFailed(ctx context.Context, provider ProviderID, externalID string, raw []byte) error
	MarkExpired(ctx context.Context, provider ProviderID, externalID string, raw []byte) error

	// IsPaid is the convenience guard consulted before any reconciliation
	// action.
	IsPaid(ctx context.Context, provider ProviderID, externalID string) (bool, error)
}
