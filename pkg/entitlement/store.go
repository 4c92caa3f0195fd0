package entitlement

import "context"

// Store persists entitlement rows keyed by external user id.
//
// Update runs fn against the current row under a per-row lock and persists the
// mutated row before returning, inserting a defaulted row first for unknown
// users. It is the single concurrency primitive the service relies on: every
// read-modify-write of a user's row is atomic with respect to other callers,
// so concurrent Activate or quota updates for the same user cannot interleave.
// No cross-row guarantees are made.
type Store interface {
	// GetOrCreate returns the existing row or inserts defaults.
	// It must not perform any lazy normalization.
	GetOrCreate(ctx context.Context, userID int64) (Entitlement, error)

	// Update atomically applies fn to the user's row and returns the saved
	// result. An error from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, userID int64, fn func(*Entitlement) error) (Entitlement, error)
}
