// Package storage holds the Postgres implementations of the entitlement and
// payment stores, plus the embedded schema migrations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafitos77/vipgate/pkg/entitlement"
)

const entitlementColumns = `user_id, is_vip, license_type, license_expiry, credits,
	daily_previews_used, last_preview_date, god_mode, referred_by, referral_count,
	created_at, updated_at`

// EntitlementStore implements entitlement.Store on Postgres. Update runs its
// mutation inside a transaction holding a SELECT ... FOR UPDATE row lock, so
// concurrent read-modify-writes of the same user serialize at the database.
type EntitlementStore struct {
	pool *pgxpool.Pool
}

// NewEntitlementStore creates the store. Panics on a nil pool to fail fast
// during initialization.
func NewEntitlementStore(pool *pgxpool.Pool) *EntitlementStore {
	if pool == nil {
		panic("storage: pgxpool.Pool is required")
	}
	return &EntitlementStore{pool: pool}
}

func (s *EntitlementStore) GetOrCreate(ctx context.Context, userID int64) (entitlement.Entitlement, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO entitlements (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return entitlement.Entitlement{}, errors.Join(entitlement.ErrFailedToLoadEntitlement, err)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = $1`, userID)
	e, err := scanEntitlement(row)
	if err != nil {
		return entitlement.Entitlement{}, errors.Join(entitlement.ErrFailedToLoadEntitlement, err)
	}
	return e, nil
}

func (s *EntitlementStore) Update(ctx context.Context, userID int64, fn func(*entitlement.Entitlement) error) (entitlement.Entitlement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return entitlement.Entitlement{}, errors.Join(entitlement.ErrFailedToUpdateEntitlement, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// Lazy insert keeps the FOR UPDATE below from coming back empty for
	// first-time users.
	if _, err := tx.Exec(ctx,
		`INSERT INTO entitlements (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return entitlement.Entitlement{}, errors.Join(entitlement.ErrFailedToUpdateEntitlement, err)
	}

	row := tx.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = $1 FOR UPDATE`, userID)
	e, err := scanEntitlement(row)
	if err != nil {
		return entitlement.Entitlement{}, errors.Join(entitlement.ErrFailedToUpdateEntitlement, err)
	}

	if err := fn(&e); err != nil {
		return entitlement.Entitlement{}, err
	}
	e.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, `
		UPDATE entitlements SET
			is_vip = $2,
			license_type = $3,
			license_expiry = $4,
			credits = $5,
			daily_previews_used = $6,
			last_preview_date = $7,
			god_mode = $8,
			referred_by = $9,
			referral_count = $10,
			updated_at = $11
		WHERE user_id = $1`,
		e.UserID, e.IsVIP, string(e.LicenseType), e.LicenseExpiry, e.Credits,
		e.DailyPreviewsUsed, nullableDate(e.LastPreviewDate), e.GodMode,
		e.ReferredBy, e.ReferralCount, e.UpdatedAt,
	); err != nil {
		return entitlement.Entitlement{}, errors.Join(entitlement.ErrFailedToUpdateEntitlement, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return entitlement.Entitlement{}, errors.Join(entitlement.ErrFailedToUpdateEntitlement, err)
	}
	return e, nil
}

func scanEntitlement(row pgx.Row) (entitlement.Entitlement, error) {
	var (
		e               entitlement.Entitlement
		licenseType     string
		lastPreviewDate *time.Time
	)
	err := row.Scan(
		&e.UserID, &e.IsVIP, &licenseType, &e.LicenseExpiry, &e.Credits,
		&e.DailyPreviewsUsed, &lastPreviewDate, &e.GodMode, &e.ReferredBy,
		&e.ReferralCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return entitlement.Entitlement{}, err
	}
	e.LicenseType = entitlement.PlanType(licenseType)
	if lastPreviewDate != nil {
		e.LastPreviewDate = *lastPreviewDate
	}
	return e, nil
}

// nullableDate maps the zero time to NULL so "never previewed" round-trips.
func nullableDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
