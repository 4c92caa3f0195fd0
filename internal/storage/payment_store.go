package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

// PaymentStore implements payment.Store on Postgres. Every mutation is a
// single conditional statement, so idempotency under concurrent webhook
// deliveries holds without explicit locking: exactly one of N racing
// MarkPaid calls sees a row affected, and CreatePending can never move a
// row out of paid or across users.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore creates the store. Panics on a nil pool to fail fast
// during initialization.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	if pool == nil {
		panic("storage: pgxpool.Pool is required")
	}
	return &PaymentStore{pool: pool}
}

func (s *PaymentStore) CreatePending(ctx context.Context, rec payment.Record) error {
	// Retry before paid: a failed or expired row is reset back to pending
	// when the same user starts a fresh charge attempt, keeping the original
	// creation time. The upsert never touches a paid row or a row owned by a
	// different user; an unmatched conflict leaves zero rows affected and the
	// follow-up read turns that into the typed error.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO payments (user_id, provider, external_id, amount, currency, plan, status, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, now())
		ON CONFLICT (provider, external_id) DO UPDATE SET
			status = 'pending',
			paid_at = NULL,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			plan = EXCLUDED.plan,
			raw_payload = EXCLUDED.raw_payload
		WHERE payments.status <> 'paid' AND payments.user_id = EXCLUDED.user_id`,
		rec.UserID, string(rec.Provider), rec.ExternalID,
		rec.Amount.Amount, rec.Amount.Currency, string(rec.Plan), rec.RawPayload,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := s.Get(ctx, rec.Provider, rec.ExternalID)
	if err != nil {
		return err
	}
	if existing.UserID != rec.UserID {
		return payment.ErrExternalIDClaimed
	}
	return payment.ErrAlreadyProcessed
}

func (s *PaymentStore) Get(ctx context.Context, provider payment.ProviderID, externalID string) (payment.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, provider, external_id, amount, currency, plan, status, created_at, paid_at, raw_payload
		FROM payments WHERE provider = $1 AND external_id = $2`,
		string(provider), externalID)
	return scanPayment(row)
}

func (s *PaymentStore) MarkPaid(ctx context.Context, provider payment.ProviderID, externalID string, raw []byte) (payment.Record, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments SET
			status = 'paid',
			paid_at = COALESCE(paid_at, now()),
			raw_payload = COALESCE(raw_payload, $3)
		WHERE provider = $1 AND external_id = $2 AND status = 'pending'`,
		string(provider), externalID, raw)
	if err != nil {
		return payment.Record{}, false, err
	}

	rec, err := s.Get(ctx, provider, externalID)
	if err != nil {
		return payment.Record{}, false, err
	}
	return rec, tag.RowsAffected() == 1, nil
}

func (s *PaymentStore) MarkFailed(ctx context.Context, provider payment.ProviderID, externalID string, raw []byte) error {
	return s.markTerminal(ctx, provider, externalID, payment.StatusFailed, raw)
}

func (s *PaymentStore) MarkExpired(ctx context.Context, provider payment.ProviderID, externalID string, raw []byte) error {
	return s.markTerminal(ctx, provider, externalID, payment.StatusExpired, raw)
}

func (s *PaymentStore) markTerminal(ctx context.Context, provider payment.ProviderID, externalID string, status payment.Status, raw []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE payments SET
			status = $3,
			raw_payload = COALESCE(raw_payload, $4)
		WHERE provider = $1 AND external_id = $2 AND status = 'pending'`,
		string(provider), externalID, string(status), raw)
	return err
}

func (s *PaymentStore) IsPaid(ctx context.Context, provider payment.ProviderID, externalID string) (bool, error) {
	var paid bool
	err := s.pool.QueryRow(ctx,
		`SELECT status = 'paid' FROM payments WHERE provider = $1 AND external_id = $2`,
		string(provider), externalID).Scan(&paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return paid, nil
}

func scanPayment(row pgx.Row) (payment.Record, error) {
	var (
		rec                                payment.Record
		providerID, plan, status, currency string
		amount                             int64
		paidAt                             *time.Time
	)
	err := row.Scan(
		&rec.UserID, &providerID, &rec.ExternalID, &amount, &currency,
		&plan, &status, &rec.CreatedAt, &paidAt, &rec.RawPayload,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Record{}, payment.ErrPaymentNotFound
	}
	if err != nil {
		return payment.Record{}, err
	}
	rec.Provider = payment.ProviderID(providerID)
	rec.Plan = entitlement.PlanType(plan)
	rec.Status = payment.Status(status)
	rec.Amount = pricing.Money{Amount: amount, Currency: currency}
	rec.PaidAt = paidAt
	return rec, nil
}
