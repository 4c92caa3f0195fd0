package payment

import (
	"context"
	"sync"
	"time"
)

type recordKey struct {
	provider   ProviderID
	externalID string
}

type memoryStore struct {
	mu   sync.Mutex
	rows map[recordKey]Record
	now  func() time.Time
}

// NewMemoryStore returns an in-memory Store implementation for tests and
// single-process deployments.
func NewMemoryStore() Store {
	return &memoryStore{
		rows: make(map[recordKey]Record),
		now:  time.Now,
	}
}

func (s *memoryStore) CreatePending(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{rec.Provider, rec.ExternalID}
	if existing, ok := s.rows[key]; ok {
		if existing.UserID != rec.UserID {
			return ErrExternalIDClaimed
		}
		if existing.Status == StatusPaid {
			return ErrAlreadyProcessed
		}
		// Retry before paid: overwrite the pending fields, keep the original
		// creation time.
		rec.CreatedAt = existing.CreatedAt
		rec.Status = StatusPending
		rec.PaidAt = nil
		s.rows[key] = rec
		return nil
	}

	rec.Status = StatusPending
	rec.CreatedAt = s.now().UTC()
	rec.PaidAt = nil
	s.rows[key] = rec
	return nil
}

func (s *memoryStore) Get(ctx context.Context, provider ProviderID, externalID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rows[recordKey{provider, externalID}]
	if !ok {
		return Record{}, ErrPaymentNotFound
	}
	return rec, nil
}

func (s *memoryStore) MarkPaid(ctx context.Context, provider ProviderID, externalID string, raw []byte) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{provider, externalID}
	rec, ok := s.rows[key]
	if !ok {
		return Record{}, false, ErrPaymentNotFound
	}
	if rec.Status != StatusPending {
		return rec, false, nil
	}

	paidAt := s.now().UTC()
	rec.Status = StatusPaid
	rec.PaidAt = &paidAt
	if len(rec.RawPayload) == 0 {
		rec.RawPayload = raw
	}
	s.rows[key] = rec
	return rec, true, nil
}

func (s *memoryStore) MarkFailed(ctx context.Context, provider ProviderID, externalID string, raw []byte) error {
	return s.markTerminal(provider, externalID, StatusFailed, raw)
}

func (s *memoryStore) MarkExpired(ctx context.Context, provider ProviderID, externalID string, raw []byte) error {
	return s.markTerminal(provider, externalID, StatusExpired, raw)
}

func (s *memoryStore) markTerminal(provider ProviderID, externalID string, status Status, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{provider, externalID}
	rec, ok := s.rows[key]
	if !ok {
		return ErrPaymentNotFound
	}
	if rec.Status != StatusPending {
		return nil
	}
	rec.Status = status
	if len(rec.RawPayload) == 0 {
		rec.RawPayload = raw
	}
	s.rows[key] = rec
	return nil
}

func (s *memoryStore) IsPaid(ctx context.Context, provider ProviderID, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rows[recordKey{provider, externalID}]
	return ok && rec.Status == StatusPaid, nil
}
