package entitlement

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu   sync.Mutex
	rows map[int64]Entitlement
	now  func() time.Time
}

// NewMemoryStore returns an in-memory Store implementation.
// Intended for tests and single-process deployments; all rows share one lock,
// which trivially satisfies the per-row atomicity contract.
func NewMemoryStore() Store {
	return &memoryStore{
		rows: make(map[int64]Entitlement),
		now:  time.Now,
	}
}

func (s *memoryStore) GetOrCreate(ctx context.Context, userID int64) (Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(userID), nil
}

func (s *memoryStore) Update(ctx context.Context, userID int64, fn func(*Entitlement) error) (Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.getOrCreateLocked(userID)
	if err := fn(&row); err != nil {
		return Entitlement{}, err
	}
	row.UpdatedAt = s.now().UTC()
	s.rows[userID] = row
	return row, nil
}

func (s *memoryStore) getOrCreateLocked(userID int64) Entitlement {
	if row, ok := s.rows[userID]; ok {
		return row
	}
	now := s.now().UTC()
	row := Entitlement{
		UserID:      userID,
		LicenseType: PlanNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.rows[userID] = row
	return row
}
