package entitlement

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DailyPreviewCap is the number of free previews a user gets per day.
	DailyPreviewCap = 3
	// ReferralBonusCredits is granted to a referrer once per referred user.
	ReferralBonusCredits = 3
)

// Config holds the operator override settings.
type Config struct {
	// OperatorID is the external id of the operator account. Zero disables
	// every operator override.
	OperatorID int64 `env:"OPERATOR_ID"`
	// OperatorForceVIP keeps the operator account permanently VIP. When false,
	// the per-row god mode toggle decides, so the operator can flip it off to
	// see the regular user experience.
	OperatorForceVIP bool `env:"OPERATOR_FORCE_VIP" envDefault:"false"`
}

// Service is the single authoritative interface for access gating. All
// access-gating logic must go through IsActive and CheckPreviewLimit rather
// than re-deriving VIP status from the stored row.
type Service interface {
	GetOrCreate(ctx context.Context, userID int64) (Entitlement, error)

	// IsActive reports whether the user currently has full access: positive
	// credits, an operator override, or a live license. A lapsed license is
	// normalized back to the default state as a side effect before returning
	// false.
	IsActive(ctx context.Context, userID int64) (bool, error)

	// Activate grants the plan's license. Idempotent and never a downgrade:
	// lifetime is kept over anything, renewing the same still-active plan
	// extends from the current expiry, anything else starts fresh from now.
	Activate(ctx context.Context, userID int64, plan PlanType) (Entitlement, error)

	// UseCredit spends one credit if any are available and reports whether it
	// did. Credits bypass the preview quota independent of license status.
	UseCredit(ctx context.Context, userID int64) (bool, error)

	// GrantReferralReward attributes newUserID to referrerID and rewards the
	// referrer with ReferralBonusCredits. Attribution happens at most once per
	// referred user; repeat calls are no-ops.
	GrantReferralReward(ctx context.Context, newUserID, referrerID int64) error

	// CheckPreviewLimit reports whether the user may take another free
	// preview today. Active users are unlimited. The first call on a new day
	// resets the counter before answering.
	CheckPreviewLimit(ctx context.Context, userID int64) (bool, error)

	// IncrementPreviews records one consumed preview. It does not enforce the
	// cap; callers must consult CheckPreviewLimit first.
	IncrementPreviews(ctx context.Context, userID int64) error

	// SetGodMode flips the operator self-test toggle. The flag is stored for
	// any row but only consulted for the configured operator id.
	SetGodMode(ctx context.Context, userID int64, enabled bool) error
}

// Option configures the service.
type Option func(*service)

// WithNow overrides the clock, used by tests to control expiry and quota
// reset boundaries.
func WithNow(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

type service struct {
	store Store
	cfg   Config
	now   func() time.Time
	log   *slog.Logger
}

// NewService creates the entitlement service.
// Panics if store is nil to fail fast during initialization.
func NewService(store Store, cfg Config, opts ...Option) Service {
	if store == nil {
		panic("entitlement: Store is required")
	}
	s := &service{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) GetOrCreate(ctx context.Context, userID int64) (Entitlement, error) {
	return s.store.GetOrCreate(ctx, userID)
}

func (s *service) IsActive(ctx context.Context, userID int64) (bool, error) {
	var active bool
	_, err := s.store.Update(ctx, userID, func(e *Entitlement) error {
		if s.operatorOverride(userID, e) {
			active = true
			return nil
		}
		if e.Credits > 0 {
			active = true
			return nil
		}
		if !e.IsVIP {
			return nil
		}
		now := s.now().UTC()
		if e.LicenseActiveAt(now) {
			active = true
			return nil
		}
		// Lazy expiry: the lapsed license is normalized inside the same row
		// lock, so concurrent callers observe either the old VIP row or the
		// fully downgraded one.
		e.IsVIP = false
		e.LicenseType = PlanNone
		e.LicenseExpiry = nil
		s.log.InfoContext(ctx, "license expired, entitlement downgraded", slog.Int64("user_id", userID))
		return nil
	})
	if err != nil {
		return false, err
	}
	return active, nil
}

// operatorOverride implements the precedence rule for the two operator escape
// hatches: the OPERATOR_FORCE_VIP deployment flag always wins, and the stored
// god mode toggle is only consulted when the flag is off.
func (s *service) operatorOverride(userID int64, e *Entitlement) bool {
	if s.cfg.OperatorID == 0 || userID != s.cfg.OperatorID {
		return false
	}
	if s.cfg.OperatorForceVIP {
		return true
	}
	return e.GodMode
}

func (s *service) Activate(ctx context.Context, userID int64, plan PlanType) (Entitlement, error) {
	if !plan.Purchasable() {
		return Entitlement{}, ErrInvalidPlan
	}
	row, err := s.store.Update(ctx, userID, func(e *Entitlement) error {
		now := s.now().UTC()

		// Nothing outranks an active lifetime license.
		if e.IsVIP && e.LicenseType == PlanLifetime {
			return nil
		}

		if plan == PlanLifetime {
			e.IsVIP = true
			e.LicenseType = PlanLifetime
			e.LicenseExpiry = nil
			return nil
		}

		d, _ := plan.Duration()
		base := now
		// Renewing the same still-active plan extends from the current expiry
		// so the user keeps the time they already paid for.
		if e.IsVIP && e.LicenseType == plan && e.LicenseExpiry != nil && e.LicenseExpiry.After(now) {
			base = *e.LicenseExpiry
		}
		expiry := base.Add(d)
		e.IsVIP = true
		e.LicenseType = plan
		e.LicenseExpiry = &expiry
		return nil
	})
	if err != nil {
		return Entitlement{}, err
	}
	s.log.InfoContext(ctx, "license activated",
		slog.Int64("user_id", userID),
		slog.String("plan", string(plan)))
	return row, nil
}

func (s *service) UseCredit(ctx context.Context, userID int64) (bool, error) {
	used := false
	_, err := s.store.Update(ctx, userID, func(e *Entitlement) error {
		if e.Credits > 0 {
			e.Credits--
			used = true
		}
		return nil
	})
	return used, err
}

func (s *service) GrantReferralReward(ctx context.Context, newUserID, referrerID int64) error {
	if newUserID == referrerID {
		return ErrSelfReferral
	}

	claimed := false
	if _, err := s.store.Update(ctx, newUserID, func(e *Entitlement) error {
		if e.ReferredBy != nil {
			return nil // attribution happens once per referred user
		}
		ref := referrerID
		e.ReferredBy = &ref
		claimed = true
		return nil
	}); err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if _, err := s.store.Update(ctx, referrerID, func(e *Entitlement) error {
		e.ReferralCount++
		e.Credits += ReferralBonusCredits
		return nil
	}); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "referral reward granted",
		slog.Int64("referrer_id", referrerID),
		slog.Int64("new_user_id", newUserID))
	return nil
}

func (s *service) CheckPreviewLimit(ctx context.Context, userID int64) (bool, error) {
	active, err := s.IsActive(ctx, userID)
	if err != nil {
		return false, err
	}
	if active {
		return true, nil
	}

	allowed := false
	_, err = s.store.Update(ctx, userID, func(e *Entitlement) error {
		today := dateOnly(s.now())
		if !e.LastPreviewDate.Equal(today) {
			e.DailyPreviewsUsed = 0
			e.LastPreviewDate = today
			allowed = true
			return nil
		}
		allowed = e.DailyPreviewsUsed < DailyPreviewCap
		return nil
	})
	return allowed, err
}

func (s *service) IncrementPreviews(ctx context.Context, userID int64) error {
	_, err := s.store.Update(ctx, userID, func(e *Entitlement) error {
		e.DailyPreviewsUsed++
		return nil
	})
	return err
}

func (s *service) SetGodMode(ctx context.Context, userID int64, enabled bool) error {
	_, err := s.store.Update(ctx, userID, func(e *Entitlement) error {
		e.GodMode = enabled
		return nil
	})
	return err
}

// dateOnly truncates a time to its UTC calendar date.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
