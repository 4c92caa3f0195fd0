package entitlement

import "time"

// PlanType identifies a purchasable access tier.
type PlanType string

const (
	PlanNone     PlanType = "none"
	PlanWeekly   PlanType = "weekly"
	PlanMonthly  PlanType = "monthly"
	PlanLifetime PlanType = "lifetime"
)

// Purchasable reports whether the plan can be bought.
func (p PlanType) Purchasable() bool {
	switch p {
	case PlanWeekly, PlanMonthly, PlanLifetime:
		return true
	}
	return false
}

// Duration returns how long a license of this plan lasts. The second return
// value is false for lifetime licenses, which never expire.
func (p PlanType) Duration() (time.Duration, bool) {
	switch p {
	case PlanWeekly:
		return 7 * 24 * time.Hour, true
	case PlanMonthly:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

// Entitlement is the stored record of a user's access rights.
// One row per external user id, created lazily with defaults and never deleted.
type Entitlement struct {
	UserID            int64
	IsVIP             bool
	LicenseType       PlanType
	LicenseExpiry     *time.Time // nil means no expiry (lifetime)
	Credits           int
	DailyPreviewsUsed int
	LastPreviewDate   time.Time // date only, zero when the user never previewed
	GodMode           bool      // operator self-test toggle
	ReferredBy        *int64
	ReferralCount     int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LicenseActiveAt reports whether the stored license grants access at the
// given time, ignoring credits and operator overrides.
func (e *Entitlement) LicenseActiveAt(now time.Time) bool {
	if !e.IsVIP {
		return false
	}
	if e.LicenseType == PlanLifetime || e.LicenseExpiry == nil {
		return true
	}
	return e.LicenseExpiry.After(now)
}

// LicenseLapsed reports whether a VIP license has expired and the row still
// needs its lazy normalization back to the default state.
func (e *Entitlement) LicenseLapsed(now time.Time) bool {
	return e.IsVIP && !e.LicenseActiveAt(now)
}
