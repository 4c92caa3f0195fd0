package pricing

import (
	"fmt"

	"github.com/rafitos77/vipgate/pkg/entitlement"
)

// DownsellDiscountPercent is the fixed discount applied to any plan price at
// call time when the user hesitated on the initial offer. It is a price
// modifier, not a stored plan.
const DownsellDiscountPercent = 30

// Money is a monetary amount in the smallest currency unit.
// R$ 9,90 is Amount: 990, Currency: "BRL".
type Money struct {
	Amount   int64
	Currency string // ISO 4217 code
}

// Format renders the amount the way the paywall displays it.
func (m Money) Format() string {
	units := m.Amount / 100
	cents := m.Amount % 100
	switch m.Currency {
	case "USD":
		return fmt.Sprintf("$%d.%02d", units, cents)
	case "BRL":
		return fmt.Sprintf("R$ %d,%02d", units, cents)
	case "EUR":
		return fmt.Sprintf("€%d.%02d", units, cents)
	}
	return fmt.Sprintf("%d.%02d %s", units, cents, m.Currency)
}

// Quote is the displayable price of one plan in one region.
type Quote struct {
	Plan  entitlement.PlanType
	Price Money
	Label string
}

// WithDownsell returns the quote with the fixed discount applied and the
// label reformatted to match.
func (q Quote) WithDownsell() Quote {
	q.Price.Amount = q.Price.Amount * (100 - DownsellDiscountPercent) / 100
	q.Label = q.Price.Format()
	return q
}
