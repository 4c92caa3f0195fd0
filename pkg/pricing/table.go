package pricing

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"

	"github.com/rafitos77/vipgate/pkg/entitlement"
)

// fallbackRegion is used when a user locale matches no configured region.
const fallbackRegion = "en"

// Table answers price lookups by user locale. It is immutable after
// construction and safe for concurrent use.
type Table struct {
	regions map[string]map[entitlement.PlanType]Quote
	matcher language.Matcher
	keys    []string // region key per matcher tag index
}

// NewTable builds a Table from the given source and validates that every
// region prices all three purchasable plans.
func NewTable(src Source) (*Table, error) {
	if src == nil {
		panic("pricing: Source is required")
	}

	regions, err := src.Load()
	if err != nil {
		return nil, err
	}
	if _, ok := regions[fallbackRegion]; !ok {
		return nil, fmt.Errorf("%w: fallback region %q is missing", ErrInvalidPricing, fallbackRegion)
	}

	t := &Table{regions: make(map[string]map[entitlement.PlanType]Quote, len(regions))}

	// The fallback region goes first: language.Matcher returns the first tag
	// when nothing matches.
	keys := make([]string, 0, len(regions))
	keys = append(keys, fallbackRegion)
	for key := range regions {
		if key != fallbackRegion {
			keys = append(keys, key)
		}
	}

	tags := make([]language.Tag, 0, len(keys))
	for _, key := range keys {
		tag, err := language.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("%w: region key %q is not a language tag", ErrInvalidPricing, key)
		}
		tags = append(tags, tag)

		region := regions[key]
		if region.Currency == "" {
			return nil, fmt.Errorf("%w: region %q has no currency", ErrInvalidPricing, key)
		}
		quotes := make(map[entitlement.PlanType]Quote, 3)
		for _, plan := range []entitlement.PlanType{entitlement.PlanWeekly, entitlement.PlanMonthly, entitlement.PlanLifetime} {
			amount, ok := region.Plans[plan]
			if !ok || amount <= 0 {
				return nil, fmt.Errorf("%w: region %q plan %q has no positive price", ErrInvalidPricing, key, plan)
			}
			price := Money{Amount: amount, Currency: region.Currency}
			quotes[plan] = Quote{Plan: plan, Price: price, Label: price.Format()}
		}
		t.regions[key] = quotes
	}

	t.matcher = language.NewMatcher(tags)
	t.keys = keys
	return t, nil
}

// Region resolves a user locale ("pt-BR", "en", "es-419") to the configured
// region key, falling back to English for unknown locales.
func (t *Table) Region(locale string) string {
	if locale == "" {
		return fallbackRegion
	}
	_, index, _ := t.matcher.Match(language.Make(locale))
	return t.keys[index]
}

// Quotes returns all plan quotes for the user's locale.
func (t *Table) Quotes(locale string) map[entitlement.PlanType]Quote {
	quotes := t.regions[t.Region(locale)]
	out := make(map[entitlement.PlanType]Quote, len(quotes))
	for plan, q := range quotes {
		out[plan] = q
	}
	return out
}

// Quote returns the price of one plan for the user's locale.
func (t *Table) Quote(locale string, plan entitlement.PlanType) (Quote, error) {
	q, ok := t.regions[t.Region(locale)][plan]
	if !ok {
		return Quote{}, errors.Join(ErrUnknownPlan, fmt.Errorf("plan %q", plan))
	}
	return q, nil
}
