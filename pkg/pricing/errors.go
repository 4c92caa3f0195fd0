package pricing

import "errors"

var (
	ErrFailedToLoadPricing = errors.New("failed to load pricing table")
	ErrInvalidPricing      = errors.New("invalid pricing configuration")
	ErrUnknownPlan         = errors.New("no price configured for plan")
)
