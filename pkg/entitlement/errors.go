package entitlement

import "errors"

var (
	ErrNotFound     = errors.New("entitlement not found")
	ErrInvalidPlan  = errors.New("plan type is not purchasable")
	ErrSelfReferral = errors.New("users cannot refer themselves")

	ErrFailedToLoadEntitlement   = errors.New("failed to load entitlement")
	ErrFailedToUpdateEntitlement = errors.New("failed to update entitlement")
)
