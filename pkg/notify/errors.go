package notify

import "errors"

var (
	ErrDeliveryFailed     = errors.New("callback delivery failed")
	ErrPermanentFailure   = errors.New("permanent callback failure")
	ErrInvalidCallbackURL = errors.New("invalid callback URL")
)
