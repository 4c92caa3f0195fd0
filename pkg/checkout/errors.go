package checkout

import "errors"

var (
	ErrFailedToCreateCharge   = errors.New("failed to create charge")
	ErrFailedToConfirmPayment = errors.New("failed to confirm payment")
)
