package domain

import "errors"

var (
	ErrInvalidPayment = errors.New("invalid_payment")
)
