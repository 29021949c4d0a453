package domain

import "errors"

var (
	ErrInvalidRequest    = errors.New("invalid_request")
	ErrInvalidUser       = errors.New("invalid_user")
	ErrCurrencyMismatch  = errors.New("currency_mismatch")
	ErrOrderNotPaid      = errors.New("order_not_paid")
	ErrReceiptNotAllowed = errors.New("receipt_not_allowed")
	ErrInvalidCoupon     = errors.New("invalid_coupon")
)
