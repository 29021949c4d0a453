package domain

import "errors"

var (
	ErrOrderNotFound    = errors.New("order_not_found")
	ErrInvalidOrderID   = errors.New("invalid_order_id")
	ErrInvalidItems     = errors.New("invalid_items")
	ErrAmountMismatch   = errors.New("amount_mismatch")
	ErrNegativeDiscount = errors.New("negative_discount")
)
