package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	CreateOrder(ctx context.Context, userID snowflake.ID, req CreateOrderRequest) (*CreateOrderResponse, error)
	// Verify checks the gateway signature, writes the paid order and grants
	// its content. Replaying a verified payment returns the stored order.
	Verify(ctx context.Context, userID snowflake.ID, req VerifyRequest) (*VerifyResponse, error)
	GetOrder(ctx context.Context, userID snowflake.ID, orderID string) (*OrderSummary, error)
	ListOrders(ctx context.Context, userID snowflake.ID, req ListOrdersRequest) (*ListOrdersResponse, error)
	Receipt(ctx context.Context, userID snowflake.ID, orderID string) (*Receipt, error)
}

// CouponPricer returns the discount, in minor units, that code grants on a
// subtotal. Unknown or inapplicable codes return ErrInvalidCoupon.
type CouponPricer interface {
	Discount(ctx context.Context, code string, subtotal int64, currency string) (int64, error)
}
