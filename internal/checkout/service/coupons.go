package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	checkoutdomain "github.com/smallbiznis/storefront/internal/checkout/domain"
	"github.com/smallbiznis/storefront/internal/config"
)

// ConfigCoupons prices coupons from the checkout.coupons table, so codes
// follow config reloads.
type ConfigCoupons struct {
	checkout *config.CheckoutConfigHolder
}

func NewConfigCoupons(checkout *config.CheckoutConfigHolder) checkoutdomain.CouponPricer {
	return &ConfigCoupons{checkout: checkout}
}

func (c *ConfigCoupons) Discount(ctx context.Context, code string, subtotal int64, currency string) (int64, error) {
	coupon, ok := c.checkout.Get().Coupon(code)
	if !ok || subtotal <= 0 {
		return 0, checkoutdomain.ErrInvalidCoupon
	}

	var discount int64
	if coupon.PercentOff > 0 {
		// Half-up in minor units.
		discount = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(coupon.PercentOff)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	} else {
		if !strings.EqualFold(coupon.Currency, currency) {
			return 0, checkoutdomain.ErrInvalidCoupon
		}
		discount = coupon.AmountOff
	}
	if discount > subtotal {
		discount = subtotal
	}
	return discount, nil
}
