package checkout

import (
	"github.com/smallbiznis/storefront/internal/checkout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(
		service.NewConfigCoupons,
		service.NewService,
	),
)
