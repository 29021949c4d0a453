package notification

import (
	entitlementdomain "github.com/smallbiznis/storefront/internal/entitlement/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(NewUserRecipients),
	fx.Provide(fx.Annotate(NewDispatcher, fx.As(new(entitlementdomain.Notifier)))),
)
