package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"gorm.io/gorm"
)

// Grant sources, recorded in metrics and logs.
const (
	SourceVerify  = "verify"
	SourceWebhook = "webhook"
	SourceRetry   = "retry"
)

// Payment identifies the gateway payment that settled an order.
type Payment struct {
	PaymentID string
	Status    string
	Source    string
}

type Result struct {
	// Granted is false when the order was already paid and nothing was written.
	Granted        bool
	Source         string
	Order          *orderdomain.Order
	PaidAt         time.Time
	ProductsGained int
	DocsGained     int
}

// Service marks paid orders and grants their content exactly once per order.
type Service interface {
	GrantForPaidOrder(ctx context.Context, orderID snowflake.ID, payment Payment) (*Result, error)
	// GrantInTx runs the grant inside the caller's transaction. The caller
	// must call AfterCommit once the transaction has committed.
	GrantInTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, payment Payment) (*Result, error)
	AfterCommit(ctx context.Context, res *Result)
}

// Notifier is the post-commit confirmation collaborator.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order orderdomain.Order)
}
