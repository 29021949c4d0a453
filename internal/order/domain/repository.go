package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	UserID   snowflake.ID
	Status   OrderStatus
	AfterID  snowflake.ID
	PageSize int
}

type Repository interface {
	// Insert writes the order and its items. It reports false when an order
	// with the same (payment_provider, payment_id) already exists.
	Insert(ctx context.Context, db *gorm.DB, order *Order) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByPayment(ctx context.Context, db *gorm.DB, provider, paymentID string) (*Order, error)
	FindByGatewayOrderID(ctx context.Context, db *gorm.DB, provider, gatewayOrderID string) (*Order, error)
	// LockByID reads the order row under a row lock for the rest of the transaction.
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]OrderItem, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Order, error)

	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, t PaidTransition) error
	SetLicenseKey(ctx context.Context, db *gorm.DB, itemID snowflake.ID, key string) error
	UpdatePaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) (bool, error)
	MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) (bool, error)
	// ClaimConfirmation sets confirmation_sent_at if unset and reports whether
	// this caller won the claim.
	ClaimConfirmation(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	FindInvoice(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Invoice, error)
}
