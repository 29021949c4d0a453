package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

type ItemType string

const (
	ItemTypeProduct ItemType = "product"
	ItemTypeDoc     ItemType = "doc"
)

// Order is one purchase. Amounts are minor units of Currency.
// IsPaid is true exactly when PaidAt is set and OrderStatus is not PENDING.
type Order struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	UserID             snowflake.ID `gorm:"column:user_id;not null;index"`
	SubtotalAmount     int64        `gorm:"column:subtotal_amount;not null"`
	DiscountAmount     int64        `gorm:"column:discount_amount;not null;default:0"`
	TotalAmount        int64        `gorm:"column:total_amount;not null"`
	Currency           string       `gorm:"type:varchar(3);not null"`
	CouponCode         *string      `gorm:"column:coupon_code;type:text"`
	GatewayOrderID     *string      `gorm:"column:gateway_order_id;type:text;index"`
	PaymentID          *string      `gorm:"column:payment_id;type:text;uniqueIndex:ux_orders_provider_payment,priority:2"`
	PaymentProvider    string       `gorm:"column:payment_provider;type:text;not null;uniqueIndex:ux_orders_provider_payment,priority:1"`
	PaymentStatus      string       `gorm:"column:payment_status;type:text"`
	IsPaid             bool         `gorm:"column:is_paid;not null;default:false"`
	PaidAt             *time.Time   `gorm:"column:paid_at"`
	OrderStatus        OrderStatus  `gorm:"column:order_status;type:text;not null"`
	DownloadExpiry     *time.Time   `gorm:"column:download_expiry"`
	ConfirmationSentAt *time.Time   `gorm:"column:confirmation_sent_at"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (Order) TableName() string { return "orders" }

// OrderItem references exactly one of ProductID or PremiumDocID. UnitAmount
// is the catalog price captured when the order was written.
type OrderItem struct {
	ID           snowflake.ID  `gorm:"primaryKey"`
	OrderID      snowflake.ID  `gorm:"column:order_id;not null;index"`
	ProductID    *snowflake.ID `gorm:"column:product_id;check:chk_order_items_target,(product_id IS NULL) <> (premium_doc_id IS NULL)"`
	PremiumDocID *snowflake.ID `gorm:"column:premium_doc_id"`
	Qty          int           `gorm:"not null;check:chk_order_items_qty,qty >= 1"`
	UnitAmount   int64         `gorm:"column:unit_amount;not null"`
	ItemType     ItemType      `gorm:"column:item_type;type:text;not null"`
	LicenseType  string        `gorm:"column:license_type;type:text"`
	LicenseKey   *string       `gorm:"column:license_key;type:text"`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OrderItem) TableName() string { return "order_items" }

// LineTotal is the unit snapshot times quantity.
func (i OrderItem) LineTotal() int64 {
	return i.UnitAmount * int64(i.Qty)
}

// TargetID returns the referenced product or doc id.
func (i OrderItem) TargetID() snowflake.ID {
	if i.ProductID != nil {
		return *i.ProductID
	}
	if i.PremiumDocID != nil {
		return *i.PremiumDocID
	}
	return 0
}

// Invoice is the derived invoice record for a paid order, one per order.
type Invoice struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	OrderID       snowflake.ID `gorm:"column:order_id;not null;uniqueIndex"`
	InvoiceNumber string       `gorm:"column:invoice_number;type:text;not null;uniqueIndex"`
	TotalAmount   int64        `gorm:"column:total_amount;not null"`
	Currency      string       `gorm:"type:varchar(3);not null"`
	IssuedAt      time.Time    `gorm:"column:issued_at;not null"`
}

func (Invoice) TableName() string { return "order_invoices" }

// PaidTransition carries the fields written when an order becomes paid.
type PaidTransition struct {
	PaidAt         time.Time
	DownloadExpiry time.Time
	PaymentID      string
	PaymentStatus  string
}
