package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateOrderRequest asks the gateway for a payment intent. Amount is in
// major units of Currency.
type CreateOrderRequest struct {
	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency" validate:"omitempty,len=3,alpha"`
	Receipt  string            `json:"receipt" validate:"max=40"`
	Notes    map[string]string `json:"notes" validate:"max=15"`
}

type CreateOrderResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyIdForClientWidget"`
}

type VerifyRequest struct {
	GatewayOrderID   string    `json:"gatewayOrderId" validate:"required,max=64"`
	GatewayPaymentID string    `json:"gatewayPaymentId" validate:"required,max=64"`
	Signature        string    `json:"signature" validate:"required,max=256"`
	OrderData        OrderData `json:"orderData"`
}

// OrderData is what the client believes it bought. Prices are re-read from
// the catalog; TotalPrice must equal what the gateway captured.
type OrderData struct {
	Items      []ItemInput      `json:"items" validate:"required,min=1,max=50,dive"`
	TotalPrice decimal.Decimal  `json:"totalPrice"`
	CouponCode string           `json:"couponCode" validate:"max=64"`
	Discount   *decimal.Decimal `json:"discount,omitempty"`
}

type ItemInput struct {
	ProductID   string          `json:"productId" validate:"required_without=DocID,excluded_with=DocID"`
	DocID       string          `json:"docId" validate:"required_without=ProductID"`
	Qty         int             `json:"qty" validate:"gte=0,lte=100"`
	Price       decimal.Decimal `json:"price"`
	LicenseType string          `json:"licenseType" validate:"max=32"`
}

type VerifyResponse struct {
	Order OrderSummary `json:"order"`
}

type ItemSummary struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId,omitempty"`
	DocID       string `json:"docId,omitempty"`
	ItemType    string `json:"itemType"`
	Qty         int    `json:"qty"`
	Price       string `json:"price"`
	LicenseType string `json:"licenseType,omitempty"`
	LicenseKey  string `json:"licenseKey,omitempty"`
}

// OrderSummary renders amounts in major units with the currency's precision.
type OrderSummary struct {
	ID             string        `json:"id"`
	InvoiceNumber  string        `json:"invoiceNumber,omitempty"`
	Items          []ItemSummary `json:"items"`
	Subtotal       string        `json:"subtotal"`
	Discount       string        `json:"discount"`
	TotalPrice     string        `json:"totalPrice"`
	Currency       string        `json:"currency"`
	CouponCode     string        `json:"couponCode,omitempty"`
	PaymentID      string        `json:"paymentId,omitempty"`
	PaymentStatus  string        `json:"paymentStatus,omitempty"`
	IsPaid         bool          `json:"isPaid"`
	PaidAt         *time.Time    `json:"paidAt,omitempty"`
	OrderStatus    string        `json:"orderStatus"`
	DownloadExpiry *time.Time    `json:"downloadExpiry,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type ListOrdersRequest struct {
	Status    string `form:"status" validate:"omitempty,oneof=PENDING COMPLETED REFUNDED"`
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=20" validate:"gte=1,lte=100"`
}

type ListOrdersResponse struct {
	Orders        []OrderSummary `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
	HasMore       bool           `json:"has_more"`
}

type Receipt struct {
	Filename string
	Content  []byte
}
