package domain

import (
	"context"
	"time"
)

type IntentRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Intent is a remote gateway order the client widget pays against.
type Intent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	Status   string `json:"status"`
	KeyID    string `json:"key_id"`
}

type Payment struct {
	ID        string
	OrderID   string
	Amount    int64
	Currency  string
	Status    string
	Method    string
	Email     string
	Notes     map[string]string
	CreatedAt time.Time
}

// Settled reports whether the payment holds funds for the merchant.
func (p Payment) Settled() bool {
	return p.Status == "captured" || p.Status == "authorized"
}

type Refund struct {
	ID        string
	PaymentID string
	Amount    int64
	Currency  string
	Status    string
}

// Gateway wraps the remote payment API. Calls are bounded by the client timeout.
type Gateway interface {
	Provider() string
	KeyID() string
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	FetchRefund(ctx context.Context, refundID string) (*Refund, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
}
