// Package gatewaytest provides an in-memory payment gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/gateway"
)

type Fake struct {
	Secret string

	mu         sync.Mutex
	payments   map[string]paymentdomain.Payment
	refunds    map[string]paymentdomain.Refund
	intents    []paymentdomain.IntentRequest
	fetchErr   error
	fetchDelay time.Duration
	fetches    int
}

func New(secret string) *Fake {
	return &Fake{
		Secret:   secret,
		payments: make(map[string]paymentdomain.Payment),
		refunds:  make(map[string]paymentdomain.Refund),
	}
}

func (f *Fake) Provider() string { return gateway.ProviderRazorpay }

func (f *Fake) KeyID() string { return "rzp_test_key" }

// Sign returns a valid checkout signature for the pair.
func (f *Fake) Sign(orderID, paymentID string) string {
	return gateway.Sign([]byte(orderID+"|"+paymentID), f.Secret)
}

func (f *Fake) AddPayment(p paymentdomain.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[p.ID] = p
}

func (f *Fake) AddRefund(r paymentdomain.Refund) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds[r.ID] = r
}

// FailFetches makes every FetchPayment return err until cleared with nil.
func (f *Fake) FailFetches(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

// DelayFetches holds every FetchPayment for d, honoring ctx.
func (f *Fake) DelayFetches(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchDelay = d
}

func (f *Fake) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *Fake) Intents() []paymentdomain.IntentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]paymentdomain.IntentRequest(nil), f.intents...)
}

func (f *Fake) CreatePaymentIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, req)
	return &paymentdomain.Intent{
		ID:       fmt.Sprintf("order_fake%d", len(f.intents)),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
		KeyID:    f.KeyID(),
	}, nil
}

func (f *Fake) FetchPayment(ctx context.Context, paymentID string) (*paymentdomain.Payment, error) {
	f.mu.Lock()
	f.fetches++
	delay, fetchErr := f.fetchDelay, f.fetchErr
	payment, ok := f.payments[paymentID]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: fetch_payment: %v", paymentdomain.ErrGatewayUnavailable, ctx.Err())
		}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if !ok {
		return nil, fmt.Errorf("%w: fetch_payment: payment not found", paymentdomain.ErrGatewayRejected)
	}
	return &payment, nil
}

func (f *Fake) FetchRefund(ctx context.Context, refundID string) (*paymentdomain.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refund, ok := f.refunds[refundID]
	if !ok {
		return nil, fmt.Errorf("%w: fetch_refund: refund not found", paymentdomain.ErrGatewayRejected)
	}
	return &refund, nil
}

func (f *Fake) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return gateway.VerifyPaymentSignature(orderID, paymentID, signature, f.Secret)
}
