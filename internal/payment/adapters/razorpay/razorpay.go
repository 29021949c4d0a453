package razorpay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/gateway"
)

const (
	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return gateway.ProviderRazorpay
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

func (a *Adapter) EventID(payload []byte, headers http.Header) string {
	return strings.TrimSpace(headers.Get(HeaderEventID))
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(HeaderSignature))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if !gateway.VerifyWebhookSignature(payload, signature, a.webhookSecret) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type razorpayEvent struct {
	Entity    string          `json:"entity"`
	Event     string          `json:"event"`
	CreatedAt int64           `json:"created_at"`
	Payload   razorpayPayload `json:"payload"`
}

type razorpayPayload struct {
	Payment      *entityWrapper `json:"payment"`
	Order        *entityWrapper `json:"order"`
	Refund       *entityWrapper `json:"refund"`
	Subscription *entityWrapper `json:"subscription"`
}

type entityWrapper struct {
	Entity json.RawMessage `json:"entity"`
}

type paymentEntity struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type orderEntity struct {
	ID         string `json:"id"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"created_at"`
}

type refundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type subscriptionEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event razorpayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	eventType := strings.TrimSpace(event.Event)
	if eventType == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.PaymentEvent{
		Provider:   gateway.ProviderRazorpay,
		Type:       eventType,
		OccurredAt: timestamp(event.CreatedAt, 0),
		RawPayload: payload,
	}

	switch eventType {
	case paymentdomain.EventTypePaymentCaptured,
		paymentdomain.EventTypePaymentAuthorized,
		paymentdomain.EventTypePaymentFailed:
		if err := applyPayment(out, event.Payload.Payment, true); err != nil {
			return nil, err
		}
	case paymentdomain.EventTypeOrderPaid:
		if err := applyOrder(out, event.Payload.Order); err != nil {
			return nil, err
		}
		if err := applyPayment(out, event.Payload.Payment, false); err != nil {
			return nil, err
		}
	case paymentdomain.EventTypeRefundCreated,
		paymentdomain.EventTypeRefundProcessed:
		if err := applyRefund(out, event.Payload.Refund); err != nil {
			return nil, err
		}
		if event.Payload.Payment != nil {
			var payment paymentEntity
			if err := json.Unmarshal(event.Payload.Payment.Entity, &payment); err == nil {
				out.GatewayOrderID = strings.TrimSpace(payment.OrderID)
			}
		}
	case paymentdomain.EventTypeSubscriptionActivated,
		paymentdomain.EventTypeSubscriptionCancelled,
		paymentdomain.EventTypeSubscriptionCharged:
		if event.Payload.Subscription != nil {
			var sub subscriptionEntity
			if err := json.Unmarshal(event.Payload.Subscription.Entity, &sub); err != nil {
				return nil, paymentdomain.ErrInvalidPayload
			}
			out.SubscriptionID = strings.TrimSpace(sub.ID)
			out.Status = strings.ToLower(strings.TrimSpace(sub.Status))
		}
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	return out, nil
}

func applyPayment(out *paymentdomain.PaymentEvent, wrapper *entityWrapper, required bool) error {
	if wrapper == nil || len(wrapper.Entity) == 0 {
		if required {
			return paymentdomain.ErrInvalidEvent
		}
		return nil
	}
	var payment paymentEntity
	if err := json.Unmarshal(wrapper.Entity, &payment); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(payment.ID) == "" {
		return paymentdomain.ErrInvalidEvent
	}

	out.PaymentID = strings.TrimSpace(payment.ID)
	if out.GatewayOrderID == "" {
		out.GatewayOrderID = strings.TrimSpace(payment.OrderID)
	}
	if out.Amount == 0 {
		out.Amount = payment.Amount
	}
	if out.Currency == "" {
		out.Currency = strings.ToUpper(strings.TrimSpace(payment.Currency))
	}
	out.Status = strings.ToLower(strings.TrimSpace(payment.Status))
	if payment.CreatedAt > 0 {
		out.OccurredAt = timestamp(payment.CreatedAt, 0)
	}
	return nil
}

func applyOrder(out *paymentdomain.PaymentEvent, wrapper *entityWrapper) error {
	if wrapper == nil || len(wrapper.Entity) == 0 {
		return paymentdomain.ErrInvalidEvent
	}
	var order orderEntity
	if err := json.Unmarshal(wrapper.Entity, &order); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(order.ID) == "" {
		return paymentdomain.ErrInvalidEvent
	}
	out.GatewayOrderID = strings.TrimSpace(order.ID)
	out.Amount = order.AmountPaid
	out.Currency = strings.ToUpper(strings.TrimSpace(order.Currency))
	out.Status = strings.ToLower(strings.TrimSpace(order.Status))
	return nil
}

func applyRefund(out *paymentdomain.PaymentEvent, wrapper *entityWrapper) error {
	if wrapper == nil || len(wrapper.Entity) == 0 {
		return paymentdomain.ErrInvalidEvent
	}
	var refund refundEntity
	if err := json.Unmarshal(wrapper.Entity, &refund); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(refund.ID) == "" {
		return paymentdomain.ErrInvalidEvent
	}
	out.RefundID = strings.TrimSpace(refund.ID)
	out.PaymentID = strings.TrimSpace(refund.PaymentID)
	out.Amount = refund.Amount
	out.Currency = strings.ToUpper(strings.TrimSpace(refund.Currency))
	out.Status = strings.ToLower(strings.TrimSpace(refund.Status))
	if refund.CreatedAt > 0 {
		out.OccurredAt = timestamp(refund.CreatedAt, 0)
	}
	return nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
