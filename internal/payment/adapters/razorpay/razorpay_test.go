package razorpay

import (
	"context"
	"errors"
	"net/http"
	"testing"

	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/gateway"
)

func newAdapter(t *testing.T, secret string) paymentdomain.PaymentAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Provider: gateway.ProviderRazorpay,
		Config:   map[string]any{"webhook_secret": secret},
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestNewAdapterRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{}})
	if !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	_, err = NewFactory().NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{"webhook_secret": "  "}})
	if !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config for blank secret, got %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"event":"payment.captured","payload":{}}`)
	adapter := newAdapter(t, secret)

	headers := http.Header{}
	headers.Set(HeaderSignature, gateway.Sign(payload, secret))
	if err := adapter.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	headers.Set(HeaderSignature, gateway.Sign(payload, "wrong"))
	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	headers.Del(HeaderSignature)
	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for missing header, got %v", err)
	}
}

func TestEventIDFromHeader(t *testing.T) {
	adapter := newAdapter(t, "s")
	headers := http.Header{}
	if got := adapter.EventID(nil, headers); got != "" {
		t.Fatalf("expected empty event id, got %q", got)
	}
	headers.Set(HeaderEventID, " evt_1 ")
	if got := adapter.EventID(nil, headers); got != "evt_1" {
		t.Fatalf("expected evt_1, got %q", got)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantType    string
		wantPayment string
		wantGateway string
		wantRefund  string
		wantAmount  int64
	}{
		{
			name:        "payment.captured",
			payload:     `{"entity":"event","event":"payment.captured","created_at":1700000000,"payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":2900,"currency":"inr","status":"captured","notes":{"order_id":"1780000000000000001"}}}}}`,
			wantType:    paymentdomain.EventTypePaymentCaptured,
			wantPayment: "pay_1",
			wantGateway: "order_1",
			wantAmount:  2900,
		},
		{
			name:        "payment.failed with empty notes",
			payload:     `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_2","amount":100,"currency":"INR","status":"failed","notes":[]}}}}`,
			wantType:    paymentdomain.EventTypePaymentFailed,
			wantPayment: "pay_2",
			wantGateway: "order_2",
			wantAmount:  100,
		},
		{
			name:        "order.paid",
			payload:     `{"event":"order.paid","payload":{"order":{"entity":{"id":"order_3","amount_paid":5000,"currency":"INR","status":"paid","notes":{}}},"payment":{"entity":{"id":"pay_3","order_id":"order_3","amount":5000,"currency":"INR","status":"captured"}}}}`,
			wantType:    paymentdomain.EventTypeOrderPaid,
			wantPayment: "pay_3",
			wantGateway: "order_3",
			wantAmount:  5000,
		},
		{
			name:        "refund.processed",
			payload:     `{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_4","amount":2900,"currency":"INR","status":"processed"}},"payment":{"entity":{"id":"pay_4","order_id":"order_4","amount":2900,"currency":"INR","status":"refunded"}}}}`,
			wantType:    paymentdomain.EventTypeRefundProcessed,
			wantPayment: "pay_4",
			wantGateway: "order_4",
			wantRefund:  "rfnd_1",
			wantAmount:  2900,
		},
		{
			name:     "subscription.charged",
			payload:  `{"event":"subscription.charged","payload":{"subscription":{"entity":{"id":"sub_1","status":"active"}}}}`,
			wantType: paymentdomain.EventTypeSubscriptionCharged,
		},
	}

	adapter := newAdapter(t, "s")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := adapter.Parse(context.Background(), []byte(tt.payload))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.PaymentID != tt.wantPayment {
				t.Fatalf("expected payment %q, got %q", tt.wantPayment, event.PaymentID)
			}
			if event.GatewayOrderID != tt.wantGateway {
				t.Fatalf("expected gateway order %q, got %q", tt.wantGateway, event.GatewayOrderID)
			}
			if event.RefundID != tt.wantRefund {
				t.Fatalf("expected refund %q, got %q", tt.wantRefund, event.RefundID)
			}
			if event.Amount != tt.wantAmount {
				t.Fatalf("expected amount %d, got %d", tt.wantAmount, event.Amount)
			}
			if event.Provider != gateway.ProviderRazorpay {
				t.Fatalf("expected provider razorpay, got %s", event.Provider)
			}
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	adapter := newAdapter(t, "s")

	if _, err := adapter.Parse(context.Background(), []byte(`not json`)); !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	if _, err := adapter.Parse(context.Background(), []byte(`{"event":"payment.captured","payload":{}}`)); !errors.Is(err, paymentdomain.ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
	if _, err := adapter.Parse(context.Background(), []byte(`{"event":"virtual_account.created","payload":{}}`)); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored event, got %v", err)
	}
}
