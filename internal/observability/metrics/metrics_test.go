package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "razorpay"),
		attribute.String("user_id", "456"),
		attribute.String("order_id", "789"),
		attribute.String("event_type", "payment.captured"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "provider" && attrs[1].Key != "provider" {
		t.Fatalf("expected provider to be retained")
	}
	if attrs[0].Key != "event_type" && attrs[1].Key != "event_type" {
		t.Fatalf("expected event_type to be retained")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordOrderPaid(ctx, "verify", "INR")
	m.RecordGrantNoop(ctx, "webhook")
	m.RecordWebhookEvent(ctx, "razorpay", "payment.captured", "SUCCESS")
	m.RecordGatewayCall(ctx, "razorpay", "fetch_payment", "ok")
	m.RecordNotification(ctx, "order_confirmation", "sent")
	m.RecordRateLimitAllowed(ctx, "/payment/verify")
	m.RecordRateLimitDenied(ctx, "/payment/verify", "bucket_empty")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "storefront"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordOrderPaid(context.Background(), "webhook", "usd")
}
