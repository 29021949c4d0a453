package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ordersPaid       metric.Int64Counter
	grantNoops       metric.Int64Counter
	webhookEvents    metric.Int64Counter
	gatewayCalls     metric.Int64Counter
	notifications    metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New creates the domain counters on the given provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "storefront"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.ordersPaid, "storefront_orders_paid_total", "Orders moved to paid, by winning entry point."},
		{&m.grantNoops, "storefront_grant_noop_total", "Grants skipped because the order was already paid."},
		{&m.webhookEvents, "storefront_webhook_events_total", "Webhook deliveries by final status."},
		{&m.gatewayCalls, "storefront_gateway_calls_total", "Outbound gateway calls by operation and outcome."},
		{&m.notifications, "storefront_notifications_total", "Buyer notifications by kind and outcome."},
		{&m.rateLimitAllowed, "storefront_rate_limit_allowed_total", "Requests admitted by the limiter."},
		{&m.rateLimitDenied, "storefront_rate_limit_denied_total", "Requests rejected by the limiter."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
		*c.target = counter
	}
	return m, nil
}

func add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

// RecordOrderPaid counts paid transitions by the entry point that won the race.
func (m *Metrics) RecordOrderPaid(ctx context.Context, source, currency string) {
	if m != nil {
		add(ctx, m.ordersPaid, label("source", source), label("currency", strings.ToUpper(currency)))
	}
}

func (m *Metrics) RecordGrantNoop(ctx context.Context, source string) {
	if m != nil {
		add(ctx, m.grantNoops, label("source", source))
	}
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, status string) {
	if m != nil {
		add(ctx, m.webhookEvents, label("provider", provider), label("event_type", eventType), label("status", status))
	}
}

func (m *Metrics) RecordGatewayCall(ctx context.Context, provider, operation, outcome string) {
	if m != nil {
		add(ctx, m.gatewayCalls, label("provider", provider), label("operation", operation), label("outcome", outcome))
	}
}

func (m *Metrics) RecordNotification(ctx context.Context, kind, outcome string) {
	if m != nil {
		add(ctx, m.notifications, label("kind", kind), label("outcome", outcome))
	}
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m != nil {
		add(ctx, m.rateLimitAllowed, label("endpoint", endpoint))
	}
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m != nil {
		add(ctx, m.rateLimitDenied, label("endpoint", endpoint), label("reason", reason))
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"status":      {},
	"source":      {},
	"currency":    {},
	"operation":   {},
	"outcome":     {},
	"kind":        {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
