package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	catalogrepo "github.com/smallbiznis/storefront/internal/catalog/repository"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	entitlementrepo "github.com/smallbiznis/storefront/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/storefront/internal/entitlement/service"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderrepo "github.com/smallbiznis/storefront/internal/order/repository"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/razorpay"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/gateway"
	paymentrepo "github.com/smallbiznis/storefront/internal/payment/repository"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_test"

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	s := &Scheduler{
		log:     zap.NewNop(),
		genID:   testutil.Node(t),
		clock:   clock.NewFakeClock(time.Time{}),
		metrics: obsmetrics.NewSchedulerMetricsWith(registry),
	}

	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1), getCounterValue(t, registry, "storefront_scheduler_job_timeouts_total", map[string]string{"job": "timeout_job"}))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "storefront_scheduler_job_errors_total", map[string]string{
		"job":    "timeout_job",
		"reason": obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}))
}

func TestRunJobWrapsHardErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	s := &Scheduler{
		log:     zap.NewNop(),
		genID:   testutil.Node(t),
		clock:   clock.NewFakeClock(time.Time{}),
		metrics: obsmetrics.NewSchedulerMetricsWith(registry),
	}

	boom := fmt.Errorf("boom")
	err := s.runJob(context.Background(), "broken", 1, time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, float64(1), getCounterValue(t, registry, "storefront_scheduler_job_runs_total", map[string]string{"job": "broken"}))
}

type recoveryFixture struct {
	sched *Scheduler
	clock *clock.FakeClock
	svc   paymentdomain.WebhookService
	repo  paymentdomain.Repository
}

func setupRecovery(t *testing.T, cfg Config) (*recoveryFixture, func(gatewayOrderID string)) {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	orders := orderrepo.Provide()
	repo := paymentrepo.Provide()
	catalog := catalogrepo.Provide()

	granter := entitlementservice.NewService(entitlementservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        fc,
		GenID:        node,
		Orders:       orders,
		Catalog:      catalog,
		Entitlements: entitlementrepo.Provide(),
		Checkout:     config.NewStaticCheckoutConfigHolder(config.DefaultCheckoutConfig()),
	})
	svc := webhook.NewService(webhook.Params{
		DB:  db,
		Log: zap.NewNop(),
		Cfg: config.Config{Payment: config.PaymentConfig{
			Provider:      gateway.ProviderRazorpay,
			WebhookSecret: webhookSecret,
		}},
		Clock:    fc,
		GenID:    node,
		Repo:     repo,
		Adapters: adapters.NewRegistry(razorpay.NewFactory()),
		Orders:   orders,
		Granter:  granter,
	})

	sched, err := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Webhooks: svc,
		Events:   repo,
		GenID:    node,
		Clock:    fc,
		Metrics:  obsmetrics.NewSchedulerMetricsWith(prometheus.NewRegistry()),
		Config:   cfg,
	})
	require.NoError(t, err)

	productID := node.Generate()
	testutil.SeedProduct(t, db, productID, "ui-kit", 2900, "INR", "")
	seedOrder := func(gatewayOrderID string) {
		testutil.SeedOrder(t, db, node, node.Generate(), gatewayOrderID, "", 2900, productID)
	}
	return &recoveryFixture{sched: sched, clock: fc, svc: svc, repo: repo}, seedOrder
}

func (f *recoveryFixture) deliver(t *testing.T, paymentID, gatewayOrderID, eventID, secret string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(
		`{"entity":"event","event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":2900,"currency":"INR","status":"captured","notes":[]}}}}`,
		paymentID, gatewayOrderID,
	))
	headers := http.Header{}
	headers.Set(razorpay.HeaderSignature, gateway.Sign(payload, secret))
	headers.Set(razorpay.HeaderEventID, eventID)
	_, _ = f.svc.Ingest(context.Background(), gateway.ProviderRazorpay, payload, headers)
}

func (f *recoveryFixture) event(t *testing.T, eventID string) *paymentdomain.WebhookEvent {
	t.Helper()
	event, err := f.repo.FindEvent(context.Background(), f.sched.db, gateway.ProviderRazorpay, eventID)
	require.NoError(t, err)
	require.NotNil(t, event)
	return event
}

func TestWebhookRecoveryRetriesEarlyDelivery(t *testing.T) {
	f, seedOrder := setupRecovery(t, Config{RetryAfter: 2 * time.Minute, MaxAttempts: 3})
	ctx := context.Background()

	f.deliver(t, "pay_early", "order_early", "evt_early", webhookSecret)
	f.deliver(t, "pay_forged", "order_early", "evt_forged", "attacker")
	require.Equal(t, paymentdomain.WebhookStatusFailed, f.event(t, "evt_early").Status)
	require.Equal(t, paymentdomain.WebhookStatusFailed, f.event(t, "evt_forged").Status)

	seedOrder("order_early")

	// Not due yet.
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Equal(t, 1, f.event(t, "evt_early").Attempts)

	f.clock.Advance(3 * time.Minute)
	require.NoError(t, f.sched.RunOnce(ctx))

	early := f.event(t, "evt_early")
	assert.Equal(t, paymentdomain.WebhookStatusSuccess, early.Status)
	assert.Equal(t, 2, early.Attempts)
	assert.EqualValues(t, 1, testutil.Count(t, f.sched.db, `SELECT COUNT(*) FROM orders WHERE gateway_order_id = ? AND is_paid = ?`, "order_early", true))

	forged := f.event(t, "evt_forged")
	assert.Equal(t, paymentdomain.WebhookStatusFailed, forged.Status)
	assert.False(t, forged.SignatureVerified)
}

func TestWebhookRecoveryStopsAtMaxAttempts(t *testing.T) {
	f, _ := setupRecovery(t, Config{RetryAfter: time.Minute, MaxAttempts: 2})
	ctx := context.Background()

	f.deliver(t, "pay_lost", "order_lost", "evt_lost", webhookSecret)

	for i := 0; i < 4; i++ {
		f.clock.Advance(2 * time.Minute)
		require.NoError(t, f.sched.RunOnce(ctx))
	}

	lost := f.event(t, "evt_lost")
	assert.Equal(t, paymentdomain.WebhookStatusFailed, lost.Status)
	assert.Equal(t, 2, lost.Attempts)
}

func TestRunOnceSkipsDisabledJobs(t *testing.T) {
	f, seedOrder := setupRecovery(t, Config{RetryAfter: time.Minute, EnabledJobs: []string{"something_else"}})

	f.deliver(t, "pay_x", "order_x", "evt_x", webhookSecret)
	seedOrder("order_x")
	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, paymentdomain.WebhookStatusFailed, f.event(t, "evt_x").Status)
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
