package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	entitlementdomain "github.com/smallbiznis/storefront/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	storedb "github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	reasonInvalidSignature = "invalid signature"
	reasonInvalidPayload   = "invalid payload"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	GenID    *snowflake.Node
	Repo     paymentdomain.Repository
	Adapters *adapters.Registry
	Orders   orderdomain.Repository
	Granter  entitlementdomain.Service
	Gateway  paymentdomain.Gateway `optional:"true"`
	Locks    *ratelimit.Limiter    `optional:"true"`
	Metrics  *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	genID     *snowflake.Node
	repo      paymentdomain.Repository
	adapters  *adapters.Registry
	orders    orderdomain.Repository
	granter   entitlementdomain.Service
	gateway   paymentdomain.Gateway
	locks     *ratelimit.Limiter
	metrics   *obsmetrics.Metrics
	validate  *validator.Validate
	providers map[string]map[string]any
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		clock:    p.Clock,
		genID:    p.GenID,
		repo:     p.Repo,
		adapters: p.Adapters,
		orders:   p.Orders,
		granter:  p.Granter,
		gateway:  p.Gateway,
		locks:    p.Locks,
		metrics:  p.Metrics,
		validate: validator.New(),
		providers: map[string]map[string]any{
			strings.ToLower(strings.TrimSpace(p.Cfg.Payment.Provider)): {
				"webhook_secret": p.Cfg.Payment.WebhookSecret,
			},
		},
	}
}

// Ingest records and processes one delivery. Once the signature verifies the
// call succeeds even when processing fails; the failure is kept on the event.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (*paymentdomain.IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	adapter, err := s.adapterFor(provider)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "webhook.ingest", attribute.String("provider", provider))
	defer span.End()

	now := s.clock.Now()
	record := &paymentdomain.WebhookEvent{
		ID:         s.genID.Generate(),
		Provider:   provider,
		EventType:  peekEventType(payload),
		Payload:    datatypes.JSON(payload),
		Status:     paymentdomain.WebhookStatusReceived,
		ReceivedAt: now,
		UpdatedAt:  now,
	}
	eventID := adapter.EventID(payload, headers)
	if eventID != "" {
		record.EventID = &eventID
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, storedb.StorageFailure("insert webhook event", err)
	}
	if !inserted {
		stored, err := s.repo.FindEvent(ctx, s.db, provider, eventID)
		if err != nil {
			return nil, storedb.StorageFailure("find webhook event", err)
		}
		if stored == nil {
			return nil, storedb.StorageFailure("find webhook event", paymentdomain.ErrEventNotFound)
		}
		record = stored
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		// A forged delivery never changes a row it did not create.
		if inserted {
			if markErr := s.repo.MarkFailed(ctx, s.db, record.ID, reasonInvalidSignature, s.clock.Now()); markErr != nil {
				s.log.Error("failed to mark webhook event", zap.String("event_id", record.ID.String()), zap.Error(markErr))
			}
		}
		s.metrics.RecordWebhookEvent(ctx, provider, record.EventType, "invalid_signature")
		s.log.Warn("webhook signature rejected",
			zap.String("provider", provider),
			zap.String("event_id", record.ID.String()),
			zap.Bool("new_event", inserted),
		)
		return nil, paymentdomain.ErrInvalidSignature
	}

	if !inserted && record.Status == paymentdomain.WebhookStatusSuccess {
		s.metrics.RecordWebhookEvent(ctx, provider, record.EventType, "duplicate")
		s.log.Debug("duplicate webhook delivery",
			zap.String("provider", provider),
			zap.String("provider_event_id", eventID),
		)
		return &paymentdomain.IngestResult{
			EventID:   record.ID,
			Status:    paymentdomain.WebhookStatusSuccess,
			Duplicate: true,
		}, nil
	}

	return s.process(ctx, record.ID, provider, adapter, payload, entitlementdomain.SourceWebhook)
}

// Retry reprocesses a stored delivery without re-checking its signature.
func (s *Service) Retry(ctx context.Context, eventID string) (*paymentdomain.IngestResult, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(eventID))
	if err != nil || id <= 0 {
		return nil, paymentdomain.ErrEventNotFound
	}

	release, ok, err := s.locks.Lock(ctx, "webhook-retry:"+id.String())
	if err != nil {
		s.log.Warn("retry lock unavailable, continuing", zap.String("event_id", id.String()), zap.Error(err))
	} else if !ok {
		return nil, paymentdomain.ErrRetryInProgress
	}
	defer release()

	record, err := s.repo.FindEventByID(ctx, s.db, id)
	if err != nil {
		return nil, storedb.StorageFailure("find webhook event", err)
	}
	if record == nil {
		return nil, paymentdomain.ErrEventNotFound
	}
	if !record.SignatureVerified {
		return nil, paymentdomain.ErrEventNotRetryable
	}

	adapter, err := s.adapterFor(record.Provider)
	if err != nil {
		return nil, err
	}

	s.log.Info("retrying webhook event",
		zap.String("event_id", record.ID.String()),
		zap.String("provider", record.Provider),
		zap.String("previous_status", string(record.Status)),
		zap.Int("attempts", record.Attempts),
	)
	return s.process(ctx, record.ID, record.Provider, adapter, record.Payload, entitlementdomain.SourceRetry)
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListEventsRequest) (*paymentdomain.ListEventsResponse, error) {
	if req.PageSize == 0 {
		req.PageSize = 20
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, paymentdomain.ErrInvalidFilter
	}
	afterID, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListEvents(ctx, s.db, paymentdomain.EventFilter{
		Provider: strings.ToLower(strings.TrimSpace(req.Provider)),
		Status:   paymentdomain.WebhookStatus(req.Status),
		AfterID:  afterID,
		PageSize: req.PageSize + 1,
	})
	if err != nil {
		return nil, storedb.StorageFailure("list webhook events", err)
	}

	items, info := pagination.Page(items, req.PageSize, func(e paymentdomain.WebhookEvent) snowflake.ID { return e.ID })
	if items == nil {
		items = []paymentdomain.WebhookEvent{}
	}
	for i := range items {
		// Rejected bodies are kept verbatim and may not be JSON.
		if !json.Valid(items[i].Payload) {
			quoted, _ := json.Marshal(string(items[i].Payload))
			items[i].Payload = quoted
		}
	}
	return &paymentdomain.ListEventsResponse{
		Events:        items,
		NextPageToken: info.NextPageToken,
		HasMore:       info.HasMore,
	}, nil
}

// process records handler failures as FAILED and acknowledges them. A failed
// status write is returned as a storage failure instead: the row is not in a
// state the recovery sweep selects, so the gateway's redelivery must retry it.
func (s *Service) process(ctx context.Context, id snowflake.ID, provider string, adapter paymentdomain.PaymentAdapter, payload []byte, source string) (*paymentdomain.IngestResult, error) {
	event, parseErr := adapter.Parse(ctx, payload)
	eventType := peekEventType(payload)
	if event != nil {
		eventType = event.Type
	}

	if err := s.repo.MarkProcessing(ctx, s.db, id, eventType, payload, s.clock.Now()); err != nil {
		return nil, storedb.StorageFailure("mark webhook processing", err)
	}

	var dispatchErr error
	switch {
	case errors.Is(parseErr, paymentdomain.ErrEventIgnored):
		s.log.Debug("webhook event ignored", zap.String("event_type", eventType))
	case parseErr != nil:
		dispatchErr = parseErr
	default:
		dispatchErr = s.dispatch(ctx, event, source)
	}

	if dispatchErr != nil {
		reason := failureReason(dispatchErr)
		if err := s.repo.MarkFailed(ctx, s.db, id, reason, s.clock.Now()); err != nil {
			return nil, storedb.StorageFailure("mark webhook failed", err)
		}
		s.metrics.RecordWebhookEvent(ctx, provider, eventType, string(paymentdomain.WebhookStatusFailed))
		s.log.Warn("webhook processing failed",
			zap.String("event_id", id.String()),
			zap.String("event_type", eventType),
			zap.String("reason", reason),
			zap.Error(dispatchErr),
		)
		return &paymentdomain.IngestResult{EventID: id, Status: paymentdomain.WebhookStatusFailed}, nil
	}

	if err := s.repo.MarkSucceeded(ctx, s.db, id, s.clock.Now()); err != nil {
		return nil, storedb.StorageFailure("mark webhook succeeded", err)
	}
	s.metrics.RecordWebhookEvent(ctx, provider, eventType, string(paymentdomain.WebhookStatusSuccess))
	return &paymentdomain.IngestResult{EventID: id, Status: paymentdomain.WebhookStatusSuccess}, nil
}

func (s *Service) dispatch(ctx context.Context, event *paymentdomain.PaymentEvent, source string) error {
	switch event.Type {
	case paymentdomain.EventTypePaymentCaptured, paymentdomain.EventTypeOrderPaid:
		return s.handlePaid(ctx, event, source)
	case paymentdomain.EventTypePaymentFailed:
		return s.handleFailed(ctx, event)
	case paymentdomain.EventTypeRefundCreated, paymentdomain.EventTypeRefundProcessed:
		return s.handleRefund(ctx, event)
	case paymentdomain.EventTypeSubscriptionActivated,
		paymentdomain.EventTypeSubscriptionCancelled,
		paymentdomain.EventTypeSubscriptionCharged:
		s.log.Info("subscription event acknowledged",
			zap.String("event_type", event.Type),
			zap.String("subscription_id", event.SubscriptionID),
			zap.String("status", event.Status),
		)
		return nil
	default:
		s.log.Debug("webhook event acknowledged", zap.String("event_type", event.Type))
		return nil
	}
}

func (s *Service) handlePaid(ctx context.Context, event *paymentdomain.PaymentEvent, source string) error {
	order, err := s.resolveOrder(ctx, event)
	if err != nil {
		return err
	}
	if order == nil {
		return orderdomain.ErrOrderNotFound
	}
	if !order.IsPaid && event.Amount > 0 {
		if event.Amount != order.TotalAmount || !strings.EqualFold(event.Currency, order.Currency) {
			return paymentdomain.ErrPaymentMismatch
		}
	}

	status := event.Status
	if status == "" || event.Type == paymentdomain.EventTypeOrderPaid {
		status = "captured"
	}
	res, err := s.granter.GrantForPaidOrder(ctx, order.ID, entitlementdomain.Payment{
		PaymentID: event.PaymentID,
		Status:    status,
		Source:    source,
	})
	if err != nil {
		return err
	}
	s.log.Info("paid event applied",
		zap.String("order_id", order.ID.String()),
		zap.Bool("granted", res.Granted),
		zap.String("source", source),
	)
	return nil
}

// handleFailed records the failure on an unpaid order. Create-at-verify means
// most failed payments have no local order, which is not an error.
func (s *Service) handleFailed(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	order, err := s.resolveOrder(ctx, event)
	if err != nil {
		return err
	}
	if order == nil {
		s.log.Debug("failed payment without local order", zap.String("payment_id", event.PaymentID))
		return nil
	}
	updated, err := s.orders.UpdatePaymentStatus(ctx, s.db, order.ID, "failed", s.clock.Now())
	if err != nil {
		return storedb.StorageFailure("update payment status", err)
	}
	if !updated {
		s.log.Info("failed event ignored for paid order", zap.String("order_id", order.ID.String()))
	}
	return nil
}

func (s *Service) handleRefund(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	if event.PaymentID == "" && event.RefundID != "" && s.gateway != nil {
		refund, err := s.gateway.FetchRefund(ctx, event.RefundID)
		if err != nil {
			return err
		}
		event.PaymentID = refund.PaymentID
	}

	order, err := s.resolveOrder(ctx, event)
	if err != nil {
		return err
	}
	if order == nil {
		return orderdomain.ErrOrderNotFound
	}

	status := "refunded"
	if event.Status != "" && event.Status != "processed" {
		status = "refund_" + event.Status
	}
	changed, err := s.orders.MarkRefunded(ctx, s.db, order.ID, status, s.clock.Now())
	if err != nil {
		return storedb.StorageFailure("mark order refunded", err)
	}
	s.log.Info("refund applied",
		zap.String("order_id", order.ID.String()),
		zap.String("refund_id", event.RefundID),
		zap.Bool("changed", changed),
	)
	return nil
}

// resolveOrder matches only gateway-assigned ids: the payment id, then the
// gateway order id. Notes are client supplied and never consulted.
func (s *Service) resolveOrder(ctx context.Context, event *paymentdomain.PaymentEvent) (*orderdomain.Order, error) {
	var (
		order *orderdomain.Order
		err   error
	)
	if event.PaymentID != "" {
		order, err = s.orders.FindByPayment(ctx, s.db, event.Provider, event.PaymentID)
		if err != nil || order != nil {
			return order, wrapLookup(err)
		}
	}
	if event.GatewayOrderID != "" {
		order, err = s.orders.FindByGatewayOrderID(ctx, s.db, event.Provider, event.GatewayOrderID)
		return order, wrapLookup(err)
	}
	return nil, nil
}

func (s *Service) adapterFor(provider string) (paymentdomain.PaymentAdapter, error) {
	if s.adapters == nil || !s.adapters.Has(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}
	cfg, ok := s.providers[provider]
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}
	return s.adapters.Adapter(provider, paymentdomain.AdapterConfig{
		Provider: provider,
		Config:   cfg,
	})
}

func wrapLookup(err error) error {
	if err == nil {
		return nil
	}
	return storedb.StorageFailure("find order", err)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidPayload):
		return reasonInvalidPayload
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		return "order not found"
	case errors.Is(err, paymentdomain.ErrPaymentMismatch):
		return "payment does not match order"
	case errors.Is(err, paymentdomain.ErrInvalidEvent):
		return "invalid event"
	case errors.Is(err, paymentdomain.ErrGatewayUnavailable):
		return "gateway unavailable"
	default:
		return tracing.SafeError(err).Error()
	}
}

// peekEventType reads the top-level "event" field without trusting the body.
func peekEventType(payload []byte) string {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	return strings.TrimSpace(head.Event)
}
