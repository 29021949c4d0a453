package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	entitlementdomain "github.com/smallbiznis/storefront/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	storedb "github.com/smallbiznis/storefront/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	GenID        *snowflake.Node
	Orders       orderdomain.Repository
	Catalog      catalogdomain.Repository
	Entitlements entitlementdomain.Repository
	Checkout     *config.CheckoutConfigHolder
	Notifier     entitlementdomain.Notifier `optional:"true"`
	Metrics      *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	orders   orderdomain.Repository
	catalog  catalogdomain.Repository
	ents     entitlementdomain.Repository
	checkout *config.CheckoutConfigHolder
	notifier entitlementdomain.Notifier
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) entitlementdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("entitlement.granter"),
		clock:    p.Clock,
		genID:    p.GenID,
		orders:   p.Orders,
		catalog:  p.Catalog,
		ents:     p.Entitlements,
		checkout: p.Checkout,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

func (s *Service) GrantForPaidOrder(ctx context.Context, orderID snowflake.ID, payment entitlementdomain.Payment) (*entitlementdomain.Result, error) {
	var res *entitlementdomain.Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		out, err := s.GrantInTx(ctx, tx, orderID, payment)
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.AfterCommit(ctx, res)
	return res, nil
}

func (s *Service) GrantInTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, payment entitlementdomain.Payment) (*entitlementdomain.Result, error) {
	if orderID == 0 {
		return nil, orderdomain.ErrInvalidOrderID
	}
	ctx, span := tracing.StartSpan(ctx, "entitlement.grant",
		attribute.String("order_id", orderID.String()),
		attribute.String("source", payment.Source),
	)
	defer span.End()

	order, err := s.orders.LockByID(ctx, tx, orderID)
	if err != nil {
		return nil, storedb.StorageFailure("lock order", err)
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}

	if order.IsPaid {
		s.metrics.RecordGrantNoop(ctx, payment.Source)
		s.log.Debug("order already paid, grant skipped",
			zap.String("order_id", order.ID.String()),
			zap.String("source", payment.Source),
		)
		return &entitlementdomain.Result{Granted: false, Source: payment.Source, Order: order}, nil
	}

	cfg := s.checkout.Get()
	now := s.clock.Now().UTC()
	transition := orderdomain.PaidTransition{
		PaidAt:         now,
		DownloadExpiry: now.Add(cfg.DownloadWindow),
		PaymentID:      strings.TrimSpace(payment.PaymentID),
		PaymentStatus:  strings.TrimSpace(payment.Status),
	}
	if err := s.orders.MarkPaid(ctx, tx, order.ID, transition); err != nil {
		return nil, storedb.StorageFailure("mark order paid", err)
	}

	productIDs, docIDs := distinctTargets(order.Items)
	res := &entitlementdomain.Result{Granted: true, Source: payment.Source, PaidAt: now}

	for _, productID := range productIDs {
		gained, err := s.ents.GrantProduct(ctx, tx, order.UserID, productID, order.ID, now)
		if err != nil {
			return nil, storedb.StorageFailure("grant product", err)
		}
		if gained {
			res.ProductsGained++
		}
	}
	if err := s.catalog.IncrementSales(ctx, tx, productIDs); err != nil {
		return nil, storedb.StorageFailure("increment sales", err)
	}

	for _, docID := range docIDs {
		gained, err := s.ents.GrantDoc(ctx, tx, order.UserID, docID, order.ID, now)
		if err != nil {
			return nil, storedb.StorageFailure("grant doc", err)
		}
		if gained {
			res.DocsGained++
		}
	}
	if err := s.catalog.IncrementPurchases(ctx, tx, docIDs); err != nil {
		return nil, storedb.StorageFailure("increment purchases", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.LicenseKey != nil || !cfg.IsLicensed(item.LicenseType) {
			continue
		}
		key := newLicenseKey(cfg.LicensePrefix, now)
		if err := s.orders.SetLicenseKey(ctx, tx, item.ID, key); err != nil {
			return nil, storedb.StorageFailure("set license key", err)
		}
		item.LicenseKey = &key
	}

	invoice := &orderdomain.Invoice{
		ID:            s.genID.Generate(),
		OrderID:       order.ID,
		InvoiceNumber: invoiceNumber(cfg.InvoicePrefix, now, order.ID),
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		IssuedAt:      now,
	}
	if _, err := s.orders.InsertInvoice(ctx, tx, invoice); err != nil {
		return nil, storedb.StorageFailure("insert invoice", err)
	}

	applyTransition(order, transition)
	res.Order = order

	s.log.Info("order paid",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("source", payment.Source),
		zap.Int("products", len(productIDs)),
		zap.Int("docs", len(docIDs)),
	)
	return res, nil
}

// AfterCommit records the transition and dispatches the confirmation email.
// It never fails the caller.
func (s *Service) AfterCommit(ctx context.Context, res *entitlementdomain.Result) {
	if res == nil || !res.Granted || res.Order == nil {
		return
	}
	s.metrics.RecordOrderPaid(ctx, res.Source, res.Order.Currency)
	if s.notifier == nil {
		return
	}
	s.notifier.SendOrderConfirmation(ctx, *res.Order)
}

// distinctTargets returns each referenced product and doc once, in first-seen
// order, regardless of quantity or repeated lines.
func distinctTargets(items []orderdomain.OrderItem) ([]snowflake.ID, []snowflake.ID) {
	seenProducts := make(map[snowflake.ID]struct{})
	seenDocs := make(map[snowflake.ID]struct{})
	var products, docs []snowflake.ID
	for _, item := range items {
		if item.ProductID != nil {
			if _, ok := seenProducts[*item.ProductID]; !ok {
				seenProducts[*item.ProductID] = struct{}{}
				products = append(products, *item.ProductID)
			}
			continue
		}
		if item.PremiumDocID != nil {
			if _, ok := seenDocs[*item.PremiumDocID]; !ok {
				seenDocs[*item.PremiumDocID] = struct{}{}
				docs = append(docs, *item.PremiumDocID)
			}
		}
	}
	return products, docs
}

func applyTransition(order *orderdomain.Order, t orderdomain.PaidTransition) {
	paidAt := t.PaidAt
	expiry := t.DownloadExpiry
	order.IsPaid = true
	order.PaidAt = &paidAt
	order.OrderStatus = orderdomain.OrderStatusCompleted
	order.DownloadExpiry = &expiry
	order.PaymentStatus = t.PaymentStatus
	order.UpdatedAt = t.PaidAt
	if order.PaymentID == nil && t.PaymentID != "" {
		paymentID := t.PaymentID
		order.PaymentID = &paymentID
	}
}

func newLicenseKey(prefix string, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	return prefix + "-" + id.String()
}

func invoiceNumber(prefix string, issuedAt time.Time, orderID snowflake.ID) string {
	return fmt.Sprintf("%s-%s-%s", prefix, issuedAt.Format("20060102"), orderID.String())
}
