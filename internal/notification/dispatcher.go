package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment/gateway"
	"github.com/smallbiznis/storefront/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	kindOrderConfirmation = "order_confirmation"
	defaultSendTimeout    = 30 * time.Second
)

type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle `optional:"true"`
	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	Orders     orderdomain.Repository
	Catalog    catalogdomain.Repository
	Recipients RecipientResolver
	Email      email.Provider
	Checkout   *config.CheckoutConfigHolder
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

// Dispatcher sends at most one confirmation per order. Sends run detached
// from the request and never report errors to the caller.
type Dispatcher struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	orders     orderdomain.Repository
	catalog    catalogdomain.Repository
	recipients RecipientResolver
	email      email.Provider
	checkout   *config.CheckoutConfigHolder
	metrics    *obsmetrics.Metrics
	storeName  string
	timeout    time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(p Params) *Dispatcher {
	timeout := p.Cfg.Email.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	d := &Dispatcher{
		db:         p.DB,
		log:        p.Log.Named("notification.dispatcher"),
		clock:      p.Clock,
		orders:     p.Orders,
		catalog:    p.Catalog,
		recipients: p.Recipients,
		email:      p.Email,
		checkout:   p.Checkout,
		metrics:    p.Metrics,
		storeName:  p.Cfg.Email.StoreName,
		timeout:    timeout,
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return d.Wait(ctx)
			},
		})
	}
	return d
}

func (d *Dispatcher) SendOrderConfirmation(ctx context.Context, order orderdomain.Order) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		outcome, err := d.send(sendCtx, order)
		if err != nil {
			d.log.Warn("order confirmation not sent",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
		}
		d.metrics.RecordNotification(sendCtx, kindOrderConfirmation, outcome)
	}()
}

// Wait blocks until in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) send(ctx context.Context, order orderdomain.Order) (string, error) {
	claimed, err := d.orders.ClaimConfirmation(ctx, d.db, order.ID, d.clock.Now())
	if err != nil {
		return "failed", fmt.Errorf("claim confirmation: %w", err)
	}
	if !claimed {
		d.log.Debug("confirmation already claimed", zap.String("order_id", order.ID.String()))
		return "skipped", nil
	}

	// A failed send keeps its claim. Confirmations are at most once.
	if err := d.deliver(ctx, order); err != nil {
		return "failed", err
	}
	return "sent", nil
}

func (d *Dispatcher) deliver(ctx context.Context, order orderdomain.Order) error {
	to, err := d.recipients.EmailFor(ctx, order.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	data, err := d.templateData(ctx, order)
	if err != nil {
		return err
	}
	return d.email.SendTemplate(ctx, []string{to}, kindOrderConfirmation, data)
}

func (d *Dispatcher) templateData(ctx context.Context, order orderdomain.Order) (map[string]any, error) {
	titles, err := d.titles(ctx, order.Items)
	if err != nil {
		return nil, fmt.Errorf("load titles: %w", err)
	}

	exp := gateway.ExponentWith(d.checkout.Get().CurrencyExponent, order.Currency)
	format := func(minor int64) string {
		return gateway.FromMinorUnitsExp(minor, exp).StringFixed(exp)
	}

	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		entry := map[string]any{
			"description": titles[item.TargetID()],
			"qty":         item.Qty,
			"amount":      format(item.LineTotal()),
		}
		if item.LicenseKey != nil {
			entry["license_key"] = *item.LicenseKey
		}
		items = append(items, entry)
	}

	data := map[string]any{
		"order_id":   order.ID.String(),
		"currency":   order.Currency,
		"total":      format(order.TotalAmount),
		"items":      items,
		"store_name": d.storeName,
	}
	if order.DiscountAmount > 0 {
		data["discount"] = format(order.DiscountAmount)
	}
	if order.PaidAt != nil {
		data["paid_at"] = order.PaidAt.Format("2 Jan 2006")
	}
	if order.DownloadExpiry != nil {
		data["download_expiry"] = order.DownloadExpiry.Format("2 Jan 2006 15:04 MST")
	}
	return data, nil
}

func (d *Dispatcher) titles(ctx context.Context, items []orderdomain.OrderItem) (map[snowflake.ID]string, error) {
	var productIDs, docIDs []snowflake.ID
	for _, item := range items {
		if item.ProductID != nil {
			productIDs = append(productIDs, *item.ProductID)
		} else if item.PremiumDocID != nil {
			docIDs = append(docIDs, *item.PremiumDocID)
		}
	}

	titles := make(map[snowflake.ID]string, len(items))
	products, err := d.catalog.FindProducts(ctx, d.db, productIDs)
	if err != nil {
		return nil, err
	}
	for id, product := range products {
		titles[id] = product.Title
	}
	docs, err := d.catalog.FindDocs(ctx, d.db, docIDs)
	if err != nil {
		return nil, err
	}
	for id, doc := range docs {
		titles[id] = doc.Title
	}
	for _, item := range items {
		if _, ok := titles[item.TargetID()]; !ok {
			titles[item.TargetID()] = fmt.Sprintf("%s %s", item.ItemType, item.TargetID())
		}
	}
	return titles, nil
}
