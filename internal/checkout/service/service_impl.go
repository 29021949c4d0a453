package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/storefront/internal/checkout/domain"
	"github.com/smallbiznis/storefront/internal/config"
	entitlementdomain "github.com/smallbiznis/storefront/internal/entitlement/domain"
	"github.com/smallbiznis/storefront/internal/notification"
	"github.com/smallbiznis/storefront/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/gateway"
	"github.com/smallbiznis/storefront/internal/providers/pdf"
	storedb "github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const noteUserID = "user_id"

// reservedNotes are keys the server owns; client values for them are dropped.
var reservedNotes = map[string]struct{}{
	noteUserID: {},
	"order_id": {},
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	GenID      *snowflake.Node
	Gateway    paymentdomain.Gateway
	Orders     orderdomain.Repository
	Catalog    catalogdomain.Repository
	Granter    entitlementdomain.Service
	Checkout   *config.CheckoutConfigHolder
	PDF        pdf.Provider                   `optional:"true"`
	Recipients notification.RecipientResolver `optional:"true"`
	Coupons    checkoutdomain.CouponPricer    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	gateway    paymentdomain.Gateway
	orders     orderdomain.Repository
	catalog    catalogdomain.Repository
	granter    entitlementdomain.Service
	checkout   *config.CheckoutConfigHolder
	pdf        pdf.Provider
	recipients notification.RecipientResolver
	coupons    checkoutdomain.CouponPricer
	storeName  string
	storeEmail string
	validate   *validator.Validate
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("checkout.service"),
		genID:      p.GenID,
		gateway:    p.Gateway,
		orders:     p.Orders,
		catalog:    p.Catalog,
		granter:    p.Granter,
		checkout:   p.Checkout,
		pdf:        p.PDF,
		recipients: p.Recipients,
		coupons:    p.Coupons,
		storeName:  p.Cfg.Email.StoreName,
		storeEmail: p.Cfg.Email.SMTPFrom,
		validate:   validator.New(),
	}
}

func (s *Service) CreateOrder(ctx context.Context, userID snowflake.ID, req checkoutdomain.CreateOrderRequest) (*checkoutdomain.CreateOrderResponse, error) {
	if userID == 0 {
		return nil, checkoutdomain.ErrInvalidUser
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, checkoutdomain.ErrInvalidRequest
	}

	cfg := s.checkout.Get()
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = cfg.DefaultCurrency
	}
	amount, err := gateway.ToMinorUnitsExp(req.Amount, gateway.ExponentWith(cfg.CurrencyExponent, currency))
	if err != nil {
		return nil, err
	}

	receipt := strings.TrimSpace(req.Receipt)
	if receipt == "" {
		receipt = "rcpt_" + s.genID.Generate().String()
	}
	notes := make(map[string]string, len(req.Notes)+1)
	for k, v := range req.Notes {
		if _, reserved := reservedNotes[strings.ToLower(strings.TrimSpace(k))]; reserved {
			continue
		}
		notes[k] = v
	}
	notes[noteUserID] = userID.String()

	intent, err := s.gateway.CreatePaymentIntent(ctx, paymentdomain.IntentRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment intent created",
		zap.String("user_id", userID.String()),
		zap.String("gateway_order_id", intent.ID),
		zap.Int64("amount", intent.Amount),
		zap.String("currency", intent.Currency),
	)
	return &checkoutdomain.CreateOrderResponse{
		OrderID:  intent.ID,
		Amount:   intent.Amount,
		Currency: intent.Currency,
		KeyID:    intent.KeyID,
	}, nil
}

func (s *Service) Verify(ctx context.Context, userID snowflake.ID, req checkoutdomain.VerifyRequest) (*checkoutdomain.VerifyResponse, error) {
	if userID == 0 {
		return nil, checkoutdomain.ErrInvalidUser
	}
	req.GatewayOrderID = strings.TrimSpace(req.GatewayOrderID)
	req.GatewayPaymentID = strings.TrimSpace(req.GatewayPaymentID)
	req.Signature = strings.TrimSpace(req.Signature)
	if err := s.validate.Struct(req); err != nil {
		return nil, checkoutdomain.ErrInvalidRequest
	}

	ctx, span := tracing.StartSpan(ctx, "checkout.verify",
		attribute.String("gateway_order_id", req.GatewayOrderID),
	)
	defer span.End()

	if !s.gateway.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		s.log.Warn("payment signature rejected",
			zap.String("user_id", userID.String()),
			zap.String("gateway_order_id", req.GatewayOrderID),
		)
		return nil, paymentdomain.ErrInvalidSignature
	}

	provider := s.gateway.Provider()
	existing, err := s.orders.FindByPayment(ctx, s.db, provider, req.GatewayPaymentID)
	if err != nil {
		return nil, storedb.StorageFailure("find order by payment", err)
	}
	if existing != nil {
		return s.replay(ctx, userID, existing)
	}

	lines, err := parseItems(req.OrderData.Items)
	if err != nil {
		return nil, err
	}

	payment, err := s.gateway.FetchPayment(ctx, req.GatewayPaymentID)
	if err != nil {
		return nil, err
	}
	if payment.OrderID != req.GatewayOrderID {
		s.log.Warn("payment belongs to another gateway order",
			zap.String("gateway_order_id", req.GatewayOrderID),
			zap.String("payment_order_id", payment.OrderID),
		)
		return nil, paymentdomain.ErrPaymentMismatch
	}
	if !payment.Settled() {
		return nil, paymentdomain.ErrPaymentNotCaptured
	}

	cfg := s.checkout.Get()
	exp := gateway.ExponentWith(cfg.CurrencyExponent, payment.Currency)
	items, err := s.price(ctx, lines, payment.Currency)
	if err != nil {
		return nil, err
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	asserted, err := gateway.ToMinorUnitsExp(req.OrderData.TotalPrice, exp)
	if err != nil {
		return nil, err
	}
	if asserted != payment.Amount {
		s.log.Warn("asserted total does not match captured amount",
			zap.String("gateway_payment_id", payment.ID),
			zap.Int64("asserted", asserted),
			zap.Int64("captured", payment.Amount),
		)
		return nil, orderdomain.ErrAmountMismatch
	}
	discount := subtotal - payment.Amount
	if discount < 0 {
		return nil, orderdomain.ErrNegativeDiscount
	}
	code := strings.TrimSpace(req.OrderData.CouponCode)
	granted, err := s.couponDiscount(ctx, code, subtotal, payment.Currency)
	if err != nil {
		return nil, err
	}
	if discount != granted {
		s.log.Warn("captured amount does not match priced order",
			zap.String("gateway_payment_id", payment.ID),
			zap.String("coupon_code", code),
			zap.Int64("subtotal", subtotal),
			zap.Int64("discount", granted),
			zap.Int64("captured", payment.Amount),
		)
		return nil, orderdomain.ErrAmountMismatch
	}
	if d := req.OrderData.Discount; d != nil && d.Shift(exp).Round(0).IntPart() != discount {
		return nil, orderdomain.ErrAmountMismatch
	}

	gatewayOrderID := req.GatewayOrderID
	paymentID := payment.ID
	order := &orderdomain.Order{
		ID:              s.genID.Generate(),
		UserID:          userID,
		SubtotalAmount:  subtotal,
		DiscountAmount:  discount,
		TotalAmount:     payment.Amount,
		Currency:        payment.Currency,
		GatewayOrderID:  &gatewayOrderID,
		PaymentID:       &paymentID,
		PaymentProvider: provider,
		PaymentStatus:   payment.Status,
		OrderStatus:     orderdomain.OrderStatusPending,
		Items:           items,
	}
	if code != "" {
		order.CouponCode = &code
	}
	for i := range order.Items {
		order.Items[i].ID = s.genID.Generate()
	}

	var res *entitlementdomain.Result
	inserted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.orders.Insert(ctx, tx, order)
		if err != nil {
			return storedb.StorageFailure("insert order", err)
		}
		if !ok {
			return nil
		}
		inserted = true
		res, err = s.granter.GrantInTx(ctx, tx, order.ID, entitlementdomain.Payment{
			PaymentID: payment.ID,
			Status:    payment.Status,
			Source:    entitlementdomain.SourceVerify,
		})
		return err
	})
	if err != nil {
		s.log.Error("verify transaction failed",
			zap.String("gateway_payment_id", payment.ID),
			zap.Error(err),
		)
		return nil, err
	}

	if !inserted {
		// A concurrent verify for the same payment committed first.
		stored, err := s.orders.FindByPayment(ctx, s.db, provider, payment.ID)
		if err != nil {
			return nil, storedb.StorageFailure("find order by payment", err)
		}
		if stored == nil {
			return nil, orderdomain.ErrOrderNotFound
		}
		return s.replay(ctx, userID, stored)
	}

	s.granter.AfterCommit(ctx, res)

	summary, err := s.summarize(ctx, res.Order)
	if err != nil {
		return nil, err
	}
	return &checkoutdomain.VerifyResponse{Order: *summary}, nil
}

// couponDiscount is the only source of a non-zero discount. Without a
// pricer every code is rejected.
func (s *Service) couponDiscount(ctx context.Context, code string, subtotal int64, currency string) (int64, error) {
	if code == "" {
		return 0, nil
	}
	if s.coupons == nil {
		return 0, checkoutdomain.ErrInvalidCoupon
	}
	return s.coupons.Discount(ctx, code, subtotal, currency)
}

// replay answers a repeated verify with the stored order. Orders of other
// users are reported as missing.
func (s *Service) replay(ctx context.Context, userID snowflake.ID, order *orderdomain.Order) (*checkoutdomain.VerifyResponse, error) {
	if order.UserID != userID {
		return nil, orderdomain.ErrOrderNotFound
	}
	s.log.Debug("verify replayed", zap.String("order_id", order.ID.String()))
	summary, err := s.summarize(ctx, order)
	if err != nil {
		return nil, err
	}
	return &checkoutdomain.VerifyResponse{Order: *summary}, nil
}

func (s *Service) GetOrder(ctx context.Context, userID snowflake.ID, orderID string) (*checkoutdomain.OrderSummary, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, order)
}

func (s *Service) ListOrders(ctx context.Context, userID snowflake.ID, req checkoutdomain.ListOrdersRequest) (*checkoutdomain.ListOrdersResponse, error) {
	if userID == 0 {
		return nil, checkoutdomain.ErrInvalidUser
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, checkoutdomain.ErrInvalidRequest
	}
	afterID, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}

	orders, err := s.orders.List(ctx, s.db, orderdomain.ListFilter{
		UserID:   userID,
		Status:   orderdomain.OrderStatus(req.Status),
		AfterID:  afterID,
		PageSize: req.PageSize + 1,
	})
	if err != nil {
		return nil, storedb.StorageFailure("list orders", err)
	}
	orders, info := pagination.Page(orders, req.PageSize, func(o orderdomain.Order) snowflake.ID { return o.ID })

	out := make([]checkoutdomain.OrderSummary, 0, len(orders))
	for i := range orders {
		summary, err := s.summarize(ctx, &orders[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *summary)
	}
	return &checkoutdomain.ListOrdersResponse{
		Orders:        out,
		NextPageToken: info.NextPageToken,
		HasMore:       info.HasMore,
	}, nil
}

func (s *Service) Receipt(ctx context.Context, userID snowflake.ID, orderID string) (*checkoutdomain.Receipt, error) {
	if s.pdf == nil {
		return nil, checkoutdomain.ErrReceiptNotAllowed
	}
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPaid || order.PaidAt == nil {
		return nil, checkoutdomain.ErrOrderNotPaid
	}

	summary, err := s.summarize(ctx, order)
	if err != nil {
		return nil, err
	}
	titles, err := s.titles(ctx, order.Items)
	if err != nil {
		return nil, err
	}

	data := pdf.ReceiptData{
		StoreName:     s.storeName,
		StoreEmail:    s.storeEmail,
		InvoiceNumber: summary.InvoiceNumber,
		OrderID:       summary.ID,
		DatePaid:      order.PaidAt.Format("January 2, 2006"),
		PaymentID:     summary.PaymentID,
		Currency:      summary.Currency,
		Subtotal:      summary.Subtotal,
		CouponCode:    summary.CouponCode,
		Total:         summary.TotalPrice,
	}
	if order.DiscountAmount > 0 {
		data.Discount = summary.Discount
	}
	if s.recipients != nil {
		if email, err := s.recipients.EmailFor(ctx, order.UserID); err == nil {
			data.BillToEmail = email
		}
	}
	format := s.formatter(order.Currency)
	for i, item := range order.Items {
		data.Items = append(data.Items, pdf.ReceiptItem{
			Description: titles[item.TargetID()],
			LicenseKey:  summary.Items[i].LicenseKey,
			Qty:         item.Qty,
			UnitPrice:   format(item.UnitAmount),
			Amount:      format(item.LineTotal()),
		})
	}

	content, err := s.pdf.GenerateReceipt(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	name := summary.InvoiceNumber
	if name == "" {
		name = summary.ID
	}
	return &checkoutdomain.Receipt{
		Filename: slug.Make(s.storeName+" receipt "+name) + ".pdf",
		Content:  content,
	}, nil
}

func (s *Service) ownedOrder(ctx context.Context, userID snowflake.ID, orderID string) (*orderdomain.Order, error) {
	if userID == 0 {
		return nil, checkoutdomain.ErrInvalidUser
	}
	id, err := snowflake.ParseString(strings.TrimSpace(orderID))
	if err != nil || id == 0 {
		return nil, orderdomain.ErrInvalidOrderID
	}
	order, err := s.orders.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, storedb.StorageFailure("find order", err)
	}
	if order == nil || order.UserID != userID {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}

type line struct {
	productID   snowflake.ID
	docID       snowflake.ID
	qty         int
	licenseType string
}

func parseItems(inputs []checkoutdomain.ItemInput) ([]line, error) {
	lines := make([]line, 0, len(inputs))
	for _, in := range inputs {
		l := line{qty: in.Qty, licenseType: strings.ToLower(strings.TrimSpace(in.LicenseType))}
		if l.qty == 0 {
			l.qty = 1
		}
		switch {
		case strings.TrimSpace(in.ProductID) != "":
			id, err := snowflake.ParseString(strings.TrimSpace(in.ProductID))
			if err != nil || id == 0 {
				return nil, orderdomain.ErrInvalidItems
			}
			l.productID = id
		case strings.TrimSpace(in.DocID) != "":
			id, err := snowflake.ParseString(strings.TrimSpace(in.DocID))
			if err != nil || id == 0 {
				return nil, orderdomain.ErrInvalidItems
			}
			l.docID = id
		default:
			return nil, orderdomain.ErrInvalidItems
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// price snapshots catalog prices onto order items. Client prices are ignored.
func (s *Service) price(ctx context.Context, lines []line, currency string) ([]orderdomain.OrderItem, error) {
	var productIDs, docIDs []snowflake.ID
	for _, l := range lines {
		if l.productID != 0 {
			productIDs = append(productIDs, l.productID)
		} else {
			docIDs = append(docIDs, l.docID)
		}
	}
	products, err := s.catalog.FindProducts(ctx, s.db, productIDs)
	if err != nil {
		return nil, storedb.StorageFailure("load products", err)
	}
	docs, err := s.catalog.FindDocs(ctx, s.db, docIDs)
	if err != nil {
		return nil, storedb.StorageFailure("load docs", err)
	}

	items := make([]orderdomain.OrderItem, 0, len(lines))
	for _, l := range lines {
		if l.productID != 0 {
			product, ok := products[l.productID]
			if !ok {
				return nil, catalogdomain.ErrProductNotFound
			}
			if !product.IsActive {
				return nil, catalogdomain.ErrItemInactive
			}
			if !strings.EqualFold(product.Currency, currency) {
				return nil, checkoutdomain.ErrCurrencyMismatch
			}
			licenseType := l.licenseType
			if licenseType == "" {
				licenseType = product.LicenseType
			}
			productID := product.ID
			items = append(items, orderdomain.OrderItem{
				ProductID:   &productID,
				Qty:         l.qty,
				UnitAmount:  product.Price,
				ItemType:    orderdomain.ItemTypeProduct,
				LicenseType: licenseType,
			})
			continue
		}

		doc, ok := docs[l.docID]
		if !ok {
			return nil, catalogdomain.ErrDocNotFound
		}
		if !doc.IsActive {
			return nil, catalogdomain.ErrItemInactive
		}
		if !strings.EqualFold(doc.Currency, currency) {
			return nil, checkoutdomain.ErrCurrencyMismatch
		}
		docID := doc.ID
		items = append(items, orderdomain.OrderItem{
			PremiumDocID: &docID,
			Qty:          l.qty,
			UnitAmount:   doc.Price,
			ItemType:     orderdomain.ItemTypeDoc,
		})
	}
	return items, nil
}

func (s *Service) summarize(ctx context.Context, order *orderdomain.Order) (*checkoutdomain.OrderSummary, error) {
	format := s.formatter(order.Currency)
	summary := &checkoutdomain.OrderSummary{
		ID:             order.ID.String(),
		Items:          make([]checkoutdomain.ItemSummary, 0, len(order.Items)),
		Subtotal:       format(order.SubtotalAmount),
		Discount:       format(order.DiscountAmount),
		TotalPrice:     format(order.TotalAmount),
		Currency:       order.Currency,
		PaymentStatus:  order.PaymentStatus,
		IsPaid:         order.IsPaid,
		PaidAt:         order.PaidAt,
		OrderStatus:    string(order.OrderStatus),
		DownloadExpiry: order.DownloadExpiry,
		CreatedAt:      order.CreatedAt,
	}
	if order.CouponCode != nil {
		summary.CouponCode = *order.CouponCode
	}
	if order.PaymentID != nil {
		summary.PaymentID = *order.PaymentID
	}
	for _, item := range order.Items {
		entry := checkoutdomain.ItemSummary{
			ID:          item.ID.String(),
			ItemType:    string(item.ItemType),
			Qty:         item.Qty,
			Price:       format(item.UnitAmount),
			LicenseType: item.LicenseType,
		}
		if item.ProductID != nil {
			entry.ProductID = item.ProductID.String()
		}
		if item.PremiumDocID != nil {
			entry.DocID = item.PremiumDocID.String()
		}
		if item.LicenseKey != nil {
			entry.LicenseKey = *item.LicenseKey
		}
		summary.Items = append(summary.Items, entry)
	}

	if order.IsPaid {
		invoice, err := s.orders.FindInvoice(ctx, s.db, order.ID)
		if err != nil {
			return nil, storedb.StorageFailure("find invoice", err)
		}
		if invoice != nil {
			summary.InvoiceNumber = invoice.InvoiceNumber
		}
	}
	return summary, nil
}

func (s *Service) formatter(currency string) func(int64) string {
	exp := gateway.ExponentWith(s.checkout.Get().CurrencyExponent, currency)
	return func(minor int64) string {
		return gateway.FromMinorUnitsExp(minor, exp).StringFixed(exp)
	}
}

func (s *Service) titles(ctx context.Context, items []orderdomain.OrderItem) (map[snowflake.ID]string, error) {
	var productIDs, docIDs []snowflake.ID
	for _, item := range items {
		if item.ProductID != nil {
			productIDs = append(productIDs, *item.ProductID)
		} else if item.PremiumDocID != nil {
			docIDs = append(docIDs, *item.PremiumDocID)
		}
	}
	products, err := s.catalog.FindProducts(ctx, s.db, productIDs)
	if err != nil {
		return nil, storedb.StorageFailure("load products", err)
	}
	docs, err := s.catalog.FindDocs(ctx, s.db, docIDs)
	if err != nil {
		return nil, storedb.StorageFailure("load docs", err)
	}
	titles := make(map[snowflake.ID]string, len(items))
	for id, p := range products {
		titles[id] = p.Title
	}
	for id, d := range docs {
		titles[id] = d.Title
	}
	return titles, nil
}
