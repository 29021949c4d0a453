// Package testutil opens in-memory SQLite stores carrying the production schema.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE products (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		price INTEGER NOT NULL,
		currency TEXT NOT NULL,
		license_type TEXT,
		num_sales INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE docs (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		price INTEGER NOT NULL,
		currency TEXT NOT NULL,
		purchases INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		subtotal_amount INTEGER NOT NULL,
		discount_amount INTEGER NOT NULL DEFAULT 0,
		total_amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		coupon_code TEXT,
		gateway_order_id TEXT,
		payment_id TEXT,
		payment_provider TEXT NOT NULL,
		payment_status TEXT,
		is_paid BOOLEAN NOT NULL DEFAULT 0,
		paid_at DATETIME,
		order_status TEXT NOT NULL,
		download_expiry DATETIME,
		confirmation_sent_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (total_amount = subtotal_amount - discount_amount),
		CHECK (discount_amount >= 0)
	)`,
	`CREATE UNIQUE INDEX ux_orders_provider_payment ON orders (payment_provider, payment_id)`,
	`CREATE INDEX idx_orders_gateway_order ON orders (payment_provider, gateway_order_id)`,
	`CREATE INDEX idx_orders_user ON orders (user_id, id)`,
	`CREATE TABLE order_items (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id INTEGER REFERENCES products(id),
		premium_doc_id INTEGER REFERENCES docs(id),
		qty INTEGER NOT NULL CHECK (qty >= 1),
		unit_amount INTEGER NOT NULL,
		item_type TEXT NOT NULL,
		license_type TEXT,
		license_key TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK ((product_id IS NULL) <> (premium_doc_id IS NULL))
	)`,
	`CREATE TABLE user_purchased_products (
		user_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		order_id INTEGER NOT NULL,
		granted_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, product_id)
	)`,
	`CREATE TABLE user_purchased_docs (
		user_id INTEGER NOT NULL,
		doc_id INTEGER NOT NULL,
		order_id INTEGER NOT NULL,
		granted_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, doc_id)
	)`,
	`CREATE TABLE order_invoices (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
		invoice_number TEXT NOT NULL UNIQUE,
		total_amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		issued_at DATETIME NOT NULL
	)`,
	`CREATE TABLE webhook_events (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		event_type TEXT NOT NULL DEFAULT '',
		event_id TEXT,
		payload TEXT NOT NULL,
		signature_verified BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_message TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_webhook_events_provider_event ON webhook_events (provider, event_id)`,
}

// OpenDB returns a private in-memory database with the storefront schema.
// A single connection serializes transactions the way row locks would.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// Count runs a COUNT(*) style query and returns the scalar.
func Count(t *testing.T, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := db.Raw(query, args...).Scan(&n).Error; err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func SeedProduct(t *testing.T, db *gorm.DB, id snowflake.ID, slug string, price int64, currency, licenseType string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO products (id, title, slug, price, currency, license_type, num_sales, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		id, slug, slug, price, currency, licenseType,
	).Error
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func SeedDoc(t *testing.T, db *gorm.DB, id snowflake.ID, slug string, price int64, currency string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO docs (id, title, slug, price, currency, purchases, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		id, slug, slug, price, currency,
	).Error
	if err != nil {
		t.Fatalf("seed doc: %v", err)
	}
}

// SeedOrder writes an unpaid order for the given user with one line per
// product at its unit price. Totals are derived from the lines.
func SeedOrder(t *testing.T, db *gorm.DB, node *snowflake.Node, userID snowflake.ID, gatewayOrderID, paymentID string, unitAmount int64, productIDs ...snowflake.ID) *orderdomain.Order {
	t.Helper()
	order := &orderdomain.Order{
		ID:              node.Generate(),
		UserID:          userID,
		Currency:        "INR",
		PaymentProvider: "razorpay",
		OrderStatus:     orderdomain.OrderStatusPending,
	}
	if gatewayOrderID != "" {
		order.GatewayOrderID = &gatewayOrderID
	}
	if paymentID != "" {
		order.PaymentID = &paymentID
	}
	for _, productID := range productIDs {
		id := productID
		order.Items = append(order.Items, orderdomain.OrderItem{
			ID:         node.Generate(),
			OrderID:    order.ID,
			ProductID:  &id,
			Qty:        1,
			UnitAmount: unitAmount,
			ItemType:   orderdomain.ItemTypeProduct,
		})
		order.SubtotalAmount += unitAmount
	}
	order.TotalAmount = order.SubtotalAmount

	if err := db.Omit(clause.Associations).Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if len(order.Items) > 0 {
		if err := db.Create(&order.Items).Error; err != nil {
			t.Fatalf("seed order items: %v", err)
		}
	}
	return order
}
