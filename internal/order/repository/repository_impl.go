package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	storedb "github.com/smallbiznis/storefront/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *orderdomain.Order) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_provider"}, {Name: "payment_id"}},
			DoNothing: true,
		}).
		Omit(clause.Associations).
		Create(order)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if len(order.Items) == 0 {
		return true, nil
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	if err := db.WithContext(ctx).Create(&order.Items).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	return r.findOne(ctx, db, db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByPayment(ctx context.Context, db *gorm.DB, provider, paymentID string) (*orderdomain.Order, error) {
	return r.findOne(ctx, db, db.WithContext(ctx).Where("payment_provider = ? AND payment_id = ?", provider, paymentID))
}

func (r *repo) FindByGatewayOrderID(ctx context.Context, db *gorm.DB, provider, gatewayOrderID string) (*orderdomain.Order, error) {
	return r.findOne(ctx, db, db.WithContext(ctx).Where("payment_provider = ? AND gateway_order_id = ?", provider, gatewayOrderID))
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, q *gorm.DB) (*orderdomain.Order, error) {
	var order orderdomain.Order
	if err := q.Take(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	items, err := r.ListItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	q := db.WithContext(ctx).Where("id = ?", id)
	// SQLite serializes writers and has no FOR UPDATE.
	if !storedb.IsSQLite(db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.findOne(ctx, db, q)
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]orderdomain.OrderItem, error) {
	var items []orderdomain.OrderItem
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter orderdomain.ListFilter) ([]orderdomain.Order, error) {
	q := db.WithContext(ctx).Where("user_id = ?", filter.UserID)
	if filter.Status != "" {
		q = q.Where("order_status = ?", filter.Status)
	}
	if filter.AfterID != 0 {
		q = q.Where("id < ?", filter.AfterID)
	}
	if filter.PageSize > 0 {
		q = q.Limit(filter.PageSize)
	}

	var orders []orderdomain.Order
	err := q.Preload("Items", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id ASC")
	}).Order("id DESC").Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, t orderdomain.PaidTransition) error {
	var paymentID *string
	if t.PaymentID != "" {
		paymentID = &t.PaymentID
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET is_paid = ?, paid_at = ?, order_status = ?, download_expiry = ?,
		     payment_id = COALESCE(payment_id, ?), payment_status = ?, updated_at = ?
		 WHERE id = ? AND is_paid = ?`,
		true,
		t.PaidAt,
		orderdomain.OrderStatusCompleted,
		t.DownloadExpiry,
		paymentID,
		t.PaymentStatus,
		t.PaidAt,
		id,
		false,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return orderdomain.ErrOrderNotFound
	}
	return nil
}

func (r *repo) SetLicenseKey(ctx context.Context, db *gorm.DB, itemID snowflake.ID, key string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE order_items SET license_key = ? WHERE id = ? AND license_key IS NULL`,
		key,
		itemID,
	).Error
}

func (r *repo) UpdatePaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders SET payment_status = ?, updated_at = ? WHERE id = ? AND is_paid = ?`,
		status,
		now,
		id,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders SET order_status = ?, payment_status = ?, updated_at = ?
		 WHERE id = ? AND is_paid = ? AND order_status <> ?`,
		orderdomain.OrderStatusRefunded,
		status,
		now,
		id,
		true,
		orderdomain.OrderStatusRefunded,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClaimConfirmation(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders SET confirmation_sent_at = ? WHERE id = ? AND is_paid = ? AND confirmation_sent_at IS NULL`,
		now,
		id,
		true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *orderdomain.Invoice) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(invoice)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindInvoice(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*orderdomain.Invoice, error) {
	var invoice orderdomain.Invoice
	err := db.WithContext(ctx).Where("order_id = ?", orderID).Take(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}
