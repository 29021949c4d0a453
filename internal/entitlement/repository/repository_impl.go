package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/storefront/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() entitlementdomain.Repository {
	return &repo{}
}

func (r *repo) GrantProduct(ctx context.Context, db *gorm.DB, userID, productID, orderID snowflake.ID, at time.Time) (bool, error) {
	return r.grant(ctx, db, &entitlementdomain.PurchasedProduct{
		UserID:    userID,
		ProductID: productID,
		OrderID:   orderID,
		GrantedAt: at,
	}, "product_id")
}

func (r *repo) GrantDoc(ctx context.Context, db *gorm.DB, userID, docID, orderID snowflake.ID, at time.Time) (bool, error) {
	return r.grant(ctx, db, &entitlementdomain.PurchasedDoc{
		UserID:    userID,
		DocID:     docID,
		OrderID:   orderID,
		GrantedAt: at,
	}, "doc_id")
}

// grant inserts the entitlement row unless the user already holds the item.
// The first granting order is kept as provenance.
func (r *repo) grant(ctx context.Context, db *gorm.DB, row any, itemColumn string) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: itemColumn}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListProducts(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]entitlementdomain.PurchasedProduct, error) {
	var rows []entitlementdomain.PurchasedProduct
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, product_id, order_id, granted_at
		 FROM user_purchased_products WHERE user_id = ? ORDER BY granted_at ASC`,
		userID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListDocs(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]entitlementdomain.PurchasedDoc, error) {
	var rows []entitlementdomain.PurchasedDoc
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, doc_id, order_id, granted_at
		 FROM user_purchased_docs WHERE user_id = ? ORDER BY granted_at ASC`,
		userID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
