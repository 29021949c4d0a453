package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) FindProducts(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]catalogdomain.Product, error) {
	out := make(map[snowflake.ID]catalogdomain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []catalogdomain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, title, slug, price, currency, license_type, num_sales, is_active, created_at, updated_at
		 FROM products WHERE id IN ?`,
		ids,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repo) FindDocs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]catalogdomain.Doc, error) {
	out := make(map[snowflake.ID]catalogdomain.Doc, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []catalogdomain.Doc
	err := db.WithContext(ctx).Raw(
		`SELECT id, title, slug, price, currency, purchases, is_active, created_at, updated_at
		 FROM docs WHERE id IN ?`,
		ids,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repo) IncrementSales(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE products SET num_sales = num_sales + 1, updated_at = CURRENT_TIMESTAMP WHERE id IN ?`,
		ids,
	).Error
}

func (r *repo) IncrementPurchases(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE docs SET purchases = purchases + 1, updated_at = CURRENT_TIMESTAMP WHERE id IN ?`,
		ids,
	).Error
}
