package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindProducts(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]Product, error)
	FindDocs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]Doc, error)
	// IncrementSales adds one to num_sales for every id. Callers pass distinct ids.
	IncrementSales(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error
	IncrementPurchases(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error
}
