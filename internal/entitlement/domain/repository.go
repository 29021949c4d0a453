package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// GrantProduct connects (user, product) and reports whether a new row was written.
	GrantProduct(ctx context.Context, db *gorm.DB, userID, productID, orderID snowflake.ID, at time.Time) (bool, error)
	GrantDoc(ctx context.Context, db *gorm.DB, userID, docID, orderID snowflake.ID, at time.Time) (bool, error)
	ListProducts(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]PurchasedProduct, error)
	ListDocs(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]PurchasedDoc, error)
}
