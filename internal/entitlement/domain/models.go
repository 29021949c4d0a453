package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PurchasedProduct grants a user access to a product. OrderID records the
// order that first granted it.
type PurchasedProduct struct {
	UserID    snowflake.ID `gorm:"column:user_id;primaryKey"`
	ProductID snowflake.ID `gorm:"column:product_id;primaryKey"`
	OrderID   snowflake.ID `gorm:"column:order_id;not null"`
	GrantedAt time.Time    `gorm:"column:granted_at;not null"`
}

func (PurchasedProduct) TableName() string { return "user_purchased_products" }

type PurchasedDoc struct {
	UserID    snowflake.ID `gorm:"column:user_id;primaryKey"`
	DocID     snowflake.ID `gorm:"column:doc_id;primaryKey"`
	OrderID   snowflake.ID `gorm:"column:order_id;not null"`
	GrantedAt time.Time    `gorm:"column:granted_at;not null"`
}

func (PurchasedDoc) TableName() string { return "user_purchased_docs" }
