package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Product is a purchasable template or component. Catalog CRUD lives
// elsewhere; this service only reads prices and bumps NumSales.
type Product struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Title       string       `gorm:"type:text;not null"`
	Slug        string       `gorm:"type:text;not null;uniqueIndex"`
	Price       int64        `gorm:"not null"`
	Currency    string       `gorm:"type:varchar(3);not null"`
	LicenseType string       `gorm:"column:license_type;type:text"`
	NumSales    int64        `gorm:"column:num_sales;not null;default:0"`
	IsActive    bool         `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Product) TableName() string { return "products" }

// Doc is a premium document.
type Doc struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Title     string       `gorm:"type:text;not null"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex"`
	Price     int64        `gorm:"not null"`
	Currency  string       `gorm:"type:varchar(3);not null"`
	Purchases int64        `gorm:"not null;default:0"`
	IsActive  bool         `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Doc) TableName() string { return "docs" }
