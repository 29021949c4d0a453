package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	entitlementdomain "github.com/smallbiznis/storefront/internal/entitlement/domain"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded PostgreSQL migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	src, err := newSource()
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

func newSource() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	driver, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	return driver, nil
}

type user struct {
	ID    int64  `gorm:"primaryKey;autoIncrement:false"`
	Email string `gorm:"type:text;not null"`
}

func (user) TableName() string { return "users" }

// AutoMigrate builds the schema from the models for stores the SQL
// migrations do not target (SQLite, MySQL).
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&user{},
		&catalogdomain.Product{},
		&catalogdomain.Doc{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&orderdomain.Invoice{},
		&entitlementdomain.PurchasedProduct{},
		&entitlementdomain.PurchasedDoc{},
		&paymentdomain.WebhookEvent{},
	)
}
