package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogrepo "github.com/smallbiznis/storefront/internal/catalog/repository"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	orderrepo "github.com/smallbiznis/storefront/internal/order/repository"
	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emailStub struct {
	mu    sync.Mutex
	fail  error
	calls []map[string]any
	to    []string
}

func (e *emailStub) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (e *emailStub) SendTemplate(ctx context.Context, to []string, templateName string, data any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return e.fail
	}
	e.calls = append(e.calls, data.(map[string]any))
	e.to = append(e.to, to...)
	return nil
}

func (e *emailStub) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type recipientsStub map[snowflake.ID]string

func (r recipientsStub) EmailFor(ctx context.Context, userID snowflake.ID) (string, error) {
	if email, ok := r[userID]; ok {
		return email, nil
	}
	return "", ErrRecipientNotFound
}

func TestSendOrderConfirmationOncePerOrder(t *testing.T) {
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	userID := node.Generate()
	productID := node.Generate()
	testutil.SeedProduct(t, db, productID, "ui-kit", 2900, "INR", "")
	order := testutil.SeedOrder(t, db, node, userID, "order_N", "pay_N", 2900, productID)
	require.NoError(t, db.Exec(`UPDATE orders SET is_paid = ? WHERE id = ?`, true, order.ID).Error)

	key := "LIC-01J0000000000000000000000"
	order.Items[0].LicenseKey = &key
	paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	order.PaidAt = &paidAt

	mail := &emailStub{}
	d := NewDispatcher(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Cfg:        config.Config{Email: config.EmailConfig{StoreName: "Shop", SendTimeout: time.Second}},
		Clock:      clock.NewFakeClock(paidAt),
		Orders:     orderrepo.Provide(),
		Catalog:    catalogrepo.Provide(),
		Recipients: recipientsStub{userID: "buyer@example.com"},
		Email:      mail,
		Checkout:   config.NewStaticCheckoutConfigHolder(config.DefaultCheckoutConfig()),
	})

	for i := 0; i < 3; i++ {
		d.SendOrderConfirmation(context.Background(), *order)
	}
	require.NoError(t, d.Wait(context.Background()))

	assert.Equal(t, 1, mail.count())
	assert.Equal(t, []string{"buyer@example.com"}, mail.to)
	data := mail.calls[0]
	assert.Equal(t, "29.00", data["total"])
	assert.Equal(t, "1 Mar 2026", data["paid_at"])
	items := data["items"].([]map[string]any)
	require.Len(t, items, 1)
	assert.Equal(t, "ui-kit", items[0]["description"])
	assert.Equal(t, key, items[0]["license_key"])
	assert.EqualValues(t, 1, testutil.Count(t, db, `SELECT COUNT(*) FROM orders WHERE id = ? AND confirmation_sent_at IS NOT NULL`, order.ID))
}

func TestSendOrderConfirmationKeepsClaimOnFailure(t *testing.T) {
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	userID := node.Generate()
	productID := node.Generate()
	testutil.SeedProduct(t, db, productID, "p1", 2900, "INR", "")
	order := testutil.SeedOrder(t, db, node, userID, "order_F", "pay_F", 2900, productID)
	require.NoError(t, db.Exec(`UPDATE orders SET is_paid = ? WHERE id = ?`, true, order.ID).Error)

	mail := &emailStub{fail: errors.New("smtp down")}
	d := NewDispatcher(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clock.SystemClock{},
		Orders:     orderrepo.Provide(),
		Catalog:    catalogrepo.Provide(),
		Recipients: recipientsStub{userID: "buyer@example.com"},
		Email:      mail,
		Checkout:   config.NewStaticCheckoutConfigHolder(config.DefaultCheckoutConfig()),
	})

	d.SendOrderConfirmation(context.Background(), *order)
	require.NoError(t, d.Wait(context.Background()))
	assert.EqualValues(t, 1, testutil.Count(t, db, `SELECT COUNT(*) FROM orders WHERE id = ? AND confirmation_sent_at IS NOT NULL`, order.ID))

	mail.mu.Lock()
	mail.fail = nil
	mail.mu.Unlock()
	d.SendOrderConfirmation(context.Background(), *order)
	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, 0, mail.count())
}

func TestSendOrderConfirmationSkipsUnpaidOrder(t *testing.T) {
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	userID := node.Generate()
	productID := node.Generate()
	testutil.SeedProduct(t, db, productID, "p1", 2900, "INR", "")
	order := testutil.SeedOrder(t, db, node, userID, "order_U", "", 2900, productID)

	mail := &emailStub{}
	d := NewDispatcher(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clock.SystemClock{},
		Orders:     orderrepo.Provide(),
		Catalog:    catalogrepo.Provide(),
		Recipients: recipientsStub{userID: "buyer@example.com"},
		Email:      mail,
		Checkout:   config.NewStaticCheckoutConfigHolder(config.DefaultCheckoutConfig()),
	})
	d.SendOrderConfirmation(context.Background(), *order)
	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, 0, mail.count())
}

func TestUserRecipients(t *testing.T) {
	db := testutil.OpenDB(t)
	require.NoError(t, db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO users (id, email) VALUES (?, ?)`, 7, " a@example.com ").Error)

	r := NewUserRecipients(db)
	email, err := r.EmailFor(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", strings.TrimSpace(email))

	_, err = r.EmailFor(context.Background(), 8)
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}
