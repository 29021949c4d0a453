package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/storefront/internal/auth/domain"
	authservice "github.com/smallbiznis/storefront/internal/auth/service"
	"github.com/smallbiznis/storefront/internal/authorization"
	catalogrepo "github.com/smallbiznis/storefront/internal/catalog/repository"
	checkoutservice "github.com/smallbiznis/storefront/internal/checkout/service"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	entitlementrepo "github.com/smallbiznis/storefront/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/storefront/internal/entitlement/service"
	"github.com/smallbiznis/storefront/internal/observability"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderrepo "github.com/smallbiznis/storefront/internal/order/repository"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/razorpay"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/gateway"
	"github.com/smallbiznis/storefront/internal/payment/gateway/gatewaytest"
	paymentrepo "github.com/smallbiznis/storefront/internal/payment/repository"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"github.com/smallbiznis/storefront/internal/providers/pdf"
	"github.com/smallbiznis/storefront/internal/testutil"
	storedb "github.com/smallbiznis/storefront/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jwtSecret     = "jwt-test-secret"
	keySecret     = "rzp_secret"
	webhookSecret = "whsec_test"
)

type testServer struct {
	engine *gin.Engine
	db     *gorm.DB
	node   *snowflake.Node
	gw     *gatewaytest.Fake
	auth   authdomain.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	cfg := config.Config{
		AuthJWTSecret: jwtSecret,
		AuthJWTIssuer: "storefront",
		Payment: config.PaymentConfig{
			Provider:      gateway.ProviderRazorpay,
			WebhookSecret: webhookSecret,
		},
		Email: config.EmailConfig{StoreName: "Shop"},
	}
	checkoutCfg := config.NewStaticCheckoutConfigHolder(config.DefaultCheckoutConfig())
	orders := orderrepo.Provide()
	catalog := catalogrepo.Provide()
	gw := gatewaytest.New(keySecret)

	granter := entitlementservice.NewService(entitlementservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        fc,
		GenID:        node,
		Orders:       orders,
		Catalog:      catalog,
		Entitlements: entitlementrepo.Provide(),
		Checkout:     checkoutCfg,
	})
	checkoutSvc := checkoutservice.NewService(checkoutservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      cfg,
		GenID:    node,
		Gateway:  gw,
		Orders:   orders,
		Catalog:  catalog,
		Granter:  granter,
		Checkout: checkoutCfg,
		PDF:      pdf.New(),
	})
	webhookSvc := webhook.NewService(webhook.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      cfg,
		Clock:    fc,
		GenID:    node,
		Repo:     paymentrepo.Provide(),
		Adapters: adapters.NewRegistry(razorpay.NewFactory()),
		Orders:   orders,
		Granter:  granter,
	})
	authSvc := authservice.New(authservice.Params{Cfg: cfg, Log: zap.NewNop(), Clock: fc})
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)

	engine := NewEngine(observability.Config{LogLevel: "info"}, obsmetrics.NewHTTPMetrics())
	NewServer(ServerParams{
		Gin:         engine,
		Cfg:         cfg,
		Log:         zap.NewNop(),
		Authsvc:     authSvc,
		AuthzSvc:    authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		CheckoutSvc: checkoutSvc,
		WebhookSvc:  webhookSvc,
	})

	return &testServer{engine: engine, db: db, node: node, gw: gw, auth: authSvc}
}

func (ts *testServer) token(t *testing.T, userID snowflake.ID, role string) string {
	t.Helper()
	token, _, err := ts.auth.Issue(authdomain.Principal{UserID: userID, Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body []byte, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) verifyBody(t *testing.T, paymentID, gatewayOrderID string, amount int64, total string, productID snowflake.ID) []byte {
	t.Helper()
	ts.gw.AddPayment(paymentdomain.Payment{
		ID:       paymentID,
		OrderID:  gatewayOrderID,
		Amount:   amount,
		Currency: "INR",
		Status:   "captured",
	})
	body, err := json.Marshal(map[string]any{
		"gatewayOrderId":   gatewayOrderID,
		"gatewayPaymentId": paymentID,
		"signature":        ts.gw.Sign(gatewayOrderID, paymentID),
		"orderData": map[string]any{
			"items":      []map[string]any{{"productId": productID.String(), "qty": 1, "price": "29.00"}},
			"totalPrice": total,
		},
	})
	require.NoError(t, err)
	return body
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return payload["type"].(string)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/orders", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorType(t, rec))

	rec = ts.do(t, http.MethodGet, "/orders", "not-a-jwt", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/orders", "", nil, http.Header{"Authorization": {"Basic abc"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyAndOrderRoutes(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.node.Generate()
	productID := ts.node.Generate()
	testutil.SeedProduct(t, ts.db, productID, "ui-kit", 2900, "INR", "")
	token := ts.token(t, userID, authdomain.RoleUser)

	body := ts.verifyBody(t, "pay_1", "order_1", 2900, "29.00", productID)
	rec := ts.do(t, http.MethodPost, "/payment/verify", token, body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decode(t, rec)["order"].(map[string]any)
	assert.Equal(t, true, order["isPaid"])
	assert.Equal(t, "29.00", order["totalPrice"])
	orderID := order["id"].(string)

	rec = ts.do(t, http.MethodPost, "/payment/verify", token, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orderID, decode(t, rec)["order"].(map[string]any)["id"])
	assert.EqualValues(t, 1, testutil.Count(t, ts.db, `SELECT COUNT(*) FROM orders`))

	rec = ts.do(t, http.MethodGet, "/orders", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.Len(t, list["data"], 1)
	assert.Equal(t, false, list["has_more"])

	rec = ts.do(t, http.MethodGet, "/orders/"+orderID, token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orderID, decode(t, rec)["data"].(map[string]any)["id"])

	rec = ts.do(t, http.MethodGet, "/orders/"+orderID+"/receipt", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "shop-receipt-inv-20260301-")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	stranger := ts.token(t, ts.node.Generate(), authdomain.RoleUser)
	rec = ts.do(t, http.MethodGet, "/orders/"+orderID, stranger, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorType(t, rec))

	rec = ts.do(t, http.MethodGet, "/orders/abc", token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.node.Generate()
	productID := ts.node.Generate()
	testutil.SeedProduct(t, ts.db, productID, "ui-kit", 2900, "INR", "")
	token := ts.token(t, userID, authdomain.RoleUser)

	var forged map[string]any
	require.NoError(t, json.Unmarshal(ts.verifyBody(t, "pay_x", "order_x", 2900, "29.00", productID), &forged))
	forged["signature"] = gateway.Sign([]byte("order_x|pay_x"), "wrong")
	body, err := json.Marshal(forged)
	require.NoError(t, err)
	rec := ts.do(t, http.MethodPost, "/payment/verify", token, body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_signature", errorType(t, rec))

	rec = ts.do(t, http.MethodPost, "/payment/verify", token, ts.verifyBody(t, "pay_y", "order_y", 2900, "30.00", productID), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodPost, "/payment/verify", token, []byte(`{"gatewayOrderId":"o","gatewayPaymentId":"p","signature":"s","orderData":{"items":[]}}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(t, rec))

	rec = ts.do(t, http.MethodPost, "/payment/verify", token, []byte(`{`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.gw.FailFetches(fmt.Errorf("%w: timeout", paymentdomain.ErrGatewayUnavailable))
	rec = ts.do(t, http.MethodPost, "/payment/verify", token, ts.verifyBody(t, "pay_z", "order_z", 2900, "29.00", productID), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.EqualValues(t, 0, testutil.Count(t, ts.db, `SELECT COUNT(*) FROM orders`))
}

func TestCreateOrder(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, ts.node.Generate(), authdomain.RoleUser)

	rec := ts.do(t, http.MethodPost, "/payment/create-order", token, []byte(`{"amount":"29.00"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "order_fake1", body["orderId"])
	assert.EqualValues(t, 2900, body["amount"])
	assert.Equal(t, "INR", body["currency"])
	assert.Equal(t, "rzp_test_key", body["keyIdForClientWidget"])
}

func TestWebhookRoutes(t *testing.T) {
	ts := newTestServer(t)
	productID := ts.node.Generate()
	testutil.SeedProduct(t, ts.db, productID, "ui-kit", 2900, "INR", "")
	order := testutil.SeedOrder(t, ts.db, ts.node, ts.node.Generate(), "order_w", "", 2900, productID)

	payload := []byte(`{"entity":"event","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_w","order_id":"order_w","amount":2900,"currency":"INR","status":"captured","notes":[]}}}}`)
	forged := http.Header{}
	forged.Set(razorpay.HeaderSignature, gateway.Sign(payload, "attacker"))
	forged.Set(razorpay.HeaderEventID, "evt_forged")
	rec := ts.do(t, http.MethodPost, "/webhooks/razorpay", "", payload, forged)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_signature", errorType(t, rec))

	valid := http.Header{}
	valid.Set(razorpay.HeaderSignature, gateway.Sign(payload, webhookSecret))
	valid.Set(razorpay.HeaderEventID, "evt_ok")
	rec = ts.do(t, http.MethodPost, "/webhooks/razorpay", "", payload, valid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["received"])
	assert.EqualValues(t, 1, testutil.Count(t, ts.db, `SELECT COUNT(*) FROM orders WHERE id = ? AND is_paid = ?`, order.ID, true))

	rec = ts.do(t, http.MethodPost, "/webhooks/razorpay", "", payload, valid)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/webhooks/paypal", "", payload, valid)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	user := ts.token(t, ts.node.Generate(), authdomain.RoleUser)
	rec = ts.do(t, http.MethodGet, "/webhooks/logs", user, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := ts.token(t, ts.node.Generate(), authdomain.RoleAdmin)
	rec = ts.do(t, http.MethodGet, "/webhooks/logs?status=FAILED", admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	logs := decode(t, rec)["data"].([]any)
	require.Len(t, logs, 1)
	forgedID := logs[0].(map[string]any)["id"]

	rec = ts.do(t, http.MethodGet, "/webhooks/logs?status=BOGUS", admin, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/webhooks/%v/retry", forgedID), admin, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/webhooks/%v/retry", forgedID), user, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/webhooks/123/retry", admin, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{paymentdomain.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
		{fmt.Errorf("fetch: %w", paymentdomain.ErrGatewayRejected), http.StatusBadGateway, "gateway_rejected"},
		{paymentdomain.ErrGatewayUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{storedb.StorageFailure("find order", paymentdomain.ErrEventNotFound), http.StatusInternalServerError, "storage_failure"},
		{authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{paymentdomain.ErrEventNotRetryable, http.StatusConflict, "conflict"},
		{invalidRequestError(), http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, payload.Type, tc.err.Error())
	}
}
