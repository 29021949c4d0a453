package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Razorpay {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRazorpayClient(config.PaymentConfig{
		BaseURL:        srv.URL,
		KeyID:          "rzp_test_key",
		KeySecret:      "rzp_test_secret",
		GatewayTimeout: timeout,
	}, zap.NewNop(), nil)
}

func TestCreatePaymentIntent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "rzp_test_secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 2900, body["amount"])
		assert.Equal(t, "INR", body["currency"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_abc","entity":"order","amount":2900,"currency":"INR","receipt":"rcpt_1","status":"created"}`))
	}, time.Second)

	intent, err := client.CreatePaymentIntent(context.Background(), paymentdomain.IntentRequest{
		Amount:   2900,
		Currency: "inr",
		Receipt:  "rcpt_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_abc", intent.ID)
	assert.EqualValues(t, 2900, intent.Amount)
	assert.Equal(t, "rzp_test_key", intent.KeyID)
}

func TestFetchPaymentDecodesNotes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pay_1","order_id":"order_abc","amount":2900,"currency":"INR","status":"captured","notes":{"receipt":"rcpt_1"},"created_at":1700000000}`))
	}, time.Second)

	payment, err := client.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "order_abc", payment.OrderID)
	assert.True(t, payment.Settled())
	assert.Equal(t, "rcpt_1", payment.Notes["receipt"])

	empty := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pay_2","order_id":"order_x","amount":100,"currency":"INR","status":"failed","notes":[]}`))
	}, time.Second)
	payment, err = empty.FetchPayment(context.Background(), "pay_2")
	require.NoError(t, err)
	assert.False(t, payment.Settled())
	assert.Empty(t, payment.Notes)
}

func TestGatewayErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{name: "bad request", status: http.StatusBadRequest, want: paymentdomain.ErrGatewayRejected},
		{name: "not found", status: http.StatusNotFound, want: paymentdomain.ErrGatewayRejected},
		{name: "unauthorized", status: http.StatusUnauthorized, want: paymentdomain.ErrGatewayUnavailable},
		{name: "server error", status: http.StatusBadGateway, want: paymentdomain.ErrGatewayUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
			}, time.Second)
			_, err := client.FetchPayment(context.Background(), "pay_missing")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGatewayTimeoutIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)

	_, err := client.FetchPayment(context.Background(), "pay_slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)
	assert.True(t, IsRetryable(err))
}
