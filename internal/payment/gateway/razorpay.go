package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smallbiznis/storefront/internal/config"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const ProviderRazorpay = "razorpay"

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Razorpay talks to the Razorpay REST API with basic auth.
type Razorpay struct {
	http      *resty.Client
	keyID     string
	keySecret string
	log       *zap.Logger
	metrics   *obsmetrics.Metrics
}

func NewRazorpay(p Params) paymentdomain.Gateway {
	return NewRazorpayClient(p.Cfg.Payment, p.Log, p.Metrics)
}

func NewRazorpayClient(cfg config.PaymentConfig, log *zap.Logger, metrics *obsmetrics.Metrics) *Razorpay {
	timeout := cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	httpClient.SetTimeout(timeout)
	httpClient.SetBasicAuth(cfg.KeyID, cfg.KeySecret)
	httpClient.SetHeader("Content-Type", "application/json")

	return &Razorpay{
		http:      httpClient,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		log:       log.Named("payment.gateway"),
		metrics:   metrics,
	}
}

func (r *Razorpay) Provider() string { return ProviderRazorpay }

func (r *Razorpay) KeyID() string { return r.keyID }

func (r *Razorpay) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return VerifyPaymentSignature(orderID, paymentID, signature, r.keySecret)
}

type razorpayOrder struct {
	ID       string            `json:"id"`
	Entity   string            `json:"entity"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes"`
}

type razorpayPayment struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	Method    string          `json:"method"`
	Email     string          `json:"email"`
	Notes     json.RawMessage `json:"notes"`
	CreatedAt int64           `json:"created_at"`
}

type razorpayRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (r *Razorpay) CreatePaymentIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, paymentdomain.ErrInvalidCurrency
	}

	body := map[string]any{
		"amount":   req.Amount,
		"currency": currency,
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		body["receipt"] = receipt
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out razorpayOrder
	if err := r.call(ctx, "create_order", http.MethodPost, "/v1/orders", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: create_order: empty order id", paymentdomain.ErrGatewayUnavailable)
	}

	return &paymentdomain.Intent{
		ID:       out.ID,
		Amount:   out.Amount,
		Currency: strings.ToUpper(out.Currency),
		Receipt:  out.Receipt,
		Status:   out.Status,
		KeyID:    r.keyID,
	}, nil
}

func (r *Razorpay) FetchPayment(ctx context.Context, paymentID string) (*paymentdomain.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var out razorpayPayment
	if err := r.call(ctx, "fetch_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}

	payment := &paymentdomain.Payment{
		ID:       out.ID,
		OrderID:  out.OrderID,
		Amount:   out.Amount,
		Currency: strings.ToUpper(out.Currency),
		Status:   strings.ToLower(out.Status),
		Method:   out.Method,
		Email:    out.Email,
		Notes:    DecodeNotes(out.Notes),
	}
	if out.CreatedAt > 0 {
		payment.CreatedAt = time.Unix(out.CreatedAt, 0).UTC()
	}
	return payment, nil
}

func (r *Razorpay) FetchRefund(ctx context.Context, refundID string) (*paymentdomain.Refund, error) {
	refundID = strings.TrimSpace(refundID)
	if refundID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var out razorpayRefund
	if err := r.call(ctx, "fetch_refund", http.MethodGet, "/v1/refunds/"+url.PathEscape(refundID), nil, &out); err != nil {
		return nil, err
	}
	return &paymentdomain.Refund{
		ID:        out.ID,
		PaymentID: out.PaymentID,
		Amount:    out.Amount,
		Currency:  strings.ToUpper(out.Currency),
		Status:    strings.ToLower(out.Status),
	}, nil
}

// call maps transport failures, timeouts, 401 and 5xx to ErrGatewayUnavailable
// and every other non-2xx to ErrGatewayRejected.
func (r *Razorpay) call(ctx context.Context, op, method, path string, body any, out any) error {
	req := r.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		r.record(ctx, op, "unavailable")
		r.log.Warn("gateway call failed",
			zap.String("operation", op),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s: %v", paymentdomain.ErrGatewayUnavailable, op, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		var apiErr razorpayError
		_ = json.Unmarshal(resp.Body(), &apiErr)
		description := strings.TrimSpace(apiErr.Error.Description)
		if description == "" {
			description = http.StatusText(status)
		}

		if status == http.StatusUnauthorized || status >= http.StatusInternalServerError {
			r.record(ctx, op, "unavailable")
			r.log.Error("gateway unavailable",
				zap.String("operation", op),
				zap.Int("status", status),
				zap.String("description", description),
			)
			return fmt.Errorf("%w: %s: status %d", paymentdomain.ErrGatewayUnavailable, op, status)
		}

		r.record(ctx, op, "rejected")
		r.log.Warn("gateway rejected request",
			zap.String("operation", op),
			zap.Int("status", status),
			zap.String("code", apiErr.Error.Code),
			zap.String("description", description),
		)
		return fmt.Errorf("%w: %s: %s", paymentdomain.ErrGatewayRejected, op, description)
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			r.record(ctx, op, "unavailable")
			return fmt.Errorf("%w: %s: decode response: %v", paymentdomain.ErrGatewayUnavailable, op, err)
		}
	}
	r.record(ctx, op, "ok")
	return nil
}

func (r *Razorpay) record(ctx context.Context, op, outcome string) {
	r.metrics.RecordGatewayCall(ctx, ProviderRazorpay, op, outcome)
}

// DecodeNotes accepts both the object form and the empty-array form the API
// returns when no notes were set.
func DecodeNotes(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var notes map[string]any
	if err := json.Unmarshal(raw, &notes); err != nil {
		return nil
	}
	out := make(map[string]string, len(notes))
	for k, v := range notes {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64, bool:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// IsRetryable reports whether the client may retry the same call.
func IsRetryable(err error) bool {
	return errors.Is(err, paymentdomain.ErrGatewayUnavailable)
}
