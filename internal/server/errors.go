package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/storefront/internal/auth/domain"
	"github.com/smallbiznis/storefront/internal/authorization"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/storefront/internal/checkout/domain"
	entitlementdomain "github.com/smallbiznis/storefront/internal/entitlement/domain"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	storedb "github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
	ErrRateLimited  = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

type errorRule struct {
	status  int
	kind    string
	message string
	errs    []error
}

var errorRules = []errorRule{
	{http.StatusBadRequest, "invalid_signature", "invalid signature", []error{
		paymentdomain.ErrInvalidSignature,
	}},
	{http.StatusUnauthorized, "unauthorized", "unauthorized", []error{
		ErrUnauthorized,
		authdomain.ErrMissingToken,
		authdomain.ErrInvalidToken,
		authdomain.ErrTokenExpired,
		checkoutdomain.ErrInvalidUser,
	}},
	{http.StatusForbidden, "forbidden", "forbidden", []error{
		authorization.ErrForbidden,
		authorization.ErrInvalidActor,
	}},
	{http.StatusNotFound, "not_found", "not found", []error{
		ErrNotFound,
		orderdomain.ErrOrderNotFound,
		paymentdomain.ErrEventNotFound,
		paymentdomain.ErrProviderNotFound,
		catalogdomain.ErrProductNotFound,
		catalogdomain.ErrDocNotFound,
	}},
	{http.StatusConflict, "conflict", "conflict", []error{
		paymentdomain.ErrEventNotRetryable,
		paymentdomain.ErrRetryInProgress,
	}},
	{http.StatusUnprocessableEntity, "unprocessable", "payment could not be accepted", []error{
		orderdomain.ErrAmountMismatch,
		orderdomain.ErrNegativeDiscount,
		checkoutdomain.ErrInvalidCoupon,
		paymentdomain.ErrPaymentMismatch,
		paymentdomain.ErrPaymentNotCaptured,
		checkoutdomain.ErrCurrencyMismatch,
		catalogdomain.ErrItemInactive,
		checkoutdomain.ErrOrderNotPaid,
		entitlementdomain.ErrInvalidPayment,
	}},
	{http.StatusTooManyRequests, "rate_limited", "too many requests", []error{
		ErrRateLimited,
	}},
	{http.StatusBadGateway, "gateway_rejected", "payment gateway rejected the request", []error{
		paymentdomain.ErrGatewayRejected,
	}},
	{http.StatusServiceUnavailable, "service_unavailable", "service unavailable", []error{
		paymentdomain.ErrGatewayUnavailable,
		authdomain.ErrNotConfigured,
		checkoutdomain.ErrReceiptNotAllowed,
	}},
}

var validationErrs = []error{
	checkoutdomain.ErrInvalidRequest,
	orderdomain.ErrInvalidOrderID,
	orderdomain.ErrInvalidItems,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidCurrency,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrInvalidFilter,
	pagination.ErrInvalidPageToken,
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	// Storage failures wrap their cause and must win over it.
	if errors.Is(err, storedb.ErrStorageFailure) {
		return http.StatusInternalServerError, errorPayload{
			Type:    "storage_failure",
			Message: "internal server error",
		}
	}

	for _, target := range validationErrs {
		if errors.Is(err, target) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: "validation error",
				Errors: []ValidationError{
					{
						Field:   validationErrorField(target),
						Code:    target.Error(),
						Message: "invalid value",
					},
				},
			}
		}
	}

	for _, rule := range errorRules {
		for _, target := range rule.errs {
			if errors.Is(err, target) {
				return rule.status, errorPayload{
					Type:    rule.kind,
					Message: rule.message,
				}
			}
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(target error) string {
	switch {
	case errors.Is(target, orderdomain.ErrInvalidOrderID):
		return "id"
	case errors.Is(target, orderdomain.ErrInvalidItems):
		return "items"
	case errors.Is(target, pagination.ErrInvalidPageToken):
		return "page_token"
	case errors.Is(target, paymentdomain.ErrInvalidProvider):
		return "provider"
	default:
		return "request"
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, err.Error()
}
