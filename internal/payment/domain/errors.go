package domain

import "errors"

var (
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrGatewayRejected    = errors.New("gateway_rejected")

	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidPayload  = errors.New("invalid_payload")
	ErrInvalidEvent    = errors.New("invalid_event")
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrInvalidConfig   = errors.New("invalid_config")
	ErrInvalidFilter   = errors.New("invalid_filter")

	ErrProviderNotFound = errors.New("provider_not_found")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrEventNotFound    = errors.New("webhook_event_not_found")
	// ErrEventNotRetryable is returned for events whose signature never verified.
	ErrEventNotRetryable = errors.New("webhook_event_not_retryable")
	ErrRetryInProgress   = errors.New("webhook_retry_in_progress")

	ErrPaymentNotCaptured = errors.New("payment_not_captured")
	ErrPaymentMismatch    = errors.New("payment_mismatch")
)
