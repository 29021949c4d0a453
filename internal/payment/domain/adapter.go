package domain

import (
	"context"
	"net/http"
)

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// PaymentAdapter verifies and parses webhook deliveries for one provider.
type PaymentAdapter interface {
	// EventID returns the provider-assigned delivery id, or "" when absent.
	EventID(payload []byte, headers http.Header) string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}
