package domain

import (
	"context"
	"time"
)

type Service interface {
	// Authenticate parses a bearer token and returns its principal.
	Authenticate(ctx context.Context, rawToken string) (*Principal, error)
	// Issue signs a token for the principal. Used by tooling and tests; the
	// storefront's login flow lives elsewhere.
	Issue(principal Principal, ttl time.Duration) (string, time.Time, error)
}
