package authorization

import (
	"context"
	"testing"

	authdomain "github.com/smallbiznis/storefront/internal/auth/domain"
	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(testutil.OpenDB(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeAdminOnlyActions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := authdomain.Principal{UserID: 1, Role: authdomain.RoleAdmin}
	user := authdomain.Principal{UserID: 2, Role: authdomain.RoleUser}

	assert.NoError(t, svc.Authorize(ctx, admin, ObjectWebhookEvent, ActionWebhookView))
	assert.NoError(t, svc.Authorize(ctx, admin, ObjectWebhookEvent, ActionWebhookRetry))
	assert.ErrorIs(t, svc.Authorize(ctx, user, ObjectWebhookEvent, ActionWebhookRetry), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, admin, ObjectWebhookEvent, "webhook_event.delete"), ErrForbidden)
}

func TestAuthorizeFollowsRoleChanges(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, authdomain.Principal{UserID: 9, Role: authdomain.RoleAdmin}, ObjectWebhookEvent, ActionWebhookView))
	err := svc.Authorize(ctx, authdomain.Principal{UserID: 9, Role: authdomain.RoleUser}, ObjectWebhookEvent, ActionWebhookView)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := authdomain.Principal{UserID: 1, Role: authdomain.RoleAdmin}

	assert.ErrorIs(t, svc.Authorize(ctx, authdomain.Principal{}, ObjectWebhookEvent, ActionWebhookView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, admin, " ", ActionWebhookView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, admin, ObjectWebhookEvent, ""), ErrInvalidAction)
}
