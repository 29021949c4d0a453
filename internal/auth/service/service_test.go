package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	authdomain "github.com/smallbiznis/storefront/internal/auth/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, secret string) (authdomain.Service, *clock.FakeClock) {
	t.Helper()
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := New(Params{
		Cfg:   config.Config{AuthJWTSecret: secret, AuthJWTIssuer: "storefront"},
		Log:   zap.NewNop(),
		Clock: fc,
	})
	return svc, fc
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t, "s3cret")
	userID := snowflake.ID(42)

	token, expiresAt, err := svc.Issue(authdomain.Principal{UserID: userID, Role: authdomain.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), expiresAt)

	principal, err := svc.Authenticate(context.Background(), " "+token+" ")
	require.NoError(t, err)
	assert.Equal(t, userID, principal.UserID)
	assert.True(t, principal.IsAdmin())
	assert.Equal(t, "user:42", principal.Subject())
}

func TestAuthenticateDefaultsRole(t *testing.T) {
	svc, _ := newTestService(t, "s3cret")
	token, _, err := svc.Issue(authdomain.Principal{UserID: 7}, time.Hour)
	require.NoError(t, err)

	principal, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, authdomain.RoleUser, principal.Role)
}

func TestAuthenticateRejects(t *testing.T) {
	svc, fc := newTestService(t, "s3cret")
	other, _ := newTestService(t, "other")

	valid, _, err := svc.Issue(authdomain.Principal{UserID: 7}, time.Minute)
	require.NoError(t, err)
	forged, _, err := other.Issue(authdomain.Principal{UserID: 7}, time.Minute)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "7", Issuer: "storefront"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, authdomain.ErrMissingToken)
	_, err = svc.Authenticate(context.Background(), forged)
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)
	_, err = svc.Authenticate(context.Background(), unsigned)
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)
	_, err = svc.Authenticate(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)

	fc.Advance(2 * time.Minute)
	_, err = svc.Authenticate(context.Background(), valid)
	assert.ErrorIs(t, err, authdomain.ErrTokenExpired)
}

func TestAuthenticateWithoutSecret(t *testing.T) {
	svc, _ := newTestService(t, "")
	_, err := svc.Authenticate(context.Background(), "x")
	assert.ErrorIs(t, err, authdomain.ErrNotConfigured)
}
