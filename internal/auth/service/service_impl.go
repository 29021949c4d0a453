package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	authdomain "github.com/smallbiznis/storefront/internal/auth/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const leeway = 30 * time.Second

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
}

type claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type service struct {
	log    *zap.Logger
	clock  clock.Clock
	secret []byte
	issuer string
}

func New(p Params) authdomain.Service {
	return &service{
		log:    p.Log.Named("auth.service"),
		clock:  p.Clock,
		secret: []byte(p.Cfg.AuthJWTSecret),
		issuer: p.Cfg.AuthJWTIssuer,
	}
}

func (s *service) Authenticate(ctx context.Context, rawToken string) (*authdomain.Principal, error) {
	if len(s.secret) == 0 {
		return nil, authdomain.ErrNotConfigured
	}
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, authdomain.ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(rawToken, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, authdomain.ErrTokenExpired
		}
		s.log.Debug("token rejected", zap.Error(err))
		return nil, authdomain.ErrInvalidToken
	}

	userID, err := snowflake.ParseString(c.Subject)
	if err != nil || userID == 0 {
		return nil, authdomain.ErrInvalidToken
	}
	role := strings.ToLower(strings.TrimSpace(c.Role))
	if role == "" {
		role = authdomain.RoleUser
	}
	return &authdomain.Principal{UserID: userID, Role: role}, nil
}

func (s *service) Issue(principal authdomain.Principal, ttl time.Duration) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, authdomain.ErrNotConfigured
	}
	if principal.UserID == 0 {
		return "", time.Time{}, authdomain.ErrInvalidToken
	}
	now := s.clock.Now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: principal.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
