package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/config"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyCheckoutUser = "storefront:ratelimit:%s:%s"
	keyLock         = "storefront:lock:%s"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Limiter throttles checkout calls per user and serializes admin retries.
// A nil Limiter allows everything and hands out no-op locks.
type Limiter struct {
	client  *redis.Client
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewLimiter(p Params) (*Limiter, error) {
	limitCfg := p.Cfg.RateLimit
	if !limitCfg.Enabled {
		p.Log.Info("rate limiting disabled")
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.CheckoutRate <= 0 || limitCfg.CheckoutBurst <= 0 {
		return nil, errors.New("checkout rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				p.Log.Warn("redis unreachable, limiter fails open", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return newLimiter(client, limitCfg, p.Log, p.Metrics), nil
}

func newLimiter(client *redis.Client, cfg config.RateLimitConfig, log *zap.Logger, metrics *obsmetrics.Metrics) *Limiter {
	lockTTL := cfg.RetryLockTTL
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &Limiter{
		client:  client,
		log:     log.Named("ratelimit"),
		metrics: metrics,
		rate:    cfg.CheckoutRate,
		burst:   cfg.CheckoutBurst,
		lockTTL: lockTTL,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.client != nil
}

// Allow consumes one token for subject on endpoint. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, endpoint, subject string) Result {
	if !l.Enabled() {
		return Result{Allowed: true}
	}
	key := fmt.Sprintf(keyCheckoutUser, strings.TrimSpace(endpoint), strings.TrimSpace(subject))
	res, err := take(ctx, l.client, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limit check failed", zap.String("endpoint", endpoint), zap.Error(err))
		l.metrics.RecordRateLimitAllowed(ctx, endpoint)
		return Result{Allowed: true}
	}
	if !res.Allowed {
		l.metrics.RecordRateLimitDenied(ctx, endpoint, "bucket_empty")
		return res
	}
	l.metrics.RecordRateLimitAllowed(ctx, endpoint)
	return res
}

// Lock takes a short-lived exclusive lock. ok is false when another holder
// has it. Without Redis the lock is always granted.
func (l *Limiter) Lock(ctx context.Context, name string) (release func(), ok bool, err error) {
	if !l.Enabled() {
		return func() {}, true, nil
	}
	key := fmt.Sprintf(keyLock, strings.TrimSpace(name))
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, key, token, l.lockTTL).Result()
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, true, nil
}
