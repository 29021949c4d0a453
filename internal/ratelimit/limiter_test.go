package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLimiterFailsOpen(t *testing.T) {
	var l *Limiter
	assert.False(t, l.Enabled())
	assert.True(t, l.Allow(context.Background(), "verify", "42").Allowed)

	release, ok, err := l.Lock(context.Background(), "webhook:1")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, bucketTTL(0, 10))
	assert.Equal(t, 20*time.Second, bucketTTL(1, 10))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, 4*time.Second, bucketTTL(2.5, 5))
}

func TestTakeRejectsNonPositiveLimits(t *testing.T) {
	_, err := take(context.Background(), nil, "k", 0, 10)
	assert.Error(t, err)
	_, err = take(context.Background(), nil, "k", 1, 0)
	assert.Error(t, err)
}
