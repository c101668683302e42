package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/config"
)

func TestLocalLockerExcludesUntilExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewLocalLocker(clk)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// wrong token leaves the lease in place
	require.NoError(t, l.Release(ctx, "k", "other"))
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)

	clk.Advance(time.Minute)
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestLocalLockerRelease(t *testing.T) {
	l := NewLocalLocker(nil)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Release(ctx, "k", token))

	_, ok, err = l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockArgs(t *testing.T) {
	l := NewLocalLocker(nil)
	_, _, err := l.TryLock(context.Background(), "", time.Second)
	assert.Error(t, err)
	_, _, err = l.TryLock(context.Background(), "k", 0)
	assert.Error(t, err)

	var r *RedisLocker
	_, _, err = r.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, r.Release(context.Background(), "k", "t"))
}

func TestLimiterWithoutRedisAllowsAndLocksLocally(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, LookupRate: 1, LookupBurst: 1, SubmitRate: 1, SubmitBurst: 1}}
	l := NewLimiter(cfg, nil, zap.NewNop())
	ctx := context.Background()

	assert.False(t, l.Enabled())
	res, err := l.AllowLookup(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := l.TryLockSubmit(ctx, "sess")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, _ = l.TryLockSubmit(ctx, "sess")
	assert.False(t, ok)

	l.ReleaseSubmit(ctx, "sess", token)
	_, ok, _ = l.TryLockSubmit(ctx, "sess")
	assert.True(t, ok)
}

func TestEvaluateRetryAfter(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	res := evaluate(false, 0, 0.5, 10, at)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2*time.Second, res.RetryAfter)
	assert.Equal(t, at.Add(2*time.Second), res.ResetTime)
	assert.Equal(t, 10, res.Limit)

	res = evaluate(true, 4, 0.5, 10, at)
	assert.Zero(t, res.RetryAfter)
	assert.Equal(t, 4, res.Remaining)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 40*time.Second, defaultBucketTTL(0.5, 10))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 1))
}
