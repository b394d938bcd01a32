package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRedisLimiter_AllowsWithinLimit(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "test:allows", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 5-(i+1), result.Remaining)
	}
}

func TestRedisLimiter_BlocksWhenExceeded(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		result, err := limiter.Check(ctx, "test:blocks", 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i < 2, result.Allowed, "attempt %d", i)
	}

	// Rejected attempts do not extend the window.
	n, err := client.ZCard(ctx, keyPrefix+"test:blocks").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	client, _ := setupTestRedis(t)
	clk := newClock()

	limiter := NewRedisLimiter(client, testLogger())
	limiter.now = clk.now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "test:window", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.Check(ctx, "test:window", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.True(t, clk.t.Add(time.Second).Equal(result.ResetAt))

	clk.advance(1100 * time.Millisecond)

	result, err = limiter.Check(ctx, "test:window", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	clk := newClock()
	limiter := NewMemoryLimiter(testLogger())
	limiter.now = clk.now
	ctx := context.Background()

	res, err := limiter.Check(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter(clk.t))

	clk.advance(61 * time.Second)
	res, err = limiter.Check(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	clk.advance(time.Hour)
	limiter.Cleanup(time.Minute)
	assert.Empty(t, limiter.buckets)
}

type failingLimiter struct{}

func (failingLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	return nil, errors.New("redis down")
}

func TestAdaptiveLimiter_FallsBackWithHalfLimit(t *testing.T) {
	limiter := NewAdaptiveLimiter(failingLimiter{}, NewMemoryLimiter(testLogger()), testLogger())
	ctx := context.Background()

	res, err := limiter.Check(ctx, "k", 4, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "k", 4, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "k", 4, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCleaner_RemovesStaleKeys(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, client.ZAdd(ctx, keyPrefix+"user:1", redis.Z{Score: float64(old), Member: "a"}).Err())
	require.NoError(t, client.ZAdd(ctx, keyPrefix+"user:2", redis.Z{Score: float64(time.Now().UnixMilli()), Member: "b"}).Err())

	c := NewCleaner(client, nil, testLogger(), time.Minute, 5*time.Minute)
	assert.Equal(t, 1, c.cleanup(ctx))

	exists, err := client.Exists(ctx, keyPrefix+"user:2").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
