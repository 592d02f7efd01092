package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/idgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAllows(t *testing.T) {
	limiter, err := NewLimiter(config.Config{})
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	result, err := limiter.Allow(context.Background(), ScopeOTP, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestEnabledLimiterNeedsRedis(t *testing.T) {
	_, err := NewLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true, OTPRate: 1, OTPBurst: 1, IntentRate: 1, IntentBurst: 1}})
	assert.Error(t, err)

	_, err = NewLimiter(config.Config{RedisAddr: "localhost:6379", RateLimit: config.RateLimitConfig{Enabled: true}})
	assert.Error(t, err)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 40*time.Second, defaultBucketTTL(0.25, 5))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 0))
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, int64(0), castToInt("1"))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, 3.0, castToFloat(int64(3)))
	assert.Equal(t, 0.0, castToFloat("nope"))
}

// Runs against a real server when TEST_REDIS_ADDR is set.
func TestTokenBucketAgainstRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	limiter := newLimiter(client, map[Scope]bucketLimit{ScopeOTP: {rate: 0.01, burst: 2}})
	clientKey := idgen.New("test_")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Allow(ctx, ScopeOTP, clientKey)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
	result, err := limiter.Allow(ctx, ScopeOTP, clientKey)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Positive(t, result.RetryAfter)

	_, err = limiter.Allow(ctx, ScopeIntent, clientKey)
	assert.Error(t, err)
}
