package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/appointly/internal/config"
)

type Scope string

const (
	ScopeOTP    Scope = "otp"
	ScopeIntent Scope = "intent"
)

const keyPattern = "appointly:ratelimit:%s:%s"

type bucketLimit struct {
	rate  float64
	burst int
}

// Limiter throttles public endpoints per client. A nil or disabled Limiter
// allows everything.
type Limiter struct {
	bucket *TokenBucket
	limits map[Scope]bucketLimit
}

func NewLimiter(cfg config.Config) (*Limiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.OTPRate <= 0 || limitCfg.OTPBurst <= 0 {
		return nil, errors.New("otp rate limit must be positive")
	}
	if limitCfg.IntentRate <= 0 || limitCfg.IntentBurst <= 0 {
		return nil, errors.New("intent rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	return newLimiter(client, map[Scope]bucketLimit{
		ScopeOTP:    {rate: limitCfg.OTPRate, burst: limitCfg.OTPBurst},
		ScopeIntent: {rate: limitCfg.IntentRate, burst: limitCfg.IntentBurst},
	}), nil
}

func newLimiter(client *redis.Client, limits map[Scope]bucketLimit) *Limiter {
	return &Limiter{bucket: NewTokenBucket(client), limits: limits}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token from the client's bucket for scope.
func (l *Limiter) Allow(ctx context.Context, scope Scope, client string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	limit, ok := l.limits[scope]
	if !ok {
		return nil, fmt.Errorf("unknown rate limit scope %q", scope)
	}
	client = strings.TrimSpace(client)
	if client == "" {
		client = "anonymous"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPattern, scope, client), limit.rate, limit.burst)
}
