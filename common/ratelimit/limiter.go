package ratelimit

import (
	"context"
	"fmt"
	"time"

	rediscommon "github.com/superdesk/legalarchive/common/redis"
)

const keyPrefix = "rate_limit:"

// Result is the outcome of one limit check
type Result struct {
	Allowed      bool
	CurrentCount int64
	Limit        int64
	RetryAfter   time.Duration // zero when allowed
}

// RateLimiter is a fixed-window counter shared by every instance through Redis
type RateLimiter struct {
	redis  *rediscommon.Client
	limit  int64
	window time.Duration
}

// NewRateLimiter allows limit hits per window for each key
func NewRateLimiter(redis *rediscommon.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redis, limit: limit, window: window}
}

// Check counts one hit against key
func (r *RateLimiter) Check(ctx context.Context, key string) (*Result, error) {
	count, left, err := r.redis.IncrWindow(ctx, keyPrefix+key, r.window)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	res := &Result{
		Allowed:      count <= r.limit,
		CurrentCount: count,
		Limit:        r.limit,
	}
	if !res.Allowed {
		res.RetryAfter = left
	}
	return res, nil
}
