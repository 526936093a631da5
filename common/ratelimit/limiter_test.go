package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdesk/legalarchive/common/logger"
	rediscommon "github.com/superdesk/legalarchive/common/redis"
)

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	raw := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer raw.Close()

	limiter := NewRateLimiter(rediscommon.NewClient(raw, logger.Discard()), 2, time.Minute)

	for i := 0; i < 2; i++ {
		res, err := limiter.Check(ctx, "commands")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Check(ctx, "commands")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(3), res.CurrentCount)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	other, err := limiter.Check(ctx, "items")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are counted separately")

	s.FastForward(time.Minute)
	res, err = limiter.Check(ctx, "commands")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
