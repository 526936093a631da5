package lock

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

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	raw := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { raw.Close() })
	return NewRedisLocker(rediscommon.NewClient(raw, logger.Discard())), s
}

func TestRedisLocker_SkipWhenHeld(t *testing.T) {
	ctx := context.Background()
	locker, _ := newRedisLocker(t)
	name := ID("legal_archive", "import_to_legal_archive")

	first, err := locker.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := locker.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second, "held lock must not be handed out twice")

	require.NoError(t, first.Release(ctx))

	third, err := locker.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestRedisLocker_LeaseExpires(t *testing.T) {
	ctx := context.Background()
	locker, s := newRedisLocker(t)

	crashed, err := locker.Acquire(ctx, "job", 310*time.Second)
	require.NoError(t, err)
	require.NotNil(t, crashed)

	s.FastForward(311 * time.Second)

	next, err := locker.Acquire(ctx, "job", 310*time.Second)
	require.NoError(t, err)
	require.NotNil(t, next)

	// The old holder waking up must not free the new holder's lease.
	require.NoError(t, crashed.Release(ctx))
	assert.True(t, s.Exists("lock:job"))

	owner, err := s.Get("lock:job")
	require.NoError(t, err)
	assert.Equal(t, next.Owner, owner)
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.clock = func() time.Time { return now }

	first, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	busy, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, busy)

	now = now.Add(2 * time.Minute)
	taken, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, taken)

	require.NoError(t, first.Release(ctx))
	busy, err = locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, busy, "stale release must not free the new lease")

	require.NoError(t, taken.Release(ctx))
	require.NoError(t, taken.Release(ctx))
}

func TestRedisLocker_Extend(t *testing.T) {
	ctx := context.Background()
	locker, s := newRedisLocker(t)

	lease, err := locker.Acquire(ctx, "job", 1810*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)

	s.FastForward(1800 * time.Second)
	require.NoError(t, lease.Extend(ctx))
	assert.Equal(t, 1810*time.Second, s.TTL("lock:job"))

	s.FastForward(1811 * time.Second)
	err = lease.Extend(ctx)
	assert.ErrorIs(t, err, ErrLeaseLost)
}

func TestMemoryLocker_Extend(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.clock = func() time.Time { return now }

	lease, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	now = now.Add(50 * time.Second)
	require.NoError(t, lease.Extend(ctx))

	now = now.Add(50 * time.Second)
	busy, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, busy, "extended lease must still be held")

	now = now.Add(time.Minute)
	assert.ErrorIs(t, lease.Extend(ctx), ErrLeaseLost)
}
