package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	raw := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { raw.Close() })
	return NewClient(raw, nopLogger{}), s
}

func TestDeleteIfValue(t *testing.T) {
	ctx := context.Background()
	c, s := newTestClient(t)

	ok, err := c.SetNX(ctx, "lock:a", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := c.DeleteIfValue(ctx, "lock:a", "owner-2")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, s.Exists("lock:a"))

	deleted, err = c.DeleteIfValue(ctx, "lock:a", "owner-1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, s.Exists("lock:a"))
}

func TestExpireIfValue(t *testing.T) {
	ctx := context.Background()
	c, s := newTestClient(t)

	_, err := c.SetNX(ctx, "lock:b", "owner-1", time.Minute)
	require.NoError(t, err)

	ok, err := c.ExpireIfValue(ctx, "lock:b", "owner-1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Minute, s.TTL("lock:b"))

	ok, err = c.ExpireIfValue(ctx, "lock:b", "someone-else", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListLength(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	n, err := c.ListLength(ctx, "queue")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.PushToList(ctx, "queue", "a", "b"))
	n, err = c.ListLength(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMoveDue(t *testing.T) {
	ctx := context.Background()
	c, s := newTestClient(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, c.ScheduleAt(ctx, "retry", "due-1", now.Add(-time.Minute)))
	require.NoError(t, c.ScheduleAt(ctx, "retry", "due-2", now))
	require.NoError(t, c.ScheduleAt(ctx, "retry", "later", now.Add(time.Hour)))

	moved, err := c.MoveDue(ctx, "retry", "queue", now, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	list, err := s.List("queue")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"due-1", "due-2"}, list)

	members, err := s.ZMembers("retry")
	require.NoError(t, err)
	assert.Equal(t, []string{"later"}, members)
}

func TestGet_Missing(t *testing.T) {
	c, _ := newTestClient(t)

	val, ok, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, val)
}

func TestIncrWindow(t *testing.T) {
	ctx := context.Background()
	c, s := newTestClient(t)

	for want := int64(1); want <= 3; want++ {
		n, left, err := c.IncrWindow(ctx, "rate_limit:a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
		assert.Greater(t, left, time.Duration(0))
	}

	s.FastForward(61 * time.Second)
	n, _, err := c.IncrWindow(ctx, "rate_limit:a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a new window starts")
}
