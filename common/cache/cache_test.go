package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdesk/legalarchive/common/logger"
)

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(logger.Discard(), 0)
	defer c.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "user:1", []byte("Jane Doe"), time.Minute))

	val, ok, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Jane Doe", string(val))

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, ok)

	c.sweep()
	assert.Equal(t, 0, c.Stats()["entries"])
}

func TestMemoryCache_DeleteAndClose(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(logger.Discard(), time.Hour)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")
}
