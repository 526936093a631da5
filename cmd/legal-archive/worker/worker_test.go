package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdesk/legalarchive/cmd/legal-archive/service"
	"github.com/superdesk/legalarchive/common/logger"
	"github.com/superdesk/legalarchive/common/models"
	rediscommon "github.com/superdesk/legalarchive/common/redis"
)

type fakeUpserter struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (f *fakeUpserter) Upsert(ctx context.Context, itemID string) (*service.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, itemID)
	if err := f.fail[itemID]; err != nil {
		return nil, err
	}
	return &service.UpsertResult{ItemID: itemID, State: service.StateAbsent}, nil
}

func (f *fakeUpserter) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeUpserter) succeed(itemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fail, itemID)
}

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestWorker(t *testing.T, up *fakeUpserter) (*Worker, *miniredis.Miniredis, *clock) {
	t.Helper()
	s := miniredis.RunT(t)
	raw := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { raw.Close() })

	w := New(Config{PollInterval: 50 * time.Millisecond}, rediscommon.NewClient(raw, logger.Discard()), up, nil, logger.Discard())
	c := &clock{now: start}
	w.now = c.Now
	return w, s, c
}

func TestWorker_ImportsQueuedItem(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpserter{}
	w, s, _ := newTestWorker(t, up)

	require.NoError(t, w.Enqueue(ctx, "a"))
	list, err := s.List(DefaultQueueKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, list)

	pending, err := w.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	took, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	assert.Equal(t, []string{"a"}, up.called())
	assert.False(t, s.Exists(DefaultRetryKey))

	pending, err = w.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestWorker_EnqueueRequiresID(t *testing.T) {
	w, _, _ := newTestWorker(t, &fakeUpserter{})
	assert.Error(t, w.Enqueue(context.Background(), ""))
}

func TestWorker_RetriesFailedImport(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpserter{fail: map[string]error{"b": errors.New("connection refused")}}
	w, s, now := newTestWorker(t, up)

	require.NoError(t, w.Enqueue(ctx, "b"))
	_, err := w.ProcessOne(ctx)
	require.NoError(t, err)

	members, err := s.ZMembers(DefaultRetryKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
	score, err := s.ZScore(DefaultRetryKey, "b")
	require.NoError(t, err)
	assert.Equal(t, float64(start.Add(180*time.Second).Unix()), score)

	now.Set(start.Add(time.Minute))
	n, err := w.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	now.Set(start.Add(181 * time.Second))
	n, err = w.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	list, err := s.List(DefaultQueueKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, list)

	up.succeed("b")
	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "b"}, up.called())
	assert.False(t, s.Exists(DefaultRetryKey))
}

func TestWorker_DoesNotRetryPermanentFailures(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpserter{fail: map[string]error{
		"gone":  fmt.Errorf("archive gone: %w", models.ErrNotFound),
		"draft": fmt.Errorf("draft: %w", models.ErrIneligible),
	}}
	w, s, _ := newTestWorker(t, up)

	require.NoError(t, w.Enqueue(ctx, "gone"))
	require.NoError(t, w.Enqueue(ctx, "draft"))
	for range 2 {
		_, err := w.ProcessOne(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"gone", "draft"}, up.called())
	assert.False(t, s.Exists(DefaultRetryKey))
}

func TestWorker_Run(t *testing.T) {
	up := &fakeUpserter{fail: map[string]error{"c": errors.New("timeout")}}
	w, s, now := newTestWorker(t, up)
	w.cfg.RetryDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, w.Enqueue(ctx, "c"))
	assert.Eventually(t, func() bool { return s.Exists(DefaultRetryKey) }, 5*time.Second, 20*time.Millisecond)

	// The promote loop picks the retry up once its time has come.
	up.succeed("c")
	now.Set(start.Add(time.Minute))
	assert.Eventually(t, func() bool { return len(up.called()) == 2 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
