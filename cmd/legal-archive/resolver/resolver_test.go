package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdesk/legalarchive/common/cache"
	"github.com/superdesk/legalarchive/common/logger"
	"github.com/superdesk/legalarchive/common/models"
)

// mockRefs is an in-test ReferenceReader that counts lookups
type mockRefs struct {
	mu    sync.Mutex
	docs  map[models.ReferenceKind]map[string]models.Document
	finds int
	err   error
}

func newMockRefs() *mockRefs {
	return &mockRefs{docs: make(map[models.ReferenceKind]map[string]models.Document)}
}

func (m *mockRefs) add(kind models.ReferenceKind, doc models.Document) {
	if m.docs[kind] == nil {
		m.docs[kind] = make(map[string]models.Document)
	}
	m.docs[kind][doc.ID()] = doc
}

func (m *mockRefs) Find(ctx context.Context, kind models.ReferenceKind, id string) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.err != nil {
		return nil, m.err
	}
	doc, ok := m.docs[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, models.ErrNotFound)
	}
	return doc, nil
}

func (m *mockRefs) FindMany(ctx context.Context, kind models.ReferenceKind, ids []string) (map[string]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]models.Document)
	for _, id := range ids {
		if doc, ok := m.docs[kind][id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}

func newResolver(refs ReferenceReader) *Resolver {
	return New(refs, cache.NewMemoryCache(logger.Discard(), 0), time.Minute, logger.Discard())
}

func TestResolveUser(t *testing.T) {
	ctx := context.Background()
	refs := newMockRefs()
	refs.add(models.RefUsers, models.Document{"_id": "u1", "first_name": "Jane", "last_name": "Doe", "username": "jdoe"})
	refs.add(models.RefUsers, models.Document{"_id": "u2", "username": "bot"})
	refs.add(models.RefUsers, models.Document{"_id": "u3", "last_name": "Solo", "username": "han"})
	r := newResolver(refs)

	tests := []struct {
		name string
		id   string
		want string
	}{
		{"full name", "u1", "Jane Doe"},
		{"username fallback", "u2", "bot"},
		{"last name only", "u3", "Solo"},
		{"deleted user", "gone", ""},
		{"empty id", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveUser(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveUser_EmptyIDSkipsLookup(t *testing.T) {
	refs := newMockRefs()
	r := newResolver(refs)

	_, err := r.ResolveUser(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, refs.finds)
}

func TestResolveDeskAndStage_KeepIDOnMiss(t *testing.T) {
	ctx := context.Background()
	refs := newMockRefs()
	refs.add(models.RefDesks, models.Document{"_id": "d1", "name": "Sports"})
	refs.add(models.RefStages, models.Document{"_id": "s1", "name": "Incoming"})
	r := newResolver(refs)

	desk, err := r.ResolveDesk(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Sports", desk)

	desk, err = r.ResolveDesk(ctx, "d-gone")
	require.NoError(t, err)
	assert.Equal(t, "d-gone", desk)

	stage, err := r.ResolveStage(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Incoming", stage)

	stage, err = r.ResolveStage(ctx, "s-gone")
	require.NoError(t, err)
	assert.Equal(t, "s-gone", stage)
}

func TestResolveDesk_WarnsOnMiss(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "info", "json")
	r := New(newMockRefs(), cache.NewMemoryCache(logger.Discard(), 0), time.Minute, log)

	desk, err := r.ResolveDesk(context.Background(), "d-gone")
	require.NoError(t, err)
	assert.Equal(t, "d-gone", desk)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "reference not found, keeping id", record["msg"])
	assert.Equal(t, "d-gone", record["id"])
}

func TestResolveSubscriber_Sentinel(t *testing.T) {
	ctx := context.Background()
	refs := newMockRefs()
	refs.add(models.RefSubscribers, models.Document{"_id": "sub1", "name": "Wire"})
	r := newResolver(refs)

	name, err := r.ResolveSubscriber(ctx, "sub1")
	require.NoError(t, err)
	assert.Equal(t, "Wire", name)

	name, err = r.ResolveSubscriber(ctx, "sub-gone")
	require.NoError(t, err)
	assert.Equal(t, models.DeletedSubscriber, name)
}

func TestResolver_CachesHitsOnly(t *testing.T) {
	ctx := context.Background()
	refs := newMockRefs()
	refs.add(models.RefDesks, models.Document{"_id": "d1", "name": "Sports"})
	r := newResolver(refs)

	for i := 0; i < 3; i++ {
		_, err := r.ResolveDesk(ctx, "d1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, refs.finds)

	_, _ = r.ResolveDesk(ctx, "d2")
	refs.add(models.RefDesks, models.Document{"_id": "d2", "name": "Politics"})
	name, err := r.ResolveDesk(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, "Politics", name)
}

func TestResolver_StoreErrorIsReturned(t *testing.T) {
	refs := newMockRefs()
	refs.err = errors.New("connection refused")
	r := newResolver(refs)

	_, err := r.ResolveUser(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = r.SubscriberIndex(context.Background(), []string{"s1"})
	require.Error(t, err)
}

func TestSubscriberIndex(t *testing.T) {
	ctx := context.Background()
	refs := newMockRefs()
	refs.add(models.RefSubscribers, models.Document{"_id": "s1", "name": "Wire"})
	refs.add(models.RefSubscribers, models.Document{"_id": "s2", "name": "Web"})
	r := newResolver(refs)

	index, err := r.SubscriberIndex(ctx, []string{"s1", "s2", "s1", "s3"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"s1": "Wire",
		"s2": "Web",
		"s3": models.DeletedSubscriber,
	}, index)
	assert.Equal(t, 1, refs.finds, "one batch lookup per page")

	name, err := r.ResolveSubscriber(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, "Web", name)
	assert.Equal(t, 1, refs.finds, "index warms the cache")
}

func TestResolver_ConcurrentUse(t *testing.T) {
	ctx := context.Background()
	refs := newMockRefs()
	refs.add(models.RefUsers, models.Document{"_id": "u1", "username": "jdoe"})
	r := newResolver(refs)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, err := r.ResolveUser(ctx, "u1")
			assert.NoError(t, err)
			assert.Equal(t, "jdoe", name)
		}()
	}
	wg.Wait()
}
