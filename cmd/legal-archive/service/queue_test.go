package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/models"
)

func TestMigrate_DeletedSubscriber(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	row := models.Document{"_id": "q1", "item_id": "a", "item_version": 2, "subscriber_id": "sub-gone", "state": "success"}
	h.store.Seed(db.TablePublishQueue, row)

	stats, err := h.queue.ProcessQueueItems(ctx, []models.Document{row}, false)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Migrated: 1, Flagged: 1}, stats)

	legal, ok := h.store.Get(db.TableLegalPublishQueue, "q1")
	require.True(t, ok)
	assert.Equal(t, models.DeletedSubscriber, legal["subscriber_id"])
	assert.Equal(t, "sub-gone", legal["_subscriber_id"])
	assert.Equal(t, 2, legal["item_version"])
}

func TestMigrate_ResolvesSubscriber(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	row := models.Document{"_id": "q1", "item_id": "a", "subscriber_id": "sub1", "state": "failed", "_etag": "e"}
	h.store.Seed(db.TablePublishQueue, row)

	_, err := h.queue.ProcessQueueItems(ctx, []models.Document{row}, false)
	require.NoError(t, err)

	legal, _ := h.store.Get(db.TableLegalPublishQueue, "q1")
	assert.Equal(t, "Wire", legal["subscriber_id"])
	assert.Equal(t, "sub1", legal["_subscriber_id"])
	assert.NotContains(t, legal, "_etag")
}

func TestMigrate_NonTerminalFlaggedOnlyWhenForced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	row := models.Document{"_id": "q1", "item_id": "a", "subscriber_id": "sub1", "state": "pending"}
	h.store.Seed(db.TablePublishQueue, row)
	index := map[string]string{"sub1": "Wire"}

	flagged, err := h.queue.Migrate(ctx, row, index, false)
	require.NoError(t, err)
	assert.False(t, flagged)
	src, _ := h.store.Get(db.TablePublishQueue, "q1")
	assert.NotContains(t, src, "moved_to_legal")
	_, ok := h.store.Get(db.TableLegalPublishQueue, "q1")
	assert.True(t, ok, "the legal copy is written regardless of state")

	flagged, err = h.queue.Migrate(ctx, row, index, true)
	require.NoError(t, err)
	assert.True(t, flagged)
	src, _ = h.store.Get(db.TablePublishQueue, "q1")
	assert.Equal(t, true, src["moved_to_legal"])
}

func TestMigrate_ReplacesExistingRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.Seed(db.TableLegalPublishQueue, models.Document{"_id": "q1", "state": "in-progress", "subscriber_id": "Wire"})
	row := models.Document{"_id": "q1", "item_id": "a", "subscriber_id": "sub1", "state": "success"}
	h.store.Seed(db.TablePublishQueue, row)

	_, err := h.queue.Migrate(ctx, row, map[string]string{"sub1": "Wire"}, false)
	require.NoError(t, err)

	legal, _ := h.store.Get(db.TableLegalPublishQueue, "q1")
	assert.Equal(t, "success", legal["state"])
	assert.Len(t, h.store.All(db.TableLegalPublishQueue), 1)
}

func TestMigrate_FlagFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.Seed(db.TablePublishQueue, models.Document{"_id": "q1", "item_id": "a", "subscriber_id": "sub1", "state": "success", "_etag": "new"})
	stale := models.Document{"_id": "q1", "item_id": "a", "subscriber_id": "sub1", "state": "success", "_etag": "old"}

	flagged, err := h.queue.Migrate(ctx, stale, map[string]string{"sub1": "Wire"}, false)
	require.NoError(t, err)
	assert.False(t, flagged)

	_, ok := h.store.Get(db.TableLegalPublishQueue, "q1")
	assert.True(t, ok, "the archive write is not rolled back")
}

func TestProcessQueueItems_Empty(t *testing.T) {
	h := newHarness(t)
	stats, err := h.queue.ProcessQueueItems(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Zero(t, stats)
	assert.Zero(t, h.store.Ops())
}
