package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDocument_KeepsLargeIntegers(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{"_id":"a","_current_version":3,"publish_sequence_no":9007199254740993}`))
	require.NoError(t, err)

	assert.Equal(t, "a", doc.ID())
	assert.Equal(t, 3, doc.Version())
	assert.Equal(t, json.Number("9007199254740993"), doc["publish_sequence_no"])
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := Document{
		"task":  map[string]any{"desk": "d1"},
		"list":  []any{map[string]any{"a": 1}},
		"extra": "kept",
	}

	clone := doc.Clone()
	clone.Map("task")["desk"] = "changed"
	clone["list"].([]any)[0].(map[string]any)["a"] = 2

	assert.Equal(t, "d1", doc.Map("task")["desk"])
	assert.Equal(t, 1, doc["list"].([]any)[0].(map[string]any)["a"])
	assert.Equal(t, "kept", clone["extra"])
}

func TestDocument_Without(t *testing.T) {
	doc := Document{"_id": "a", "_etag": "x", "lock_user": "u", "headline": "h"}

	out := doc.Without(WorkingStoreOnlyFields...)

	assert.Equal(t, Document{"_id": "a", "headline": "h"}, out)
	assert.Contains(t, doc, "_etag", "input must not be modified")
}

func TestAccessors(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	doc := Document{
		"_id":              json.Number("42"),
		"_current_version": float64(7),
		"expiry":           now.Format(time.RFC3339),
		"moved_to_legal":   true,
		"nil_field":        nil,
	}

	assert.Equal(t, "42", doc.ID())
	assert.Equal(t, 7, doc.Version())
	assert.True(t, doc.Time("expiry").Equal(now))
	assert.True(t, doc.Bool("moved_to_legal"))
	assert.False(t, doc.Has("nil_field"))
	assert.False(t, doc.Has("missing"))
	assert.Nil(t, doc.Map("missing"))
}

func TestQueueState_IsTerminal(t *testing.T) {
	assert.True(t, QueueSuccess.IsTerminal())
	assert.True(t, QueueCanceled.IsTerminal())
	assert.True(t, QueueFailed.IsTerminal())
	assert.False(t, QueuePending.IsTerminal())
	assert.False(t, QueueError.IsTerminal())
	assert.False(t, QueueRetrying.IsTerminal())
}
