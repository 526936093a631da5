package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/superdesk/legalarchive/cmd/legal-archive/denormalize"
	"github.com/superdesk/legalarchive/cmd/legal-archive/repository"
	"github.com/superdesk/legalarchive/cmd/legal-archive/resolver"
	"github.com/superdesk/legalarchive/common/cache"
	"github.com/superdesk/legalarchive/common/config"
	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/events"
	"github.com/superdesk/legalarchive/common/lock"
	"github.com/superdesk/legalarchive/common/logger"
	"github.com/superdesk/legalarchive/common/models"
)

var (
	fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	expired  = "2024-01-01T00:00:00Z"
	future   = "2030-01-01T00:00:00Z"
)

// harness wires the pipeline over the in-memory backend. Tests may swap
// entries in stores before calling build.
type harness struct {
	store  *repository.MemoryStore
	stores Stores
	bus    *events.Bus
	locker lock.Locker

	archive       *ArchiveService
	queue         *QueueService
	importArchive *ImportArchiveCommand
	importQueue   *ImportPublishQueueCommand

	mu     sync.Mutex
	events []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := repository.NewMemoryStore()
	seedReferences(store)

	h := &harness{
		store:  store,
		stores: memoryStores(store),
		locker: lock.NewMemoryLocker(),
	}
	h.build(t)
	return h
}

func (h *harness) build(t *testing.T) {
	t.Helper()
	log := logger.Discard()

	h.bus = events.NewBus(log)
	for _, topic := range []events.Topic{events.TopicItemArchived, events.TopicRunCompleted, events.TopicRunFailed} {
		h.bus.Subscribe(topic, "test-recorder", func(ctx context.Context, evt events.Event) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, evt)
			return nil
		})
	}

	names := resolver.New(h.store.References(), cache.NewMemoryCache(log, 0), time.Minute, log)
	rule, err := NewEligibilityRule(config.DefaultEligibilityRule)
	require.NoError(t, err)

	h.archive = NewArchiveService(h.stores, denormalize.New(names, log), rule, h.bus, log)
	h.archive.now = func() time.Time { return fixedNow }
	seq := 0
	h.archive.newID = func() string {
		seq++
		return fmt.Sprintf("synthetic-%d", seq)
	}

	h.queue = NewQueueService(h.stores.Queue, h.stores.LegalQueue, names, h.bus, log)

	cfg := CommandConfig{DefaultPageSize: 500, Lease: 1810 * time.Second}
	h.importArchive = NewImportArchiveCommand(cfg, h.stores, h.archive, h.queue, h.locker, h.bus, nil, log)
	h.importArchive.now = func() time.Time { return fixedNow }
	h.importQueue = NewImportPublishQueueCommand(CommandConfig{DefaultPageSize: 500, Lease: 310 * time.Second},
		h.stores.Queue, h.queue, h.locker, h.bus, nil, log)
}

func (h *harness) topics() []events.Topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Topic, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Topic)
	}
	return out
}

func memoryStores(store *repository.MemoryStore) Stores {
	return Stores{
		Items:         store.Items(),
		Versions:      store.Versions(db.TableArchiveVersions),
		History:       store.History(db.TableArchiveHistory),
		Published:     store.Published(),
		Queue:         store.Queue(),
		LegalArchive:  store.LegalArchive(),
		LegalVersions: store.Versions(db.TableLegalArchiveVersions),
		LegalHistory:  store.History(db.TableLegalArchiveHistory),
		LegalQueue:    store.LegalQueue(),
	}
}

func seedReferences(store *repository.MemoryStore) {
	store.Seed(db.TableUsers,
		models.Document{"_id": "u1", "first_name": "Jane", "last_name": "Doe", "username": "jdoe"},
		models.Document{"_id": "u2", "username": "editor"},
	)
	store.Seed(db.TableDesks, models.Document{"_id": "d1", "name": "Sports"})
	store.Seed(db.TableStages, models.Document{"_id": "s1", "name": "Incoming"})
	store.Seed(db.TableSubscribers, models.Document{"_id": "sub1", "name": "Wire"})
}

// seedItem adds a published item with version snapshots 1..version, two
// history entries and one published row
func seedItem(store *repository.MemoryStore, id string, version, seq int) {
	store.Seed(db.TableArchive, models.Document{
		"_id":              id,
		"_current_version": version,
		"_etag":            "etag-" + id,
		"state":            "published",
		"unique_name":      "#" + id,
		"headline":         "Headline " + id,
		"expiry":           expired,
		"original_creator": "u1",
		"version_creator":  "u2",
		"task":             map[string]any{"desk": "d1", "stage": "s1", "user": "u1"},
		"lock_user":        "u2",
		"lock_session":     "session-1",
		"lock_time":        expired,
		"lock_action":      "edit",
	})

	for v := 1; v <= version; v++ {
		store.Seed(db.TableArchiveVersions, models.Document{
			"_id":              fmt.Sprintf("%s-v%d", id, v),
			"_id_document":     id,
			"_current_version": v,
			"_etag":            "etag-v",
			"version_creator":  "u2",
			"task":             map[string]any{"desk": "d1", "user": "u2"},
		})
	}

	store.Seed(db.TableArchiveHistory,
		models.Document{"_id": id + "-h1", "item_id": id, "operation": "create", "version": 1, "user_id": "u1",
			"update": map[string]any{"task": map[string]any{"desk": "d1", "stage": "s1", "user": "u1"}}},
		models.Document{"_id": id + "-h2", "item_id": id, "operation": "lock", "version": 1, "user_id": "u2", "_etag": "x"},
	)

	store.Seed(db.TablePublished, models.Document{
		"_id":                 "pub-" + id,
		"item_id":             id,
		"_current_version":    version,
		"publish_sequence_no": seq,
		"state":               "published",
		"expiry":              expired,
	})
}
