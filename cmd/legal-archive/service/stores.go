package service

import (
	"context"
	"time"

	"github.com/superdesk/legalarchive/common/models"
)

// ItemStore is the working item collection
type ItemStore interface {
	FindByID(ctx context.Context, id string) (models.Document, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any, etag string) error
	ListExpiredInvalid(ctx context.Context, now time.Time, afterID string, limit int) ([]models.Document, error)
}

// VersionStore holds version snapshots of items
type VersionStore interface {
	ListByItem(ctx context.Context, itemID string) ([]models.Document, error)
	Insert(ctx context.Context, docs []models.Document) error
}

// HistoryStore holds edit history entries of items
type HistoryStore interface {
	ListByItem(ctx context.Context, itemID string) ([]models.Document, error)
	Insert(ctx context.Context, docs []models.Document) error
}

// PublishedStore is the published collection
type PublishedStore interface {
	ListExpired(ctx context.Context, now time.Time, afterSeq int64, afterID string, limit int) ([]models.Document, error)
	SetMovedToLegal(ctx context.Context, itemID string, version int) (int64, error)
}

// QueueStore is the publish queue collection
type QueueStore interface {
	ListTerminalUnmoved(ctx context.Context, afterID string, limit int) ([]models.Document, error)
	ListByItemIDs(ctx context.Context, itemIDs []string, afterID string, limit int) ([]models.Document, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any, etag string) error
}

// RecordStore holds archive-side records written whole
type RecordStore interface {
	FindByID(ctx context.Context, id string) (models.Document, error)
	Insert(ctx context.Context, doc models.Document) error
	Replace(ctx context.Context, id string, doc models.Document) error
}

// Stores groups the working-side collections read by the pipeline and the
// archive-side collections it writes
type Stores struct {
	Items     ItemStore
	Versions  VersionStore
	History   HistoryStore
	Published PublishedStore
	Queue     QueueStore

	LegalArchive  RecordStore
	LegalVersions VersionStore
	LegalHistory  HistoryStore
	LegalQueue    RecordStore
}

// Denormalizer rewrites references into display names
type Denormalizer interface {
	Item(ctx context.Context, doc models.Document) (models.Document, error)
	History(ctx context.Context, entry models.Document) (models.Document, error)
}

// SubscriberIndexer resolves a batch of subscriber ids to names
type SubscriberIndexer interface {
	SubscriberIndex(ctx context.Context, ids []string) (map[string]string, error)
}
