package db

import (
	"context"
	"fmt"
)

// Collection tables. Every table stores the full document as jsonb next to
// its primary key so unknown fields survive a round trip.
const (
	TableArchive              = "archive"
	TableArchiveVersions      = "archive_versions"
	TableArchiveHistory       = "archive_history"
	TablePublished            = "published"
	TablePublishQueue         = "publish_queue"
	TableUsers                = "users"
	TableDesks                = "desks"
	TableStages               = "stages"
	TableSubscribers          = "subscribers"
	TableLegalArchive         = "legal_archive"
	TableLegalArchiveVersions = "legal_archive_versions"
	TableLegalArchiveHistory  = "legal_archive_history"
	TableLegalPublishQueue    = "legal_publish_queue"
)

// Tables lists every collection in creation order
var Tables = []string{
	TableArchive,
	TableArchiveVersions,
	TableArchiveHistory,
	TablePublished,
	TablePublishQueue,
	TableUsers,
	TableDesks,
	TableStages,
	TableSubscribers,
	TableLegalArchive,
	TableLegalArchiveVersions,
	TableLegalArchiveHistory,
	TableLegalPublishQueue,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS archive_versions_item_idx ON archive_versions ((doc->>'_id_document'))`,
	`CREATE INDEX IF NOT EXISTS archive_history_item_idx ON archive_history ((doc->>'item_id'))`,
	`CREATE INDEX IF NOT EXISTS archive_expiry_status_idx ON archive ((doc->>'expiry_status'))`,
	`CREATE INDEX IF NOT EXISTS published_item_idx ON published ((doc->>'item_id'))`,
	`CREATE INDEX IF NOT EXISTS published_sequence_idx ON published (((doc->>'publish_sequence_no')::bigint))`,
	`CREATE INDEX IF NOT EXISTS publish_queue_item_idx ON publish_queue ((doc->>'item_id'))`,
	`CREATE INDEX IF NOT EXISTS publish_queue_state_idx ON publish_queue ((doc->>'state'))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS legal_archive_versions_item_version_idx
		ON legal_archive_versions ((doc->>'_id_document'), ((doc->>'_current_version')::int))`,
	`CREATE INDEX IF NOT EXISTS legal_archive_history_item_idx ON legal_archive_history ((doc->>'item_id'))`,
	`CREATE INDEX IF NOT EXISTS legal_publish_queue_item_idx ON legal_publish_queue ((doc->>'item_id'))`,
}

// EnsureSchema creates missing tables and indexes
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, table := range Tables {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table)
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}

	for _, stmt := range indexes {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	db.log.Info("database schema ensured", "tables", len(Tables))
	return nil
}
