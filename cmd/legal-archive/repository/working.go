package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/models"
)

// ItemRepository reads working items and flips their legal archive flags
type ItemRepository struct {
	t table
}

// NewItemRepository creates a working item repository
func NewItemRepository(database *db.DB) *ItemRepository {
	return &ItemRepository{t: table{db: database, name: db.TableArchive}}
}

// FindByID returns the working item or models.ErrNotFound
func (r *ItemRepository) FindByID(ctx context.Context, id string) (models.Document, error) {
	return r.t.findByID(ctx, id)
}

// UpdateFields merges fields into the item; a non-empty etag is a precondition
func (r *ItemRepository) UpdateFields(ctx context.Context, id string, fields map[string]any, etag string) error {
	return r.t.mergeFields(ctx, id, fields, etag)
}

// ListExpiredInvalid pages items marked expiry_status=invalid that expired
// before now and were never moved, ordered by id
func (r *ItemRepository) ListExpiredInvalid(ctx context.Context, now time.Time, afterID string, limit int) ([]models.Document, error) {
	return r.t.list(ctx, expiredInvalidQuery(now, afterID, limit))
}

func expiredInvalidQuery(now time.Time, afterID string, limit int) sq.SelectBuilder {
	return psql.Select("doc").From(db.TableArchive).
		Where(sq.Eq{"doc->>'expiry_status'": models.ExpiryStatusInvalid}).
		Where(sq.Expr(exprExpiry+" < ?", now.UTC())).
		Where(sq.Expr(exprNotMoved)).
		Where(sq.Gt{"id": afterID}).
		OrderBy("id").
		Limit(uint64(limit))
}

// VersionRepository stores version snapshots keyed by _id_document
type VersionRepository struct {
	t table
}

// NewVersionRepository creates a repository over archive_versions or
// legal_archive_versions
func NewVersionRepository(database *db.DB, tableName string) *VersionRepository {
	return &VersionRepository{t: table{db: database, name: tableName}}
}

// ListByItem returns every snapshot of an item ordered by version
func (r *VersionRepository) ListByItem(ctx context.Context, itemID string) ([]models.Document, error) {
	return r.t.list(ctx, versionsByItemQuery(r.t.name, itemID))
}

// Insert adds snapshots; a snapshot already stored for the same item and
// version is left alone
func (r *VersionRepository) Insert(ctx context.Context, docs []models.Document) error {
	return r.t.insert(ctx, docs, true)
}

func versionsByItemQuery(tableName, itemID string) sq.SelectBuilder {
	return psql.Select("doc").From(tableName).
		Where(sq.Eq{exprVersionDoc: itemID}).
		OrderBy(exprVersion, "id")
}

// HistoryRepository stores edit history entries keyed by item_id
type HistoryRepository struct {
	t table
}

// NewHistoryRepository creates a repository over archive_history or
// legal_archive_history
func NewHistoryRepository(database *db.DB, tableName string) *HistoryRepository {
	return &HistoryRepository{t: table{db: database, name: tableName}}
}

// ListByItem returns every history entry of an item
func (r *HistoryRepository) ListByItem(ctx context.Context, itemID string) ([]models.Document, error) {
	return r.t.list(ctx, historyByItemQuery(r.t.name, itemID))
}

// Insert adds entries, skipping ids already stored
func (r *HistoryRepository) Insert(ctx context.Context, docs []models.Document) error {
	return r.t.insert(ctx, docs, true)
}

func historyByItemQuery(tableName, itemID string) sq.SelectBuilder {
	return psql.Select("doc").From(tableName).
		Where(sq.Eq{exprItemID: itemID}).
		OrderBy("id")
}

// PublishedRepository reads the published collection
type PublishedRepository struct {
	t table
}

// NewPublishedRepository creates a published repository
func NewPublishedRepository(database *db.DB) *PublishedRepository {
	return &PublishedRepository{t: table{db: database, name: db.TablePublished}}
}

// ListExpired pages expired, unmoved, non-scheduled rows by
// (publish_sequence_no, id). Rows without a sequence number sort as 0.
func (r *PublishedRepository) ListExpired(ctx context.Context, now time.Time, afterSeq int64, afterID string, limit int) ([]models.Document, error) {
	return r.t.list(ctx, expiredPublishedQuery(now, afterSeq, afterID, limit))
}

// SetMovedToLegal flags every published row of item with a version up to
// and including version
func (r *PublishedRepository) SetMovedToLegal(ctx context.Context, itemID string, version int) (int64, error) {
	query, args, err := setPublishedMovedQuery(itemID, version).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build published flag update: %w", err)
	}

	tag, err := r.t.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to flag published rows of %s: %w", itemID, err)
	}
	return tag.RowsAffected(), nil
}

func expiredPublishedQuery(now time.Time, afterSeq int64, afterID string, limit int) sq.SelectBuilder {
	return psql.Select("doc").From(db.TablePublished).
		Where(sq.Expr(exprExpiry+" < ?", now.UTC())).
		Where(sq.Expr(exprNotMoved)).
		Where(sq.Expr("COALESCE("+exprState+", '') <> ?", string(models.StateScheduled))).
		Where(sq.Expr("("+exprSequence+", id) > (?, ?)", afterSeq, afterID)).
		OrderBy(exprSequence, "id").
		Limit(uint64(limit))
}

func setPublishedMovedQuery(itemID string, version int) sq.UpdateBuilder {
	return psql.Update(db.TablePublished).
		Set("doc", sq.Expr(`doc || '{"moved_to_legal": true}'::jsonb`)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{exprItemID: itemID}).
		Where(sq.Expr(exprVersion+" <= ?", version))
}
