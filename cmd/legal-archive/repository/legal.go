package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/models"
)

// LegalArchiveRepository stores archive records
type LegalArchiveRepository struct {
	t table
}

// NewLegalArchiveRepository creates a legal archive repository
func NewLegalArchiveRepository(database *db.DB) *LegalArchiveRepository {
	return &LegalArchiveRepository{t: table{db: database, name: db.TableLegalArchive}}
}

// FindByID returns the archive record or models.ErrNotFound
func (r *LegalArchiveRepository) FindByID(ctx context.Context, id string) (models.Document, error) {
	return r.t.findByID(ctx, id)
}

// Insert adds a new archive record
func (r *LegalArchiveRepository) Insert(ctx context.Context, doc models.Document) error {
	return r.t.insert(ctx, []models.Document{doc}, false)
}

// Replace overwrites the archive record. It returns models.ErrConflict rather
// than lower the stored version.
func (r *LegalArchiveRepository) Replace(ctx context.Context, id string, doc models.Document) error {
	return r.t.replace(ctx, id, doc, notNewerThan(doc.Version()))
}

func notNewerThan(version int) sq.Sqlizer {
	return sq.Expr(exprVersion+" <= ?", version)
}

// LegalQueueRepository stores legal publish queue records
type LegalQueueRepository struct {
	t table
}

// NewLegalQueueRepository creates a legal publish queue repository
func NewLegalQueueRepository(database *db.DB) *LegalQueueRepository {
	return &LegalQueueRepository{t: table{db: database, name: db.TableLegalPublishQueue}}
}

// FindByID returns the legal queue record or models.ErrNotFound
func (r *LegalQueueRepository) FindByID(ctx context.Context, id string) (models.Document, error) {
	return r.t.findByID(ctx, id)
}

// Insert adds a legal queue record
func (r *LegalQueueRepository) Insert(ctx context.Context, doc models.Document) error {
	return r.t.insert(ctx, []models.Document{doc}, false)
}

// Replace overwrites a legal queue record
func (r *LegalQueueRepository) Replace(ctx context.Context, id string, doc models.Document) error {
	return r.t.replace(ctx, id, doc, nil)
}
