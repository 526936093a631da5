package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/models"
)

// ReferenceRepository reads users, desks, stages and subscribers
type ReferenceRepository struct {
	db *db.DB
}

// NewReferenceRepository creates a reference repository
func NewReferenceRepository(database *db.DB) *ReferenceRepository {
	return &ReferenceRepository{db: database}
}

func (r *ReferenceRepository) table(kind models.ReferenceKind) (table, error) {
	switch kind {
	case models.RefUsers, models.RefDesks, models.RefStages, models.RefSubscribers:
		return table{db: r.db, name: string(kind)}, nil
	default:
		return table{}, fmt.Errorf("unknown reference kind: %s", kind)
	}
}

// Find returns one reference document or models.ErrNotFound
func (r *ReferenceRepository) Find(ctx context.Context, kind models.ReferenceKind, id string) (models.Document, error) {
	t, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	return t.findByID(ctx, id)
}

// FindMany returns the documents found among ids, keyed by id
func (r *ReferenceRepository) FindMany(ctx context.Context, kind models.ReferenceKind, ids []string) (map[string]models.Document, error) {
	t, err := r.table(kind)
	if err != nil {
		return nil, err
	}

	found := make(map[string]models.Document, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	docs, err := t.list(ctx, referencesQuery(t.name, ids))
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		found[doc.ID()] = doc
	}
	return found, nil
}

func referencesQuery(tableName string, ids []string) sq.SelectBuilder {
	return psql.Select("doc").From(tableName).Where(sq.Eq{"id": ids})
}
