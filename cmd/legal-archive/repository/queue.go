package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/models"
)

// QueueRepository reads publish queue rows and flips their moved flag
type QueueRepository struct {
	t table
}

// NewQueueRepository creates a publish queue repository
func NewQueueRepository(database *db.DB) *QueueRepository {
	return &QueueRepository{t: table{db: database, name: db.TablePublishQueue}}
}

// ListTerminalUnmoved pages rows in a terminal state that were not moved yet
func (r *QueueRepository) ListTerminalUnmoved(ctx context.Context, afterID string, limit int) ([]models.Document, error) {
	return r.t.list(ctx, terminalUnmovedQuery(afterID, limit))
}

// ListByItemIDs pages rows belonging to any of itemIDs, whatever their state
func (r *QueueRepository) ListByItemIDs(ctx context.Context, itemIDs []string, afterID string, limit int) ([]models.Document, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	return r.t.list(ctx, queueByItemsQuery(itemIDs, afterID, limit))
}

// UpdateFields merges fields into the row; a non-empty etag is a precondition
func (r *QueueRepository) UpdateFields(ctx context.Context, id string, fields map[string]any, etag string) error {
	return r.t.mergeFields(ctx, id, fields, etag)
}

func terminalStates() []string {
	states := make([]string, 0, len(models.TerminalQueueStates))
	for _, s := range models.TerminalQueueStates {
		states = append(states, string(s))
	}
	return states
}

func terminalUnmovedQuery(afterID string, limit int) sq.SelectBuilder {
	return psql.Select("doc").From(db.TablePublishQueue).
		Where(sq.Expr(exprNotMoved)).
		Where(sq.Eq{exprState: terminalStates()}).
		Where(sq.Gt{"id": afterID}).
		OrderBy("id").
		Limit(uint64(limit))
}

func queueByItemsQuery(itemIDs []string, afterID string, limit int) sq.SelectBuilder {
	return psql.Select("doc").From(db.TablePublishQueue).
		Where(sq.Eq{exprItemID: itemIDs}).
		Where(sq.Gt{"id": afterID}).
		OrderBy("id").
		Limit(uint64(limit))
}
