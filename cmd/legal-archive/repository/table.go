package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/models"
)

// psql builds statements with $n placeholders
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const uniqueViolation = "23505"

// Common jsonb expressions used in filters and ordering
const (
	exprState      = "doc->>'state'"
	exprItemID     = "doc->>'item_id'"
	exprVersionDoc = "doc->>'_id_document'"
	exprVersion    = "COALESCE((doc->>'_current_version')::int, 0)"
	exprSequence   = "COALESCE((doc->>'publish_sequence_no')::bigint, 0)"
	exprExpiry     = "(doc->>'expiry')::timestamptz"
	exprNotMoved   = "COALESCE((doc->>'moved_to_legal')::boolean, false) = false"
	exprETag       = "doc->>'_etag'"
)

// table runs document-shaped statements against one collection table
type table struct {
	db   *db.DB
	name string
}

func (t table) selectDocs() sq.SelectBuilder {
	return psql.Select("doc").From(t.name)
}

func (t table) findByID(ctx context.Context, id string) (models.Document, error) {
	query, args, err := t.selectDocs().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s lookup: %w", t.name, err)
	}

	var raw []byte
	if err := t.db.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", t.name, id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", t.name, id, err)
	}

	return models.DecodeDocument(raw)
}

func (t table) list(ctx context.Context, q sq.SelectBuilder) ([]models.Document, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s query: %w", t.name, err)
	}

	rows, err := t.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.name, err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t.name, err)
		}
		doc, err := models.DecodeDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", t.name, err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", t.name, err)
	}

	return docs, nil
}

// insert writes docs in one statement. With ignoreDuplicates rows whose key
// already exists are skipped instead of failing the batch.
func (t table) insert(ctx context.Context, docs []models.Document, ignoreDuplicates bool) error {
	if len(docs) == 0 {
		return nil
	}

	q := psql.Insert(t.name).Columns("id", "doc")
	for _, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s: %w", t.name, doc.ID(), err)
		}
		q = q.Values(doc.ID(), sq.Expr("?::jsonb", string(raw)))
	}
	if ignoreDuplicates {
		q = q.Suffix("ON CONFLICT DO NOTHING")
	}

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build %s insert: %w", t.name, err)
	}

	if _, err := t.db.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s insert: %w", t.name, models.ErrConflict)
		}
		return fmt.Errorf("failed to insert into %s: %w", t.name, err)
	}

	return nil
}

// replace overwrites the stored document. Extra conditions narrow the
// update; when nothing matches the row is looked up to tell ErrNotFound from
// ErrConflict.
func (t table) replace(ctx context.Context, id string, doc models.Document, cond sq.Sqlizer) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", t.name, id, err)
	}

	q := psql.Update(t.name).
		Set("doc", sq.Expr("?::jsonb", string(raw))).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id})
	if cond != nil {
		q = q.Where(cond)
	}

	return t.execUpdate(ctx, id, q)
}

// mergeFields sets top-level fields without touching the rest of the
// document. A non-empty etag must match the stored _etag.
func (t table) mergeFields(ctx context.Context, id string, fields map[string]any, etag string) error {
	q, err := mergeFieldsQuery(t.name, id, fields, etag)
	if err != nil {
		return err
	}
	return t.execUpdate(ctx, id, q)
}

func (t table) execUpdate(ctx context.Context, id string, q sq.UpdateBuilder) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build %s update: %w", t.name, err)
	}

	tag, err := t.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", t.name, id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := t.findByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %w", t.name, id, models.ErrConflict)
}

func mergeFieldsQuery(tableName, id string, fields map[string]any, etag string) (sq.UpdateBuilder, error) {
	patch, err := json.Marshal(fields)
	if err != nil {
		return sq.UpdateBuilder{}, fmt.Errorf("failed to marshal %s fields: %w", tableName, err)
	}

	q := psql.Update(tableName).
		Set("doc", sq.Expr("doc || ?::jsonb", string(patch))).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id})
	if etag != "" {
		q = q.Where(sq.Eq{exprETag: etag})
	}
	return q, nil
}
