// Package denormalize rewrites the id references embedded in items, version
// snapshots and history entries into display names.
package denormalize

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/tidwall/gjson"

	"github.com/superdesk/legalarchive/common/logger"
	"github.com/superdesk/legalarchive/common/models"
)

// Names resolves reference ids
type Names interface {
	ResolveUser(ctx context.Context, id string) (string, error)
	ResolveDesk(ctx context.Context, id string) (string, error)
	ResolveStage(ctx context.Context, id string) (string, error)
}

// Denormalizer builds a merge patch of resolved names and applies it to the
// serialized document, so the input is never modified and fields it does not
// know about pass through untouched.
type Denormalizer struct {
	names Names
	log   *logger.Logger
}

// New creates a denormalizer
func New(names Names, log *logger.Logger) *Denormalizer {
	return &Denormalizer{names: names, log: log}
}

// Item rewrites creators and the task of an item or version snapshot
func (d *Denormalizer) Item(ctx context.Context, doc models.Document) (models.Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document %s: %w", doc.ID(), err)
	}

	patch := make(map[string]any, 3)
	for _, field := range []string{models.FieldOriginalCreator, models.FieldVersionCreator} {
		name, err := d.names.ResolveUser(ctx, gjson.GetBytes(raw, field).String())
		if err != nil {
			return nil, err
		}
		patch[field] = name
	}

	task, err := d.task(ctx, gjson.GetBytes(raw, models.FieldTask))
	if err != nil {
		return nil, err
	}
	if task != nil {
		patch[models.FieldTask] = task
	}

	return d.apply(doc.ID(), raw, patch)
}

// History rewrites update.task of a history entry. Nothing else in an entry
// is touched since entries only carry partial diffs.
func (d *Denormalizer) History(ctx context.Context, entry models.Document) (models.Document, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history entry %s: %w", entry.ID(), err)
	}

	task, err := d.task(ctx, gjson.GetBytes(raw, models.FieldUpdate+"."+models.FieldTask))
	if err != nil {
		return nil, err
	}
	if task == nil {
		return entry.Clone(), nil
	}

	return d.apply(entry.ID(), raw, map[string]any{
		models.FieldUpdate: map[string]any{models.FieldTask: task},
	})
}

// task returns the resolved sub-fields of a non-empty task object, nil
// otherwise. Desk and stage are rewritten only when set; user is always set.
func (d *Denormalizer) task(ctx context.Context, task gjson.Result) (map[string]any, error) {
	if !task.IsObject() || len(task.Map()) == 0 {
		return nil, nil
	}

	out := make(map[string]any, 3)

	if desk := task.Get(models.FieldTaskDesk); isSet(desk) {
		name, err := d.names.ResolveDesk(ctx, desk.String())
		if err != nil {
			return nil, err
		}
		out[models.FieldTaskDesk] = name
	}

	if stage := task.Get(models.FieldTaskStage); isSet(stage) {
		name, err := d.names.ResolveStage(ctx, stage.String())
		if err != nil {
			return nil, err
		}
		out[models.FieldTaskStage] = name
	}

	user, err := d.names.ResolveUser(ctx, task.Get(models.FieldTaskUser).String())
	if err != nil {
		return nil, err
	}
	out[models.FieldTaskUser] = user

	return out, nil
}

func (d *Denormalizer) apply(id string, raw []byte, patch map[string]any) (models.Document, error) {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch for %s: %w", id, err)
	}

	merged, err := jsonpatch.MergePatch(raw, patchJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to apply patch to %s: %w", id, err)
	}

	d.log.Debug("denormalized document", "id", id, "fields", len(patch))
	return models.DecodeDocument(merged)
}

func isSet(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null && r.String() != ""
}
