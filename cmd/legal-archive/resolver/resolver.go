// Package resolver turns user, desk, stage and subscriber ids into the
// display names stored in the legal archive.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/superdesk/legalarchive/common/cache"
	"github.com/superdesk/legalarchive/common/logger"
	"github.com/superdesk/legalarchive/common/models"
)

// ReferenceReader reads reference documents
type ReferenceReader interface {
	Find(ctx context.Context, kind models.ReferenceKind, id string) (models.Document, error)
	FindMany(ctx context.Context, kind models.ReferenceKind, ids []string) (map[string]models.Document, error)
}

// Resolver looks names up and caches hits. Misses are never cached so a
// reference created later is picked up on the next lookup.
type Resolver struct {
	refs  ReferenceReader
	cache cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// New creates a resolver. A nil cache or zero ttl disables caching.
func New(refs ReferenceReader, c cache.Cache, ttl time.Duration, log *logger.Logger) *Resolver {
	return &Resolver{refs: refs, cache: c, ttl: ttl, log: log}
}

// ResolveUser returns the user's display name, "" for an empty id or a
// user that no longer exists
func (r *Resolver) ResolveUser(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", nil
	}

	name, found, err := r.lookup(ctx, models.RefUsers, id)
	if err != nil || !found {
		return "", err
	}
	return name, nil
}

// ResolveDesk returns the desk name, or id itself when the desk is gone
func (r *Resolver) ResolveDesk(ctx context.Context, id string) (string, error) {
	return r.resolveOrKeep(ctx, models.RefDesks, id)
}

// ResolveStage returns the stage name, or id itself when the stage is gone
func (r *Resolver) ResolveStage(ctx context.Context, id string) (string, error) {
	return r.resolveOrKeep(ctx, models.RefStages, id)
}

// ResolveSubscriber returns the subscriber name or models.DeletedSubscriber
func (r *Resolver) ResolveSubscriber(ctx context.Context, id string) (string, error) {
	if id == "" {
		return models.DeletedSubscriber, nil
	}

	name, found, err := r.lookup(ctx, models.RefSubscribers, id)
	if err != nil {
		return "", err
	}
	if !found {
		return models.DeletedSubscriber, nil
	}
	return name, nil
}

// SubscriberIndex resolves a page worth of subscriber ids in one query.
// Every requested id is present in the result.
func (r *Resolver) SubscriberIndex(ctx context.Context, ids []string) (map[string]string, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	found, err := r.refs.FindMany(ctx, models.RefSubscribers, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscribers: %w", err)
	}

	index := make(map[string]string, len(ids))
	for _, id := range ids {
		index[id] = models.DeletedSubscriber
	}
	for id, doc := range found {
		index[id] = doc.String(models.FieldName)
		r.remember(ctx, models.RefSubscribers, id, index[id])
	}

	r.log.Debug("built subscriber index", "requested", len(unique), "found", len(found))
	return index, nil
}

func (r *Resolver) resolveOrKeep(ctx context.Context, kind models.ReferenceKind, id string) (string, error) {
	if id == "" {
		return "", nil
	}

	name, found, err := r.lookup(ctx, kind, id)
	if err != nil {
		return "", err
	}
	if !found {
		r.log.Warn("reference not found, keeping id", "kind", kind, "id", id)
		return id, nil
	}
	return name, nil
}

func (r *Resolver) lookup(ctx context.Context, kind models.ReferenceKind, id string) (string, bool, error) {
	key := cacheKey(kind, id)
	if r.cache != nil && r.ttl > 0 {
		if v, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			return string(v), true, nil
		}
	}

	doc, err := r.refs.Find(ctx, kind, id)
	if errors.Is(err, models.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve %s %s: %w", kind, id, err)
	}

	var name string
	if kind == models.RefUsers {
		name = DisplayName(doc)
	} else {
		name = doc.String(models.FieldName)
	}

	r.remember(ctx, kind, id, name)
	return name, true, nil
}

func (r *Resolver) remember(ctx context.Context, kind models.ReferenceKind, id, name string) {
	if r.cache == nil || r.ttl <= 0 {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(kind, id), []byte(name), r.ttl); err != nil {
		r.log.Debug("failed to cache reference name", "kind", kind, "id", id, "error", err)
	}
}

func cacheKey(kind models.ReferenceKind, id string) string {
	return "ref:" + string(kind) + ":" + id
}

// DisplayName is "first last" when either is set, otherwise the username
func DisplayName(user models.Document) string {
	full := strings.TrimSpace(user.String("first_name") + " " + user.String("last_name"))
	if full != "" {
		return full
	}
	return user.String("username")
}
