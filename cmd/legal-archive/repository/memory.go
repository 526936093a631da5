package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/models"
)

// MemoryStore keeps every collection in process memory. It backs
// STORE_BACKEND=memory and the pipeline tests.
type MemoryStore struct {
	tables map[string]*memoryTable
	ops    atomic.Int64
}

type memoryTable struct {
	mu   sync.RWMutex
	docs map[string]models.Document
	ops  *atomic.Int64
}

// NewMemoryStore creates an empty store with every collection table
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{tables: make(map[string]*memoryTable, len(db.Tables))}
	for _, name := range db.Tables {
		s.tables[name] = &memoryTable{docs: make(map[string]models.Document), ops: &s.ops}
	}
	return s
}

// Seed stores docs as-is in the named table, replacing same ids
func (s *MemoryStore) Seed(tableName string, docs ...models.Document) {
	t := s.table(tableName)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, doc := range docs {
		t.docs[doc.ID()] = doc.Clone()
	}
}

// All returns copies of every document in the table ordered by id
func (s *MemoryStore) All(tableName string) []models.Document {
	return s.table(tableName).filter(func(models.Document) bool { return true })
}

// Get returns a copy of one document
func (s *MemoryStore) Get(tableName, id string) (models.Document, bool) {
	return s.table(tableName).get(id)
}

// Ops counts store operations performed through the repository types
func (s *MemoryStore) Ops() int64 {
	return s.ops.Load()
}

// Load seeds the store from a JSON object of table name to document list
func (s *MemoryStore) Load(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read seed data: %w", err)
	}

	var fixture map[string][]json.RawMessage
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return fmt.Errorf("failed to parse seed data: %w", err)
	}

	for name, rows := range fixture {
		if _, ok := s.tables[name]; !ok {
			return fmt.Errorf("unknown table in seed data: %s", name)
		}
		for _, row := range rows {
			doc, err := models.DecodeDocument(row)
			if err != nil {
				return fmt.Errorf("table %s: %w", name, err)
			}
			s.Seed(name, doc)
		}
	}
	return nil
}

func (s *MemoryStore) table(name string) *memoryTable {
	t, ok := s.tables[name]
	if !ok {
		panic(fmt.Sprintf("unknown memory table %q", name))
	}
	return t
}

func (t *memoryTable) get(id string) (models.Document, bool) {
	t.ops.Add(1)
	t.mu.RLock()
	defer t.mu.RUnlock()
	doc, ok := t.docs[id]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

func (t *memoryTable) filter(pred func(models.Document) bool) []models.Document {
	t.ops.Add(1)
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []models.Document
	for _, doc := range t.docs {
		if pred(doc) {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (t *memoryTable) mergeFields(id string, fields map[string]any, etag string) error {
	t.ops.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, ok := t.docs[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, models.ErrNotFound)
	}
	if etag != "" && doc.ETag() != etag {
		return fmt.Errorf("%s: %w", id, models.ErrConflict)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func limitDocs(docs []models.Document, limit int) []models.Document {
	if limit > 0 && len(docs) > limit {
		return docs[:limit]
	}
	return docs
}

func expiredBefore(doc models.Document, now time.Time) bool {
	exp, ok := models.AsTime(doc[models.FieldExpiry])
	return ok && exp.Before(now)
}

// MemoryItemRepository is the in-memory working item store
type MemoryItemRepository struct{ t *memoryTable }

// Items returns the working item store
func (s *MemoryStore) Items() *MemoryItemRepository {
	return &MemoryItemRepository{t: s.table(db.TableArchive)}
}

func (r *MemoryItemRepository) FindByID(ctx context.Context, id string) (models.Document, error) {
	doc, ok := r.t.get(id)
	if !ok {
		return nil, fmt.Errorf("archive %s: %w", id, models.ErrNotFound)
	}
	return doc, nil
}

func (r *MemoryItemRepository) UpdateFields(ctx context.Context, id string, fields map[string]any, etag string) error {
	return r.t.mergeFields(id, fields, etag)
}

func (r *MemoryItemRepository) ListExpiredInvalid(ctx context.Context, now time.Time, afterID string, limit int) ([]models.Document, error) {
	return limitDocs(r.t.filter(func(d models.Document) bool {
		return d.ID() > afterID &&
			d.String(models.FieldExpiryStatus) == models.ExpiryStatusInvalid &&
			expiredBefore(d, now) &&
			!d.Bool(models.FieldMovedToLegal)
	}), limit), nil
}

// MemoryVersionRepository is an in-memory version snapshot store
type MemoryVersionRepository struct{ t *memoryTable }

// Versions returns the snapshot store backed by tableName
func (s *MemoryStore) Versions(tableName string) *MemoryVersionRepository {
	return &MemoryVersionRepository{t: s.table(tableName)}
}

func (r *MemoryVersionRepository) ListByItem(ctx context.Context, itemID string) ([]models.Document, error) {
	docs := r.t.filter(func(d models.Document) bool { return d.String(models.FieldVersionID) == itemID })
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Version() < docs[j].Version() })
	return docs, nil
}

func (r *MemoryVersionRepository) Insert(ctx context.Context, docs []models.Document) error {
	r.t.ops.Add(1)
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	for _, doc := range docs {
		if _, ok := r.t.docs[doc.ID()]; ok {
			continue
		}
		if r.hasVersion(doc.String(models.FieldVersionID), doc.Version()) {
			continue
		}
		r.t.docs[doc.ID()] = doc.Clone()
	}
	return nil
}

func (r *MemoryVersionRepository) hasVersion(itemID string, version int) bool {
	for _, d := range r.t.docs {
		if d.String(models.FieldVersionID) == itemID && d.Version() == version {
			return true
		}
	}
	return false
}

// MemoryHistoryRepository is an in-memory history store
type MemoryHistoryRepository struct{ t *memoryTable }

// History returns the history store backed by tableName
func (s *MemoryStore) History(tableName string) *MemoryHistoryRepository {
	return &MemoryHistoryRepository{t: s.table(tableName)}
}

func (r *MemoryHistoryRepository) ListByItem(ctx context.Context, itemID string) ([]models.Document, error) {
	return r.t.filter(func(d models.Document) bool { return d.String(models.FieldItemID) == itemID }), nil
}

func (r *MemoryHistoryRepository) Insert(ctx context.Context, docs []models.Document) error {
	r.t.ops.Add(1)
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	for _, doc := range docs {
		if _, ok := r.t.docs[doc.ID()]; !ok {
			r.t.docs[doc.ID()] = doc.Clone()
		}
	}
	return nil
}

// MemoryPublishedRepository is the in-memory published store
type MemoryPublishedRepository struct{ t *memoryTable }

// Published returns the published store
func (s *MemoryStore) Published() *MemoryPublishedRepository {
	return &MemoryPublishedRepository{t: s.table(db.TablePublished)}
}

func (r *MemoryPublishedRepository) ListExpired(ctx context.Context, now time.Time, afterSeq int64, afterID string, limit int) ([]models.Document, error) {
	docs := r.t.filter(func(d models.Document) bool {
		seq := int64(d.Int(models.FieldPublishSequenceNo))
		return (seq > afterSeq || (seq == afterSeq && d.ID() > afterID)) &&
			expiredBefore(d, now) &&
			!d.Bool(models.FieldMovedToLegal) &&
			d.State() != string(models.StateScheduled)
	})
	sort.SliceStable(docs, func(i, j int) bool {
		si, sj := docs[i].Int(models.FieldPublishSequenceNo), docs[j].Int(models.FieldPublishSequenceNo)
		if si != sj {
			return si < sj
		}
		return docs[i].ID() < docs[j].ID()
	})
	return limitDocs(docs, limit), nil
}

func (r *MemoryPublishedRepository) SetMovedToLegal(ctx context.Context, itemID string, version int) (int64, error) {
	r.t.ops.Add(1)
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	var n int64
	for _, d := range r.t.docs {
		if d.String(models.FieldItemID) == itemID && d.Version() <= version {
			d[models.FieldMovedToLegal] = true
			n++
		}
	}
	return n, nil
}

// MemoryQueueRepository is the in-memory publish queue store
type MemoryQueueRepository struct{ t *memoryTable }

// Queue returns the publish queue store
func (s *MemoryStore) Queue() *MemoryQueueRepository {
	return &MemoryQueueRepository{t: s.table(db.TablePublishQueue)}
}

func (r *MemoryQueueRepository) ListTerminalUnmoved(ctx context.Context, afterID string, limit int) ([]models.Document, error) {
	return limitDocs(r.t.filter(func(d models.Document) bool {
		return d.ID() > afterID &&
			!d.Bool(models.FieldMovedToLegal) &&
			models.QueueState(d.State()).IsTerminal()
	}), limit), nil
}

func (r *MemoryQueueRepository) ListByItemIDs(ctx context.Context, itemIDs []string, afterID string, limit int) ([]models.Document, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		wanted[id] = struct{}{}
	}
	return limitDocs(r.t.filter(func(d models.Document) bool {
		_, ok := wanted[d.String(models.FieldItemID)]
		return ok && d.ID() > afterID
	}), limit), nil
}

func (r *MemoryQueueRepository) UpdateFields(ctx context.Context, id string, fields map[string]any, etag string) error {
	return r.t.mergeFields(id, fields, etag)
}

// MemoryLegalArchiveRepository is the in-memory archive record store
type MemoryLegalArchiveRepository struct{ t *memoryTable }

// LegalArchive returns the archive record store
func (s *MemoryStore) LegalArchive() *MemoryLegalArchiveRepository {
	return &MemoryLegalArchiveRepository{t: s.table(db.TableLegalArchive)}
}

func (r *MemoryLegalArchiveRepository) FindByID(ctx context.Context, id string) (models.Document, error) {
	doc, ok := r.t.get(id)
	if !ok {
		return nil, fmt.Errorf("legal_archive %s: %w", id, models.ErrNotFound)
	}
	return doc, nil
}

func (r *MemoryLegalArchiveRepository) Insert(ctx context.Context, doc models.Document) error {
	return insertNew(r.t, db.TableLegalArchive, doc)
}

func (r *MemoryLegalArchiveRepository) Replace(ctx context.Context, id string, doc models.Document) error {
	r.t.ops.Add(1)
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	cur, ok := r.t.docs[id]
	if !ok {
		return fmt.Errorf("legal_archive %s: %w", id, models.ErrNotFound)
	}
	if cur.Version() > doc.Version() {
		return fmt.Errorf("legal_archive %s: %w", id, models.ErrConflict)
	}
	r.t.docs[id] = doc.Clone()
	return nil
}

// MemoryLegalQueueRepository is the in-memory legal publish queue store
type MemoryLegalQueueRepository struct{ t *memoryTable }

// LegalQueue returns the legal publish queue store
func (s *MemoryStore) LegalQueue() *MemoryLegalQueueRepository {
	return &MemoryLegalQueueRepository{t: s.table(db.TableLegalPublishQueue)}
}

func (r *MemoryLegalQueueRepository) FindByID(ctx context.Context, id string) (models.Document, error) {
	doc, ok := r.t.get(id)
	if !ok {
		return nil, fmt.Errorf("legal_publish_queue %s: %w", id, models.ErrNotFound)
	}
	return doc, nil
}

func (r *MemoryLegalQueueRepository) Insert(ctx context.Context, doc models.Document) error {
	return insertNew(r.t, db.TableLegalPublishQueue, doc)
}

func (r *MemoryLegalQueueRepository) Replace(ctx context.Context, id string, doc models.Document) error {
	r.t.ops.Add(1)
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	if _, ok := r.t.docs[id]; !ok {
		return fmt.Errorf("legal_publish_queue %s: %w", id, models.ErrNotFound)
	}
	r.t.docs[id] = doc.Clone()
	return nil
}

func insertNew(t *memoryTable, name string, doc models.Document) error {
	t.ops.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.docs[doc.ID()]; ok {
		return fmt.Errorf("%s insert: %w", name, models.ErrConflict)
	}
	t.docs[doc.ID()] = doc.Clone()
	return nil
}

// MemoryReferenceRepository is the in-memory reference store
type MemoryReferenceRepository struct{ s *MemoryStore }

// References returns the reference store
func (s *MemoryStore) References() *MemoryReferenceRepository {
	return &MemoryReferenceRepository{s: s}
}

func (r *MemoryReferenceRepository) Find(ctx context.Context, kind models.ReferenceKind, id string) (models.Document, error) {
	doc, ok := r.s.table(string(kind)).get(id)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return doc, nil
}

func (r *MemoryReferenceRepository) FindMany(ctx context.Context, kind models.ReferenceKind, ids []string) (map[string]models.Document, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	found := make(map[string]models.Document, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	for _, doc := range r.s.table(string(kind)).filter(func(d models.Document) bool {
		_, ok := wanted[d.ID()]
		return ok
	}) {
		found[doc.ID()] = doc
	}
	return found, nil
}
