package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/superdesk/legalarchive/common/events"
	"github.com/superdesk/legalarchive/common/logger"
	"github.com/superdesk/legalarchive/common/models"
)

// ArchiveState is how the archive record relates to the working item
type ArchiveState string

const (
	StateAbsent  ArchiveState = "absent"
	StateStale   ArchiveState = "stale"
	StateCurrent ArchiveState = "current"
)

// UpsertResult describes what one upsert did
type UpsertResult struct {
	ItemID        string
	State         ArchiveState
	Version       int
	PriorVersion  int
	VersionsAdded int
	HistoryAdded  int
	Flagged       bool
}

// ArchiveService copies one working item with its versions and history into
// the legal archive
type ArchiveService struct {
	stores Stores
	denorm Denormalizer
	rule   *EligibilityRule
	bus    *events.Bus
	log    *logger.Logger

	now   func() time.Time
	newID func() string
}

// NewArchiveService creates the upsert engine
func NewArchiveService(stores Stores, denorm Denormalizer, rule *EligibilityRule, bus *events.Bus, log *logger.Logger) *ArchiveService {
	return &ArchiveService{
		stores: stores,
		denorm: denorm,
		rule:   rule,
		bus:    bus,
		log:    log,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Upsert archives the working item. Returns models.ErrNotFound when the item
// vanished and models.ErrIneligible when the rule rejects it; neither leaves
// any trace in either store.
func (s *ArchiveService) Upsert(ctx context.Context, itemID string) (*UpsertResult, error) {
	log := s.log.WithContext(ctx).WithItemID(itemID)

	// Step 1: load the working item
	doc, err := s.stores.Items.FindByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Error("could not find the document to import to legal archive")
		}
		return nil, fmt.Errorf("failed to load item %s: %w", itemID, err)
	}

	// Step 2: eligibility
	allowed, err := s.rule.Allows(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate eligibility of %s: %w", itemID, err)
	}
	if !allowed {
		log.Warn("item not eligible for legal archive", "state", doc.State(), "rule", s.rule.String())
		return nil, fmt.Errorf("item %s in state %q: %w", itemID, doc.State(), models.ErrIneligible)
	}

	// Step 3: defaults and stripping
	legalDoc := s.prepare(doc)
	version := legalDoc.Version()
	log = log.WithFields(map[string]any{
		"unique_name": legalDoc[models.FieldUniqueName],
		"version":     version,
	})

	// Step 4: compare with the archive record
	result := &UpsertResult{ItemID: itemID, Version: version, State: StateAbsent}

	archived, err := s.stores.LegalArchive.FindByID(ctx, itemID)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load archive record %s: %w", itemID, err)
	default:
		result.PriorVersion = archived.Version()
		if result.PriorVersion >= version {
			result.State = StateCurrent
			log.Info("item already in legal archive", "archived_version", result.PriorVersion)
			result.Flagged = s.flagMoved(ctx, log, doc, version)
			return result, nil
		}
		result.State = StateStale
	}

	// Step 5: denormalize the record
	record, err := s.denorm.Item(ctx, legalDoc)
	if err != nil {
		return nil, fmt.Errorf("failed to denormalize %s: %w", itemID, err)
	}

	// Step 6: version delta. Written before the record so a crash in
	// between leaves the record stale and the next run redoes the delta.
	added, err := s.copyVersions(ctx, log, legalDoc, result)
	if err != nil {
		return nil, err
	}
	result.VersionsAdded = added

	// Step 7: history delta
	added, err = s.copyHistory(ctx, itemID)
	if err != nil {
		return nil, err
	}
	result.HistoryAdded = added

	if result.State == StateAbsent {
		err = s.stores.LegalArchive.Insert(ctx, record)
	} else {
		err = s.stores.LegalArchive.Replace(ctx, itemID, record)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write archive record %s: %w", itemID, err)
	}
	log.Info("upserted legal archive record",
		"state", result.State,
		"versions_added", result.VersionsAdded,
		"history_added", result.HistoryAdded,
	)

	// Step 8: flag the source
	result.Flagged = s.flagMoved(ctx, log, doc, version)

	// Step 9: notify
	_ = s.bus.Publish(ctx, events.TopicItemArchived, map[string]any{
		"item_id":        itemID,
		"version":        version,
		"prior_version":  result.PriorVersion,
		"state":          string(result.State),
		"versions_added": result.VersionsAdded,
		"history_added":  result.HistoryAdded,
	})

	return result, nil
}

// prepare copies the item, fills the defaults and removes working-store-only
// fields
func (s *ArchiveService) prepare(doc models.Document) models.Document {
	out := doc.Without(models.WorkingStoreOnlyFields...)

	if !out.Has(models.FieldUniqueName) {
		out[models.FieldUniqueName] = models.UnknownUniqueName
	}
	if !out.Has(models.FieldVersion) {
		out[models.FieldVersion] = 1
	}
	if !out.Has(models.FieldExpiry) {
		out[models.FieldExpiry] = s.now().UTC().Format(time.RFC3339)
	}
	return out
}

func (s *ArchiveService) copyVersions(ctx context.Context, log *logger.Logger, legalDoc models.Document, result *UpsertResult) (int, error) {
	itemID := result.ItemID

	source, err := s.stores.Versions.ListByItem(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to load versions of %s: %w", itemID, err)
	}
	archivedRows, err := s.stores.LegalVersions.ListByItem(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to load archived versions of %s: %w", itemID, err)
	}

	archived := make(map[int]struct{}, len(archivedRows))
	for _, v := range archivedRows {
		archived[v.Version()] = struct{}{}
	}

	var delta []models.Document
	for _, v := range source {
		if _, ok := archived[v.Version()]; !ok {
			delta = append(delta, v)
		}
	}

	// Killing an item from the dusty archive bumps the version without
	// writing a snapshot. Keep the chain unbroken with one snapshot of the
	// current document.
	if result.State == StateStale && len(delta) == 0 {
		snapshot := legalDoc.Clone()
		snapshot[models.FieldVersionID] = itemID
		snapshot[models.FieldID] = s.newID()
		snapshot[models.FieldPriorVersion] = result.PriorVersion
		delta = append(delta, snapshot)
		log.Warn("no new version snapshots for stale record, synthesizing one",
			"archived_version", result.PriorVersion)
	}

	if len(delta) == 0 {
		return 0, nil
	}

	rows := make([]models.Document, 0, len(delta))
	for _, v := range delta {
		row, err := s.denorm.Item(ctx, v)
		if err != nil {
			return 0, fmt.Errorf("failed to denormalize version %d of %s: %w", v.Version(), itemID, err)
		}
		rows = append(rows, row.Without(models.WorkingStoreOnlyFields...))
	}

	if err := s.stores.LegalVersions.Insert(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to insert versions of %s: %w", itemID, err)
	}
	return len(rows), nil
}

func (s *ArchiveService) copyHistory(ctx context.Context, itemID string) (int, error) {
	source, err := s.stores.History.ListByItem(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to load history of %s: %w", itemID, err)
	}
	if len(source) == 0 {
		return 0, nil
	}

	archivedRows, err := s.stores.LegalHistory.ListByItem(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to load archived history of %s: %w", itemID, err)
	}
	archived := make(map[string]struct{}, len(archivedRows))
	for _, h := range archivedRows {
		archived[h.ID()] = struct{}{}
	}

	var rows []models.Document
	for _, h := range source {
		if _, ok := archived[h.ID()]; ok {
			continue
		}
		row, err := s.denorm.History(ctx, h)
		if err != nil {
			return 0, fmt.Errorf("failed to denormalize history %s: %w", h.ID(), err)
		}
		rows = append(rows, row.Without(models.FieldETag))
	}

	if len(rows) == 0 {
		return 0, nil
	}
	if err := s.stores.LegalHistory.Insert(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to insert history of %s: %w", itemID, err)
	}
	return len(rows), nil
}

// flagMoved marks published rows up to version and the working item as moved.
// Both writes are best effort: the archive copy is what matters, and a missed
// flag is corrected by the next run.
func (s *ArchiveService) flagMoved(ctx context.Context, log *logger.Logger, doc models.Document, version int) bool {
	itemID := doc.ID()

	n, err := s.stores.Published.SetMovedToLegal(ctx, itemID, version)
	if err != nil {
		log.Warn("failed to flag published rows as moved", "error", err)
	} else {
		log.Debug("flagged published rows as moved", "rows", n)
	}

	err = s.stores.Items.UpdateFields(ctx, itemID, map[string]any{
		models.FieldMovedToLegal:        true,
		models.FieldMovedToLegalVersion: version,
	}, doc.ETag())
	switch {
	case errors.Is(err, models.ErrConflict):
		log.Info("item changed since it was read, skipping moved flag")
		return false
	case err != nil:
		log.Warn("failed to flag item as moved", "error", err)
		return false
	}
	return true
}
