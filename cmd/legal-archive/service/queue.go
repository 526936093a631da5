package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/superdesk/legalarchive/common/events"
	"github.com/superdesk/legalarchive/common/logger"
	"github.com/superdesk/legalarchive/common/models"
)

// QueueStats counts what one batch of queue rows did
type QueueStats struct {
	Migrated int
	Flagged  int
	Failed   int
}

// QueueService copies publish queue rows into the legal publish queue
type QueueService struct {
	queue       QueueStore
	legal       RecordStore
	subscribers SubscriberIndexer
	bus         *events.Bus
	log         *logger.Logger
}

// NewQueueService creates the queue migrator
func NewQueueService(queue QueueStore, legal RecordStore, subscribers SubscriberIndexer, bus *events.Bus, log *logger.Logger) *QueueService {
	return &QueueService{
		queue:       queue,
		legal:       legal,
		subscribers: subscribers,
		bus:         bus,
		log:         log,
	}
}

// ProcessQueueItems migrates a page of rows. Subscribers are resolved once
// for the whole page; a row that fails is logged and the rest carry on.
func (s *QueueService) ProcessQueueItems(ctx context.Context, items []models.Document, force bool) (QueueStats, error) {
	var stats QueueStats
	if len(items) == 0 {
		return stats, nil
	}

	log := s.log.WithContext(ctx)
	log.Info("importing publish queue items", "count", len(items), "force", force)

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.String(models.FieldSubscriberID))
	}
	index, err := s.subscribers.SubscriberIndex(ctx, ids)
	if err != nil {
		return stats, err
	}

	for _, item := range items {
		flagged, err := s.Migrate(ctx, item, index, force)
		if err != nil {
			stats.Failed++
			log.Error("failed to import publish queue item", "queue_item_id", item.ID(), "error", err)
			continue
		}
		stats.Migrated++
		if flagged {
			stats.Flagged++
		}
	}

	return stats, nil
}

// Migrate writes the legal copy of one queue row and, for terminal rows or
// when forced, flags the source row as moved. The flag is best effort; the
// returned bool reports whether it was set.
func (s *QueueService) Migrate(ctx context.Context, item models.Document, index map[string]string, force bool) (bool, error) {
	id := item.ID()
	subscriberID := item.String(models.FieldSubscriberID)
	log := s.log.WithContext(ctx).WithFields(map[string]any{
		"queue_item_id": id,
		"item_id":       item.String(models.FieldItemID),
		"item_version":  item.Int(models.FieldItemVersion),
		"subscriber_id": subscriberID,
	})

	name, ok := index[subscriberID]
	if !ok {
		name = models.DeletedSubscriber
	}

	legalItem := item.Without(models.FieldETag)
	legalItem[models.FieldSubscriberID] = name
	legalItem[models.FieldOrigSubscriberID] = item[models.FieldSubscriberID]

	_, err := s.legal.FindByID(ctx, id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		if err := s.legal.Insert(ctx, legalItem); err != nil {
			return false, fmt.Errorf("failed to insert legal queue item %s: %w", id, err)
		}
		log.Info("inserted legal queue item")
	case err != nil:
		return false, fmt.Errorf("failed to load legal queue item %s: %w", id, err)
	default:
		if err := s.legal.Replace(ctx, id, legalItem); err != nil {
			return false, fmt.Errorf("failed to replace legal queue item %s: %w", id, err)
		}
		log.Info("updated legal queue item")
	}

	_ = s.bus.Publish(ctx, events.TopicQueueItemMigrated, map[string]any{
		"queue_item_id": id,
		"item_id":       item.String(models.FieldItemID),
		"subscriber":    name,
	})

	if !force && !models.QueueState(item.State()).IsTerminal() {
		return false, nil
	}

	err = s.queue.UpdateFields(ctx, id, map[string]any{models.FieldMovedToLegal: true}, item.ETag())
	if err != nil {
		log.Warn("failed to set moved to legal flag for queue item", "error", err)
		return false, nil
	}
	log.Debug("queue item moved to legal")
	return true, nil
}
