// Package worker imports single items into the legal archive as soon as
// they are published, outside the periodic batch commands.
//
// Item ids travel on a Redis list. A failed import is parked in a sorted
// set scored by its retry time and promoted back onto the list once due, so
// an item is never dropped because of a transient error.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/superdesk/legalarchive/cmd/legal-archive/service"
	"github.com/superdesk/legalarchive/common/logger"
	"github.com/superdesk/legalarchive/common/models"
	rediscommon "github.com/superdesk/legalarchive/common/redis"
	"github.com/superdesk/legalarchive/common/telemetry"
)

const (
	DefaultQueueKey = "legal_archive:import_queue"
	DefaultRetryKey = "legal_archive:import_retry"

	promoteBatch = 100
)

// Upserter archives one item
type Upserter interface {
	Upsert(ctx context.Context, itemID string) (*service.UpsertResult, error)
}

// Config holds worker settings
type Config struct {
	QueueKey     string
	RetryKey     string
	RetryDelay   time.Duration
	PollInterval time.Duration
	PopTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueKey == "" {
		c.QueueKey = DefaultQueueKey
	}
	if c.RetryKey == "" {
		c.RetryKey = DefaultRetryKey
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 180 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = time.Second
	}
	return c
}

// Worker consumes the item import queue
type Worker struct {
	cfg      Config
	redis    *rediscommon.Client
	upserter Upserter
	tel      *telemetry.Telemetry
	log      *logger.Logger
	now      func() time.Time
}

// New creates a worker
func New(cfg Config, redis *rediscommon.Client, upserter Upserter, tel *telemetry.Telemetry, log *logger.Logger) *Worker {
	return &Worker{
		cfg:      cfg.withDefaults(),
		redis:    redis,
		upserter: upserter,
		tel:      tel,
		log:      log,
		now:      time.Now,
	}
}

// Enqueue asks the worker to import itemID
func (w *Worker) Enqueue(ctx context.Context, itemID string) error {
	if itemID == "" {
		return fmt.Errorf("item id is required")
	}
	if err := w.redis.PushToList(ctx, w.cfg.QueueKey, itemID); err != nil {
		return err
	}
	w.log.WithContext(ctx).Debug("item queued for legal archive", "item_id", itemID)
	return nil
}

// Pending returns how many items wait on the queue, retries excluded
func (w *Worker) Pending(ctx context.Context) (int64, error) {
	return w.redis.ListLength(ctx, w.cfg.QueueKey)
}

// Run consumes the queue until ctx is cancelled. Due retries are promoted
// back onto the queue every poll interval.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("starting legal archive worker",
		"queue", w.cfg.QueueKey,
		"retry_set", w.cfg.RetryKey,
		"retry_delay", w.cfg.RetryDelay)

	go w.promoteLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("legal archive worker stopping")
			return nil
		default:
		}

		if _, err := w.ProcessOne(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error("failed to read import queue", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOne waits up to the pop timeout for one item id and imports it.
// It reports whether an item was taken off the queue.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	res, err := w.redis.BlockingPopList(ctx, w.cfg.PopTimeout, w.cfg.QueueKey)
	if err != nil {
		return false, err
	}
	if len(res) < 2 {
		return false, nil
	}

	w.handle(ctx, res[1])
	return true, nil
}

func (w *Worker) handle(ctx context.Context, itemID string) {
	start := w.now()
	log := w.log.WithContext(ctx).WithItemID(itemID)

	res, err := w.upserter.Upsert(ctx, itemID)
	switch {
	case err == nil:
		w.tel.RecordDuration("worker_import", start)
		w.tel.RecordEvent("worker_imported", map[string]any{"item_id": itemID, "state": res.State})
		return
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrIneligible):
		log.Info("item cannot be archived, not retrying", "reason", err)
		w.tel.RecordEvent("worker_dropped", map[string]any{"item_id": itemID})
		return
	}

	at := w.now().Add(w.cfg.RetryDelay)
	log.Warn("legal archive import failed, retrying later", "error", err, "retry_at", at)
	if err := w.redis.ScheduleAt(context.WithoutCancel(ctx), w.cfg.RetryKey, itemID, at); err != nil {
		// Both the import and the retry failed; nothing durable holds the id now.
		log.Error("failed to schedule legal archive retry", "error", err)
		return
	}
	w.tel.RecordEvent("worker_retry_scheduled", map[string]any{"item_id": itemID})
}

// PromoteDue moves retries whose time has come back onto the queue
func (w *Worker) PromoteDue(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := w.redis.MoveDue(ctx, w.cfg.RetryKey, w.cfg.QueueKey, w.now(), promoteBatch)
		if err != nil {
			return total, err
		}
		total += n
		if n < promoteBatch {
			return total, nil
		}
	}
}

func (w *Worker) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.PromoteDue(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Warn("failed to promote due retries", "error", err)
				}
				continue
			}
			if n > 0 {
				w.log.Info("promoted due retries", "count", n)
			}
		}
	}
}
