package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/superdesk/legalarchive/common/events"
	"github.com/superdesk/legalarchive/common/lock"
	"github.com/superdesk/legalarchive/common/logger"
	"github.com/superdesk/legalarchive/common/models"
	"github.com/superdesk/legalarchive/common/telemetry"
)

// Command names as exposed on the CLI, the scheduler and the admin API
const (
	CommandImportArchive      = "legal_archive:import"
	CommandImportPublishQueue = "legal_publish_queue:import"
)

// Lock names guarding each command
var (
	LockImportArchive      = lock.ID("legal_archive", "import_to_legal_archive")
	LockImportPublishQueue = lock.ID("legal_archive", "import_legal_publish_queue")
)

// RunOptions are per-invocation parameters
type RunOptions struct {
	PageSize int
}

// RunSummary reports one command run
type RunSummary struct {
	Command       string        `json:"command"`
	RunID         string        `json:"run_id"`
	Skipped       bool          `json:"skipped"`
	Pages         int           `json:"pages"`
	Items         int           `json:"items"`
	Archived      int           `json:"archived"`
	Failed        int           `json:"failed"`
	QueueMigrated int           `json:"queue_migrated"`
	QueueFailed   int           `json:"queue_failed"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// Command is a lock-guarded batch operation
type Command interface {
	Name() string
	Run(ctx context.Context, opts RunOptions) (*RunSummary, error)
}

// CommandConfig holds the settings shared by the batch commands
type CommandConfig struct {
	DefaultPageSize int
	Lease           time.Duration
}

// guard runs one lock-guarded command invocation. A held lock makes the run
// a silent no-op.
type guard struct {
	name     string
	lockName string
	cfg      CommandConfig
	locker   lock.Locker
	bus      *events.Bus
	tel      *telemetry.Telemetry
	log      *logger.Logger
}

type runBody func(ctx context.Context, log *logger.Logger, lease *lock.Lease, pageSize int, summary *RunSummary) error

func (g *guard) run(ctx context.Context, opts RunOptions, body runBody) (*RunSummary, error) {
	summary := &RunSummary{
		Command:   g.name,
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	ctx = logger.ContextWithRunID(ctx, summary.RunID)
	log := g.log.WithContext(ctx).WithCommand(g.name)

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = g.cfg.DefaultPageSize
	}

	lease, err := g.locker.Acquire(ctx, g.lockName, g.cfg.Lease)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.name, err)
	}
	if lease == nil {
		log.Info("another run holds the lock, skipping", "lock", g.lockName)
		summary.Skipped = true
		return summary, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release lock", "lock", g.lockName, "error", err)
		}
	}()

	log.Info("command started", "page_size", pageSize)
	runErr := body(ctx, log, lease, pageSize, summary)
	summary.Duration = time.Since(summary.StartedAt)
	g.tel.RecordDuration(g.name, summary.StartedAt)

	payload := map[string]any{
		"command":        g.name,
		"run_id":         summary.RunID,
		"items":          summary.Items,
		"archived":       summary.Archived,
		"failed":         summary.Failed,
		"queue_migrated": summary.QueueMigrated,
		"duration_ms":    summary.Duration.Milliseconds(),
	}

	if runErr != nil {
		payload["error"] = runErr.Error()
		log.Error("command failed", "error", runErr)
		g.tel.RecordEvent("command_failed", payload)
		_ = g.bus.Publish(ctx, events.TopicRunFailed, payload)
		return summary, fmt.Errorf("%s: %w", g.name, runErr)
	}

	log.Info("command completed",
		"items", summary.Items,
		"archived", summary.Archived,
		"failed", summary.Failed,
		"queue_migrated", summary.QueueMigrated,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	g.tel.RecordEvent("command_completed", payload)
	_ = g.bus.Publish(ctx, events.TopicRunCompleted, payload)
	return summary, nil
}

// ImportPublishQueueCommand copies terminal publish queue rows into the
// legal publish queue
type ImportPublishQueueCommand struct {
	guard
	queue    QueueStore
	migrator *QueueService
}

// NewImportPublishQueueCommand creates the publish queue import
func NewImportPublishQueueCommand(cfg CommandConfig, queue QueueStore, migrator *QueueService, locker lock.Locker, bus *events.Bus, tel *telemetry.Telemetry, log *logger.Logger) *ImportPublishQueueCommand {
	return &ImportPublishQueueCommand{
		guard: guard{
			name:     CommandImportPublishQueue,
			lockName: LockImportPublishQueue,
			cfg:      cfg,
			locker:   locker,
			bus:      bus,
			tel:      tel,
			log:      log,
		},
		queue:    queue,
		migrator: migrator,
	}
}

// Name implements Command
func (c *ImportPublishQueueCommand) Name() string { return c.name }

// Run implements Command
func (c *ImportPublishQueueCommand) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	return c.run(ctx, opts, func(ctx context.Context, log *logger.Logger, lease *lock.Lease, pageSize int, summary *RunSummary) error {
		watermark := ""
		for {
			if summary.Pages > 0 {
				if err := lease.Extend(ctx); err != nil {
					return err
				}
			}
			page, err := c.queue.ListTerminalUnmoved(ctx, watermark, pageSize)
			if err != nil {
				return fmt.Errorf("failed to fetch publish queue page after %q: %w", watermark, err)
			}
			if len(page) == 0 {
				break
			}
			summary.Pages++
			summary.Items += len(page)

			stats, err := c.migrator.ProcessQueueItems(ctx, page, false)
			if err != nil {
				return fmt.Errorf("failed to process publish queue page after %q: %w", watermark, err)
			}
			summary.QueueMigrated += stats.Migrated
			summary.QueueFailed += stats.Failed

			watermark = page[len(page)-1].ID()
			if len(page) < pageSize {
				break
			}
		}

		if summary.Items == 0 {
			log.Info("no publish queue items to import")
		}
		return nil
	})
}

// ImportArchiveCommand archives expired items, then sweeps their queue rows
type ImportArchiveCommand struct {
	guard
	stores   Stores
	archive  *ArchiveService
	migrator *QueueService
	now      func() time.Time
}

// NewImportArchiveCommand creates the full legal archive import
func NewImportArchiveCommand(cfg CommandConfig, stores Stores, archive *ArchiveService, migrator *QueueService, locker lock.Locker, bus *events.Bus, tel *telemetry.Telemetry, log *logger.Logger) *ImportArchiveCommand {
	return &ImportArchiveCommand{
		guard: guard{
			name:     CommandImportArchive,
			lockName: LockImportArchive,
			cfg:      cfg,
			locker:   locker,
			bus:      bus,
			tel:      tel,
			log:      log,
		},
		stores:   stores,
		archive:  archive,
		migrator: migrator,
		now:      time.Now,
	}
}

// Name implements Command
func (c *ImportArchiveCommand) Name() string { return c.name }

// Run implements Command. Each page is finished before the next is fetched:
// its items are upserted, their queue rows swept and their expiry marker
// cleared, so an aborted run leaves no archived item half handled.
func (c *ImportArchiveCommand) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	return c.run(ctx, opts, func(ctx context.Context, log *logger.Logger, lease *lock.Lease, pageSize int, summary *RunSummary) error {
		now := c.now()
		seen := make(map[string]struct{})

		// (a) expired published rows
		seq, lastID := int64(-1), ""
		for {
			if err := c.keepLease(ctx, lease, summary); err != nil {
				return err
			}
			page, err := c.stores.Published.ListExpired(ctx, now, seq, lastID, pageSize)
			if err != nil {
				return fmt.Errorf("failed to fetch published page after sequence %d: %w", seq, err)
			}
			if len(page) == 0 {
				break
			}
			summary.Pages++
			log.Info("fetched expired published items", "count", len(page), "after_sequence", seq)

			var ids []string
			for _, row := range page {
				seq, lastID = int64(row.Int(models.FieldPublishSequenceNo)), row.ID()
				ids = append(ids, row.String(models.FieldItemID))
			}
			if err := c.archivePage(ctx, log, ids, seen, pageSize, summary); err != nil {
				return err
			}
			if len(page) < pageSize {
				break
			}
		}

		// (b) expired items the expiry job marked invalid
		watermark := ""
		for {
			if err := c.keepLease(ctx, lease, summary); err != nil {
				return err
			}
			page, err := c.stores.Items.ListExpiredInvalid(ctx, now, watermark, pageSize)
			if err != nil {
				return fmt.Errorf("failed to fetch invalid expired items after %q: %w", watermark, err)
			}
			if len(page) == 0 {
				break
			}
			summary.Pages++
			log.Info("fetched invalid expired items", "count", len(page), "after", watermark)

			var ids []string
			for _, doc := range page {
				watermark = doc.ID()
				ids = append(ids, doc.ID())
			}
			if err := c.archivePage(ctx, log, ids, seen, pageSize, summary); err != nil {
				return err
			}
			if len(page) < pageSize {
				break
			}
		}

		return nil
	})
}

func (c *ImportArchiveCommand) keepLease(ctx context.Context, lease *lock.Lease, summary *RunSummary) error {
	if summary.Pages == 0 {
		return nil
	}
	return lease.Extend(ctx)
}

// archivePage upserts one page of items, then (c) sweeps their queue rows and
// (d) clears their expiry marker
func (c *ImportArchiveCommand) archivePage(ctx context.Context, log *logger.Logger, itemIDs []string, seen map[string]struct{}, pageSize int, summary *RunSummary) error {
	var archived []string
	for _, id := range itemIDs {
		if c.archiveItem(ctx, log, id, seen, summary) {
			archived = append(archived, id)
		}
	}
	if len(archived) == 0 {
		return nil
	}

	if err := c.sweepQueue(ctx, archived, pageSize, summary); err != nil {
		return err
	}

	for _, id := range archived {
		err := c.stores.Items.UpdateFields(ctx, id, map[string]any{models.FieldExpiryStatus: nil}, "")
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			log.Warn("failed to clear expiry status", "item_id", id, "error", err)
		}
	}
	return nil
}

func (c *ImportArchiveCommand) archiveItem(ctx context.Context, log *logger.Logger, itemID string, seen map[string]struct{}, summary *RunSummary) bool {
	if itemID == "" {
		return false
	}
	if _, ok := seen[itemID]; ok {
		return false
	}
	seen[itemID] = struct{}{}
	summary.Items++

	if _, err := c.archive.Upsert(ctx, itemID); err != nil {
		summary.Failed++
		if !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrIneligible) {
			log.Error("failed to import into legal archive", "item_id", itemID, "error", err)
		}
		return false
	}
	summary.Archived++
	return true
}

// sweepQueue migrates every queue row of the given items with the force flag,
// whatever the row's state
func (c *ImportArchiveCommand) sweepQueue(ctx context.Context, itemIDs []string, pageSize int, summary *RunSummary) error {
	for start := 0; start < len(itemIDs); start += pageSize {
		end := start + pageSize
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		chunk := itemIDs[start:end]

		watermark := ""
		for {
			page, err := c.stores.Queue.ListByItemIDs(ctx, chunk, watermark, pageSize)
			if err != nil {
				return fmt.Errorf("failed to fetch queue rows of archived items: %w", err)
			}
			if len(page) == 0 {
				break
			}

			stats, err := c.migrator.ProcessQueueItems(ctx, page, true)
			if err != nil {
				return fmt.Errorf("failed to process queue rows of archived items: %w", err)
			}
			summary.QueueMigrated += stats.Migrated
			summary.QueueFailed += stats.Failed

			watermark = page[len(page)-1].ID()
			if len(page) < pageSize {
				break
			}
		}
	}
	return nil
}

// Registry maps command names to commands. It is built once at startup.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds cmd under its name
func (r *Registry) Register(cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[cmd.Name()]; exists {
		return fmt.Errorf("command already registered: %s", cmd.Name())
	}
	r.commands[cmd.Name()] = cmd
	return nil
}

// Get looks a command up by name
func (r *Registry) Get(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names lists registered commands in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
