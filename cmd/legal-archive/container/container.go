package container

import (
	"fmt"
	"os"
	"time"

	"github.com/superdesk/legalarchive/cmd/legal-archive/denormalize"
	"github.com/superdesk/legalarchive/cmd/legal-archive/repository"
	"github.com/superdesk/legalarchive/cmd/legal-archive/resolver"
	"github.com/superdesk/legalarchive/cmd/legal-archive/scheduler"
	"github.com/superdesk/legalarchive/cmd/legal-archive/service"
	"github.com/superdesk/legalarchive/cmd/legal-archive/worker"
	"github.com/superdesk/legalarchive/common/bootstrap"
	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/ratelimit"
)

// Container holds all initialized services and repositories
type Container struct {
	Components *bootstrap.Components

	// Memory is set when the memory backend is in use
	Memory *repository.MemoryStore
	Stores service.Stores

	Resolver *resolver.Resolver
	Archive  *service.ArchiveService
	Queue    *service.QueueService

	ImportArchive      *service.ImportArchiveCommand
	ImportPublishQueue *service.ImportPublishQueueCommand
	Registry           *service.Registry

	// Worker and Limiter are nil without Redis
	Worker    *worker.Worker
	Limiter   *ratelimit.RateLimiter
	Scheduler *scheduler.Scheduler
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger
	c := &Container{Components: components}

	// Stores
	var refs resolver.ReferenceReader
	switch cfg.Store.Backend {
	case "memory":
		store := repository.NewMemoryStore()
		if cfg.Store.SeedFile != "" {
			if err := loadSeed(store, cfg.Store.SeedFile); err != nil {
				return nil, err
			}
		}
		c.Memory = store
		c.Stores = memoryStores(store)
		refs = store.References()
	default:
		if components.DB == nil {
			return nil, fmt.Errorf("store backend %q needs a database", cfg.Store.Backend)
		}
		c.Stores = postgresStores(components.DB)
		refs = repository.NewReferenceRepository(components.DB)
	}

	// Services (bottom-up: dependencies first)
	c.Resolver = resolver.New(refs, components.Cache, cfg.Archive.ResolverCacheTTL, log)
	denorm := denormalize.New(c.Resolver, log)

	rule, err := service.NewEligibilityRule(cfg.Archive.EligibilityRule)
	if err != nil {
		return nil, err
	}

	c.Archive = service.NewArchiveService(c.Stores, denorm, rule, components.Bus, log)
	c.Queue = service.NewQueueService(c.Stores.Queue, c.Stores.LegalQueue, c.Resolver, components.Bus, log)

	// Commands
	c.ImportArchive = service.NewImportArchiveCommand(
		service.CommandConfig{DefaultPageSize: cfg.Archive.PageSize, Lease: cfg.Archive.ArchiveLockLease},
		c.Stores, c.Archive, c.Queue,
		components.Locker, components.Bus, components.Telemetry, log,
	)
	c.ImportPublishQueue = service.NewImportPublishQueueCommand(
		service.CommandConfig{DefaultPageSize: cfg.Archive.PageSize, Lease: cfg.Archive.QueueLockLease},
		c.Stores.Queue, c.Queue,
		components.Locker, components.Bus, components.Telemetry, log,
	)

	c.Registry = service.NewRegistry()
	for _, cmd := range []service.Command{c.ImportArchive, c.ImportPublishQueue} {
		if err := c.Registry.Register(cmd); err != nil {
			return nil, err
		}
	}

	// Background processing
	c.Scheduler = scheduler.New(log)
	if err := c.Scheduler.Add(c.ImportPublishQueue, cfg.Archive.QueueSchedule); err != nil {
		return nil, err
	}
	if err := c.Scheduler.Add(c.ImportArchive, cfg.Archive.ArchiveSchedule); err != nil {
		return nil, err
	}

	if components.Redis != nil {
		c.Worker = worker.New(worker.Config{
			RetryDelay:   cfg.Archive.ItemRetryDelay,
			PollInterval: cfg.Archive.RetryPollInterval,
		}, components.Redis, c.Archive, components.Telemetry, log)

		if cfg.Archive.TriggerLimit > 0 {
			c.Limiter = ratelimit.NewRateLimiter(components.Redis, int64(cfg.Archive.TriggerLimit), time.Minute)
		}
	}

	log.Info("container ready",
		"store_backend", cfg.Store.Backend,
		"commands", c.Registry.Names(),
		"worker", c.Worker != nil)

	return c, nil
}

func postgresStores(database *db.DB) service.Stores {
	return service.Stores{
		Items:         repository.NewItemRepository(database),
		Versions:      repository.NewVersionRepository(database, db.TableArchiveVersions),
		History:       repository.NewHistoryRepository(database, db.TableArchiveHistory),
		Published:     repository.NewPublishedRepository(database),
		Queue:         repository.NewQueueRepository(database),
		LegalArchive:  repository.NewLegalArchiveRepository(database),
		LegalVersions: repository.NewVersionRepository(database, db.TableLegalArchiveVersions),
		LegalHistory:  repository.NewHistoryRepository(database, db.TableLegalArchiveHistory),
		LegalQueue:    repository.NewLegalQueueRepository(database),
	}
}

func memoryStores(store *repository.MemoryStore) service.Stores {
	return service.Stores{
		Items:         store.Items(),
		Versions:      store.Versions(db.TableArchiveVersions),
		History:       store.History(db.TableArchiveHistory),
		Published:     store.Published(),
		Queue:         store.Queue(),
		LegalArchive:  store.LegalArchive(),
		LegalVersions: store.Versions(db.TableLegalArchiveVersions),
		LegalHistory:  store.History(db.TableLegalArchiveHistory),
		LegalQueue:    store.LegalQueue(),
	}
}

func loadSeed(store *repository.MemoryStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	if err := store.Load(f); err != nil {
		return fmt.Errorf("failed to load seed file %s: %w", path, err)
	}
	return nil
}
