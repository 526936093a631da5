package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/superdesk/legalarchive/common/cache"
	"github.com/superdesk/legalarchive/common/config"
	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/events"
	"github.com/superdesk/legalarchive/common/lock"
	"github.com/superdesk/legalarchive/common/logger"
	rediscommon "github.com/superdesk/legalarchive/common/redis"
	"github.com/superdesk/legalarchive/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for every command of the binary
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment,
		"store_backend", cfg.Store.Backend,
	)

	// 3. Database, only for the postgres backend
	if !options.skipDB && cfg.Store.Backend == "postgres" {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, cfg, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if cfg.Database.EnsureSchema {
			if err := components.DB.EnsureSchema(ctx); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("failed to ensure schema: %w", err)
			}
		}

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Redis
	if !options.skipRedis {
		raw := options.redisClient
		owned := raw == nil
		if owned {
			raw = redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}
		components.Redis = rediscommon.NewClient(raw, components.Logger)

		if err := components.Redis.Ping(ctx); err != nil {
			if owned {
				raw.Close()
			}
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr(), err)
		}

		if owned {
			components.addCleanup(func() error {
				components.Logger.Info("closing redis connection")
				return components.Redis.Close()
			})
		}
	}

	// 5. Locker
	if components.Redis != nil {
		components.Locker = lock.NewRedisLocker(components.Redis)
	} else {
		components.Logger.Warn("redis disabled, using process-local locks")
		components.Locker = lock.NewMemoryLocker()
	}

	// 6. Resolver cache
	components.Cache = cache.NewMemoryCache(components.Logger, cfg.Archive.ResolverCacheTTL)
	components.addCleanup(func() error {
		return components.Cache.Close()
	})

	// 7. Event bus
	components.Bus = events.NewBus(components.Logger)
	for _, topic := range []events.Topic{events.TopicItemArchived, events.TopicRunCompleted, events.TopicRunFailed} {
		components.Bus.Subscribe(topic, "audit-log", events.LogHandler(components.Logger))
	}
	if components.Redis != nil {
		notifier := events.NewNotifier(components.Redis, cfg.Archive.NotificationChannel, serviceName)
		components.Bus.Subscribe(events.TopicRunFailed, "redis-notifier", notifier.Handle)
	}
	components.addCleanup(components.Bus.Close)

	// 8. Telemetry
	if !options.skipTelemetry {
		components.Telemetry = telemetry.New(cfg.Telemetry.PprofPort, components.Logger)
		if cfg.Telemetry.EnablePprof {
			if err := components.Telemetry.Start(ctx); err != nil {
				// Don't fail startup if telemetry fails
				components.Logger.Warn("failed to start telemetry", "error", err)
			}
			components.addCleanup(func() error {
				return components.Telemetry.Stop(context.Background())
			})
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
