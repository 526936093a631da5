package bootstrap

import (
	"github.com/redis/go-redis/v9"

	"github.com/superdesk/legalarchive/common/config"
	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipDB        bool
	skipRedis     bool
	skipTelemetry bool
	customLogger  *logger.Logger
	customConfig  *config.Config
	redisClient   *redis.Client
	dbInitHook    func(*db.DB) error
}

// WithoutDB skips database initialization even on the postgres backend
func WithoutDB() Option {
	return func(o *options) {
		o.skipDB = true
	}
}

// WithoutRedis skips Redis; locks fall back to the in-process locker
func WithoutRedis() Option {
	return func(o *options) {
		o.skipRedis = true
	}
}

// WithoutTelemetry skips telemetry initialization
func WithoutTelemetry() Option {
	return func(o *options) {
		o.skipTelemetry = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithRedisClient reuses an existing go-redis client (tests point this at miniredis)
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithDBInitHook runs a custom function after DB initialization
func WithDBInitHook(hook func(*db.DB) error) Option {
	return func(o *options) {
		o.dbInitHook = hook
	}
}

func defaultOptions() *options {
	return &options{}
}
