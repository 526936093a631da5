package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Store     StoreConfig
	Archive   ArchiveConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	MaxConns     int
	MinConns     int
	MaxIdleTime  time.Duration
	MaxLifetime  time.Duration
	EnsureSchema bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StoreConfig selects the storage backend
type StoreConfig struct {
	Backend  string // "postgres" or "memory"
	SeedFile string // JSON fixture loaded into the memory backend
}

// ArchiveConfig holds legal archive pipeline settings
type ArchiveConfig struct {
	PageSize            int
	QueueLockLease      time.Duration
	ArchiveLockLease    time.Duration
	ItemRetryDelay      time.Duration
	RetryPollInterval   time.Duration
	ResolverCacheTTL    time.Duration
	EligibilityRule     string
	QueueSchedule       string
	ArchiveSchedule     string
	NotificationChannel string
	WorkerEnabled       bool
	SchedulerEnabled    bool
	TriggerLimit        int // admin triggers per minute, 0 disables
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Default eligibility rule: only finalized content goes to the legal archive.
const DefaultEligibilityRule = `has(item.state) && item.state in ["published", "corrected", "killed"]`

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("POSTGRES_HOST", "localhost"),
			Port:         getEnvInt("POSTGRES_PORT", 5432),
			Database:     getEnv("POSTGRES_DB", "superdesk"),
			User:         getEnv("POSTGRES_USER", "superdesk"),
			Password:     getEnv("POSTGRES_PASSWORD", "superdesk"),
			MaxConns:     getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:     getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime:  getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime:  getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
			EnsureSchema: getEnvBool("POSTGRES_ENSURE_SCHEMA", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Store: StoreConfig{
			Backend:  getEnv("STORE_BACKEND", "postgres"),
			SeedFile: getEnv("STORE_SEED_FILE", ""),
		},
		Archive: ArchiveConfig{
			PageSize:            getEnvInt("LEGAL_ARCHIVE_PAGE_SIZE", 500),
			QueueLockLease:      getEnvDuration("LEGAL_ARCHIVE_QUEUE_LOCK_LEASE", 310*time.Second),
			ArchiveLockLease:    getEnvDuration("LEGAL_ARCHIVE_LOCK_LEASE", 1810*time.Second),
			ItemRetryDelay:      getEnvDuration("LEGAL_ARCHIVE_ITEM_RETRY_DELAY", 180*time.Second),
			RetryPollInterval:   getEnvDuration("LEGAL_ARCHIVE_RETRY_POLL_INTERVAL", 10*time.Second),
			ResolverCacheTTL:    getEnvDuration("LEGAL_ARCHIVE_RESOLVER_CACHE_TTL", 1*time.Minute),
			EligibilityRule:     getEnv("LEGAL_ARCHIVE_ELIGIBILITY_RULE", DefaultEligibilityRule),
			QueueSchedule:       getEnv("LEGAL_ARCHIVE_QUEUE_SCHEDULE", "*/5 * * * *"),
			ArchiveSchedule:     getEnv("LEGAL_ARCHIVE_SCHEDULE", "*/30 * * * *"),
			NotificationChannel: getEnv("LEGAL_ARCHIVE_NOTIFICATION_CHANNEL", "legal_archive:notifications"),
			WorkerEnabled:       getEnvBool("LEGAL_ARCHIVE_WORKER_ENABLED", true),
			SchedulerEnabled:    getEnvBool("LEGAL_ARCHIVE_SCHEDULER_ENABLED", true),
			TriggerLimit:        getEnvInt("LEGAL_ARCHIVE_TRIGGER_LIMIT", 30),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Store.Backend {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	if c.Archive.PageSize < 1 {
		return fmt.Errorf("page size must be positive, got %d", c.Archive.PageSize)
	}

	// A lease shorter than a run would let a second instance start while the
	// first is still working.
	if c.Archive.QueueLockLease < time.Minute || c.Archive.ArchiveLockLease < time.Minute {
		return fmt.Errorf("lock leases must be at least one minute")
	}

	if c.Archive.EligibilityRule == "" {
		return fmt.Errorf("eligibility rule is required")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis server
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
