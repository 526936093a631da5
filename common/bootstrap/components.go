package bootstrap

import (
	"context"
	"fmt"

	"github.com/superdesk/legalarchive/common/cache"
	"github.com/superdesk/legalarchive/common/config"
	"github.com/superdesk/legalarchive/common/db"
	"github.com/superdesk/legalarchive/common/events"
	"github.com/superdesk/legalarchive/common/lock"
	"github.com/superdesk/legalarchive/common/logger"
	rediscommon "github.com/superdesk/legalarchive/common/redis"
	"github.com/superdesk/legalarchive/common/telemetry"
)

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Redis     *rediscommon.Client
	Cache     cache.Cache
	Bus       *events.Bus
	Locker    lock.Locker
	Telemetry *telemetry.Telemetry

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// LIFO
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health reports the status of every external dependency
func (c *Components) Health(ctx context.Context) map[string]error {
	status := make(map[string]error)

	if c.DB != nil {
		status["database"] = c.DB.Health(ctx)
	}
	if c.Redis != nil {
		status["redis"] = c.Redis.Ping(ctx)
	}

	return status
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
