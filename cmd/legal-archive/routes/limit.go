package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/superdesk/legalarchive/cmd/legal-archive/container"
	"github.com/superdesk/legalarchive/common/middleware"
)

// limit caps trigger endpoints per minute across all instances. Without
// Redis there is nothing shared to count against, so requests pass.
func limit(c *container.Container, key string) echo.MiddlewareFunc {
	if c.Limiter == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.RateLimit(c.Limiter, key, c.Components.Logger)
}
