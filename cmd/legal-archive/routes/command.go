package routes

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/superdesk/legalarchive/cmd/legal-archive/container"
	"github.com/superdesk/legalarchive/cmd/legal-archive/handlers"
)

// RegisterCommandRoutes registers the batch command routes. The returned
// handler tracks background runs so callers can wait for them on shutdown.
func RegisterCommandRoutes(ctx context.Context, e *echo.Echo, c *container.Container) *handlers.CommandHandler {
	h := handlers.NewCommandHandler(ctx, c.Registry, c.Components.Logger)

	commands := e.Group("/api/v1/commands")
	{
		commands.GET("", h.ListCommands)                            // GET /api/v1/commands
		commands.POST("/:name", h.RunCommand, limit(c, "commands")) // POST /api/v1/commands/legal_archive:import
	}
	return h
}
