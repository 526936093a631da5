package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/superdesk/legalarchive/cmd/legal-archive/container"
	"github.com/superdesk/legalarchive/cmd/legal-archive/handlers"
)

// RegisterItemRoutes registers single-item import routes
func RegisterItemRoutes(e *echo.Echo, c *container.Container) {
	var queue handlers.Enqueuer
	if c.Worker != nil {
		queue = c.Worker
	}
	h := handlers.NewItemHandler(queue, c.Components.Logger)

	items := e.Group("/api/v1/items")
	{
		items.POST("/:id/import", h.ImportItem, limit(c, "items")) // POST /api/v1/items/:id/import
	}
}
