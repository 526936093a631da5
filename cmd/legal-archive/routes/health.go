package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/superdesk/legalarchive/cmd/legal-archive/container"
	"github.com/superdesk/legalarchive/cmd/legal-archive/handlers"
)

// RegisterHealthRoutes registers the health check endpoint
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHealthHandler(c.Components.Config.Service.Name, c.Components.Health)
	e.GET("/health", h.Health)
}
