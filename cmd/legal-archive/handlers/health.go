package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandler reports dependency health
type HealthHandler struct {
	service string
	check   func(ctx context.Context) map[string]error
}

// NewHealthHandler creates a health handler
func NewHealthHandler(service string, check func(ctx context.Context) map[string]error) *HealthHandler {
	return &HealthHandler{service: service, check: check}
}

// Health returns 503 when any dependency is down
// GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	status := http.StatusOK
	components := make(map[string]string)

	for name, err := range h.check(c.Request().Context()) {
		if err != nil {
			status = http.StatusServiceUnavailable
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	return c.JSON(status, map[string]interface{}{
		"status":     overall,
		"service":    h.service,
		"components": components,
	})
}
