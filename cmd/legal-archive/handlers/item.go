package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/superdesk/legalarchive/common/logger"
)

// Enqueuer hands an item to the async import worker
type Enqueuer interface {
	Enqueue(ctx context.Context, itemID string) error
}

// ItemHandler queues single items for import
type ItemHandler struct {
	queue Enqueuer
	log   *logger.Logger
}

// NewItemHandler creates an item handler. A nil queue disables the endpoint.
func NewItemHandler(queue Enqueuer, log *logger.Logger) *ItemHandler {
	return &ItemHandler{queue: queue, log: log}
}

// ImportItem queues an item for the legal archive
// POST /api/v1/items/:id/import
func (h *ItemHandler) ImportItem(c echo.Context) error {
	if h.queue == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "item import worker is not configured")
	}

	id := c.Param("id")
	if err := h.queue.Enqueue(c.Request().Context(), id); err != nil {
		h.log.WithContext(c.Request().Context()).Error("failed to enqueue item", "item_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to enqueue item")
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"item_id": id,
		"status":  "queued",
	})
}
