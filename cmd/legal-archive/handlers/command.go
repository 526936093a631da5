package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/superdesk/legalarchive/cmd/legal-archive/service"
	"github.com/superdesk/legalarchive/common/logger"
)

// CommandHandler triggers batch commands over HTTP
type CommandHandler struct {
	registry *service.Registry
	// runs outlive the request that started them
	ctx context.Context
	wg  sync.WaitGroup
	log *logger.Logger
}

// NewCommandHandler creates a command handler. Background runs are bound
// to ctx, not to the triggering request.
func NewCommandHandler(ctx context.Context, registry *service.Registry, log *logger.Logger) *CommandHandler {
	return &CommandHandler{
		registry: registry,
		ctx:      ctx,
		log:      log,
	}
}

// ListCommands lists registered commands
// GET /api/v1/commands
func (h *CommandHandler) ListCommands(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"commands": h.registry.Names(),
	})
}

// RunCommand starts a command in the background
// POST /api/v1/commands/:name?page_size=500
func (h *CommandHandler) RunCommand(c echo.Context) error {
	name := c.Param("name")
	cmd, ok := h.registry.Get(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown command: "+name)
	}

	opts := service.RunOptions{}
	if raw := c.QueryParam("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "page_size must be a positive integer")
		}
		opts.PageSize = n
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		summary, err := cmd.Run(h.ctx, opts)
		if err != nil {
			h.log.Warn("triggered run failed", "command", name, "error", err)
			return
		}
		h.log.Info("triggered run finished", "command", name, "run_id", summary.RunID, "skipped", summary.Skipped)
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"command":   name,
		"status":    "accepted",
		"page_size": opts.PageSize,
	})
}

// Wait blocks until every run started through the handler has returned
func (h *CommandHandler) Wait() {
	h.wg.Wait()
}
