package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/superdesk/legalarchive/common/logger"
)

// Telemetry holds observability components. A nil *Telemetry is valid and
// records nothing.
type Telemetry struct {
	log       *logger.Logger
	pprofAddr string
	server    *http.Server

	mu       sync.Mutex
	counters map[string]int64
}

// New creates telemetry components
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:       log,
		pprofAddr: fmt.Sprintf("localhost:%d", pprofPort),
		counters:  make(map[string]int64),
	}
}

// Start starts the pprof endpoint
func (t *Telemetry) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	t.server = &http.Server{Addr: t.pprofAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		t.log.Info("pprof server starting", "addr", t.pprofAddr)
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("pprof server error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the pprof endpoint down
func (t *Telemetry) Stop(ctx context.Context) error {
	if t == nil || t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

// RecordDuration records operation duration
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	if t == nil {
		return
	}
	duration := time.Since(start)
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}

// RecordEvent records a telemetry event and bumps its counter
func (t *Telemetry) RecordEvent(event string, attrs map[string]any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.counters[event]++
	t.mu.Unlock()

	t.log.Info("telemetry_event",
		"event", event,
		"attrs", attrs,
	)
}

// Count returns how many times event was recorded
func (t *Telemetry) Count(event string) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[event]
}
