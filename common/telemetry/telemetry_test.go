package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/superdesk/legalarchive/common/logger"
)

func TestRecordEvent_Counts(t *testing.T) {
	tel := New(0, logger.Discard())

	tel.RecordEvent("legal_archive.run", map[string]any{"items": 3})
	tel.RecordEvent("legal_archive.run", nil)
	tel.RecordDuration("legal_archive.run", time.Now())

	assert.Equal(t, int64(2), tel.Count("legal_archive.run"))
	assert.Zero(t, tel.Count("other"))
}

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		tel.RecordEvent("x", nil)
		tel.RecordDuration("x", time.Now())
	})
	assert.Zero(t, tel.Count("x"))
	assert.NoError(t, tel.Stop(context.Background()))
}
