package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(TransitionsTotal.WithLabelValues("APPROVE", "guard_failed"))

	RecordTransition("APPROVE", "guard_failed")
	RecordTransition("APPROVE", "guard_failed")

	after := testutil.ToFloat64(TransitionsTotal.WithLabelValues("APPROVE", "guard_failed"))
	assert.Equal(t, before+2, after)
}

func TestWriteTextfile(t *testing.T) {
	ObserveOperation("process_task", "ok", time.Now().Add(-time.Second))
	path := filepath.Join(t.TempDir(), "deeflow.prom")

	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "deeflow_operation_duration_seconds")
}
