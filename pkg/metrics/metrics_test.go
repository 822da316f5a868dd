package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evagent/evagent/pkg/supervisor"
	"github.com/evagent/evagent/pkg/worker"
)

func summary(status int) supervisor.RunSummary {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return supervisor.RunSummary{
		RunID:       "r",
		FinalStatus: status,
		ValidationStatus: map[worker.Kind]bool{
			worker.KindTech:       true,
			worker.KindValueChain: true,
			worker.KindStock:      status == 1,
			worker.KindESG:        true,
		},
		RetryCount: map[worker.Kind]int{worker.KindStock: 2},
		StartedAt:  start,
		FinishedAt: start.Add(42 * time.Second),
	}
}

func TestRecorder_Record(t *testing.T) {
	t.Parallel()

	r := New("")
	require.NoError(t, r.Record(t.Context(), summary(0)))
	require.NoError(t, r.Record(t.Context(), summary(1)))

	assert.InDelta(t, 1, testutil.ToFloat64(r.runs.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.runs.WithLabelValues("succeeded")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(r.retries.WithLabelValues("stock")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.valid.WithLabelValues("stock")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.finalStatus), 0)
	assert.InDelta(t, float64(summary(1).FinishedAt.Unix()), testutil.ToFloat64(r.lastRun), 0)

	families, err := r.Registry().Gather()
	require.NoError(t, err)
	var samples uint64
	for _, mf := range families {
		if mf.GetName() == "evagent_supervisor_run_duration_seconds" {
			samples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), samples)
}

func TestRecorder_Textfile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "collector", "evagent.prom")
	r := New(path)
	require.NoError(t, r.Record(t.Context(), summary(0)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `evagent_supervisor_runs_total{status="failed"} 1`)
	assert.Contains(t, string(data), `evagent_supervisor_kind_valid{kind="stock"} 0`)
}
