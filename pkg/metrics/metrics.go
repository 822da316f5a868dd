// Package metrics exposes run outcomes as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evagent/evagent/pkg/supervisor"
	"github.com/evagent/evagent/pkg/worker"
)

const (
	namespace = "evagent"
	subsystem = "supervisor"

	runsTotal         = "runs_total"
	retriesTotal      = "retries_total"
	kindValid         = "kind_valid"
	runDuration       = "run_duration_seconds"
	lastRunTimestamp  = "last_run_timestamp_seconds"
	lastRunFinalState = "last_run_final_status"

	// Labels
	statusLabel = "status"
	kindLabel   = "kind"
)

// Recorder collects run metrics into its own registry and optionally writes
// them to a node-exporter textfile after every run.
type Recorder struct {
	registry *prometheus.Registry
	textfile string

	runs        *prometheus.CounterVec
	retries     *prometheus.CounterVec
	valid       *prometheus.GaugeVec
	duration    prometheus.Histogram
	lastRun     prometheus.Gauge
	finalStatus prometheus.Gauge
}

var _ supervisor.Recorder = (*Recorder)(nil)

// New creates a recorder. An empty textfile keeps metrics in memory only.
func New(textfile string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		textfile: textfile,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      runsTotal,
			Help:      "number of finished runs by outcome",
		}, []string{statusLabel}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      retriesTotal,
			Help:      "number of worker retries by kind",
		}, []string{kindLabel}),
		valid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      kindValid,
			Help:      "1 when the kind ended the last run with a valid result",
		}, []string{kindLabel}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      runDuration,
			Help:      "wall time of supervisor runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      lastRunTimestamp,
			Help:      "unix time the last run finished",
		}),
		finalStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      lastRunFinalState,
			Help:      "final_status of the last run",
		}),
	}
	r.registry.MustRegister(r.runs, r.retries, r.valid, r.duration, r.lastRun, r.finalStatus)
	return r
}

// Registry returns the registry the recorder writes to.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Record(_ context.Context, s supervisor.RunSummary) error {
	status := "failed"
	if s.Succeeded() {
		status = "succeeded"
	}
	r.runs.With(prometheus.Labels{statusLabel: status}).Inc()

	for _, k := range worker.Kinds() {
		labels := prometheus.Labels{kindLabel: string(k)}
		if n := s.RetryCount[k]; n > 0 {
			r.retries.With(labels).Add(float64(n))
		}
		if s.ValidationStatus[k] {
			r.valid.With(labels).Set(1)
		} else {
			r.valid.With(labels).Set(0)
		}
	}

	if d := s.Duration(); d > 0 {
		r.duration.Observe(d.Seconds())
	}
	if !s.FinishedAt.IsZero() {
		r.lastRun.Set(float64(s.FinishedAt.Unix()))
	}
	r.finalStatus.Set(float64(s.FinalStatus))

	return r.flush()
}

func (r *Recorder) flush() error {
	if r.textfile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.textfile), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(r.textfile, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
