// Package supervisor runs the data-gathering workers as one validated,
// retried pipeline stage and records its outcome.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/evagent/evagent/pkg/worker"
)

const (
	// DefaultMaxRetries is the number of retries a worker kind gets.
	DefaultMaxRetries = 2

	tracerName = "github.com/evagent/evagent/pkg/supervisor"
)

var (
	DefaultSubjects = []string{"Tesla"}
	DefaultRegions  = []string{"KR", "CN", "JP", "EU", "US"}
)

// Recorder is notified with the summary of every finished run.
type Recorder interface {
	Record(ctx context.Context, summary RunSummary) error
}

// RecorderFunc adapts a function into a Recorder.
type RecorderFunc func(ctx context.Context, summary RunSummary) error

func (f RecorderFunc) Record(ctx context.Context, summary RunSummary) error {
	return f(ctx, summary)
}

// Request describes one run.
type Request struct {
	Subjects []string
	Regions  []string
	OutDir   string
}

// Result is what downstream stages consume.
type Result struct {
	RunID       string
	Subjects    []string
	Regions     []string
	OutDir      string
	Summary     RunSummary
	SummaryPath string
	Results     map[worker.Kind]worker.Result
}

// Succeeded reports whether every worker ended with a valid result.
func (r *Result) Succeeded() bool { return r.Summary.Succeeded() }

// Supervisor dispatches workers, validates their results and retries the
// invalid ones a bounded number of times.
type Supervisor struct {
	workers    map[worker.Kind]worker.Worker
	order      []worker.Kind
	maxRetries int
	recorders  []Recorder
	subjects   []string
	regions    []string
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string

	mu      sync.Mutex
	lastRun *Run
}

type Opt func(*Supervisor)

// WithMaxRetries sets how many times an invalid kind is re-invoked.
func WithMaxRetries(n int) Opt {
	return func(s *Supervisor) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRecorders adds recorders notified after the summary is persisted.
func WithRecorders(recorders ...Recorder) Opt {
	return func(s *Supervisor) {
		s.recorders = append(s.recorders, recorders...)
	}
}

// WithDefaults sets the subjects and regions used when a request omits them.
func WithDefaults(subjects, regions []string) Opt {
	return func(s *Supervisor) {
		if len(subjects) > 0 {
			s.subjects = subjects
		}
		if len(regions) > 0 {
			s.regions = regions
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Opt {
	return func(s *Supervisor) {
		s.now = now
	}
}

// WithIDGenerator overrides how run IDs are generated.
func WithIDGenerator(fn func() string) Opt {
	return func(s *Supervisor) {
		s.newID = fn
	}
}

// WithTracerProvider sets the tracer provider used for run spans.
func WithTracerProvider(tp trace.TracerProvider) Opt {
	return func(s *Supervisor) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// New creates a supervisor over the given workers. Workers are dispatched
// in canonical kind order; each kind may be registered once.
func New(workers []worker.Worker, opts ...Opt) (*Supervisor, error) {
	if len(workers) == 0 {
		return nil, errors.New("supervisor requires at least one worker")
	}

	s := &Supervisor{
		workers:    make(map[worker.Kind]worker.Worker, len(workers)),
		maxRetries: DefaultMaxRetries,
		subjects:   DefaultSubjects,
		regions:    DefaultRegions,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
	for _, w := range workers {
		kind := w.Kind()
		if _, dup := s.workers[kind]; dup {
			return nil, fmt.Errorf("worker kind %q registered twice", kind)
		}
		s.workers[kind] = w
	}
	for _, k := range worker.Kinds() {
		if _, ok := s.workers[k]; ok {
			s.order = append(s.order, k)
		}
	}
	var extra []worker.Kind
	for k := range s.workers {
		if !slices.Contains(s.order, k) {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	s.order = append(s.order, extra...)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Kinds returns the registered kinds in dispatch order.
func (s *Supervisor) Kinds() []worker.Kind {
	return slices.Clone(s.order)
}

// LastRun returns the final state of the most recent run, if any.
func (s *Supervisor) LastRun() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return Run{}, false
	}
	return s.lastRun.clone(), true
}

// Run executes one full pipeline stage. Worker failures never surface as
// errors; they show up in the summary. An error is returned only when the
// output directory or the summary cannot be written, in which case the
// result is still returned without a SummaryPath.
func (s *Supervisor) Run(ctx context.Context, req Request) (*Result, error) {
	in := s.input(req)
	if err := os.MkdirAll(in.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	run := newRun(s.newID(), in, s.order, s.now())

	ctx, span := s.tracer.Start(ctx, "supervisor.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.StringSlice("run.subjects", in.Subjects),
		attribute.StringSlice("run.regions", in.Regions),
	))
	defer span.End()

	slog.Info("Dispatching workers", "run_id", run.ID, "kinds", s.order, "subjects", in.Subjects, "regions", in.Regions)
	run = applyDispatch(run, s.invokeAll(ctx, "dispatch", in, s.order))

	for {
		run = applyValidation(run)
		s.logPass(run)

		if nextPhase(run, s.maxRetries) == phaseFinalize {
			break
		}

		kinds := retryable(run, s.maxRetries)
		slog.Info("Retrying invalid workers", "run_id", run.ID, "kinds", kinds, "pass", run.Passes)
		run = applyRetry(run, s.invokeAll(ctx, "retry", in, kinds))
	}

	run = finalize(run, s.now())
	summary := buildSummary(run)

	s.mu.Lock()
	s.lastRun = &run
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int("run.final_status", summary.FinalStatus),
		attribute.Int("run.passes", summary.Passes),
	)
	if !summary.Succeeded() {
		span.SetStatus(codes.Error, "some workers produced invalid results")
	}

	res := &Result{
		RunID:    run.ID,
		Subjects: in.Subjects,
		Regions:  in.Regions,
		OutDir:   in.OutDir,
		Summary:  summary,
		Results:  make(map[worker.Kind]worker.Result, len(run.Tasks)),
	}
	for _, t := range run.Tasks {
		if t.Result != nil {
			res.Results[t.Kind] = t.Result
		}
	}

	path := filepath.Join(in.OutDir, SummaryFileName)
	if err := SaveSummary(path, summary); err != nil {
		span.RecordError(err)
		return res, err
	}
	res.SummaryPath = path

	slog.Info("Run finalized",
		"run_id", run.ID,
		"final_status", summary.FinalStatus,
		"passes", summary.Passes,
		"retry_count", summary.RetryCount,
		"summary", path,
	)

	for _, rec := range s.recorders {
		if err := rec.Record(ctx, summary); err != nil {
			slog.Warn("Failed to record run summary", "run_id", run.ID, "error", err)
		}
	}

	return res, nil
}

func (s *Supervisor) input(req Request) worker.Input {
	in := worker.Input{
		Subjects: uniqueFold(slices.Clone(req.Subjects)),
		Regions:  slices.Clone(req.Regions),
		OutDir:   req.OutDir,
	}
	if len(in.Subjects) == 0 {
		in.Subjects = slices.Clone(s.subjects)
	}
	if len(in.Regions) == 0 {
		in.Regions = slices.Clone(s.regions)
	}
	if in.OutDir == "" {
		in.OutDir = "outputs"
	}
	return in
}

// uniqueFold drops blank subjects and subjects equal, ignoring case, to an
// earlier one. Per-subject artifacts are named after the subject, so "BYD"
// and "byd" would write the same file.
func uniqueFold(subjects []string) []string {
	seen := make(map[string]bool, len(subjects))
	out := subjects[:0]
	for _, sub := range subjects {
		sub = strings.TrimSpace(sub)
		key := strings.ToLower(sub)
		if sub == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sub)
	}
	return out
}

func (s *Supervisor) logPass(run Run) {
	for _, t := range run.Tasks {
		if t.Outcome.Valid {
			slog.Debug("Worker result valid", "run_id", run.ID, "kind", t.Kind, "pass", run.Passes)
			continue
		}
		slog.Warn("Worker result invalid",
			"run_id", run.ID,
			"kind", t.Kind,
			"pass", run.Passes,
			"retries", t.Retries,
			"missing", t.Outcome.MissingFields,
			"error", t.LastError,
		)
	}
}

// invokeAll calls the workers of the given kinds concurrently and waits
// for all of them. Each kind's failure, panics included, is captured on its
// own. If the join itself fails, every kind is reported as failed for this
// round.
func (s *Supervisor) invokeAll(ctx context.Context, stage string, in worker.Input, kinds []worker.Kind) (out map[worker.Kind]invocation) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Worker join failed", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			out = joinFailed(kinds, fmt.Errorf("join failed: %v", r))
		}
	}()

	results := make([]invocation, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		w := s.workers[kind]
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Worker panicked", "kind", kind, "stage", stage, "panic", r, "stack", string(debug.Stack()))
					results[i] = invocation{err: fmt.Errorf("worker panicked: %v", r)}
				}
			}()
			results[i] = s.invoke(ctx, stage, kind, w, in)
			return nil
		})
	}
	_ = g.Wait() // errors captured per kind

	out = make(map[worker.Kind]invocation, len(kinds))
	for i, kind := range kinds {
		out[kind] = results[i]
	}
	return out
}

func joinFailed(kinds []worker.Kind, err error) map[worker.Kind]invocation {
	out := make(map[worker.Kind]invocation, len(kinds))
	for _, k := range kinds {
		out[k] = invocation{err: err}
	}
	return out
}

// invoke runs one worker. kind is the kind it was registered under; the
// worker is not asked again.
func (s *Supervisor) invoke(ctx context.Context, stage string, kind worker.Kind, w worker.Worker, in worker.Input) (inv invocation) {
	start := s.now()
	var span trace.Span
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Worker panicked", "kind", kind, "panic", r, "stack", string(debug.Stack()))
			inv = invocation{err: fmt.Errorf("worker panicked: %v", r)}
		}
		if span != nil {
			if inv.err != nil {
				span.RecordError(inv.err)
				span.SetStatus(codes.Error, inv.err.Error())
			}
			span.End()
		}
		if inv.err != nil {
			slog.Warn("Worker failed", "kind", kind, "stage", stage, "error", inv.err, "elapsed", s.now().Sub(start))
			return
		}
		slog.Debug("Worker finished", "kind", kind, "stage", stage, "elapsed", s.now().Sub(start))
	}()

	ctx, span = s.tracer.Start(ctx, "worker."+string(kind), trace.WithAttributes(
		attribute.String("worker.stage", stage),
	))

	result, err := w.Invoke(ctx, in)
	if err != nil {
		return invocation{err: err}
	}
	return invocation{result: result}
}
