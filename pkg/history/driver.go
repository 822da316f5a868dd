// Package history keeps a durable record of past run summaries.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/supervisor"
	"github.com/evagent/evagent/pkg/worker"
)

var (
	// ErrNotFound is returned when no run has the requested ID.
	ErrNotFound = errors.New("run not found")
	// ErrDisabled is returned by Open when history.kind is empty or "none".
	ErrDisabled = errors.New("run history disabled")
)

// Store defines the interface for history backends.
type Store interface {
	// Record saves a run summary, replacing any summary with the same run ID.
	Record(ctx context.Context, summary supervisor.RunSummary) error

	// Get returns the summary of one run.
	Get(ctx context.Context, runID string) (supervisor.RunSummary, error)

	// List returns the most recent runs first.
	List(ctx context.Context, query Query) ([]Entry, error)

	io.Closer
}

var _ supervisor.Recorder = Store(nil)

// Query filters a listing.
type Query struct {
	// Limit on number of results; 0 means no limit.
	Limit int

	// FailedOnly keeps runs that ended with final_status 0.
	FailedOnly bool
}

// Entry is the listing view of a recorded run.
type Entry struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	FinalStatus int
	Retries     int
	FailedKinds []worker.Kind
}

// EntryOf builds the listing view of a summary.
func EntryOf(s supervisor.RunSummary) Entry {
	e := Entry{
		RunID:       s.RunID,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		FinalStatus: s.FinalStatus,
		FailedKinds: s.FailedKinds(),
	}
	for _, n := range s.RetryCount {
		e.Retries += n
	}
	return e
}

// Factory opens a store for one history kind.
type Factory interface {
	CreateStore(ctx context.Context, cfg config.HistoryConfig) (Store, error)
}

// Registry maps history kinds ("sqlite", "minio") to their factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// CreateStore opens the store selected by cfg.Kind. It returns ErrDisabled
// when the configuration turns history off.
func (r *Registry) CreateStore(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	if !Enabled(cfg) {
		return nil, ErrDisabled
	}
	r.mu.RLock()
	factory, ok := r.factories[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedKindError{Kind: cfg.Kind, Available: r.Kinds()}
	}
	return factory.CreateStore(ctx, cfg)
}

// UnsupportedKindError is returned for a history kind no driver registered.
type UnsupportedKindError struct {
	Kind      string
	Available []string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported history kind: %s (available: %s)", e.Kind, strings.Join(e.Available, ", "))
}

// Enabled reports whether cfg selects a history store at all.
func Enabled(cfg config.HistoryConfig) bool {
	return cfg.Kind != "" && cfg.Kind != "none"
}

// drivers holds the factories registered by the driver packages' init.
var drivers = NewRegistry()

// Register makes a driver available to Open. Driver packages call it from
// init; import them for side effects.
func Register(kind string, factory Factory) {
	drivers.Register(kind, factory)
}

// Open opens the configured history store from the registered drivers.
func Open(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	return drivers.CreateStore(ctx, cfg)
}
