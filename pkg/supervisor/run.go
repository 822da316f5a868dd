package supervisor

import (
	"maps"
	"slices"
	"time"

	"github.com/evagent/evagent/pkg/validate"
	"github.com/evagent/evagent/pkg/worker"
)

// State is the lifecycle state of a run.
type State string

const (
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateFinalized State = "finalized"
)

type phase int

const (
	phaseRetry phase = iota
	phaseFinalize
)

// Task tracks one worker kind across a run.
type Task struct {
	Kind      worker.Kind
	Result    worker.Result
	Outcome   validate.Outcome
	Retries   int
	LastError string
}

// Run is the state of one supervisor invocation. Values are never mutated
// in place; every transition returns a new Run.
type Run struct {
	ID           string
	Input        worker.Input
	State        State
	StartedAt    time.Time
	FinishedAt   time.Time
	Tasks        []Task
	ErrorLog     map[worker.Kind]string
	ErrorHistory map[worker.Kind][]string
	Passes       int
}

// invocation is what came back from calling one worker.
type invocation struct {
	result worker.Result
	err    error
}

func newRun(id string, in worker.Input, kinds []worker.Kind, startedAt time.Time) Run {
	tasks := make([]Task, len(kinds))
	for i, k := range kinds {
		tasks[i] = Task{Kind: k}
	}
	return Run{
		ID:           id,
		Input:        in,
		State:        StateRunning,
		StartedAt:    startedAt,
		Tasks:        tasks,
		ErrorLog:     map[worker.Kind]string{},
		ErrorHistory: map[worker.Kind][]string{},
	}
}

func (r Run) clone() Run {
	c := r
	c.Tasks = slices.Clone(r.Tasks)
	c.ErrorLog = maps.Clone(r.ErrorLog)
	c.ErrorHistory = make(map[worker.Kind][]string, len(r.ErrorHistory))
	for k, v := range r.ErrorHistory {
		c.ErrorHistory[k] = slices.Clone(v)
	}
	return c
}

// Task returns the task of kind.
func (r Run) Task(kind worker.Kind) (Task, bool) {
	for _, t := range r.Tasks {
		if t.Kind == kind {
			return t, true
		}
	}
	return Task{}, false
}

// AllValid reports whether every task's latest outcome is valid.
func (r Run) AllValid() bool {
	for _, t := range r.Tasks {
		if !t.Outcome.Valid {
			return false
		}
	}
	return true
}

// applyDispatch stores the first result of every kind. A failed invocation
// leaves the result absent.
func applyDispatch(r Run, invs map[worker.Kind]invocation) Run {
	next := r.clone()
	for i, t := range next.Tasks {
		inv, ok := invs[t.Kind]
		if !ok {
			continue
		}
		if inv.err != nil {
			t.Result = nil
			t.LastError = inv.err.Error()
		} else {
			t.Result = inv.result
			t.LastError = ""
		}
		next.Tasks[i] = t
	}
	return next
}

// applyValidation runs every validator against the stored results and
// brings the error log in line with the outcomes.
func applyValidation(r Run) Run {
	next := r.clone()
	next.Passes++
	for i, t := range next.Tasks {
		t.Outcome = validate.Result(t.Kind, t.Result)
		next.Tasks[i] = t

		if t.Outcome.Valid {
			delete(next.ErrorLog, t.Kind)
			continue
		}
		msg := t.Outcome.ErrorMessage
		if t.LastError != "" {
			msg += " (worker error: " + t.LastError + ")"
		}
		next.ErrorLog[t.Kind] = msg
		next.ErrorHistory[t.Kind] = append(next.ErrorHistory[t.Kind], msg)
	}
	return next
}

// retryable returns the invalid kinds that still have retries left.
func retryable(r Run, maxRetries int) []worker.Kind {
	var kinds []worker.Kind
	for _, t := range r.Tasks {
		if !t.Outcome.Valid && t.Retries < maxRetries {
			kinds = append(kinds, t.Kind)
		}
	}
	return kinds
}

func nextPhase(r Run, maxRetries int) phase {
	if r.AllValid() || len(retryable(r, maxRetries)) == 0 {
		return phaseFinalize
	}
	return phaseRetry
}

// applyRetry counts a retry for every re-invoked kind and replaces its
// result only when the retry produced a non-empty result.
func applyRetry(r Run, invs map[worker.Kind]invocation) Run {
	next := r.clone()
	next.State = StateRetrying
	for i, t := range next.Tasks {
		inv, ok := invs[t.Kind]
		if !ok {
			continue
		}
		t.Retries++
		switch {
		case inv.err != nil:
			t.LastError = inv.err.Error()
		case inv.result == nil || inv.result.IsEmpty():
			t.LastError = "empty result"
		default:
			t.Result = inv.result
			t.LastError = ""
		}
		next.Tasks[i] = t
	}
	return next
}

func finalize(r Run, finishedAt time.Time) Run {
	next := r.clone()
	next.State = StateFinalized
	next.FinishedAt = finishedAt
	return next
}
