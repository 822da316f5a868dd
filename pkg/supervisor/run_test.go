package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evagent/evagent/pkg/worker"
)

func TestTransitionsDoNotMutateInput(t *testing.T) {
	t.Parallel()

	start := newRun("r", worker.Input{Subjects: []string{"X"}}, worker.Kinds(), time.Time{})
	dispatched := applyDispatch(start, map[worker.Kind]invocation{
		worker.KindStock: {err: errors.New("down")},
		worker.KindESG:   {result: validESG()},
	})

	_, ok := start.Task(worker.KindESG)
	require.True(t, ok)
	esg, _ := start.Task(worker.KindESG)
	assert.Nil(t, esg.Result)

	validated := applyValidation(dispatched)
	assert.Equal(t, 0, dispatched.Passes)
	assert.Empty(t, dispatched.ErrorLog)
	assert.Equal(t, 1, validated.Passes)
	assert.Contains(t, validated.ErrorLog, worker.KindStock)

	retried := applyRetry(validated, map[worker.Kind]invocation{worker.KindStock: {result: validStock()}})
	stock, _ := validated.Task(worker.KindStock)
	assert.Equal(t, 0, stock.Retries)
	stock, _ = retried.Task(worker.KindStock)
	assert.Equal(t, 1, stock.Retries)
	assert.Equal(t, StateRetrying, retried.State)
}

func TestApplyValidation_ClearsLogForRecoveredKinds(t *testing.T) {
	t.Parallel()

	run := newRun("r", worker.Input{}, []worker.Kind{worker.KindStock}, time.Time{})
	run = applyValidation(applyDispatch(run, map[worker.Kind]invocation{worker.KindStock: {err: errors.New("timeout")}}))
	require.Contains(t, run.ErrorLog, worker.KindStock)
	assert.Equal(t, "Missing required fields: trend_indicators (worker error: timeout)", run.ErrorLog[worker.KindStock])

	run = applyValidation(applyRetry(run, map[worker.Kind]invocation{worker.KindStock: {result: validStock()}}))
	assert.NotContains(t, run.ErrorLog, worker.KindStock)
	assert.Len(t, run.ErrorHistory[worker.KindStock], 1)
	assert.True(t, run.AllValid())
}

func TestNextPhase(t *testing.T) {
	t.Parallel()

	run := newRun("r", worker.Input{}, []worker.Kind{worker.KindStock, worker.KindESG}, time.Time{})
	run = applyValidation(applyDispatch(run, map[worker.Kind]invocation{
		worker.KindStock: {result: validStock()},
		worker.KindESG:   {err: errors.New("x")},
	}))

	assert.Equal(t, phaseRetry, nextPhase(run, 2))
	assert.Equal(t, []worker.Kind{worker.KindESG}, retryable(run, 2))
	assert.Equal(t, phaseFinalize, nextPhase(run, 0))

	for range 2 {
		run = applyValidation(applyRetry(run, map[worker.Kind]invocation{worker.KindESG: {err: errors.New("x")}}))
	}
	assert.Empty(t, retryable(run, 2))
	assert.Equal(t, phaseFinalize, nextPhase(run, 2))
}

func TestApplyRetry_EmptyResultDoesNotReplace(t *testing.T) {
	t.Parallel()

	first := &worker.ESGResult{Gov: map[string]worker.GovPolicy{}}
	run := newRun("r", worker.Input{}, []worker.Kind{worker.KindESG}, time.Time{})
	run = applyDispatch(run, map[worker.Kind]invocation{worker.KindESG: {result: first}})

	run = applyRetry(run, map[worker.Kind]invocation{worker.KindESG: {result: &worker.ESGResult{}}})
	task, _ := run.Task(worker.KindESG)
	assert.Same(t, first, task.Result)
	assert.Equal(t, "empty result", task.LastError)

	run = applyRetry(run, map[worker.Kind]invocation{worker.KindESG: {err: errors.New("boom")}})
	task, _ = run.Task(worker.KindESG)
	assert.Same(t, first, task.Result)
	assert.Equal(t, 2, task.Retries)
}

func TestBuildSummary(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := newRun("abc", worker.Input{Subjects: []string{"X"}, Regions: []string{"KR"}}, []worker.Kind{worker.KindStock, worker.KindESG}, started)
	run = applyValidation(applyDispatch(run, map[worker.Kind]invocation{
		worker.KindStock: {result: validStock()},
		worker.KindESG:   {err: errors.New("x")},
	}))
	run = finalize(run, started.Add(time.Minute))

	s := buildSummary(run)
	assert.Equal(t, "abc", s.RunID)
	assert.Equal(t, 0, s.FinalStatus)
	assert.Equal(t, map[worker.Kind]bool{worker.KindStock: true, worker.KindESG: false}, s.ValidationStatus)
	assert.Equal(t, map[worker.Kind]bool{worker.KindStock: true, worker.KindESG: false}, s.AgentResults)
	assert.Equal(t, time.Minute, s.Duration())
	assert.Equal(t, StateFinalized, run.State)
}
