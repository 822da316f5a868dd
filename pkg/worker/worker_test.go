package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Kind
	}{
		{"tech", KindTech},
		{"Chain", KindValueChain},
		{"market", KindStock},
		{" policy ", KindESG},
		{"esg", KindESG},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseKind("weather")
	require.Error(t, err)
}

func TestGather_KeepsSubjectOrder(t *testing.T) {
	t.Parallel()

	subjects := []string{"slow", "fast", "medium"}
	delays := map[string]time.Duration{
		"slow":   30 * time.Millisecond,
		"fast":   0,
		"medium": 10 * time.Millisecond,
	}

	outcomes := Gather(t.Context(), subjects, 0, func(_ context.Context, s string) (string, error) {
		time.Sleep(delays[s])
		return "value-" + s, nil
	})

	require.Len(t, outcomes, 3)
	for i, s := range subjects {
		assert.Equal(t, s, outcomes[i].Subject)
		assert.Equal(t, "value-"+s, outcomes[i].Value)
		require.NoError(t, outcomes[i].Err)
	}
}

func TestGather_IsolatesFailures(t *testing.T) {
	t.Parallel()

	outcomes := Gather(t.Context(), []string{"A", "B", "C"}, 2, func(_ context.Context, s string) (int, error) {
		switch s {
		case "B":
			return 0, errors.New("boom")
		case "C":
			panic("kaboom")
		}
		return 1, nil
	})

	assert.Equal(t, 1, outcomes[0].Value)
	require.NoError(t, outcomes[0].Err)
	require.EqualError(t, outcomes[1].Err, "boom")
	require.Error(t, outcomes[2].Err)
	assert.Contains(t, outcomes[2].Err.Error(), "kaboom")
}

func TestGather_RespectsLimit(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	Gather(t.Context(), []string{"a", "b", "c", "d", "e"}, 2, func(_ context.Context, _ string) (struct{}, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestNewTechResultsFrom(t *testing.T) {
	t.Parallel()

	report := &TechReport{Company: "A"}
	results := NewTechResultsFrom([]SubjectOutcome[*TechReport]{
		{Subject: "A", Value: report},
		{Subject: "B", Err: errors.New("search failed")},
		{Subject: "C"},
	})

	assert.Equal(t, []string{"A", "B", "C"}, results.Subjects())

	a, ok := results.Get("A")
	require.True(t, ok)
	assert.Same(t, report, a.Report)

	b, _ := results.Get("B")
	assert.Equal(t, "search failed", b.Error)
	assert.Nil(t, b.Report)

	c, _ := results.Get("C")
	assert.Equal(t, "invalid_result", c.Error)
}

func TestTechResults_JSONKeepsOrder(t *testing.T) {
	t.Parallel()

	score := 7.0
	results := NewTechResults()
	results.Set("Zeta", TechEntry{Error: "timeout"})
	results.Set("Alpha", TechEntry{Report: &TechReport{
		Company:    "Alpha",
		Evaluation: &TechEvaluation{TRL: &AxisScore{Score: &score}},
	}})

	data, err := json.Marshal(results)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Zeta":{"error":"timeout"},"Alpha":{"company":"Alpha","evaluation":{"TRL":{"score":7}}}}`, string(data))
	assert.Less(t, strings.Index(string(data), "Zeta"), strings.Index(string(data), "Alpha"))

	decoded, err := DecodeResult(KindTech, data)
	require.NoError(t, err)
	tech := decoded.(*TechResults)
	assert.Equal(t, []string{"Zeta", "Alpha"}, tech.Subjects())

	alpha, _ := tech.Get("Alpha")
	require.NotNil(t, alpha.Report)
	assert.InDelta(t, 7.0, *alpha.Report.Evaluation.Axis("TRL").Score, 0.001)
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, (*TechResults)(nil).IsEmpty())
	assert.True(t, NewTechResults().IsEmpty())
	assert.True(t, (&ValueChainResult{}).IsEmpty())
	assert.True(t, (&StockResult{}).IsEmpty())
	assert.True(t, (&ESGResult{}).IsEmpty())
	assert.False(t, (&ESGResult{Gov: map[string]GovPolicy{}}).IsEmpty())
}

func TestSlug(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "general_motors", Slug("General Motors"))
	assert.Equal(t, "li_auto", Slug("  Li-Auto! "))
	assert.Equal(t, "byd", Slug("BYD"))
}

func TestWriteArtifact(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested")
	path, err := WriteArtifact(dir, "esg_analysis.json", map[string]string{"note": "a<b"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "esg_analysis.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a<b")
	assert.JSONEq(t, `{"note":"a<b"}`, string(data))
}
