package supervisor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evagent/evagent/pkg/worker"
)

func sampleSummary() RunSummary {
	started := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	return RunSummary{
		RunID:       "6b1c",
		FinalStatus: 0,
		ValidationStatus: map[worker.Kind]bool{
			worker.KindTech: true, worker.KindValueChain: true, worker.KindStock: false, worker.KindESG: true,
		},
		RetryCount: map[worker.Kind]int{
			worker.KindTech: 0, worker.KindValueChain: 1, worker.KindStock: 2, worker.KindESG: 0,
		},
		ErrorLog: map[worker.Kind]string{
			worker.KindStock: "Missing required fields: trend_indicators",
		},
		AgentResults: map[worker.Kind]bool{
			worker.KindTech: true, worker.KindValueChain: true, worker.KindStock: false, worker.KindESG: true,
		},
		Subjects:   []string{"X", "Y"},
		Regions:    []string{"KR"},
		Passes:     3,
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
	}
}

func TestSummary_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), SummaryFileName)
	want := sampleSummary()

	require.NoError(t, SaveSummary(path, want))
	got, err := LoadSummary(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSummary_WireFormat(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(sampleSummary())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"final_status", "validation_status", "retry_count", "error_log", "agent_results"} {
		assert.Contains(t, raw, key)
	}
	assert.InDelta(t, 2, raw["retry_count"].(map[string]any)["stock"], 0)
}

func TestParseSummary_RejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing error_log":  `{"final_status":1,"validation_status":{},"retry_count":{},"agent_results":{}}`,
		"bad final status":   `{"final_status":3,"validation_status":{},"retry_count":{},"error_log":{},"agent_results":{}}`,
		"negative retries":   `{"final_status":0,"validation_status":{},"retry_count":{"tech":-1},"error_log":{},"agent_results":{}}`,
		"non boolean status": `{"final_status":0,"validation_status":{"tech":"yes"},"retry_count":{},"error_log":{},"agent_results":{}}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseSummary([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidSummary)
		})
	}
}

func TestLoadSummary_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadSummary(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSummary_FailedKinds(t *testing.T) {
	t.Parallel()

	s := sampleSummary()
	assert.Equal(t, []worker.Kind{worker.KindStock}, s.FailedKinds())
	assert.False(t, s.Succeeded())
	assert.Equal(t, 42*time.Second, s.Duration())
}
