package supervisor

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/xeipuuv/gojsonschema"

	"github.com/evagent/evagent/pkg/worker"
)

// SummaryFileName is the name of the summary written into the output directory.
const SummaryFileName = "supervisor_summary.json"

//go:embed summary.schema.json
var summarySchema []byte

// ErrInvalidSummary is returned when a summary document does not match the schema.
var ErrInvalidSummary = errors.New("invalid run summary")

// RunSummary is the persisted outcome of a run.
type RunSummary struct {
	RunID            string                   `json:"run_id"`
	FinalStatus      int                      `json:"final_status"`
	ValidationStatus map[worker.Kind]bool     `json:"validation_status"`
	RetryCount       map[worker.Kind]int      `json:"retry_count"`
	ErrorLog         map[worker.Kind]string   `json:"error_log"`
	AgentResults     map[worker.Kind]bool     `json:"agent_results"`
	Subjects         []string                 `json:"subjects"`
	Regions          []string                 `json:"regions"`
	Passes           int                      `json:"passes"`
	ErrorHistory     map[worker.Kind][]string `json:"error_history,omitempty"`
	StartedAt        time.Time                `json:"started_at"`
	FinishedAt       time.Time                `json:"finished_at"`
}

// Succeeded reports whether every worker ended with a valid result.
func (s RunSummary) Succeeded() bool { return s.FinalStatus == 1 }

// Duration is how long the run took.
func (s RunSummary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// FailedKinds returns the kinds whose final result was invalid, in dispatch order.
func (s RunSummary) FailedKinds() []worker.Kind {
	var out []worker.Kind
	for _, k := range worker.Kinds() {
		if valid, ok := s.ValidationStatus[k]; ok && !valid {
			out = append(out, k)
		}
	}
	return out
}

func buildSummary(r Run) RunSummary {
	s := RunSummary{
		RunID:            r.ID,
		ValidationStatus: make(map[worker.Kind]bool, len(r.Tasks)),
		RetryCount:       make(map[worker.Kind]int, len(r.Tasks)),
		ErrorLog:         make(map[worker.Kind]string, len(r.ErrorLog)),
		AgentResults:     make(map[worker.Kind]bool, len(r.Tasks)),
		Subjects:         r.Input.Subjects,
		Regions:          r.Input.Regions,
		Passes:           r.Passes,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
	}
	for _, t := range r.Tasks {
		s.ValidationStatus[t.Kind] = t.Outcome.Valid
		s.RetryCount[t.Kind] = t.Retries
		s.AgentResults[t.Kind] = t.Result != nil && !t.Result.IsEmpty()
	}
	maps.Copy(s.ErrorLog, r.ErrorLog)
	if len(r.ErrorHistory) > 0 {
		s.ErrorHistory = r.clone().ErrorHistory
	}
	if r.AllValid() {
		s.FinalStatus = 1
	}
	return s
}

// SaveSummary writes the summary to path atomically.
func SaveSummary(path string, s RunSummary) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("writing summary %s: %w", path, err)
	}
	return nil
}

// LoadSummary reads a summary and checks it against the summary schema.
func LoadSummary(path string) (RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunSummary{}, fmt.Errorf("reading summary: %w", err)
	}
	return ParseSummary(data)
}

// ParseSummary decodes and schema-checks a summary document.
func ParseSummary(data []byte) (RunSummary, error) {
	if err := checkSchema(data); err != nil {
		return RunSummary{}, err
	}
	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return RunSummary{}, fmt.Errorf("decoding summary: %w", err)
	}
	return s, nil
}

func checkSchema(data []byte) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(summarySchema))
	if err != nil {
		return fmt.Errorf("loading summary schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSummary, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidSummary, strings.Join(msgs, "; "))
	}
	return nil
}
