package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evagent/evagent/pkg/worker"
)

func ptr[T any](v T) *T { return &v }

func fullEvaluation() *worker.TechEvaluation {
	axis := func() *worker.AxisScore { return &worker.AxisScore{Score: ptr(3.0)} }
	return &worker.TechEvaluation{
		TRL:           axis(),
		MRL:           axis(),
		CRAAP:         axis(),
		Materiality:   axis(),
		ISSB:          axis(),
		OTACompliance: axis(),
	}
}

func TestTech(t *testing.T) {
	t.Parallel()

	t.Run("absent", func(t *testing.T) {
		t.Parallel()
		out := Tech(nil)
		assert.False(t, out.Valid)
		assert.Equal(t, []string{"evaluation"}, out.MissingFields)
	})

	t.Run("no subjects", func(t *testing.T) {
		t.Parallel()
		out := Tech(worker.NewTechResults())
		assert.Equal(t, []string{"evaluation (empty)"}, out.MissingFields)
	})

	t.Run("complete", func(t *testing.T) {
		t.Parallel()
		r := worker.NewTechResults()
		r.Set("Tesla", worker.TechEntry{Report: &worker.TechReport{Evaluation: fullEvaluation()}})
		out := Tech(r)
		assert.True(t, out.Valid)
		assert.Empty(t, out.MissingFields)
		assert.Empty(t, out.ErrorMessage)
	})

	t.Run("one subject failed", func(t *testing.T) {
		t.Parallel()
		r := worker.NewTechResultsFrom([]worker.SubjectOutcome[*worker.TechReport]{
			{Subject: "A", Value: &worker.TechReport{Evaluation: fullEvaluation()}},
			{Subject: "B", Err: errors.New("timeout")},
		})
		out := Tech(r)
		assert.False(t, out.Valid)
		require.Len(t, out.MissingFields, 1)
		assert.Contains(t, out.MissingFields[0], "B")
	})

	t.Run("missing axis and score", func(t *testing.T) {
		t.Parallel()
		eval := fullEvaluation()
		eval.ISSB = nil
		eval.TRL = &worker.AxisScore{Rationale: "unknown"}
		r := worker.NewTechResults()
		r.Set("BYD", worker.TechEntry{Report: &worker.TechReport{Evaluation: eval}})

		out := Tech(r)
		assert.Equal(t, []string{"BYD.evaluation.TRL.score", "BYD.evaluation.ISSB"}, out.MissingFields)
		assert.Equal(t, "Missing required fields: BYD.evaluation.TRL.score, BYD.evaluation.ISSB", out.ErrorMessage)
	})
}

func TestValueChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      *worker.ValueChainResult
		missing []string
	}{
		{"absent", nil, []string{"jit_evaluation"}},
		{"no evaluation", &worker.ValueChainResult{}, []string{"jit_evaluation"}},
		{"no companies", &worker.ValueChainResult{Evaluation: &worker.JITEvaluation{}}, []string{"jit_evaluation.companies"}},
		{
			"empty companies",
			&worker.ValueChainResult{Evaluation: &worker.JITEvaluation{Companies: []worker.JITScore{}}},
			[]string{"jit_evaluation.companies (empty)"},
		},
		{
			"partial scores",
			&worker.ValueChainResult{Evaluation: &worker.JITEvaluation{Companies: []worker.JITScore{
				{Company: "Tesla", JITScore: ptr(3), RegionalScore: ptr(5)},
				{Company: "BYD", JITScore: ptr(1)},
			}}},
			[]string{"jit_evaluation.companies[1].regional_score"},
		},
		{
			"complete",
			&worker.ValueChainResult{Evaluation: &worker.JITEvaluation{Companies: []worker.JITScore{
				{Company: "Tesla", JITScore: ptr(0), RegionalScore: ptr(0)},
			}}},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := ValueChain(tt.in)
			if tt.missing == nil {
				assert.True(t, out.Valid)
				return
			}
			assert.False(t, out.Valid)
			assert.Equal(t, tt.missing, out.MissingFields)
		})
	}
}

func TestStock(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"trend_indicators"}, Stock(nil).MissingFields)
	assert.Equal(t, []string{"trend_indicators"}, Stock(&worker.StockResult{}).MissingFields)

	out := Stock(&worker.StockResult{Trend: &worker.TrendIndicators{OEMTrend: ptr(1)}})
	assert.Equal(t, []string{"trend_indicators.supplier_trend", "trend_indicators.correlation_score"}, out.MissingFields)

	out = Stock(&worker.StockResult{Trend: &worker.TrendIndicators{
		OEMTrend:         ptr(0),
		SupplierTrend:    ptr(0),
		CorrelationScore: ptr(0.0),
	}})
	assert.True(t, out.Valid)
}

func TestESG(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"gov", "corp", "ratings"}, ESG(nil).MissingFields)

	out := ESG(&worker.ESGResult{
		Gov:  map[string]worker.GovPolicy{"KR": {Policy: "2050"}},
		Corp: map[string]worker.CorpTarget{},
	})
	assert.Equal(t, []string{"corp (empty)", "ratings"}, out.MissingFields)

	out = ESG(&worker.ESGResult{
		Gov:     map[string]worker.GovPolicy{"KR": {}},
		Corp:    map[string]worker.CorpTarget{"Tesla": {}},
		Ratings: map[string]worker.Rating{"Tesla": {}},
	})
	assert.True(t, out.Valid)
}

func TestResult_DispatchesOnKind(t *testing.T) {
	t.Parallel()

	out := Result(worker.KindStock, nil)
	assert.Equal(t, []string{"trend_indicators"}, out.MissingFields)

	// A result of the wrong kind counts as absent.
	out = Result(worker.KindESG, &worker.StockResult{})
	assert.Equal(t, []string{"gov", "corp", "ratings"}, out.MissingFields)

	out = Result(worker.Kind("weather"), nil)
	assert.False(t, out.Valid)
}

func TestValidatorsArePure(t *testing.T) {
	t.Parallel()

	r := &worker.ValueChainResult{Evaluation: &worker.JITEvaluation{Companies: []worker.JITScore{{Company: "X"}}}}
	first := ValueChain(r)
	second := ValueChain(r)
	assert.Equal(t, first, second)
	assert.Equal(t, first.Valid, len(first.MissingFields) == 0)
}
