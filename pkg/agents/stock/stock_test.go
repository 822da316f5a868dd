package stock

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/llm"
	"github.com/evagent/evagent/pkg/validate"
	"github.com/evagent/evagent/pkg/worker"
)

type fakeSource map[string][]float64

func (f fakeSource) Fetch(_ context.Context, ticker string) (*Series, error) {
	closes, ok := f[ticker]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ticker, ErrNoData)
	}
	return &Series{Ticker: ticker, Closes: closes}, nil
}

func smallConfig() *config.Config {
	cfg := config.Default()
	cfg.Companies = []config.Company{
		{Name: "Tesla", Ticker: "TSLA", Category: config.CategoryOEM},
		{Name: "BYD", Ticker: "BYDDY", Category: config.CategoryOEM},
		{Name: "CATL", Ticker: "300750.SZ", Category: config.CategoryBattery},
		{Name: "Denso", Ticker: "6902.T", Category: config.CategoryHVAC},
	}
	return cfg
}

func TestYahoo_Fetch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/TSLA", r.URL.Path)
		assert.Equal(t, "3mo", r.URL.Query().Get("range"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chart": {"result": [{
			"meta": {"regularMarketPrice": 250.5, "chartPreviousClose": 198.0},
			"timestamp": [1, 2, 3],
			"indicators": {"quote": [{"close": [200.0, null, 250.0]}]}
		}], "error": null}}`))
	}))
	defer server.Close()

	y := NewYahoo(config.StockConfig{BaseURL: server.URL + "/"}, server.Client())
	s, err := y.Fetch(t.Context(), "TSLA")
	require.NoError(t, err)

	assert.Equal(t, []float64{200, 250}, s.Closes)
	assert.InDelta(t, 250.5, s.Current(), 0)
	require.NotNil(t, s.PrevClose)
	assert.InDelta(t, 198.0, *s.PrevClose, 0)
	assert.InDelta(t, 25.0, s.ChangePct(), 1e-9)
}

func TestYahoo_FetchErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/BAD"):
			_, _ = w.Write([]byte(`{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found"}}}`))
		case strings.HasSuffix(r.URL.Path, "/EMPTY"):
			_, _ = w.Write([]byte(`{"chart": {"result": [{"indicators": {"quote": [{"close": [null]}]}}]}}`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	y := NewYahoo(config.StockConfig{BaseURL: server.URL}, server.Client())

	_, err := y.Fetch(t.Context(), "BAD")
	require.ErrorContains(t, err, "No data found")

	_, err = y.Fetch(t.Context(), "EMPTY")
	require.ErrorIs(t, err, ErrNoData)

	_, err = y.Fetch(t.Context(), "LIMITED")
	require.ErrorContains(t, err, "429")
}

func TestTrend(t *testing.T) {
	t.Parallel()

	q := func(changes ...float64) []worker.Quote {
		var out []worker.Quote
		for _, c := range changes {
			out = append(out, worker.Quote{ChangePct: c})
		}
		return out
	}

	tests := []struct {
		name        string
		oems, sups  []worker.Quote
		oemTrend    int
		supTrend    int
		correlation float64
		health      string
	}{
		{"growth", q(10, 2), q(1), 1, 1, 1, "Growth"},
		{"correction", q(-3), q(-1, 0.5), 0, 0, 0, "Correction"},
		{"mixed", q(5), q(-5), 1, 0, 0.5, "Mixed"},
		{"no suppliers", q(5), nil, 1, 0, 0.5, "Mixed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trend := Trend(tt.oems, tt.sups)
			assert.Equal(t, tt.oemTrend, *trend.OEMTrend)
			assert.Equal(t, tt.supTrend, *trend.SupplierTrend)
			assert.InDelta(t, tt.correlation, *trend.CorrelationScore, 0)
			assert.Equal(t, tt.health, RuleEvaluation(trend).MarketHealth)
		})
	}
}

func TestTrend_RoundsAverages(t *testing.T) {
	t.Parallel()

	trend := Trend([]worker.Quote{{ChangePct: 1.234}, {ChangePct: 2.1}}, []worker.Quote{{ChangePct: -0.013}})
	assert.InDelta(t, 1.67, trend.OEMAvgChangePct, 1e-9)
	assert.InDelta(t, -0.01, trend.SupplierAvgChangePct, 1e-9)

	eval := RuleEvaluation(trend)
	assert.Equal(t, []string{"OEM avg change: 1.67%", "Supplier avg change: -0.01%"}, eval.KeyInsights)
	assert.Equal(t, "Correlation score: 0.5", eval.Dynamics)
	assert.Equal(t, "rule_based", eval.EvaluationMethod)
}

func TestAgent_Invoke(t *testing.T) {
	t.Parallel()

	source := fakeSource{
		"TSLA":      {100, 110},
		"300750.SZ": {50, 55},
		"6902.T":    {10, 9},
	}
	out := t.TempDir()

	res, err := New(smallConfig(), source).Invoke(t.Context(), worker.Input{Subjects: []string{"Tesla"}, OutDir: out})
	require.NoError(t, err)

	stock := res.(*worker.StockResult)
	require.Len(t, stock.OEMs, 1)
	assert.Equal(t, "Tesla", stock.OEMs[0].Company)
	assert.Equal(t, config.CategoryOEM, stock.OEMs[0].Category)
	assert.InDelta(t, 10.0, stock.OEMs[0].ChangePct, 1e-9)

	require.Len(t, stock.Suppliers, 2)
	assert.Equal(t, config.CategoryBattery, stock.Suppliers[0].Category)
	assert.Equal(t, config.CategoryHVAC, stock.Suppliers[1].Category)

	assert.Equal(t, 1, *stock.Trend.OEMTrend)
	assert.Equal(t, 0, *stock.Trend.SupplierTrend)
	assert.Equal(t, "Mixed", stock.Evaluation.MarketHealth)
	assert.Equal(t, filepath.Join(out, "stock_analysis.json"), stock.JSONPath)
	assert.FileExists(t, stock.JSONPath)
	assert.True(t, validate.Result(worker.KindStock, res).Valid)
}

func TestAgent_AllOEMsWhenNoSubjectMatches(t *testing.T) {
	t.Parallel()

	source := fakeSource{"TSLA": {1, 2}, "BYDDY": {2, 1}}
	res, err := New(smallConfig(), source).Invoke(t.Context(), worker.Input{Subjects: []string{"Unknown"}, OutDir: t.TempDir()})
	require.NoError(t, err)
	assert.Len(t, res.(*worker.StockResult).OEMs, 2)
}

func TestAgent_NoQuotes(t *testing.T) {
	t.Parallel()

	_, err := New(smallConfig(), fakeSource{}).Invoke(t.Context(), worker.Input{OutDir: t.TempDir()})
	require.ErrorIs(t, err, ErrNoQuotes)
}

func TestAgent_ModelEvaluation(t *testing.T) {
	t.Parallel()

	source := fakeSource{"TSLA": {100, 120}, "300750.SZ": {10, 11}}

	good := llm.CompleterFunc(func(_ context.Context, _, prompt string) (string, error) {
		assert.Contains(t, prompt, "Tesla (TSLA)")
		return `{"market_health": "Growth", "market_summary": "Strong.", "key_insights": ["a"], "outlook": "up"}`, nil
	})
	res, err := New(smallConfig(), source, WithModel(good)).Invoke(t.Context(), worker.Input{Subjects: []string{"Tesla"}, OutDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "llm", res.(*worker.StockResult).Evaluation.EvaluationMethod)

	bad := llm.CompleterFunc(func(context.Context, string, string) (string, error) {
		return "I cannot answer that", nil
	})
	res, err = New(smallConfig(), source, WithModel(bad)).Invoke(t.Context(), worker.Input{Subjects: []string{"Tesla"}, OutDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "rule_based", res.(*worker.StockResult).Evaluation.EvaluationMethod)
}
