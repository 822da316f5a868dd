// Package stock compares OEM and supplier share price momentum.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/llm"
	"github.com/evagent/evagent/pkg/worker"
)

// ErrNoQuotes is returned when no company could be priced.
var ErrNoQuotes = errors.New("no market data for any company")

// Agent is the market worker.
type Agent struct {
	cfg         *config.Config
	source      Source
	model       llm.Completer
	concurrency int
}

type Opt func(*Agent)

// WithModel enables model-written market evaluations. The rule-based
// evaluation is used whenever the model fails.
func WithModel(m llm.Completer) Opt {
	return func(a *Agent) {
		a.model = m
	}
}

func New(cfg *config.Config, source Source, opts ...Opt) *Agent {
	a := &Agent{
		cfg:         cfg,
		source:      source,
		concurrency: cfg.Supervisor.SubjectConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Kind() worker.Kind { return worker.KindStock }

func (a *Agent) Invoke(ctx context.Context, in worker.Input) (worker.Result, error) {
	oems := a.oems(in.Subjects)
	suppliers := append(a.cfg.CompaniesIn(config.CategoryBattery), a.cfg.CompaniesIn(config.CategoryHVAC)...)

	res := &worker.StockResult{
		OEMs:      a.quotes(ctx, oems, config.CategoryOEM),
		Suppliers: a.quotes(ctx, suppliers, ""),
	}
	if len(res.OEMs) == 0 && len(res.Suppliers) == 0 {
		return nil, ErrNoQuotes
	}

	res.Trend = Trend(res.OEMs, res.Suppliers)
	res.Evaluation = a.evaluate(ctx, res)

	path, err := worker.WriteArtifact(in.OutDir, "stock_analysis.json", res)
	if err != nil {
		return nil, err
	}
	res.JSONPath = path
	return res, nil
}

// oems returns the whitelisted OEMs among subjects, or every whitelisted
// OEM when no subject is one.
func (a *Agent) oems(subjects []string) []config.Company {
	var picked []config.Company
	for _, s := range subjects {
		if co, ok := a.cfg.Company(s); ok && co.Category == config.CategoryOEM && co.Ticker != "" {
			picked = append(picked, co)
		}
	}
	if len(picked) == 0 {
		return a.cfg.CompaniesIn(config.CategoryOEM)
	}
	return picked
}

func (a *Agent) quotes(ctx context.Context, companies []config.Company, category string) []worker.Quote {
	var tickers []string
	byTicker := make(map[string]config.Company)
	for _, co := range companies {
		if co.Ticker == "" {
			continue
		}
		tickers = append(tickers, co.Ticker)
		byTicker[co.Ticker] = co
	}

	var out []worker.Quote
	for _, o := range worker.Gather(ctx, tickers, a.concurrency, a.source.Fetch) {
		co := byTicker[o.Subject]
		if o.Err != nil {
			slog.Warn("Quote fetch failed", "company", co.Name, "ticker", o.Subject, "error", o.Err)
			continue
		}
		cat := category
		if cat == "" {
			cat = co.Category
		}
		out = append(out, worker.Quote{
			Company:      co.Name,
			Ticker:       o.Subject,
			Category:     cat,
			Current:      o.Value.Current(),
			PrevClose:    o.Value.PrevClose,
			ChangePct:    o.Value.ChangePct(),
			Observations: len(o.Value.Closes),
		})
	}
	return out
}

// Trend averages the price changes of each group. A group is trending up
// when its average change is positive; correlation is 1 when both groups
// rise, 0 when both fall and 0.5 otherwise.
func Trend(oems, suppliers []worker.Quote) *worker.TrendIndicators {
	oemAvg := average(oems)
	supAvg := average(suppliers)

	oemTrend, supTrend := 0, 0
	if oemAvg > 0 {
		oemTrend = 1
	}
	if supAvg > 0 {
		supTrend = 1
	}

	correlation := 0.5
	switch {
	case oemTrend == 1 && supTrend == 1:
		correlation = 1
	case oemTrend == 0 && supTrend == 0:
		correlation = 0
	}

	return &worker.TrendIndicators{
		OEMTrend:             &oemTrend,
		SupplierTrend:        &supTrend,
		CorrelationScore:     &correlation,
		OEMAvgChangePct:      round2(oemAvg),
		SupplierAvgChangePct: round2(supAvg),
	}
}

func average(quotes []worker.Quote) float64 {
	if len(quotes) == 0 {
		return 0
	}
	var sum float64
	for _, q := range quotes {
		sum += q.ChangePct
	}
	return sum / float64(len(quotes))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RuleEvaluation reads the market state off the trend indicators.
func RuleEvaluation(t *worker.TrendIndicators) *worker.MarketEvaluation {
	eval := &worker.MarketEvaluation{
		Dynamics: fmt.Sprintf("Correlation score: %v", *t.CorrelationScore),
		KeyInsights: []string{
			fmt.Sprintf("OEM avg change: %v%%", t.OEMAvgChangePct),
			fmt.Sprintf("Supplier avg change: %v%%", t.SupplierAvgChangePct),
		},
		Outlook:          "Further monitoring required",
		EvaluationMethod: "rule_based",
	}
	switch {
	case *t.OEMTrend == 1 && *t.SupplierTrend == 1:
		eval.MarketHealth = "Growth"
		eval.MarketSummary = "Both OEMs and suppliers showing positive momentum."
	case *t.OEMTrend == 0 && *t.SupplierTrend == 0:
		eval.MarketHealth = "Correction"
		eval.MarketSummary = "Market-wide correction affecting both OEMs and suppliers."
	default:
		eval.MarketHealth = "Mixed"
		eval.MarketSummary = "Divergent trends between OEMs and suppliers suggest market uncertainty."
	}
	return eval
}

func (a *Agent) evaluate(ctx context.Context, res *worker.StockResult) *worker.MarketEvaluation {
	if a.model == nil {
		return RuleEvaluation(res.Trend)
	}

	reply, err := a.model.Complete(ctx, "", llm.WithSchema[worker.MarketEvaluation](evaluationPrompt(res)))
	if err == nil {
		var eval worker.MarketEvaluation
		if err = llm.ExtractJSON(reply, &eval); err == nil && eval.MarketHealth != "" {
			eval.EvaluationMethod = "llm"
			return &eval
		}
	}
	slog.Warn("Market evaluation by model failed, using rules", "error", err)
	return RuleEvaluation(res.Trend)
}

func evaluationPrompt(res *worker.StockResult) string {
	label := func(trend int) string {
		if trend == 1 {
			return "Upward"
		}
		return "Downward"
	}

	var b strings.Builder
	b.WriteString("You are a financial analyst evaluating the electric vehicle (EV) market trends.\n\n")
	b.WriteString("## OEM Companies (Electric Vehicle Manufacturers)\n")
	for _, q := range res.OEMs {
		fmt.Fprintf(&b, "- %s (%s): Current $%.2f, Change: %+.2f%%\n", q.Company, q.Ticker, q.Current, q.ChangePct)
	}
	b.WriteString("\n## Supplier Companies (Battery & HVAC)\n")
	for _, q := range res.Suppliers {
		fmt.Fprintf(&b, "- %s (%s, %s): Current $%.2f, Change: %+.2f%%\n", q.Company, q.Ticker, q.Category, q.Current, q.ChangePct)
	}
	t := res.Trend
	fmt.Fprintf(&b, "\n## Market Trend Indicators\n- OEM Trend: %s (Avg: %.2f%%)\n- Supplier Trend: %s (Avg: %.2f%%)\n- Market Correlation Score: %v/1.0\n",
		label(*t.OEMTrend), t.OEMAvgChangePct, label(*t.SupplierTrend), t.SupplierAvgChangePct, *t.CorrelationScore)
	b.WriteString(`
Analyze the overall EV market situation and output JSON:
{
  "market_health": "Growth/Correction/Stable/Mixed",
  "market_summary": "2-3 sentence overview of current EV market state",
  "oem_supplier_dynamics": "Brief analysis of relationship between OEMs and suppliers",
  "key_insights": ["Insight 1", "Insight 2", "Insight 3"],
  "outlook": "Brief forward outlook"
}
Be concise, objective, and data-driven.`)
	return b.String()
}
