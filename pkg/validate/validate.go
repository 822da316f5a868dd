// Package validate checks worker results for structural completeness.
//
// Validators are pure: they never perform I/O and always return the same
// outcome for the same result.
package validate

import (
	"fmt"
	"strings"

	"github.com/evagent/evagent/pkg/worker"
)

// Outcome is the verdict for one worker result.
type Outcome struct {
	Valid         bool     `json:"valid"`
	MissingFields []string `json:"missing_fields"`
	ErrorMessage  string   `json:"error_message"`
}

func newOutcome(missing []string) Outcome {
	if len(missing) == 0 {
		return Outcome{Valid: true, MissingFields: []string{}}
	}
	return Outcome{
		Valid:         false,
		MissingFields: missing,
		ErrorMessage:  "Missing required fields: " + strings.Join(missing, ", "),
	}
}

// Func validates a result of a single kind.
type Func func(worker.Result) Outcome

// For returns the validator for kind.
func For(kind worker.Kind) (Func, error) {
	switch kind {
	case worker.KindTech:
		return func(r worker.Result) Outcome {
			t, _ := r.(*worker.TechResults)
			return Tech(t)
		}, nil
	case worker.KindValueChain:
		return func(r worker.Result) Outcome {
			v, _ := r.(*worker.ValueChainResult)
			return ValueChain(v)
		}, nil
	case worker.KindStock:
		return func(r worker.Result) Outcome {
			s, _ := r.(*worker.StockResult)
			return Stock(s)
		}, nil
	case worker.KindESG:
		return func(r worker.Result) Outcome {
			e, _ := r.(*worker.ESGResult)
			return ESG(e)
		}, nil
	}
	return nil, fmt.Errorf("no validator for worker kind %q", kind)
}

// Result validates r against the validator of kind. An absent result, or
// one of another kind, reports the kind's top-level fields as missing.
func Result(kind worker.Kind, r worker.Result) Outcome {
	fn, err := For(kind)
	if err != nil {
		return newOutcome([]string{string(kind)})
	}
	return fn(r)
}

// Tech requires a six-axis evaluation with a score on every axis for each
// subject.
func Tech(r *worker.TechResults) Outcome {
	if r == nil {
		return newOutcome([]string{"evaluation"})
	}
	if r.Len() == 0 {
		return newOutcome([]string{"evaluation (empty)"})
	}

	var missing []string
	for _, subject := range r.Subjects() {
		entry, _ := r.Get(subject)
		if entry.Error != "" || entry.Report == nil || entry.Report.Evaluation == nil {
			missing = append(missing, subject+".evaluation")
			continue
		}
		for _, axis := range worker.TechAxes {
			score := entry.Report.Evaluation.Axis(axis)
			switch {
			case score == nil:
				missing = append(missing, subject+".evaluation."+axis)
			case score.Score == nil:
				missing = append(missing, subject+".evaluation."+axis+".score")
			}
		}
	}
	return newOutcome(missing)
}

// ValueChain requires a JIT evaluation where every company carries both
// proximity scores.
func ValueChain(r *worker.ValueChainResult) Outcome {
	if r == nil || r.Evaluation == nil {
		return newOutcome([]string{"jit_evaluation"})
	}
	companies := r.Evaluation.Companies
	if companies == nil {
		return newOutcome([]string{"jit_evaluation.companies"})
	}
	if len(companies) == 0 {
		return newOutcome([]string{"jit_evaluation.companies (empty)"})
	}

	var missing []string
	for i, c := range companies {
		if c.JITScore == nil {
			missing = append(missing, fmt.Sprintf("jit_evaluation.companies[%d].jit_score", i))
		}
		if c.RegionalScore == nil {
			missing = append(missing, fmt.Sprintf("jit_evaluation.companies[%d].regional_score", i))
		}
	}
	return newOutcome(missing)
}

// Stock requires all three trend indicators.
func Stock(r *worker.StockResult) Outcome {
	if r == nil || r.Trend == nil {
		return newOutcome([]string{"trend_indicators"})
	}

	var missing []string
	if r.Trend.OEMTrend == nil {
		missing = append(missing, "trend_indicators.oem_trend")
	}
	if r.Trend.SupplierTrend == nil {
		missing = append(missing, "trend_indicators.supplier_trend")
	}
	if r.Trend.CorrelationScore == nil {
		missing = append(missing, "trend_indicators.correlation_score")
	}
	return newOutcome(missing)
}

// ESG requires non-empty government, corporate and rating sections.
func ESG(r *worker.ESGResult) Outcome {
	if r == nil {
		return newOutcome([]string{"gov", "corp", "ratings"})
	}

	var missing []string
	check := func(key string, present bool, n int) {
		switch {
		case !present:
			missing = append(missing, key)
		case n == 0:
			missing = append(missing, key+" (empty)")
		}
	}
	check("gov", r.Gov != nil, len(r.Gov))
	check("corp", r.Corp != nil, len(r.Corp))
	check("ratings", r.Ratings != nil, len(r.Ratings))
	return newOutcome(missing)
}
