package tech

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/evagent/evagent/pkg/llm"
	"github.com/evagent/evagent/pkg/worker"
)

// Evaluator scores a company's technology summary on the six axes.
type Evaluator interface {
	Evaluate(ctx context.Context, company string, bullets []string) (*worker.TechEvaluation, error)
}

const evaluationPrompt = `You are an automotive industry analyst. Evaluate the following technical summary for %s using this 6-axis framework. Use the exact scoring rules provided.

FRAMEWORK:
1. TRL (Technology Readiness Level): 1-9 scale (1=basic principles, 9=actual system proven in operational environment). Source: NASA TRL definitions.
2. MRL (Manufacturing Readiness Level): 1-10 scale (1=basic manufacturing implications identified, 10=full rate production demonstrated). Source: DoD MRL deskbook.
3. CRAAP (source credibility): Currency, Authority, Accuracy, Purpose and Relevance each 0-1, summed to 0-5.
4. Materiality (industry relevance): 0=not core, 3=partly core, 5=core industry issue (emissions, energy, product quality, data security). Source: SASB Materiality Map.
5. ISSB (sustainability disclosure quality, IFRS S1/S2): 0=slogan only, 3=qualitative with some figures, 5=explicit KPIs, targets and methodology.
6. OTA_Compliance (ISO 24089 / UNECE R156): 0="OTA capable" only, 3=process or validation mentioned, 5=ISO 24089 / R156 / SUMS compliance stated.

TECHNICAL SUMMARY:
%s

Respond in this exact JSON format:
{
  "TRL": {"score": X, "rationale": "...", "references": ["source1"]},
  "MRL": {"score": X, "rationale": "...", "references": ["source1"]},
  "CRAAP": {"score": X, "rationale": "...", "references": ["source1"]},
  "Materiality": {"score": X, "rationale": "...", "references": ["source1"]},
  "ISSB": {"score": X, "rationale": "...", "references": ["source1"]},
  "OTA_Compliance": {"score": X, "rationale": "...", "references": ["source1"]}
}
`

// ModelEvaluator asks a language model for the six-axis evaluation.
type ModelEvaluator struct {
	Model llm.Completer
}

func (e *ModelEvaluator) Evaluate(ctx context.Context, company string, bullets []string) (*worker.TechEvaluation, error) {
	if e.Model == nil {
		return nil, errors.New("no model configured")
	}

	var lines strings.Builder
	for _, b := range bullets {
		lines.WriteString("- ")
		lines.WriteString(b)
		lines.WriteString("\n")
	}

	reply, err := e.Model.Complete(ctx, "", llm.WithSchema[worker.TechEvaluation](fmt.Sprintf(evaluationPrompt, company, lines.String())))
	if err != nil {
		return nil, err
	}

	var eval worker.TechEvaluation
	if err := llm.ExtractJSON(reply, &eval); err != nil {
		return nil, err
	}
	return &eval, nil
}

var (
	techCue       = regexp.MustCompile(`(?i)\b(800V|SiC|inverter|heat pump|thermal|BMS|solid[- ]state|4680|LFP|NMC|fast charging|cooling plate|octovalve)\b`)
	productionCue = regexp.MustCompile(`(?i)\b(production|manufacturing|factory|gigafactory|supply chain|readiness)\b`)
	disclosureCue = regexp.MustCompile(`(?i)\b(target|KPI|emission|scope [123]|net[- ]zero|carbon)\b`)
	otaCue        = regexp.MustCompile(`(?i)\b(OTA|over[- ]the[- ]air)\b`)
	otaStdCue     = regexp.MustCompile(`(?i)(ISO ?24089|R156|SUMS)`)
)

// RuleEvaluator scores axes from keyword evidence in the bullets. It is
// used when no language model is configured.
type RuleEvaluator struct{}

func (RuleEvaluator) Evaluate(_ context.Context, _ string, bullets []string) (*worker.TechEvaluation, error) {
	text := strings.Join(bullets, "\n")
	count := func(rx *regexp.Regexp) int { return len(rx.FindAllStringIndex(text, -1)) }

	tech := count(techCue)
	prod := count(productionCue)

	trl := min(9.0, 3+float64(tech))
	mrl := min(10.0, 2+2*float64(prod))
	craap := min(5.0, float64(len(bullets))/2)

	materiality := 0.0
	switch {
	case tech >= 3:
		materiality = 5
	case tech > 0:
		materiality = 3
	}

	issb := 0.0
	if count(disclosureCue) > 0 {
		issb = 3
	}

	ota := 0.0
	switch {
	case count(otaStdCue) > 0:
		ota = 5
	case count(otaCue) > 0:
		ota = 3
	}

	axis := func(score float64, why string) *worker.AxisScore {
		return &worker.AxisScore{Score: &score, Rationale: "rule_based: " + why, References: []string{}}
	}
	return &worker.TechEvaluation{
		TRL:           axis(trl, fmt.Sprintf("%d technology cues", tech)),
		MRL:           axis(mrl, fmt.Sprintf("%d production cues", prod)),
		CRAAP:         axis(craap, fmt.Sprintf("%d extracted statements", len(bullets))),
		Materiality:   axis(materiality, "core EV technology coverage"),
		ISSB:          axis(issb, "disclosure keywords"),
		OTACompliance: axis(ota, "OTA and ISO 24089 / R156 mentions"),
	}, nil
}
