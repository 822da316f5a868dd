// Package valuechain scores OEMs by how many battery and HVAC supplier
// plants sit near their own plants.
package valuechain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"path/filepath"
	"slices"
	"strings"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/llm"
	"github.com/evagent/evagent/pkg/worker"
)

const (
	AnalysisType  = "JIT Supply Chain Proximity Analysis"
	earthRadiusKM = 6371.0088
)

// HaversineKM returns the great-circle distance between two points.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := phi2 - phi1
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Analyse counts, per company, the supplier plants within nearKM and
// regionalKM of each of its plants. Counts are summed across plants and
// companies are sorted by name.
func Analyse(oems, suppliers []Plant, nearKM, regionalKM float64) *worker.JITAnalysis {
	counts := make(map[string]*worker.CompanyProximity)
	for _, o := range oems {
		c, ok := counts[o.Company]
		if !ok {
			c = &worker.CompanyProximity{Company: o.Company}
			counts[o.Company] = c
		}
		for _, s := range suppliers {
			d := HaversineKM(o.Lat, o.Lon, s.Lat, s.Lon)
			if d <= nearKM {
				c.WithinNear++
			}
			if d <= regionalKM {
				c.WithinRegional++
			}
		}
	}

	analysis := &worker.JITAnalysis{
		AnalysisType: AnalysisType,
		NearKM:       nearKM,
		RegionalKM:   regionalKM,
		Companies:    []worker.CompanyProximity{},
	}
	for _, name := range slices.Sorted(maps.Keys(counts)) {
		analysis.Companies = append(analysis.Companies, *counts[name])
	}
	return analysis
}

// Evaluate turns raw counts into scores: the near count is the JIT score
// and the regional count the regional score.
func Evaluate(a *worker.JITAnalysis) *worker.JITEvaluation {
	eval := &worker.JITEvaluation{Companies: []worker.JITScore{}}
	for _, c := range a.Companies {
		eval.Companies = append(eval.Companies, worker.JITScore{
			Company:       c.Company,
			JITScore:      &c.WithinNear,
			RegionalScore: &c.WithinRegional,
		})
	}
	return eval
}

// Agent is the value-chain worker.
type Agent struct {
	dataDir string
	cfg     config.ValueChainConfig
	model   llm.Completer
}

type Opt func(*Agent)

// WithModel has a model present the proximity counts as scores. The counts
// are used directly whenever the model fails or its scores are incomplete.
func WithModel(m llm.Completer) Opt {
	return func(a *Agent) {
		a.model = m
	}
}

func New(cfg *config.Config, opts ...Opt) *Agent {
	a := &Agent{dataDir: cfg.DataDir, cfg: cfg.ValueChain}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Kind() worker.Kind { return worker.KindValueChain }

func (a *Agent) Invoke(ctx context.Context, in worker.Input) (worker.Result, error) {
	oems, err := LoadPlants(a.path(a.cfg.OEMFile))
	if err != nil {
		return nil, err
	}
	var suppliers []Plant
	for _, name := range []string{a.cfg.BatteryFile, a.cfg.HVACFile} {
		plants, err := LoadPlants(a.path(name))
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, plants...)
	}

	analysis := Analyse(oems, suppliers, a.cfg.NearKM, a.cfg.RegionalKM)
	evaluation := a.evaluate(ctx, analysis)

	slog.Debug("Value chain analysed",
		"oem_plants", len(oems),
		"supplier_plants", len(suppliers),
		"companies", len(analysis.Companies),
		"subjects", strings.Join(in.Subjects, ","))

	res := &worker.ValueChainResult{Analysis: analysis, Evaluation: evaluation}
	if res.AnalysisPath, err = worker.WriteArtifact(in.OutDir, "jit_analysis.json", analysis); err != nil {
		return nil, err
	}
	if res.EvaluationPath, err = worker.WriteArtifact(in.OutDir, "jit_evaluation.json", evaluation); err != nil {
		return nil, err
	}
	return res, nil
}

func (a *Agent) evaluate(ctx context.Context, analysis *worker.JITAnalysis) *worker.JITEvaluation {
	counts := Evaluate(analysis)
	if a.model == nil {
		return counts
	}

	reply, err := a.model.Complete(ctx, "", llm.WithSchema[worker.JITEvaluation](evaluationPrompt(analysis)))
	if err == nil {
		var eval worker.JITEvaluation
		if err = llm.ExtractJSON(reply, &eval); err == nil {
			if err = covers(&eval, counts); err == nil {
				return &eval
			}
		}
	}
	slog.Warn("JIT evaluation by model failed, using counts", "error", err)
	return counts
}

// covers reports whether eval scores every company of want.
func covers(eval, want *worker.JITEvaluation) error {
	scored := make(map[string]bool, len(eval.Companies))
	for _, c := range eval.Companies {
		if c.JITScore != nil && c.RegionalScore != nil {
			scored[c.Company] = true
		}
	}
	for _, c := range want.Companies {
		if !scored[c.Company] {
			return fmt.Errorf("no scores for %s", c.Company)
		}
	}
	return nil
}

func evaluationPrompt(analysis *worker.JITAnalysis) string {
	data, _ := json.MarshalIndent(analysis, "", "  ")
	return fmt.Sprintf(`You are a supply chain data analyst. You will receive supplier proximity data for electric vehicle manufacturers.

## Data
%s

## Task
Present this data for each company. The counts themselves are the scores:
- jit_score: number of suppliers within %g km of the company's plants
- regional_score: number of suppliers within %g km

Do not add interpretations, ratings, or evaluations.`, data, analysis.NearKM, analysis.RegionalKM)
}

func (a *Agent) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.dataDir, name)
}
