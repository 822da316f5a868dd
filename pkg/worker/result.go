package worker

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Result is the output of one worker invocation. Each kind has its own
// concrete type so validators can inspect it without reflection.
type Result interface {
	Kind() Kind
	// IsEmpty reports whether the result carries no data at all. Empty
	// results never replace a previously stored result on retry.
	IsEmpty() bool
}

// TechAxes are the evaluation axes every technology report must score.
var TechAxes = []string{"TRL", "MRL", "CRAAP", "Materiality", "ISSB", "OTA_Compliance"}

// AxisScore is one scored axis of a technology evaluation.
type AxisScore struct {
	Score      *float64 `json:"score,omitempty"`
	Rationale  string   `json:"rationale,omitempty"`
	References []string `json:"references,omitempty"`
}

// TechEvaluation holds the six-axis assessment of a company's technology.
type TechEvaluation struct {
	TRL           *AxisScore `json:"TRL,omitempty"`
	MRL           *AxisScore `json:"MRL,omitempty"`
	CRAAP         *AxisScore `json:"CRAAP,omitempty"`
	Materiality   *AxisScore `json:"Materiality,omitempty"`
	ISSB          *AxisScore `json:"ISSB,omitempty"`
	OTACompliance *AxisScore `json:"OTA_Compliance,omitempty"`
}

// Axis returns the named axis, or nil when it is absent or unknown.
func (e *TechEvaluation) Axis(name string) *AxisScore {
	if e == nil {
		return nil
	}
	switch name {
	case "TRL":
		return e.TRL
	case "MRL":
		return e.MRL
	case "CRAAP":
		return e.CRAAP
	case "Materiality":
		return e.Materiality
	case "ISSB":
		return e.ISSB
	case "OTA_Compliance":
		return e.OTACompliance
	}
	return nil
}

// Citation is a source backing a technology summary.
type Citation struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary,omitempty"`
}

// TechReport is the technology analysis of a single company.
type TechReport struct {
	Company    string          `json:"company"`
	Domain     string          `json:"domain,omitempty"`
	QueryTerms []string        `json:"query_terms,omitempty"`
	Bullets    []string        `json:"summary_bullets,omitempty"`
	Citations  []Citation      `json:"citations,omitempty"`
	Evaluation *TechEvaluation `json:"evaluation,omitempty"`
	JSONPath   string          `json:"json_path,omitempty"`
}

// TechEntry is either a report or the error that prevented one.
type TechEntry struct {
	Report *TechReport
	Error  string
}

func (e TechEntry) MarshalJSON() ([]byte, error) {
	if e.Error != "" {
		return json.Marshal(map[string]string{"error": e.Error})
	}
	if e.Report == nil {
		return []byte("null"), nil
	}
	return json.Marshal(e.Report)
}

func (e *TechEntry) UnmarshalJSON(data []byte) error {
	*e = TechEntry{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Error != "" {
		e.Error = probe.Error
		return nil
	}
	var report TechReport
	if err := json.Unmarshal(data, &report); err != nil {
		return err
	}
	e.Report = &report
	return nil
}

// TechResults maps each subject to its technology entry, in subject order.
type TechResults struct {
	entries *orderedmap.OrderedMap[string, TechEntry]
}

func NewTechResults() *TechResults {
	return &TechResults{entries: orderedmap.New[string, TechEntry]()}
}

// NewTechResultsFrom builds results from per-subject outcomes. Failed
// subjects become error entries; successful ones keep their report.
func NewTechResultsFrom(outcomes []SubjectOutcome[*TechReport]) *TechResults {
	r := NewTechResults()
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			r.Set(o.Subject, TechEntry{Error: o.Err.Error()})
		case o.Value == nil:
			r.Set(o.Subject, TechEntry{Error: "invalid_result"})
		default:
			r.Set(o.Subject, TechEntry{Report: o.Value})
		}
	}
	return r
}

func (r *TechResults) Kind() Kind { return KindTech }

func (r *TechResults) IsEmpty() bool { return r == nil || r.Len() == 0 }

func (r *TechResults) Len() int {
	if r == nil || r.entries == nil {
		return 0
	}
	return r.entries.Len()
}

func (r *TechResults) Set(subject string, entry TechEntry) {
	if r.entries == nil {
		r.entries = orderedmap.New[string, TechEntry]()
	}
	r.entries.Set(subject, entry)
}

func (r *TechResults) Get(subject string) (TechEntry, bool) {
	if r == nil || r.entries == nil {
		return TechEntry{}, false
	}
	return r.entries.Get(subject)
}

// Subjects returns the subjects in insertion order.
func (r *TechResults) Subjects() []string {
	if r == nil || r.entries == nil {
		return nil
	}
	out := make([]string, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func (r *TechResults) MarshalJSON() ([]byte, error) {
	if r == nil || r.entries == nil {
		return []byte("{}"), nil
	}
	return r.entries.MarshalJSON()
}

func (r *TechResults) UnmarshalJSON(data []byte) error {
	r.entries = orderedmap.New[string, TechEntry]()
	return r.entries.UnmarshalJSON(data)
}

// JITScore is the supplier proximity score of one OEM.
type JITScore struct {
	Company       string `json:"company"`
	JITScore      *int   `json:"jit_score,omitempty"`
	RegionalScore *int   `json:"regional_score,omitempty"`
}

// JITEvaluation is the per-company proximity scoring.
type JITEvaluation struct {
	Companies []JITScore `json:"companies"`
}

// CompanyProximity counts suppliers near one OEM's plants.
type CompanyProximity struct {
	Company        string `json:"company"`
	WithinNear     int    `json:"suppliers_within_near"`
	WithinRegional int    `json:"suppliers_within_regional"`
}

// JITAnalysis is the raw proximity analysis behind a JITEvaluation.
type JITAnalysis struct {
	AnalysisType string             `json:"analysis_type"`
	NearKM       float64            `json:"near_km"`
	RegionalKM   float64            `json:"regional_km"`
	Companies    []CompanyProximity `json:"companies"`
}

// ValueChainResult is the output of the supply-chain worker.
type ValueChainResult struct {
	Analysis       *JITAnalysis   `json:"jit_analysis,omitempty"`
	Evaluation     *JITEvaluation `json:"jit_evaluation,omitempty"`
	AnalysisPath   string         `json:"analysis_path,omitempty"`
	EvaluationPath string         `json:"evaluation_path,omitempty"`
}

func (r *ValueChainResult) Kind() Kind { return KindValueChain }

func (r *ValueChainResult) IsEmpty() bool {
	return r == nil || (r.Analysis == nil && r.Evaluation == nil)
}

// Quote is the market snapshot of one listed company.
type Quote struct {
	Company      string   `json:"company_name"`
	Ticker       string   `json:"ticker"`
	Category     string   `json:"category"`
	Current      float64  `json:"current"`
	PrevClose    *float64 `json:"prev_close,omitempty"`
	ChangePct    float64  `json:"change_pct"`
	Observations int      `json:"observations"`
}

// TrendIndicators summarize OEM and supplier price momentum.
type TrendIndicators struct {
	OEMTrend             *int     `json:"oem_trend,omitempty"`
	SupplierTrend        *int     `json:"supplier_trend,omitempty"`
	CorrelationScore     *float64 `json:"correlation_score,omitempty"`
	OEMAvgChangePct      float64  `json:"oem_avg_change_pct"`
	SupplierAvgChangePct float64  `json:"supplier_avg_change_pct"`
}

// MarketEvaluation is the qualitative reading of the trend indicators.
type MarketEvaluation struct {
	MarketHealth     string   `json:"market_health"`
	MarketSummary    string   `json:"market_summary"`
	Dynamics         string   `json:"oem_supplier_dynamics,omitempty"`
	KeyInsights      []string `json:"key_insights,omitempty"`
	Outlook          string   `json:"outlook,omitempty"`
	EvaluationMethod string   `json:"evaluation_method,omitempty"`
}

// StockResult is the output of the market worker.
type StockResult struct {
	OEMs       []Quote           `json:"oem_data,omitempty"`
	Suppliers  []Quote           `json:"supplier_data,omitempty"`
	Trend      *TrendIndicators  `json:"trend_indicators,omitempty"`
	Evaluation *MarketEvaluation `json:"evaluation,omitempty"`
	JSONPath   string            `json:"json_path,omitempty"`
}

func (r *StockResult) Kind() Kind { return KindStock }

func (r *StockResult) IsEmpty() bool {
	return r == nil || (r.Trend == nil && len(r.OEMs) == 0 && len(r.Suppliers) == 0)
}

// GovPolicy is a government's net-zero stance.
type GovPolicy struct {
	Policy        string `json:"policy"`
	CarbonNeutral *int   `json:"carbon_neutral"`
}

// CorpTarget is a company's stated emissions target.
type CorpTarget struct {
	TargetYear *int     `json:"target_year"`
	Scopes     []string `json:"scope"`
	Policy     string   `json:"policy"`
}

// Rating holds external ESG rating hints.
type Rating struct {
	MSCI *string `json:"msci"`
	CDP  *string `json:"cdp"`
}

// ESGResult is the output of the policy worker.
type ESGResult struct {
	Gov      map[string]GovPolicy  `json:"gov"`
	Corp     map[string]CorpTarget `json:"corp"`
	Ratings  map[string]Rating     `json:"ratings"`
	JSONPath string                `json:"json_path,omitempty"`
}

func (r *ESGResult) Kind() Kind { return KindESG }

func (r *ESGResult) IsEmpty() bool {
	return r == nil || (r.Gov == nil && r.Corp == nil && r.Ratings == nil)
}

// DecodeResult parses a JSON document into the result type of kind.
func DecodeResult(kind Kind, data []byte) (Result, error) {
	var r Result
	switch kind {
	case KindTech:
		r = NewTechResults()
	case KindValueChain:
		r = &ValueChainResult{}
	case KindStock:
		r = &StockResult{}
	case KindESG:
		r = &ESGResult{}
	default:
		return nil, fmt.Errorf("unknown worker kind %q", kind)
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", kind, err)
	}
	return r, nil
}
