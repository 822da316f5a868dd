// Package esg collects government net-zero policies, corporate emission
// targets and external ESG rating hints.
package esg

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/search"
	"github.com/evagent/evagent/pkg/worker"
)

const notAvailable = "N/A"

var regionNames = map[string]string{
	"KR": "South Korea",
	"CN": "China",
	"JP": "Japan",
	"EU": "European Union",
	"US": "United States",
	"UK": "United Kingdom",
}

// RegionName expands a region code, returning the code itself when unknown.
func RegionName(code string) string {
	if name, ok := regionNames[strings.ToUpper(code)]; ok {
		return name
	}
	return code
}

var (
	yearRx  = regexp.MustCompile(`20[2-6][0-9]`)
	scopeRx = [3]*regexp.Regexp{
		regexp.MustCompile(`\bscope\s*1\b|\bs1\b`),
		regexp.MustCompile(`\bscope\s*2\b|\bs2\b`),
		regexp.MustCompile(`\bscope\s*3\b|\bs3\b`),
	}
	msciRx = regexp.MustCompile(`\b(AAA|AA|BBB|BB|CCC|A|B)\b`)
	cdpRx  = regexp.MustCompile(`(?:^|[^A-Za-z0-9])([A-D][+-]?)(?:$|[^A-Za-z0-9+-])`)
)

// ParseYear returns the earliest year in 2024-2065 mentioned in text,
// else the earliest 2020s-2060s year, else nil.
func ParseYear(text string) *int {
	var all, plausible []int
	for _, m := range yearRx.FindAllString(text, -1) {
		y, _ := strconv.Atoi(m)
		all = append(all, y)
		if y >= 2024 && y <= 2065 {
			plausible = append(plausible, y)
		}
	}
	switch {
	case len(plausible) > 0:
		y := slices.Min(plausible)
		return &y
	case len(all) > 0:
		y := slices.Min(all)
		return &y
	}
	return nil
}

// ParseScopes lists the GHG protocol scopes mentioned in text.
func ParseScopes(text string) []string {
	text = strings.ToLower(text)
	scopes := []string{}
	for i, rx := range scopeRx {
		if rx.MatchString(text) {
			scopes = append(scopes, "S"+strconv.Itoa(i+1))
		}
	}
	return scopes
}

func pickMSCI(text string) *string {
	if m := msciRx.FindStringSubmatch(text); m != nil {
		return &m[1]
	}
	return nil
}

func pickCDP(text string) *string {
	if m := cdpRx.FindStringSubmatch(text); m != nil {
		return &m[1]
	}
	return nil
}

// Agent is the ESG worker. Without a searcher every finding is reported as
// unavailable rather than failing.
type Agent struct {
	cfg         *config.Config
	searcher    search.Searcher
	concurrency int
}

func New(cfg *config.Config, searcher search.Searcher) *Agent {
	return &Agent{cfg: cfg, searcher: searcher, concurrency: cfg.Supervisor.SubjectConcurrency}
}

func (a *Agent) Kind() worker.Kind { return worker.KindESG }

// collector tracks whether any search succeeded.
type collector struct {
	searcher search.Searcher

	mu       sync.Mutex
	calls    int
	failures int
	lastErr  error
}

func (c *collector) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err != nil {
		c.failures++
		c.lastErr = err
	}
}

// err is non-nil when searches were attempted and none succeeded.
func (c *collector) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls > 0 && c.failures == c.calls {
		return fmt.Errorf("all %d ESG searches failed: %w", c.calls, c.lastErr)
	}
	return nil
}

func (c *collector) answer(ctx context.Context, query, depth string) string {
	if c.searcher == nil {
		return ""
	}
	resp, err := c.searcher.Search(ctx, search.Query{Text: query, Depth: depth, MaxResults: 5})
	c.record(err)
	if err != nil {
		slog.Debug("ESG search failed", "query", query, "error", err)
		return ""
	}
	return strings.TrimSpace(resp.Answer)
}

func (a *Agent) Invoke(ctx context.Context, in worker.Input) (worker.Result, error) {
	c := &collector{searcher: a.searcher}
	oems := a.oems(in.Subjects)

	res := &worker.ESGResult{
		Gov:     make(map[string]worker.GovPolicy),
		Corp:    make(map[string]worker.CorpTarget),
		Ratings: make(map[string]worker.Rating),
	}

	for _, o := range worker.Gather(ctx, in.Regions, a.concurrency, func(ctx context.Context, region string) (worker.GovPolicy, error) {
		q := fmt.Sprintf("%s government net zero policy target year carbon neutral official", RegionName(region))
		ans := c.answer(ctx, q, search.DepthBasic)
		return worker.GovPolicy{Policy: orNA(ans), CarbonNeutral: ParseYear(ans)}, nil
	}) {
		res.Gov[o.Subject] = o.Value
	}

	for _, o := range worker.Gather(ctx, oems, a.concurrency, func(ctx context.Context, company string) (worker.CorpTarget, error) {
		q := fmt.Sprintf("%s ESG net zero target year Scope 1 Scope 2 Scope 3 sustainability report", company)
		ans := c.answer(ctx, q, search.DepthAdvanced)
		return worker.CorpTarget{TargetYear: ParseYear(ans), Scopes: ParseScopes(ans), Policy: orNA(ans)}, nil
	}) {
		res.Corp[o.Subject] = o.Value
	}

	for _, o := range worker.Gather(ctx, oems, a.concurrency, func(ctx context.Context, company string) (worker.Rating, error) {
		if a.searcher == nil {
			return worker.Rating{}, nil
		}
		msci := c.answer(ctx, fmt.Sprintf("MSCI ESG rating %s official", company), search.DepthBasic)
		cdp := c.answer(ctx, fmt.Sprintf("CDP score %s environmental score official", company), search.DepthBasic)
		return worker.Rating{MSCI: pickMSCI(msci), CDP: pickCDP(cdp)}, nil
	}) {
		res.Ratings[o.Subject] = o.Value
	}

	if err := c.err(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	path, err := worker.WriteArtifact(in.OutDir, "esg_analysis.json", artifact{
		AnalysisType: "ESG Summary (OEM only)",
		Regions:      in.Regions,
		Gov:          res.Gov,
		Corp:         res.Corp,
		Ratings:      res.Ratings,
		References:   map[string]string{"ghg_protocol": "https://ghgprotocol.org/corporate-standard"},
	})
	if err != nil {
		return nil, err
	}
	res.JSONPath = path
	return res, nil
}

// oems keeps the subjects that are whitelisted OEMs, using the whitelist
// spelling.
func (a *Agent) oems(subjects []string) []string {
	var out []string
	for _, s := range subjects {
		if co, ok := a.cfg.Company(s); ok && co.Category == config.CategoryOEM && !slices.Contains(out, co.Name) {
			out = append(out, co.Name)
		}
	}
	return out
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

type artifact struct {
	AnalysisType string                       `json:"analysis_type"`
	Regions      []string                     `json:"regions"`
	Gov          map[string]worker.GovPolicy  `json:"government_policies"`
	Corp         map[string]worker.CorpTarget `json:"corporate_esg_goals"`
	Ratings      map[string]worker.Rating     `json:"external_ratings"`
	References   map[string]string            `json:"references"`
}
