// Package tech gathers and scores technology evidence for each subject
// company.
package tech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/llm"
	"github.com/evagent/evagent/pkg/search"
	"github.com/evagent/evagent/pkg/worker"
)

// QueryTerms are the technology topics searched for every company. Only
// the first maxQueries are issued.
var QueryTerms = []string{
	"800V platform",
	"SiC inverter",
	"thermal management",
	"heat pump",
	"battery pack cooling",
	"fast charging 350kW",
	"autonomy OTA",
	"manufacturing readiness",
	"production timeline",
	"supply chain",
}

const (
	maxQueries  = 8
	hitsPerTerm = 5
)

// ErrNoSearch is returned when the agent has no search backend.
var ErrNoSearch = errors.New("tech search unavailable")

// Report file metadata written next to each summary.
type metadata struct {
	Timestamp   string `json:"timestamp"`
	CompanyType string `json:"company_type"`
}

type artifact struct {
	*worker.TechReport
	Metadata metadata `json:"metadata"`
}

// Agent is the technology worker.
type Agent struct {
	companies   *config.Config
	searcher    search.Searcher
	evaluator   Evaluator
	summarizer  llm.Completer
	concurrency int
	now         func() time.Time
}

type Opt func(*Agent)

// WithModel makes the agent score axes and summarize citations with m.
func WithModel(m llm.Completer) Opt {
	return func(a *Agent) {
		if m != nil {
			a.evaluator = &ModelEvaluator{Model: m}
			a.summarizer = m
		}
	}
}

// WithEvaluator overrides the axis evaluator.
func WithEvaluator(e Evaluator) Opt {
	return func(a *Agent) {
		a.evaluator = e
	}
}

func WithConcurrency(n int) Opt {
	return func(a *Agent) {
		a.concurrency = n
	}
}

func WithClock(now func() time.Time) Opt {
	return func(a *Agent) {
		a.now = now
	}
}

// New creates the tech worker. The searcher may be nil, in which case
// every subject fails with ErrNoSearch.
func New(cfg *config.Config, searcher search.Searcher, opts ...Opt) *Agent {
	a := &Agent{
		companies:   cfg,
		searcher:    searcher,
		evaluator:   RuleEvaluator{},
		concurrency: cfg.Supervisor.SubjectConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Kind() worker.Kind { return worker.KindTech }

// Invoke analyses every subject concurrently. Subject failures are kept
// in the result as error entries.
func (a *Agent) Invoke(ctx context.Context, in worker.Input) (worker.Result, error) {
	if len(in.Subjects) == 0 {
		return nil, errors.New("no subjects to analyse")
	}

	outcomes := worker.Gather(ctx, in.Subjects, a.concurrency, func(ctx context.Context, subject string) (*worker.TechReport, error) {
		return a.analyse(ctx, subject, in.OutDir)
	})
	for _, o := range outcomes {
		if o.Err != nil {
			slog.Warn("Tech analysis failed", "subject", o.Subject, "error", o.Err)
		}
	}
	return worker.NewTechResultsFrom(outcomes), nil
}

func (a *Agent) analyse(ctx context.Context, company, outDir string) (*worker.TechReport, error) {
	if a.searcher == nil {
		return nil, ErrNoSearch
	}

	domain := a.resolveDomain(ctx, company)
	terms := QueryTerms[:maxQueries]

	var hits []search.Hit
	var answer string
	for _, term := range terms {
		q := search.Query{
			Text:       company + " " + term,
			Depth:      search.DepthAdvanced,
			MaxResults: hitsPerTerm,
		}
		if domain != "" {
			q.IncludeDomains = []string{domain}
		}
		resp, err := a.searcher.Search(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Debug("Tech query failed", "company", company, "query", q.Text, "error", err)
			continue
		}
		hits = append(hits, resp.Results...)
		if answer == "" {
			answer = resp.Answer
		}
	}

	if len(hits) == 0 && answer == "" {
		return nil, fmt.Errorf("no search results for %s", company)
	}

	ranked := Rank(hits, domain)
	bullets, citations := Summarize(company, answer, ranked)
	citations = a.summarizeCitations(ctx, citations)

	report := &worker.TechReport{
		Company:    company,
		Domain:     domain,
		QueryTerms: QueryTerms,
		Bullets:    bullets,
		Citations:  citations,
	}

	eval, err := a.evaluator.Evaluate(ctx, company, bullets)
	if err != nil {
		slog.Warn("Tech evaluation failed", "company", company, "error", err)
	} else {
		report.Evaluation = eval
	}

	category := config.CategoryOEM
	if co, ok := a.companies.Company(company); ok {
		category = co.Category
	}
	path, err := worker.WriteArtifact(outDir, "tech_summary_"+worker.Slug(company)+".json", artifact{
		TechReport: report,
		Metadata: metadata{
			Timestamp:   a.now().Format(time.DateTime),
			CompanyType: category,
		},
	})
	if err != nil {
		return nil, err
	}
	report.JSONPath = path

	return report, nil
}

func (a *Agent) summarizeCitations(ctx context.Context, citations []worker.Citation) []worker.Citation {
	if a.summarizer == nil {
		return citations
	}
	for i, c := range citations {
		if c.Summary == "" {
			citations[i].Summary = "No content available"
			continue
		}
		prompt := fmt.Sprintf("Summarize this article excerpt in 2-3 sentences focusing on technical details:\n\nTitle: %s\nContent: %s\n\nSummary:", c.Title, c.Summary)
		out, err := a.summarizer.Complete(ctx, "", prompt)
		if err != nil {
			slog.Debug("Citation summary failed", "url", c.URL, "error", err)
			continue
		}
		citations[i].Summary = out
	}
	return citations
}
