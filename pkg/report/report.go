// Package report turns a finished run into one document per subject.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/evagent/evagent/pkg/llm"
	"github.com/evagent/evagent/pkg/supervisor"
	"github.com/evagent/evagent/pkg/worker"
)

// ErrNoSubjects is returned when the run carries no subjects to report on.
var ErrNoSubjects = errors.New("run has no subjects")

const narrativeSystem = `You are a market analyst writing the executive summary of an EV market report.
Use only the data in the report below. Write 5 to 7 sentences of plain prose, no headings, no tables, no code blocks.
Mark each figure with its source in parentheses: (Tech), (JIT), (Stock) or (ESG).`

// Document is a rendered report for one subject.
type Document struct {
	Subject      string
	Markdown     string
	MarkdownPath string
	HTMLPath     string
	// Narrative is true when the executive summary came from the model.
	Narrative bool
}

// Composer builds reports from supervisor results.
type Composer struct {
	model llm.Completer
	html  bool
	now   func() time.Time
	md    goldmark.Markdown
}

type Opt func(*Composer)

// WithModel enables the model-written executive summary.
func WithModel(m llm.Completer) Opt {
	return func(c *Composer) {
		c.model = m
	}
}

// WithHTML toggles the HTML rendering next to the markdown file.
func WithHTML(enabled bool) Opt {
	return func(c *Composer) {
		c.html = enabled
	}
}

func WithClock(now func() time.Time) Opt {
	return func(c *Composer) {
		c.now = now
	}
}

func New(opts ...Opt) *Composer {
	c := &Composer{
		html: true,
		now:  time.Now,
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.Strikethrough,
				extension.Table,
			),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose writes one report per subject into the run's output directory.
// A subject whose report cannot be written does not stop the others; the
// joined error lists every failure.
func (c *Composer) Compose(ctx context.Context, res *supervisor.Result) ([]Document, error) {
	if res == nil || len(res.Subjects) == 0 {
		return nil, ErrNoSubjects
	}
	if err := os.MkdirAll(res.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	var docs []Document
	var errs []error
	for _, subject := range res.Subjects {
		doc, err := c.compose(ctx, res, subject)
		if err != nil {
			slog.Error("Report failed", "subject", subject, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", subject, err))
			continue
		}
		slog.Info("Report written", "subject", subject, "path", doc.MarkdownPath, "narrative", doc.Narrative)
		docs = append(docs, doc)
	}
	return docs, errors.Join(errs...)
}

func (c *Composer) compose(ctx context.Context, res *supervisor.Result, subject string) (Document, error) {
	body := Skeleton(res, subject)
	doc := Document{Subject: subject}

	title := fmt.Sprintf("# EV Market Trend Analysis: %s\n\n", subject)
	meta := fmt.Sprintf("_Run %s, generated %s_\n\n", res.RunID, c.now().UTC().Format(time.DateTime))

	summary := ""
	if c.model != nil {
		text, err := c.model.Complete(ctx, narrativeSystem, title+body)
		switch {
		case err != nil:
			slog.Warn("Narrative generation failed, using data-only report", "subject", subject, "error", err)
		case strings.TrimSpace(text) == "":
			slog.Warn("Narrative generation returned nothing, using data-only report", "subject", subject)
		default:
			summary = "## Executive Summary\n\n" + strings.TrimSpace(text) + "\n\n"
			doc.Narrative = true
		}
	}
	doc.Markdown = title + meta + summary + body

	base := fmt.Sprintf("report_%s_%s", res.RunID, worker.Slug(subject))
	doc.MarkdownPath = filepath.Join(res.OutDir, base+".md")
	if err := atomic.WriteFile(doc.MarkdownPath, strings.NewReader(doc.Markdown)); err != nil {
		return Document{}, fmt.Errorf("failed to write markdown: %w", err)
	}

	if c.html {
		page, err := c.RenderHTML(subject, doc.Markdown)
		if err != nil {
			return Document{}, err
		}
		doc.HTMLPath = filepath.Join(res.OutDir, base+".html")
		if err := atomic.WriteFile(doc.HTMLPath, bytes.NewReader(page)); err != nil {
			return Document{}, fmt.Errorf("failed to write html: %w", err)
		}
	}
	return doc, nil
}

const pageStyle = `body{font-family:Arial,sans-serif;line-height:1.6;max-width:1100px;margin:0 auto;padding:20px;color:#333}
h1{border-bottom:3px solid #333;padding-bottom:8px}h2{border-bottom:1px solid #999;padding-bottom:4px;margin-top:1.5em}
table{border-collapse:collapse;margin:1em 0;width:100%}th,td{border:1px solid #ddd;padding:6px 10px;text-align:left}
th{background:#f5f5f5}tr:nth-child(even){background:#fafafa}`

// RenderHTML converts report markdown into a standalone HTML page.
func (c *Composer) RenderHTML(title, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := c.md.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n<title>EV Market Report: %s</title>\n<style>%s</style>\n</head>\n<body>\n",
		html.EscapeString(title), pageStyle)
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}
