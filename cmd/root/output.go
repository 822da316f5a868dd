package root

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/evagent/evagent/pkg/history"
	"github.com/evagent/evagent/pkg/report"
	"github.com/evagent/evagent/pkg/supervisor"
	"github.com/evagent/evagent/pkg/validate"
	"github.com/evagent/evagent/pkg/worker"
)

// text colors
var (
	green  = color.New(color.FgGreen).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	gray   = color.New(color.FgHiBlack).SprintfFunc()
)

// text styles
var bold = color.New(color.Bold).SprintfFunc()

// artifactPattern matches the files a run leaves in its output directory.
const artifactPattern = "**/*.{json,md,html}"

func printSummary(w io.Writer, s supervisor.RunSummary, path string) {
	status := green("succeeded")
	if !s.Succeeded() {
		status = red("failed")
	}
	fmt.Fprintf(w, "%s %s %s\n", bold("Run"), s.RunID, status)
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  %s %s, %d validation passes\n", gray("took"), units.HumanDuration(s.Duration()), s.Passes)
	}
	if len(s.Subjects) > 0 {
		fmt.Fprintf(w, "  %s %s  %s %s\n", gray("subjects"), strings.Join(s.Subjects, ", "), gray("regions"), strings.Join(s.Regions, ", "))
	}

	for _, k := range worker.Kinds() {
		valid, ok := s.ValidationStatus[k]
		if !ok {
			continue
		}
		mark := green("✓")
		if !valid {
			mark = red("✗")
		}
		line := fmt.Sprintf("  %s %-10s retries=%d", mark, k, s.RetryCount[k])
		if msg := s.ErrorLog[k]; msg != "" {
			line += " " + yellow(msg)
		}
		fmt.Fprintln(w, line)
	}
	if path != "" {
		fmt.Fprintf(w, "  %s %s\n", gray("summary"), path)
	}
}

func printOutcome(w io.Writer, kind worker.Kind, o validate.Outcome) {
	if o.Valid {
		fmt.Fprintf(w, "%s %s result is complete\n", green("✓"), kind)
		return
	}
	fmt.Fprintf(w, "%s %s result is incomplete: %s\n", red("✗"), kind, o.ErrorMessage)
	for _, f := range o.MissingFields {
		fmt.Fprintf(w, "  - %s\n", f)
	}
}

// padRight pads s with spaces to width terminal cells. Wide runes such as
// Hangul or CJK ideographs count as two cells.
func padRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

func printDocuments(w io.Writer, docs []report.Document) {
	width := 0
	for _, d := range docs {
		width = max(width, runewidth.StringWidth(d.Subject))
	}
	for _, d := range docs {
		line := fmt.Sprintf("  %s %s", bold(padRight(d.Subject, width)), d.MarkdownPath)
		if d.HTMLPath != "" {
			line += gray(" + ") + filepath.Base(d.HTMLPath)
		}
		if !d.Narrative {
			line += gray(" (data only)")
		}
		fmt.Fprintln(w, line)
	}
}

func printEntries(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, gray("no runs recorded"))
		return
	}
	for _, e := range entries {
		status := green("ok    ")
		if e.FinalStatus == 0 {
			status = red("failed")
		}
		line := fmt.Sprintf("%s  %s  %s  retries=%d", e.RunID, e.StartedAt.Local().Format(time.DateTime), status, e.Retries)
		if len(e.FailedKinds) > 0 {
			line += " " + yellow(fmt.Sprintf("%v", e.FailedKinds))
		}
		fmt.Fprintln(w, line)
	}
}

type artifact struct {
	Path string
	Size int64
}

// listArtifacts returns the run artifacts under dir, sorted by path.
func listArtifacts(dir string) ([]artifact, error) {
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, artifactPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	slices.Sort(matches)

	out := make([]artifact, 0, len(matches))
	for _, m := range matches {
		info, err := fs.Stat(fsys, m)
		if err != nil || info.IsDir() {
			continue
		}
		out = append(out, artifact{Path: filepath.Join(dir, filepath.FromSlash(m)), Size: info.Size()})
	}
	return out, nil
}

func printArtifacts(w io.Writer, dir string) {
	artifacts, err := listArtifacts(dir)
	if err != nil || len(artifacts) == 0 {
		return
	}
	width := 0
	for _, a := range artifacts {
		width = max(width, runewidth.StringWidth(a.Path))
	}
	fmt.Fprintln(w, bold("Artifacts"))
	for _, a := range artifacts {
		fmt.Fprintf(w, "  %s %s\n", padRight(a.Path, width), gray(units.HumanSize(float64(a.Size))))
	}
}
