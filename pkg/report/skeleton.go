package report

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/evagent/evagent/pkg/supervisor"
	"github.com/evagent/evagent/pkg/worker"
)

const na = "N/A"

// Skeleton renders the data-only sections of a subject's report.
func Skeleton(res *supervisor.Result, subject string) string {
	var b strings.Builder
	writeTech(&b, res, subject)
	writeJIT(&b, res, subject)
	writeMarket(&b, res, subject)
	writeESG(&b, res, subject)
	writeDiagnostics(&b, res)
	return b.String()
}

func writeTech(b *strings.Builder, res *supervisor.Result, subject string) {
	b.WriteString("## 1. Technology (Tech)\n\n")

	tech, _ := res.Results[worker.KindTech].(*worker.TechResults)
	entry, ok := techEntry(tech, subject)
	switch {
	case !ok:
		b.WriteString("No technology analysis was produced.\n\n")
		return
	case entry.Error != "":
		fmt.Fprintf(b, "Technology analysis failed: %s\n\n", entry.Error)
		return
	}

	report := entry.Report
	if report.Domain != "" {
		fmt.Fprintf(b, "Official domain: %s\n\n", report.Domain)
	}
	if report.Evaluation != nil {
		b.WriteString("| Axis | Score | Rationale |\n|---|---|---|\n")
		for _, axis := range worker.TechAxes {
			score, rationale := na, ""
			if a := report.Evaluation.Axis(axis); a != nil {
				if a.Score != nil {
					score = strconv.FormatFloat(*a.Score, 'f', -1, 64)
				}
				rationale = a.Rationale
			}
			fmt.Fprintf(b, "| %s | %s | %s |\n", axis, score, cell(rationale))
		}
		b.WriteString("\n")
	}
	for _, bullet := range report.Bullets {
		fmt.Fprintf(b, "- %s\n", bullet)
	}
	if len(report.Bullets) > 0 {
		b.WriteString("\n")
	}
	if len(report.Citations) > 0 {
		b.WriteString("Sources:\n\n")
		for _, c := range report.Citations {
			fmt.Fprintf(b, "- [%s](%s)\n", linkText(c.Title, c.URL), c.URL)
		}
		b.WriteString("\n")
	}
}

func techEntry(tech *worker.TechResults, subject string) (worker.TechEntry, bool) {
	if tech == nil {
		return worker.TechEntry{}, false
	}
	if e, ok := tech.Get(subject); ok {
		return e, e.Report != nil || e.Error != ""
	}
	for _, s := range tech.Subjects() {
		if strings.EqualFold(s, subject) {
			e, _ := tech.Get(s)
			return e, e.Report != nil || e.Error != ""
		}
	}
	return worker.TechEntry{}, false
}

func writeJIT(b *strings.Builder, res *supervisor.Result, subject string) {
	b.WriteString("## 2. Supply Chain Proximity (JIT)\n\n")

	vc, _ := res.Results[worker.KindValueChain].(*worker.ValueChainResult)
	if vc == nil || vc.Analysis == nil {
		b.WriteString("No supply chain analysis was produced.\n\n")
		return
	}

	idx := slices.IndexFunc(vc.Analysis.Companies, func(p worker.CompanyProximity) bool {
		return strings.EqualFold(p.Company, subject)
	})
	if idx < 0 {
		fmt.Fprintf(b, "%s has no plants in the supply chain tables.\n\n", subject)
		return
	}
	p := vc.Analysis.Companies[idx]

	near, regional := na, na
	if vc.Evaluation != nil {
		for _, s := range vc.Evaluation.Companies {
			if strings.EqualFold(s.Company, subject) {
				near, regional = intOr(s.JITScore), intOr(s.RegionalScore)
			}
		}
	}

	fmt.Fprintf(b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(b, "| Suppliers within %v km | %d |\n", vc.Analysis.NearKM, p.WithinNear)
	fmt.Fprintf(b, "| Suppliers within %v km | %d |\n", vc.Analysis.RegionalKM, p.WithinRegional)
	fmt.Fprintf(b, "| JIT score | %s |\n| Regional score | %s |\n\n", near, regional)
}

func writeMarket(b *strings.Builder, res *supervisor.Result, subject string) {
	b.WriteString("## 3. Market Trend (Stock)\n\n")

	st, _ := res.Results[worker.KindStock].(*worker.StockResult)
	if st == nil {
		b.WriteString("No market analysis was produced.\n\n")
		return
	}

	if i := slices.IndexFunc(st.OEMs, func(q worker.Quote) bool { return strings.EqualFold(q.Company, subject) }); i >= 0 {
		q := st.OEMs[i]
		fmt.Fprintf(b, "%s (%s) closed at %.2f, %+.2f%% over the window (%d observations).\n\n", q.Company, q.Ticker, q.Current, q.ChangePct, q.Observations)
	}

	if len(st.Suppliers) > 0 {
		b.WriteString("| Supplier | Ticker | Category | Close | Change % |\n|---|---|---|---|---|\n")
		for _, q := range st.Suppliers {
			fmt.Fprintf(b, "| %s | %s | %s | %.2f | %+.2f |\n", cell(q.Company), q.Ticker, q.Category, q.Current, q.ChangePct)
		}
		b.WriteString("\n")
	}

	if t := st.Trend; t != nil {
		corr := na
		if t.CorrelationScore != nil {
			corr = strconv.FormatFloat(*t.CorrelationScore, 'f', -1, 64)
		}
		fmt.Fprintf(b, "| Indicator | Value |\n|---|---|\n")
		fmt.Fprintf(b, "| OEM trend | %s |\n| Supplier trend | %s |\n", trendWord(t.OEMTrend), trendWord(t.SupplierTrend))
		fmt.Fprintf(b, "| OEM avg change %% | %v |\n| Supplier avg change %% | %v |\n", t.OEMAvgChangePct, t.SupplierAvgChangePct)
		fmt.Fprintf(b, "| Correlation score | %s |\n\n", corr)
	}

	if e := st.Evaluation; e != nil {
		fmt.Fprintf(b, "Market health: **%s**. %s\n\n", e.MarketHealth, e.MarketSummary)
		for _, insight := range e.KeyInsights {
			fmt.Fprintf(b, "- %s\n", insight)
		}
		if len(e.KeyInsights) > 0 {
			b.WriteString("\n")
		}
		if e.Outlook != "" {
			fmt.Fprintf(b, "Outlook: %s\n\n", e.Outlook)
		}
	}
}

func writeESG(b *strings.Builder, res *supervisor.Result, subject string) {
	b.WriteString("## 4. ESG\n\n")

	esg, _ := res.Results[worker.KindESG].(*worker.ESGResult)
	if esg == nil {
		b.WriteString("No ESG analysis was produced.\n\n")
		return
	}

	if len(esg.Gov) > 0 {
		b.WriteString("| Region | Carbon neutral by | Policy |\n|---|---|---|\n")
		for _, region := range regionOrder(res.Regions, esg.Gov) {
			g := esg.Gov[region]
			fmt.Fprintf(b, "| %s | %s | %s |\n", region, intOr(g.CarbonNeutral), cell(g.Policy))
		}
		b.WriteString("\n")
	}

	if corp, ok := lookupFold(esg.Corp, subject); ok {
		scopes := na
		if len(corp.Scopes) > 0 {
			scopes = strings.Join(corp.Scopes, ", ")
		}
		fmt.Fprintf(b, "Corporate target year: %s. Scopes: %s.\n\n%s\n\n", intOr(corp.TargetYear), scopes, corp.Policy)
	} else {
		fmt.Fprintf(b, "No corporate ESG target found for %s.\n\n", subject)
	}

	if r, ok := lookupFold(esg.Ratings, subject); ok {
		fmt.Fprintf(b, "| Rating | Value |\n|---|---|\n| MSCI | %s |\n| CDP | %s |\n\n", strOr(r.MSCI), strOr(r.CDP))
	}
}

func writeDiagnostics(b *strings.Builder, res *supervisor.Result) {
	s := res.Summary
	b.WriteString("## 5. Run Diagnostics\n\n")
	fmt.Fprintf(b, "Final status: %d after %d validation passes.\n\n", s.FinalStatus, s.Passes)
	b.WriteString("| Kind | Valid | Retries | Last error |\n|---|---|---|---|\n")
	for _, k := range worker.Kinds() {
		valid := "no"
		if s.ValidationStatus[k] {
			valid = "yes"
		}
		fmt.Fprintf(b, "| %s | %s | %d | %s |\n", k, valid, s.RetryCount[k], cell(s.ErrorLog[k]))
	}
	b.WriteString("\n")
}

func regionOrder[V any](regions []string, m map[string]V) []string {
	var out []string
	for _, r := range regions {
		if _, ok := m[r]; ok {
			out = append(out, r)
		}
	}
	for _, r := range slices.Sorted(maps.Keys(m)) {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

func lookupFold[V any](m map[string]V, key string) (V, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// cell makes text safe for a single markdown table cell.
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func linkText(title, url string) string {
	t := strings.NewReplacer("[", "(", "]", ")").Replace(strings.TrimSpace(title))
	if t == "" {
		return url
	}
	return t
}

func intOr(v *int) string {
	if v == nil {
		return na
	}
	return strconv.Itoa(*v)
}

func strOr(v *string) string {
	if v == nil || *v == "" {
		return na
	}
	return *v
}

func trendWord(v *int) string {
	switch {
	case v == nil:
		return na
	case *v == 1:
		return "up"
	default:
		return "down"
	}
}
