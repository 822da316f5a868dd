package tech

import (
	"cmp"
	"context"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/evagent/evagent/pkg/search"
	"github.com/evagent/evagent/pkg/worker"
)

const (
	maxRanked        = 12
	maxBullets       = 8
	maxAnswerBullets = 3
	maxCitations     = 6
	maxTitleLen      = 120
	maxCitationText  = 1000
	summarizedHits   = 8
)

var (
	sentenceEnd = regexp.MustCompile(`[.!?]\s+`)
	lineSplit   = regexp.MustCompile(`[\r\n.]+`)
	nonAlnum    = regexp.MustCompile(`[^a-z0-9]+`)

	cues = regexp.MustCompile(`(?i)\b(800V|SiC|inverter|heat pump|thermal|BMS|solid[- ]state|4680|LFP|NMC|anode|cathode|recycling|fast charging)\b` +
		`|\b(heat exchanger|cooling plate|octovalve|HVAC|TMS)\b` +
		`|\b(OTA|autonomy|NOA|L3|ADAS)\b` +
		`|\b(production|manufacturing|MRL|supply chain|readiness)\b`)
)

func (a *Agent) resolveDomain(ctx context.Context, company string) string {
	if co, ok := a.companies.Company(company); ok && co.Domain != "" {
		return co.Domain
	}

	resp, err := a.searcher.Search(ctx, search.Query{
		Text:       company + " official website",
		Depth:      search.DepthBasic,
		MaxResults: 5,
	})
	if err != nil {
		return ""
	}
	var domains []string
	for _, h := range resp.Results {
		domains = append(domains, hostOf(h.URL))
	}
	return pickDomain(company, domains)
}

// pickDomain prefers the shortest domain that contains the first four
// letters of the company name.
func pickDomain(company string, domains []string) string {
	domains = slices.DeleteFunc(slices.Clone(domains), func(d string) bool { return d == "" })
	slices.SortFunc(domains, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(a), len(b)), cmp.Compare(a, b))
	})
	domains = slices.Compact(domains)
	if len(domains) == 0 {
		return ""
	}

	key := nonAlnum.ReplaceAllString(strings.ToLower(company), "")
	if len(key) > 4 {
		key = key[:4]
	}
	for _, d := range domains {
		if strings.Contains(nonAlnum.ReplaceAllString(d, ""), key) {
			return d
		}
	}
	return domains[0]
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

func hitScore(h search.Hit, domain string) int {
	score := 0
	if domain != "" && strings.HasSuffix(hostOf(h.URL), domain) {
		score += 100
	}
	if strings.Contains(h.URL, "press") || strings.Contains(h.URL, "news") {
		score += 50
	}
	return score + max(0, 40-len(h.Title)/4)
}

// Rank drops duplicate URLs and orders hits by official domain, press or
// news paths, and title brevity. At most 12 hits are kept.
func Rank(hits []search.Hit, domain string) []search.Hit {
	seen := make(map[string]bool)
	var unique []search.Hit
	for _, h := range hits {
		if h.URL == "" || seen[h.URL] {
			continue
		}
		seen[h.URL] = true
		unique = append(unique, h)
	}

	slices.SortStableFunc(unique, func(a, b search.Hit) int {
		return cmp.Compare(hitScore(b, domain), hitScore(a, domain))
	})
	if len(unique) > maxRanked {
		unique = unique[:maxRanked]
	}
	return unique
}

// Summarize extracts bullets from the search answer and from hit lines
// mentioning technology cues, and keeps the top hits as citations.
func Summarize(company, answer string, hits []search.Hit) ([]string, []worker.Citation) {
	var bullets []string
	if answer = strings.TrimSpace(answer); answer != "" {
		for _, s := range splitSentences(answer) {
			if len(bullets) == maxAnswerBullets {
				break
			}
			bullets = append(bullets, s)
		}
	}

scan:
	for _, h := range hits[:min(len(hits), summarizedHits)] {
		for _, line := range lineSplit.Split(h.Content, -1) {
			if len(bullets) >= maxBullets {
				break scan
			}
			if line = strings.TrimSpace(line); line != "" && cues.MatchString(line) {
				bullets = append(bullets, line)
			}
		}
	}

	if len(bullets) == 0 {
		bullets = []string{company + ": No salient technical statements found."}
	}

	var citations []worker.Citation
	for _, h := range hits[:min(len(hits), maxCitations)] {
		title := h.Title
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen]
		}
		content := h.Content
		if len(content) > maxCitationText {
			content = content[:maxCitationText]
		}
		citations = append(citations, worker.Citation{Title: title, URL: h.URL, Summary: content})
	}
	return bullets, citations
}

func splitSentences(s string) []string {
	var out []string
	for {
		loc := sentenceEnd.FindStringIndex(s)
		if loc == nil {
			break
		}
		out = append(out, s[:loc[0]+1])
		s = s[loc[1]:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
