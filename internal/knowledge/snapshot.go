// Package knowledge holds the structured company facts the conflict
// detector checks contributions against, plus the similarity search over
// them. A Snapshot is always passed explicitly into detection; nothing in
// this package holds ambient mutable state.
package knowledge

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"
)

// Plan describes a pricing plan.
type Plan struct {
	Name         string `json:"name"`
	PriceMonthly string `json:"price_monthly"`
	PriceAnnual  string `json:"price_annual"`
}

// Phase describes a launch timeline phase.
type Phase struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// Feature is a capability known to exist. The detector flags contributions
// claiming a known-true feature is missing.
type Feature struct {
	Path     string   `json:"path"` // dotted path into the knowledge base
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Summary  string   `json:"summary"`
}

// Member is a team member with a known role.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Snapshot is a point-in-time view of the knowledge base.
type Snapshot struct {
	Plans    map[string]Plan
	Timeline map[string]Phase
	Features []Feature
	Team     []Member
	Metrics  map[string]string
	Notes    []string // approved free-form overrides, searchable
}

// SearchResult is one similarity search hit.
type SearchResult struct {
	Source     string  // which section matched, e.g. "pricing"
	Category   string  // coarse category for field paths
	Summary    string  // bounded human-readable preview of the match
	Confidence float64 // [0,1]
}

// Search runs a keyword-overlap similarity search over every section of
// the snapshot. Sections whose trigger keywords appear in the query get a
// confidence floor; everything else scores on word overlap alone. Results
// are deduplicated by source and sorted by descending confidence.
func (s Snapshot) Search(_ context.Context, query string, maxResults int) []SearchResult {
	if maxResults <= 0 {
		maxResults = 5
	}
	q := strings.ToLower(query)

	var results []SearchResult
	add := func(source, category, text string, floor float64, triggers ...string) {
		score := relevance(q, text)
		triggered := false
		for _, t := range triggers {
			if strings.Contains(q, t) {
				triggered = true
				break
			}
		}
		if triggered && score < floor {
			score = floor
		}
		if score > 0.1 {
			results = append(results, SearchResult{
				Source:     source,
				Category:   category,
				Summary:    preview(text, 200),
				Confidence: score,
			})
		}
	}

	add("pricing", "pricing", plansText(s.Plans), 0.8, "price", "cost", "pricing", "plan", "subscription")
	add("launch_timeline", "operations", phasesText(s.Timeline), 0.7, "timeline", "launch", "beta", "release", "schedule")
	add("key_metrics", "operations", metricsText(s.Metrics), 0.6, "metric", "kpi", "target", "funding")
	add("team", "team", teamText(s.Team), 0.6, "team", "role", "founder")
	add("features", "technical", featuresText(s.Features), 0.6, "feature", "security")
	add("notes", "recent_updates", strings.Join(s.Notes, " "), 0, "")

	seen := make(map[string]bool, len(results))
	unique := results[:0]
	for _, r := range results {
		if !seen[r.Source] {
			seen[r.Source] = true
			unique = append(unique, r)
		}
	}
	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Confidence > unique[j].Confidence })

	if len(unique) > maxResults {
		unique = unique[:maxResults]
	}
	return unique
}

// relevance scores how much of the query's significant words appear in text.
func relevance(query, text string) float64 {
	text = strings.ToLower(text)
	words := strings.Fields(query)
	var significant, hits int
	for _, w := range words {
		w = strings.Trim(w, ".,!?:;\"'")
		if len(w) <= 3 {
			continue
		}
		significant++
		if strings.Contains(text, w) {
			hits++
		}
	}
	if significant == 0 {
		return 0
	}
	return float64(hits) / float64(significant)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func plansText(plans map[string]Plan) string {
	parts := make([]string, 0, len(plans))
	for key, p := range plans {
		parts = append(parts, key+" "+p.Name+" "+p.PriceMonthly+" "+p.PriceAnnual)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func phasesText(timeline map[string]Phase) string {
	parts := make([]string, 0, len(timeline))
	for key, p := range timeline {
		parts = append(parts, key+" "+p.Start+" "+p.End)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func metricsText(metrics map[string]string) string {
	parts := make([]string, 0, len(metrics))
	for k, v := range metrics {
		parts = append(parts, k+" "+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func teamText(team []Member) string {
	parts := make([]string, 0, len(team))
	for _, m := range team {
		parts = append(parts, m.Name+" "+m.Role)
	}
	return strings.Join(parts, " ")
}

func featuresText(features []Feature) string {
	parts := make([]string, 0, len(features))
	for _, f := range features {
		parts = append(parts, f.Name+" "+f.Summary)
	}
	return strings.Join(parts, " ")
}
