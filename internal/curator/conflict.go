package curator

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/phonologic/curator/internal/knowledge"
	"github.com/phonologic/curator/internal/staging"
)

// Scanner confidences. The assertion-negation check is the cheapest and
// most reliable signal available, so it scores highest.
const (
	confidenceFeatureNegation = 0.9
	confidencePricing         = 0.8
	confidenceTimeline        = 0.7
	confidenceTeamRole        = 0.7
	similarityFloor           = 0.5
	duplicateThreshold        = 0.8
)

var (
	priceRe = regexp.MustCompile(`\$(\d+(?:\.\d{2})?)`)
	monthRe = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\b\s*(\d{1,2})?,?\s*(\d{4})?`)

	pricingKeywords  = []string{"price", "cost", "month", "subscription", "plan"}
	timelineKeywords = []string{"launch", "beta", "timeline", "release"}
	negationPhrases  = []string{
		"don't have", "do not have", "doesn't have", "does not have",
		"no ", "not implemented", "need to add", "should add", "missing",
	}
)

// roleKeywords is an ordered list so detection is deterministic.
var roleKeywords = []struct {
	keyword string
	role    string
}{
	{"cto", "CTO"},
	{"ceo", "CEO"},
	{"founder", "Founder"},
	{"developer", "Developer"},
	{"teacher", "Teacher"},
}

// Detector runs a fixed pipeline of independent heuristic scanners plus a
// similarity-search fallback. Detection is best-effort and advisory: a
// failing scanner contributes no conflicts and never aborts a submission.
type Detector struct {
	log *zap.Logger
}

// NewDetector creates a conflict detector.
func NewDetector(log *zap.Logger) *Detector {
	return &Detector{log: log.With(zap.String("module", "detector"))}
}

type scanner struct {
	name string
	scan func(ctx context.Context, text string, snap knowledge.Snapshot) ([]staging.Conflict, error)
}

// Detect runs every scanner in a fixed, documented order (pricing,
// timeline, feature negation, team role, similarity fallback), merges the
// results, deduplicates by field path with first occurrence winning, and
// sorts by descending confidence.
func (d *Detector) Detect(ctx context.Context, text string, snap knowledge.Snapshot) []staging.Conflict {
	// Staged text arrives HTML-escaped. Match on the unescaped view so
	// escaped apostrophes and quotes cannot mask phrases like "don't have";
	// previews that embed the text re-escape it before storage.
	text = html.UnescapeString(text)

	scanners := []scanner{
		{"pricing", d.scanPricing},
		{"timeline", d.scanTimeline},
		{"feature_negation", d.scanFeatureNegation},
		{"team_role", d.scanTeamRole},
		{"similarity", d.scanSimilarity},
	}

	var all []staging.Conflict
	for _, s := range scanners {
		conflicts, err := s.scan(ctx, text, snap)
		if err != nil {
			d.log.Warn("scanner failed, contributing no conflicts",
				zap.String("scanner", s.name), zap.Error(err))
			continue
		}
		all = append(all, conflicts...)
	}

	seen := make(map[string]bool, len(all))
	unique := all[:0]
	for _, c := range all {
		if !seen[c.FieldPath] {
			seen[c.FieldPath] = true
			unique = append(unique, c)
		}
	}
	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Confidence > unique[j].Confidence })
	return unique
}

// scanPricing extracts currency tokens and, when pricing context keywords
// are present, compares them against the known prices of the plan the
// text most plausibly refers to. A mismatch against every known price of
// that plan is a contradiction.
func (d *Detector) scanPricing(_ context.Context, text string, snap knowledge.Snapshot) ([]staging.Conflict, error) {
	lower := strings.ToLower(text)
	matches := priceRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 || !containsAny(lower, pricingKeywords) || len(snap.Plans) == 0 {
		return nil, nil
	}

	planKey := pickPlan(lower, snap.Plans)
	plan, ok := snap.Plans[planKey]
	if !ok {
		return nil, nil
	}
	known := append(numbersIn(plan.PriceMonthly), numbersIn(plan.PriceAnnual)...)
	if len(known) == 0 {
		return nil, nil
	}

	for _, m := range matches {
		proposed := m[1]
		if containsNumber(known, proposed) {
			continue
		}
		return []staging.Conflict{{
			FieldPath:     "pricing." + planKey,
			ExistingValue: staging.Preview(fmt.Sprintf("Monthly: %s, Annual: %s", plan.PriceMonthly, plan.PriceAnnual)),
			ProposedValue: staging.Preview("$" + proposed),
			Type:          staging.ConflictContradiction,
			Confidence:    confidencePricing,
		}}, nil
	}
	return nil, nil
}

// pickPlan chooses the plan the text refers to: a plan whose distinctive
// name token appears wins, otherwise the flagship parent plan is assumed
// for generic pricing talk.
func pickPlan(lower string, plans map[string]knowledge.Plan) string {
	keys := make([]string, 0, len(plans))
	for k := range plans {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		token := strings.SplitN(key, "_", 2)[0]
		if strings.Contains(lower, token) {
			return key
		}
	}
	if _, ok := plans["parent_plan"]; ok {
		return "parent_plan"
	}
	return keys[0]
}

// scanTimeline extracts date-like tokens and, when timeline keywords are
// present, compares them against the scheduled start of any phase whose
// name fully appears in the text. A different month or year is an update
// conflict: probably stale data, not an active falsehood.
func (d *Detector) scanTimeline(_ context.Context, text string, snap knowledge.Snapshot) ([]staging.Conflict, error) {
	lower := strings.ToLower(text)
	m := monthRe.FindStringSubmatch(lower)
	if m == nil || !containsAny(lower, timelineKeywords) {
		return nil, nil
	}
	proposedMonth := m[1][:3]
	proposedYear := m[3]

	keys := make([]string, 0, len(snap.Timeline))
	for k := range snap.Timeline {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conflicts []staging.Conflict
	for _, key := range keys {
		phase := snap.Timeline[key]
		if phase.Start == "" || !phaseMentioned(lower, key) {
			continue
		}
		existing := strings.ToLower(phase.Start)
		sameMonth := strings.Contains(existing, proposedMonth)
		sameYear := proposedYear == "" || strings.Contains(existing, proposedYear)
		if sameMonth && sameYear {
			continue
		}
		conflicts = append(conflicts, staging.Conflict{
			FieldPath:     "launch_timeline." + key + ".start",
			ExistingValue: staging.Preview(phase.Start),
			ProposedValue: staging.Preview(strings.TrimSpace(m[0])),
			Type:          staging.ConflictUpdate,
			Confidence:    confidenceTimeline,
		})
	}
	return conflicts, nil
}

// phaseMentioned reports whether every name token of the phase appears in
// the text, e.g. "private_beta" needs both "private" and "beta".
func phaseMentioned(lower, phaseKey string) bool {
	for _, token := range strings.Split(phaseKey, "_") {
		if !strings.Contains(lower, token) {
			return false
		}
	}
	return true
}

// scanFeatureNegation flags claims that a known-true capability is false
// or missing: a feature keyword co-occurring with a negation phrase.
func (d *Detector) scanFeatureNegation(_ context.Context, text string, snap knowledge.Snapshot) ([]staging.Conflict, error) {
	lower := strings.ToLower(text)
	if !containsAny(lower, negationPhrases) {
		return nil, nil
	}

	var conflicts []staging.Conflict
	for _, feature := range snap.Features {
		if !containsAny(lower, feature.Keywords) {
			continue
		}
		conflicts = append(conflicts, staging.Conflict{
			FieldPath:     feature.Path,
			ExistingValue: staging.Preview(feature.Summary),
			ProposedValue: staging.Preview("Claim that " + feature.Name + " is missing: " + html.EscapeString(text)),
			Type:          staging.ConflictContradiction,
			Confidence:    confidenceFeatureNegation,
		})
	}
	return conflicts, nil
}

// scanTeamRole flags a known team member being assigned a role that
// disagrees with their known role. One conflict per member is enough.
func (d *Detector) scanTeamRole(_ context.Context, text string, snap knowledge.Snapshot) ([]staging.Conflict, error) {
	lower := strings.ToLower(text)

	var conflicts []staging.Conflict
	for _, member := range snap.Team {
		if member.Name == "" || !strings.Contains(lower, strings.ToLower(member.Name)) {
			continue
		}
		for _, rk := range roleKeywords {
			if !strings.Contains(lower, rk.keyword) {
				continue
			}
			if strings.Contains(strings.ToLower(member.Role), strings.ToLower(rk.role)) {
				continue
			}
			conflicts = append(conflicts, staging.Conflict{
				FieldPath:     "team." + member.ID + ".role",
				ExistingValue: staging.Preview(member.Name + " is " + member.Role),
				ProposedValue: staging.Preview("Claim that " + member.Name + " is " + rk.role),
				Type:          staging.ConflictContradiction,
				Confidence:    confidenceTeamRole,
			})
			break
		}
	}
	return conflicts, nil
}

// scanSimilarity queries the knowledge base's own retrieval function with
// the raw text. Hits above the floor become duplicate conflicts at high
// similarity and update conflicts at moderate similarity.
func (d *Detector) scanSimilarity(ctx context.Context, text string, snap knowledge.Snapshot) ([]staging.Conflict, error) {
	results := snap.Search(ctx, text, 3)

	var conflicts []staging.Conflict
	for _, r := range results {
		if r.Confidence <= similarityFloor {
			continue
		}
		conflictType := staging.ConflictUpdate
		if r.Confidence > duplicateThreshold {
			conflictType = staging.ConflictDuplicate
		}
		conflicts = append(conflicts, staging.Conflict{
			FieldPath:     r.Category + "." + r.Source,
			ExistingValue: staging.Preview(r.Summary),
			ProposedValue: staging.Preview(html.EscapeString(text)),
			Type:          conflictType,
			Confidence:    r.Confidence,
		})
	}
	return conflicts, nil
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// numbersIn extracts the dollar amounts mentioned in a price string.
func numbersIn(price string) []string {
	var out []string
	for _, m := range priceRe.FindAllStringSubmatch(price, -1) {
		out = append(out, m[1])
	}
	return out
}

func containsNumber(known []string, n string) bool {
	for _, k := range known {
		if k == n {
			return true
		}
	}
	return false
}
