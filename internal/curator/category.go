package curator

import "strings"

// CategoryRule maps keyword hits to the override category an approved
// contribution lands in.
type CategoryRule struct {
	Category  string
	KeyPrefix string
	Keywords  []string
}

// categoryRules is an ordered, declarative rule table: first match wins,
// so precedence is auditable here instead of buried in conditionals.
// Pricing terms outrank timeline terms outrank metric terms.
var categoryRules = []CategoryRule{
	{
		Category:  "pricing",
		KeyPrefix: "update",
		Keywords:  []string{"price", "cost", "$", "plan", "tier", "subscription"},
	},
	{
		Category:  "milestones",
		KeyPrefix: "milestone",
		Keywords:  []string{"launch", "beta", "timeline", "date", "milestone", "deadline"},
	},
	{
		Category:  "key_metrics",
		KeyPrefix: "metric",
		Keywords:  []string{"metric", "user", "revenue", "mrr", "target", "kpi"},
	},
}

// defaultRule is the generic catch-all for text no rule claims.
var defaultRule = CategoryRule{Category: "recent_updates", KeyPrefix: "update"}

// Classify returns the first rule whose keywords appear in the text.
func Classify(text string) CategoryRule {
	lower := strings.ToLower(text)
	for _, rule := range categoryRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule
			}
		}
	}
	return defaultRule
}
