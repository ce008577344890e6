package knowledge

// Baseline returns the structured facts every snapshot starts from.
// Approved overrides are layered on top by the Provider; the baseline
// itself is never mutated at runtime.
func Baseline() Snapshot {
	return Snapshot{
		Plans: map[string]Plan{
			"parent_plan": {
				Name:         "Parent Plan",
				PriceMonthly: "$20/month",
				PriceAnnual:  "$199/year",
			},
			"school_plan": {
				Name:         "School Plan",
				PriceMonthly: "$12/month per seat",
				PriceAnnual:  "$120/year per seat",
			},
		},
		Timeline: map[string]Phase{
			"private_beta":  {Start: "March 2026", End: "June 2026"},
			"public_launch": {Start: "September 2026"},
		},
		Features: []Feature{
			{
				Path:     "technical.security.rate_limiting",
				Name:     "rate limiting",
				Keywords: []string{"rate limit", "rate-limit", "ratelimit"},
				Summary:  "Rate limiting exists: 60/min default, 20/min writes, 10/min auth",
			},
			{
				Path:     "technical.security.cors",
				Name:     "CORS",
				Keywords: []string{"cors"},
				Summary:  "CORS configured with strict origin allowlist",
			},
		},
		Team: []Member{
			{ID: "stephen", Name: "Stephen", Role: "CEO"},
			{ID: "maya", Name: "Maya", Role: "CTO"},
			{ID: "priya", Name: "Priya", Role: "Lead Teacher"},
		},
		Metrics: map[string]string{
			"pilot_schools":  "3 pilot schools signed",
			"funding_target": "$750k pre-seed raise",
			"mrr_target":     "$10k MRR by public launch",
		},
	}
}
