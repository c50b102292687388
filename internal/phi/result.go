package phi

// Result contains the scrubbing result.
type Result struct {
	// Original is the input content
	Original string `json:"-"`

	// Scrubbed is the content with identifiers redacted
	Scrubbed string `json:"scrubbed"`

	// Findings locates each detected span (never its value)
	Findings []Finding `json:"findings,omitempty"`

	// ByRule maps rule IDs to finding counts
	ByRule map[string]int `json:"by_rule,omitempty"`
}

// Finding is one detected span.
type Finding struct {
	RuleID     string `json:"rule_id"`
	Category   string `json:"category"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Line       int    `json:"line,omitempty"`
}

// HasFindings returns true if anything was detected.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Count returns the number of findings in category, all when empty.
func (r *Result) Count(category string) int {
	if category == "" {
		return len(r.Findings)
	}
	n := 0
	for _, f := range r.Findings {
		if f.Category == category {
			n++
		}
	}
	return n
}
