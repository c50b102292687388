package phi

import (
	"strings"
)

// scanCredentials runs the gitleaks rule set over content, records a finding
// for every occurrence of each detected secret and returns the spans to
// redact.
func (s *scrubber) scanCredentials(content string, result *Result) []span {
	s.credentialsMu.Lock()
	leaks := s.credentials.DetectString(content)
	s.credentialsMu.Unlock()

	type key struct {
		rule  string
		start int
	}
	seen := make(map[key]bool)

	var spans []span
	for _, f := range leaks {
		if f.Secret == "" || s.isAllowed(f.Secret) {
			continue
		}
		for from := 0; from < len(content); {
			i := strings.Index(content[from:], f.Secret)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(f.Secret)
			from = end

			k := key{rule: f.RuleID, start: start}
			if seen[k] {
				continue
			}
			seen[k] = true

			result.Findings = append(result.Findings, Finding{
				RuleID:     f.RuleID,
				Category:   CategoryCredential,
				StartIndex: start,
				EndIndex:   end,
				Line:       strings.Count(content[:start], "\n") + 1,
			})
			result.ByRule[f.RuleID]++
			spans = append(spans, span{start: start, end: end})
		}
	}
	return spans
}
