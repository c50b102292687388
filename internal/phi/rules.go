package phi

// Rule categories.
const (
	CategoryIdentifier = "identifier"
	CategoryContact    = "contact"
	CategoryCredential = "credential"
)

// DefaultRules returns the built-in detection rules: direct patient
// identifiers as they appear in admission notes, contact details, and the
// credentials most likely to leak into prompts.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "medical-record-number",
			Description: "Medical record number",
			Pattern:     `(?i)\b(?:mrn|medical\s+record\s+number|patient\s+id)[:\s#]+[A-Z0-9-]{3,}`,
			Keywords:    []string{"mrn", "record", "patient"},
			Category:    CategoryIdentifier,
		},
		{
			ID:          "date-of-birth",
			Description: "Labelled date of birth",
			Pattern:     `(?i)\b(?:date\s*of\s*birth|dob|birth\s*date)[:\s]+\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`,
			Keywords:    []string{"birth", "dob"},
			Category:    CategoryIdentifier,
		},
		{
			ID:          "ssn",
			Description: "US social security number",
			Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			Category:    CategoryIdentifier,
		},
		{
			ID:          "titled-name",
			Description: "Honorific followed by a name",
			Pattern:     `\b(?:Mrs|Ms|Mr|Miss|Mx)\.\s+[A-Z][a-z]*(?:[ \t]+[A-Z][a-z]+)?`,
			Category:    CategoryIdentifier,
		},
		{
			ID:          "labelled-name",
			Description: "Patient name label",
			Pattern:     `(?i:patient\s*)?(?i:name)[:\s]+[A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)+`,
			Keywords:    []string{"name"},
			Category:    CategoryIdentifier,
		},
		{
			ID:          "phone-number",
			Description: "North American phone number",
			Pattern:     `\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`,
			Category:    CategoryContact,
		},
		{
			ID:          "email-address",
			Description: "Email address",
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
			Keywords:    []string{"@"},
			Category:    CategoryContact,
		},
		{
			ID:          "generic-api-key",
			Description: "Generic API key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords:    []string{"api", "key"},
			Category:    CategoryCredential,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI API key",
			Pattern:     `sk-(?:proj-)?[A-Za-z0-9_\-]{20,}`,
			Category:    CategoryCredential,
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-.=]{20,}`,
			Keywords:    []string{"bearer"},
			Category:    CategoryCredential,
		},
	}
}
