package phi

import (
	"fmt"
	"regexp"
)

// DefaultRedaction is the replacement used when none is configured.
const DefaultRedaction = "[PHI]"

// Config configures the scrubber.
type Config struct {
	Enabled         bool     `koanf:"enabled"`
	Rules           []Rule   `koanf:"rules"`
	RedactionString string   `koanf:"redaction_string"` // "[PHI]" when empty
	AllowList       []string `koanf:"allow_list"`       // matches left in place

	// DetectCredentials adds the gitleaks default rule set.
	DetectCredentials bool `koanf:"detect_credentials"`
}

// Rule is one identifier pattern. When Keywords is set, at least one must
// occur (case-insensitively) in the text before Pattern is tried.
type Rule struct {
	ID          string   `koanf:"id"`
	Description string   `koanf:"description"`
	Pattern     string   `koanf:"pattern"`
	Keywords    []string `koanf:"keywords"`
	Category    string   `koanf:"category"` // identifier, contact or credential
}

// DefaultConfig enables the built-in rules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: DefaultRedaction,
		Rules:           DefaultRules(),
	}
}

// Validate reports the first rule or allow-list pattern that does not
// compile. It fills in the default redaction string.
func (c *Config) Validate() error {
	_, err := c.compile()
	return err
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

type ruleSet struct {
	rules []*compiledRule
	allow []*regexp.Regexp
}

func (c *Config) compile() (*ruleSet, error) {
	if c.RedactionString == "" {
		c.RedactionString = DefaultRedaction
	}
	set := &ruleSet{}
	if !c.Enabled {
		return set, nil
	}

	for i, rule := range c.Rules {
		switch {
		case rule.ID == "":
			return nil, fmt.Errorf("rule %d: ID is required", i)
		case rule.Pattern == "":
			return nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		cr := &compiledRule{Rule: rule, pattern: re}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		set.rules = append(set.rules, cr)
	}

	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		set.allow = append(set.allow, re)
	}
	return set, nil
}
