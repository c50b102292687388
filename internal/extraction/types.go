package extraction

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
)

// FieldExtractor produces the LLM-covered field groups of a record
// (patient_info, vital_signs, diagnoses, medications, allergies) from a
// segmented document. Procedures and clinical notes are never set.
type FieldExtractor interface {
	// ExtractFromSections sends the text of the selected sections (every
	// section when selected is empty) and returns the parsed field groups.
	// Output that cannot be parsed yields an empty record and a nil error;
	// transport failures and exhausted throttling retries yield an error.
	ExtractFromSections(ctx context.Context, secs *sections.Sections, selected []string, label string) (document.Record, error)

	// Available returns true if the extractor is configured and ready.
	Available() bool

	// Provider names the backing service ("openai", "anthropic").
	Provider() string

	// Close releases network resources held by the extractor.
	Close() error
}

// Provider names.
const (
	ProviderDisabled  = "disabled"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds LLM provider configuration.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// MaxAttempts bounds the number of requests per call, first try included.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns the OpenAI defaults used when fields are unset.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderOpenAI,
		Model:       defaultOpenAIModel,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		Timeout:     defaultTimeout,
		MaxAttempts: defaultMaxAttempts,
		BaseBackoff: defaultBaseBackoff,
		MaxBackoff:  defaultMaxBackoff,
	}
}

// Options controls one coordinator call.
type Options struct {
	// Sections restricts the LLM prompt to these section names, in this
	// order. Regex extraction always sees the whole document.
	Sections []string

	// UseLLM requests the LLM path. It is ignored when no available
	// FieldExtractor is configured.
	UseLLM bool

	// DocumentLabel names the document in audit records.
	DocumentLabel string

	// CachedLLM, when set, is used in place of a new LLM call.
	CachedLLM *document.Record
}

// Method reports which path produced a record.
type Method string

const (
	MethodRegex Method = "regex"
	MethodLLM   Method = "llm"
)

// Result is the outcome of one coordinator call.
type Result struct {
	Record   document.Record    `json:"record"`
	Sections *sections.Sections `json:"-"`
	Method   Method             `json:"method"`
	// FellBack is set when the LLM path was requested but failed and the
	// record is entirely regex-derived.
	FellBack bool   `json:"fell_back"`
	LLMError string `json:"llm_error,omitempty"`
	// LLMRecord is the raw LLM output, for callers that cache it across
	// re-extractions.
	LLMRecord *document.Record `json:"-"`
	Duration  time.Duration    `json:"-"`
}
