package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/clinicd/internal/phi"
	"github.com/fyrsmithlabs/clinicd/internal/sanitize"
)

// promptPreviewRunes bounds the prompt excerpt kept in audit records.
const promptPreviewRunes = 500

// AuditRecord is written once per successful LLM call.
type AuditRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Model           string    `json:"model"`
	Provider        string    `json:"provider"`
	Document        string    `json:"document"`
	Response        any       `json:"response"`
	RawResponseText string    `json:"raw_response_text"`
	PromptPreview   string    `json:"prompt_preview"`

	// Prompt is the full prompt; only PromptPreview is persisted.
	Prompt string `json:"-"`
}

// AuditSink persists audit records.
type AuditSink interface {
	Write(ctx context.Context, rec AuditRecord) error
}

// FileAuditSink writes each record to its own JSON file in Dir.
type FileAuditSink struct {
	Dir      string
	Scrubber phi.Scrubber
}

// NewFileAuditSink creates a sink writing under dir. A nil scrubber leaves
// prompt previews unredacted.
func NewFileAuditSink(dir string, scrubber phi.Scrubber) *FileAuditSink {
	if scrubber == nil {
		scrubber = phi.NoopScrubber{}
	}
	return &FileAuditSink{Dir: dir, Scrubber: scrubber}
}

// Write stores rec as {document stem}_{provider}_api_{YYYYmmdd_HHMMSS}.json.
// An existing file with the same name is overwritten.
func (s *FileAuditSink) Write(_ context.Context, rec AuditRecord) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Prompt != "" && s.Scrubber != nil {
		rec.PromptPreview = promptPreview(s.Scrubber.Scrub(rec.Prompt).Scrubbed)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	path, err := sanitize.ValidatePath(filepath.Join(s.Dir, AuditFilename(rec.Document, rec.Provider, rec.Timestamp)), s.Dir)
	if err != nil {
		return fmt.Errorf("audit record path: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// AuditFilename names the audit file for a document label.
func AuditFilename(label, provider string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_api_%s.json", sanitize.Stem(label), sanitize.Token(provider), ts.Format("20060102_150405"))
}

// promptPreview keeps the first promptPreviewRunes runes, marking truncation
// with "...".
func promptPreview(prompt string) string {
	if utf8.RuneCountInString(prompt) <= promptPreviewRunes {
		return prompt
	}
	runes := []rune(prompt)
	return string(runes[:promptPreviewRunes]) + "..."
}

// NoOpAuditSink discards records.
type NoOpAuditSink struct{}

// Write does nothing.
func (NoOpAuditSink) Write(context.Context, AuditRecord) error { return nil }

var (
	_ AuditSink = (*FileAuditSink)(nil)
	_ AuditSink = NoOpAuditSink{}
)
