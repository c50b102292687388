package extraction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
)

// NewFieldExtractor creates an LLM field extractor based on configuration.
// A disabled or empty provider yields a NoOpFieldExtractor.
func NewFieldExtractor(cfg Config, audit AuditSink, logger *zap.Logger) (FieldExtractor, error) {
	switch cfg.Provider {
	case "", ProviderDisabled:
		return &NoOpFieldExtractor{}, nil
	case ProviderOpenAI, ProviderAnthropic:
		return newLLMExtractor(cfg, audit, logger)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// NoOpFieldExtractor is a FieldExtractor that is never available.
type NoOpFieldExtractor struct{}

// ExtractFromSections returns an empty record.
func (n *NoOpFieldExtractor) ExtractFromSections(context.Context, *sections.Sections, []string, string) (document.Record, error) {
	return document.NewRecord(), nil
}

// Available returns false for NoOpFieldExtractor.
func (n *NoOpFieldExtractor) Available() bool {
	return false
}

// Provider returns ProviderDisabled.
func (n *NoOpFieldExtractor) Provider() string {
	return ProviderDisabled
}

// Close does nothing.
func (n *NoOpFieldExtractor) Close() error {
	return nil
}

var _ FieldExtractor = (*NoOpFieldExtractor)(nil)
