package documents

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/extraction"
)

var (
	// ErrNotFound indicates no document has the requested ID.
	ErrNotFound = errors.New("document not found")

	// ErrNoElements indicates an upload carried neither elements nor a PDF.
	ErrNoElements = errors.New("document has no elements")

	// ErrUnavailable indicates a PDF upload with no partitioner configured.
	ErrUnavailable = errors.New("pdf partitioning is not configured")

	// ErrPartitionFailed wraps errors from the partitioner.
	ErrPartitionFailed = errors.New("partition failed")
)

// Status is the processing state of a stored document.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Partitioner turns a PDF into document elements.
type Partitioner interface {
	Partition(ctx context.Context, filename string, content io.Reader) ([]document.Element, error)
}

// Upload describes one document to ingest. Exactly one of Elements and PDF
// is expected; Elements wins when both are set.
type Upload struct {
	Filename string
	Elements []document.Element
	PDF      io.Reader

	UseLLM   bool
	Sections []string
}

// Document is a stored document and its latest extraction.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploadDate"`
	Status     Status    `json:"status"`

	// Partitioned is set when elements came from the partition API rather
	// than a pre-partitioned upload.
	Partitioned      bool     `json:"use_api"`
	UseLLM           bool     `json:"use_llm"`
	SelectedSections []string `json:"selected_sections,omitempty"`

	Record       *document.Record  `json:"extracted_data,omitempty"`
	Discharge    string            `json:"discharge_summary,omitempty"`
	ElementCount int               `json:"elements_count,omitempty"`
	Sections     []string          `json:"sections,omitempty"`
	Method       extraction.Method `json:"method,omitempty"`
	FellBack     bool              `json:"fell_back,omitempty"`
	LLMError     string            `json:"llm_error,omitempty"`
	Error        string            `json:"error,omitempty"`

	elements []document.Element
	llmCache map[string]document.Record
}

// Elements returns the stored elements.
func (d *Document) Elements() []document.Element {
	return d.elements
}

// clone copies d for callers; elements are shared read-only.
func (d *Document) clone() Document {
	c := *d
	if d.Record != nil {
		rec := d.Record.Clone()
		c.Record = &rec
	}
	c.SelectedSections = append([]string(nil), d.SelectedSections...)
	c.Sections = append([]string(nil), d.Sections...)
	c.llmCache = nil
	return c
}

// Event is published on documents.{id}.{type}.
type Event struct {
	Type       string            `json:"type"`
	DocumentID string            `json:"document_id"`
	Filename   string            `json:"filename"`
	Status     Status            `json:"status"`
	Method     extraction.Method `json:"method,omitempty"`
	FellBack   bool              `json:"fell_back,omitempty"`
	Sections   []string          `json:"selected_sections,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Event types.
const (
	EventExtracted   = "extracted"
	EventReextracted = "reextracted"
	EventFailed      = "failed"
)
