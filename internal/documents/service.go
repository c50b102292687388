package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicd/internal/discharge"
	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/extraction"
	"github.com/fyrsmithlabs/clinicd/internal/logging"
	"github.com/fyrsmithlabs/clinicd/internal/sanitize"
	"github.com/fyrsmithlabs/clinicd/internal/search"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
)

// Options configures a Service.
type Options struct {
	Coordinator *extraction.Coordinator
	Formatter   *discharge.Formatter

	// Partitioner handles PDF uploads. Nil rejects them with ErrUnavailable.
	Partitioner Partitioner

	// NATS receives document events. Nil disables publishing.
	NATS *nats.Conn

	Logger *zap.Logger
}

// Service stores uploaded documents in memory and runs extraction on them.
//
// Every successful ingestion or re-extraction publishes an event to:
//   - documents.{document_id}.extracted
//   - documents.{document_id}.reextracted
//   - documents.{document_id}.failed
//
// LLM output is cached per document and section selection, so re-extracting
// with a selection seen before costs no API call.
type Service struct {
	coord       *extraction.Coordinator
	formatter   *discharge.Formatter
	partitioner Partitioner
	nats        *nats.Conn
	logger      *zap.Logger
	now         func() time.Time

	mu   sync.RWMutex
	docs map[string]*Document
}

// NewService creates a document service.
func NewService(opts Options) *Service {
	if opts.Coordinator == nil {
		opts.Coordinator = extraction.NewCoordinator(nil, nil, opts.Logger)
	}
	if opts.Formatter == nil {
		opts.Formatter = discharge.NewFormatter()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		coord:       opts.Coordinator,
		formatter:   opts.Formatter,
		partitioner: opts.Partitioner,
		nats:        opts.NATS,
		logger:      opts.Logger,
		now:         time.Now,
		docs:        make(map[string]*Document),
	}
}

// Ingest partitions (when needed), extracts and stores one document.
//
// A partitioning failure stores the document as failed and returns it with
// the error, so callers can report the ID.
func (s *Service) Ingest(ctx context.Context, up Upload) (Document, error) {
	id := uuid.New().String()
	ctx = logging.WithDocumentID(ctx, id)
	filename := sanitize.Filename(up.Filename)
	if strings.TrimSpace(up.Filename) == "" {
		filename = "document-" + id + ".pdf"
	}

	doc := &Document{
		ID:               id,
		Filename:         filename,
		UploadedAt:       s.now().UTC(),
		Status:           StatusProcessing,
		UseLLM:           up.UseLLM,
		SelectedSections: append([]string(nil), up.Sections...),
		llmCache:         make(map[string]document.Record),
	}

	elements := up.Elements
	switch {
	case elements != nil:
	case up.PDF != nil:
		if s.partitioner == nil {
			return Document{}, ErrUnavailable
		}
		doc.Partitioned = true
		var err error
		elements, err = s.partitioner.Partition(ctx, filename, up.PDF)
		if err != nil {
			doc.Status = StatusFailed
			doc.Error = err.Error()
			s.store(doc)
			logging.For(ctx, s.logger).Warn("partition failed", zap.Error(err))
			s.publish(EventFailed, doc)
			return doc.clone(), fmt.Errorf("%w: %s: %w", ErrPartitionFailed, filename, err)
		}
	default:
		return Document{}, ErrNoElements
	}

	document.Reindex(elements)
	doc.elements = elements
	doc.ElementCount = len(elements)

	if err := s.extract(ctx, doc, up.Sections); err != nil {
		return Document{}, err
	}
	doc.Status = StatusCompleted
	s.store(doc)

	logging.For(ctx, s.logger).Info("document ingested",
		zap.Int("elements", doc.ElementCount),
		zap.String("method", string(doc.Method)))
	s.publish(EventExtracted, doc)

	return doc.clone(), nil
}

// Reextract re-runs extraction on a stored document with a new section
// selection. The document keeps its LLM preference.
func (s *Service) Reextract(ctx context.Context, id string, selected []string) (Document, error) {
	s.mu.RLock()
	stored, ok := s.docs[id]
	var work Document
	if ok {
		work = *stored
	}
	s.mu.RUnlock()
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(work.elements) == 0 {
		return Document{}, fmt.Errorf("%w: %s", ErrNoElements, id)
	}
	if logging.ValidID(id) {
		ctx = logging.WithDocumentID(ctx, id)
	}

	if err := s.extract(ctx, &work, selected); err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	stored, ok = s.docs[id]
	if !ok {
		s.mu.Unlock()
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	stored.Record = work.Record
	stored.Discharge = work.Discharge
	stored.Sections = work.Sections
	stored.Method = work.Method
	stored.FellBack = work.FellBack
	stored.LLMError = work.LLMError
	stored.SelectedSections = append([]string(nil), selected...)
	stored.Status = StatusCompleted
	stored.Error = ""
	stored.UploadedAt = s.now().UTC()
	out := stored.clone()
	s.mu.Unlock()

	logging.For(ctx, s.logger).Info("document re-extracted",
		zap.Strings("sections", selected),
		zap.String("method", string(out.Method)))
	s.publish(EventReextracted, &out)
	return out, nil
}

// extract runs the coordinator and fills the extraction fields of doc.
func (s *Service) extract(ctx context.Context, doc *Document, selected []string) error {
	key := selectionKey(selected)

	opts := extraction.Options{
		Sections:      selected,
		UseLLM:        doc.UseLLM,
		DocumentLabel: doc.Filename,
	}
	s.mu.RLock()
	if cached, ok := doc.llmCache[key]; ok {
		opts.CachedLLM = &cached
	}
	s.mu.RUnlock()

	res, err := s.coord.Extract(ctx, doc.elements, opts)
	if err != nil {
		return fmt.Errorf("extract %s: %w", doc.ID, err)
	}

	if res.LLMRecord != nil && opts.CachedLLM == nil {
		s.mu.Lock()
		doc.llmCache[key] = *res.LLMRecord
		s.mu.Unlock()
	}

	rec := res.Record
	doc.Record = &rec
	doc.Discharge = s.formatter.Format(rec)
	doc.Sections = res.Sections.Names()
	doc.Method = res.Method
	doc.FellBack = res.FellBack
	doc.LLMError = res.LLMError
	return nil
}

// Get returns the document with the given ID.
func (s *Service) Get(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc.clone(), nil
}

// List returns every document, most recent first.
func (s *Service) List() []Document {
	s.mu.RLock()
	out := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc.clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out
}

// Sections returns the segmentation of a stored document.
func (s *Service) Sections(id string) ([]sections.Section, error) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	var elements []document.Element
	if ok {
		elements = doc.elements
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.coord.Segment(elements).List(), nil
}

// Search matches query against the diagnoses and clinical notes of every
// extracted document, most recent first.
func (s *Service) Search(query string) []search.Hit {
	docs := s.List()
	entries := make([]search.Entry, 0, len(docs))
	for _, doc := range docs {
		if doc.Record == nil {
			continue
		}
		entries = append(entries, search.Entry{
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			Record:     *doc.Record,
		})
	}
	return search.Search(entries, query)
}

// Len returns the number of stored documents.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Service) store(doc *Document) {
	s.mu.Lock()
	s.docs[doc.ID] = doc
	s.mu.Unlock()
}

// publish sends a document event. Failures are logged, not returned: the
// document is already stored.
func (s *Service) publish(eventType string, doc *Document) {
	if s.nats == nil {
		return
	}

	event := Event{
		Type:       eventType,
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Status:     doc.Status,
		Method:     doc.Method,
		FellBack:   doc.FellBack,
		Sections:   doc.SelectedSections,
		Error:      doc.Error,
		Timestamp:  s.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("marshal document event", zap.Error(err))
		return
	}

	subject := Subject(doc.ID, eventType)
	if err := s.nats.Publish(subject, data); err != nil {
		s.logger.Warn("publish document event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// Subject returns the NATS subject for a document event.
func Subject(documentID, eventType string) string {
	return fmt.Sprintf("documents.%s.%s", documentID, eventType)
}

// selectionKey identifies a section selection in the LLM cache. Order is
// significant because it fixes the prompt layout.
func selectionKey(selected []string) string {
	if len(selected) == 0 {
		return "*"
	}
	return strings.Join(selected, "\x1f")
}
