package extraction

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/logging"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
)

// Field group names used in metrics and merge reports.
const (
	FieldPatientInfo = "patient_info"
	FieldVitalSigns  = "vital_signs"
	FieldDiagnoses   = "diagnoses"
	FieldMedications = "medications"
	FieldAllergies   = "allergies"
)

// Coordinator segments a document and produces its record, merging LLM
// output over the regex result one field group at a time.
//
// The coordinator holds no per-document state and is safe for concurrent
// use when its FieldExtractor is.
type Coordinator struct {
	segmenter *sections.Segmenter
	regex     *RegexExtractor
	llm       FieldExtractor
	logger    *zap.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// NewCoordinator creates a coordinator. A nil segmenter uses the default
// layout and a nil llm disables the LLM path.
func NewCoordinator(segmenter *sections.Segmenter, llm FieldExtractor, logger *zap.Logger) *Coordinator {
	if segmenter == nil {
		segmenter = sections.Default()
	}
	if llm == nil {
		llm = &NoOpFieldExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		segmenter: segmenter,
		regex:     NewRegexExtractor(),
		llm:       llm,
		logger:    logger,
		metrics:   NewMetrics(),
		tracer:    otel.Tracer(instrumentationName),
	}
}

// Segment partitions elements into sections.
func (c *Coordinator) Segment(elements []document.Element) *sections.Sections {
	return c.segmenter.Segment(elements)
}

// LLMAvailable reports whether the LLM path can be used.
func (c *Coordinator) LLMAvailable() bool {
	return c.llm.Available()
}

// Provider names the LLM backend, ProviderDisabled when there is none.
func (c *Coordinator) Provider() string {
	return c.llm.Provider()
}

// Extract produces the record for one document.
//
// The regex record is always computed. When opts.UseLLM is set and an LLM
// result is available (cached or freshly requested), each LLM-covered field
// group takes the LLM value if it is non-empty and the regex value
// otherwise. Procedures and clinical notes always come from regex. An LLM
// failure discards the LLM output and is reported on the result, not
// returned; the only error is cancellation of ctx.
func (c *Coordinator) Extract(ctx context.Context, elements []document.Element, opts Options) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "extraction.extract",
		trace.WithAttributes(
			attribute.Int("document.elements", len(elements)),
			attribute.Bool("extraction.use_llm", opts.UseLLM),
		))
	defer span.End()

	start := time.Now()
	secs := c.segmenter.Segment(elements)
	regexRec := c.regex.Extract(secs, elements)

	result := &Result{
		Record:   regexRec,
		Sections: secs,
		Method:   MethodRegex,
	}

	if opts.UseLLM && (opts.CachedLLM != nil || c.llm.Available()) {
		llmRec, err := c.llmRecord(ctx, secs, opts)
		switch {
		case err != nil && ctx.Err() != nil:
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "extraction cancelled")
			return nil, ctx.Err()
		case err != nil:
			c.metrics.FallbacksTotal.Inc()
			logging.For(ctx, c.logger).Warn("llm extraction failed, using regex for all fields",
				zap.String("document", opts.DocumentLabel),
				zap.String("provider", c.llm.Provider()),
				zap.Error(err))
			span.RecordError(err)
			result.FellBack = true
			result.LLMError = err.Error()
		default:
			merged, sources := mergeRecords(llmRec, regexRec)
			for field, source := range sources {
				c.metrics.FieldSourceTotal.WithLabelValues(field, string(source)).Inc()
			}
			result.Record = merged
			result.Method = MethodLLM
			result.LLMRecord = &llmRec
		}
	}

	result.Duration = time.Since(start)
	c.metrics.ExtractionsTotal.WithLabelValues(string(result.Method)).Inc()
	c.metrics.ExtractionDuration.WithLabelValues(string(result.Method)).Observe(result.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("document.sections", secs.Len()),
		attribute.String("extraction.method", string(result.Method)),
		attribute.Bool("extraction.fell_back", result.FellBack),
	)

	logging.For(ctx, c.logger).Debug("record extracted",
		zap.String("document", opts.DocumentLabel),
		zap.String("method", string(result.Method)),
		zap.Int("sections", secs.Len()),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (c *Coordinator) llmRecord(ctx context.Context, secs *sections.Sections, opts Options) (document.Record, error) {
	if opts.CachedLLM != nil {
		return opts.CachedLLM.Normalized(), nil
	}
	return c.llm.ExtractFromSections(ctx, secs, opts.Sections, opts.DocumentLabel)
}

// Close releases the LLM extractor.
func (c *Coordinator) Close() error {
	return c.llm.Close()
}

// mergeRecords applies the per-field-group OR-fallback and reports which
// source filled each LLM-covered group.
func mergeRecords(llm, regex document.Record) (document.Record, map[string]Method) {
	merged := regex
	sources := map[string]Method{
		FieldPatientInfo: MethodRegex,
		FieldVitalSigns:  MethodRegex,
		FieldDiagnoses:   MethodRegex,
		FieldMedications: MethodRegex,
		FieldAllergies:   MethodRegex,
	}

	if !llm.PatientInfo.IsEmpty() {
		merged.PatientInfo = llm.PatientInfo
		sources[FieldPatientInfo] = MethodLLM
	}
	if !llm.VitalSigns.IsEmpty() {
		merged.VitalSigns = llm.VitalSigns
		sources[FieldVitalSigns] = MethodLLM
	}
	if len(llm.Diagnoses) > 0 {
		merged.Diagnoses = llm.Diagnoses
		sources[FieldDiagnoses] = MethodLLM
	}
	if len(llm.Medications) > 0 {
		merged.Medications = llm.Medications
		sources[FieldMedications] = MethodLLM
	}
	if len(llm.Allergies) > 0 {
		merged.Allergies = llm.Allergies
		sources[FieldAllergies] = MethodLLM
	}

	return merged.Normalized(), sources
}
