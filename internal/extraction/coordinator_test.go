package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/logging"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
	"github.com/fyrsmithlabs/clinicd/internal/telemetry"
)

// fakeFieldExtractor returns a canned record or error.
type fakeFieldExtractor struct {
	rec       document.Record
	err       error
	available bool

	calls    int
	selected []string
	closed   bool
}

func (f *fakeFieldExtractor) ExtractFromSections(_ context.Context, _ *sections.Sections, selected []string, _ string) (document.Record, error) {
	f.calls++
	f.selected = selected
	if f.err != nil {
		return document.NewRecord(), f.err
	}
	return f.rec, nil
}

func (f *fakeFieldExtractor) Available() bool  { return f.available }
func (f *fakeFieldExtractor) Provider() string { return "fake" }
func (f *fakeFieldExtractor) Close() error {
	f.closed = true
	return nil
}

func regexOnly(t *testing.T, elements []document.Element) document.Record {
	t.Helper()
	res, err := NewCoordinator(nil, nil, nil).Extract(context.Background(), elements, Options{})
	require.NoError(t, err)
	return res.Record
}

func TestCoordinator_RegexOnly(t *testing.T) {
	llm := &fakeFieldExtractor{available: true}
	c := NewCoordinator(sections.Default(), llm, nil)

	res, err := c.Extract(context.Background(), admissionNote(), Options{UseLLM: false})
	require.NoError(t, err)

	assert.Equal(t, MethodRegex, res.Method)
	assert.False(t, res.FellBack)
	assert.Nil(t, res.LLMRecord)
	assert.Equal(t, 0, llm.calls)
	assert.Equal(t, extractNote(admissionNote()), res.Record)
	assert.True(t, res.Sections.Has(sections.KeyMedications))
}

func TestCoordinator_MergesPerFieldGroup(t *testing.T) {
	llmRec := document.NewRecord()
	llmRec.PatientInfo = document.PatientInfo{Name: "Jane Doe", Gender: "Female"}
	llmRec.Medications = []document.Medication{{Name: "Diltiazem", Dosage: "120 mg ER"}}
	llmRec.Allergies = []string{"penicillin"}
	// Diagnoses and vital signs left empty.

	llm := &fakeFieldExtractor{available: true, rec: llmRec}
	c := NewCoordinator(nil, llm, nil)

	res, err := c.Extract(context.Background(), admissionNote(), Options{
		UseLLM:   true,
		Sections: []string{sections.KeyMedications},
	})
	require.NoError(t, err)

	regex := extractNote(admissionNote())
	assert.Equal(t, MethodLLM, res.Method)
	assert.Equal(t, llmRec.PatientInfo, res.Record.PatientInfo)
	assert.Equal(t, llmRec.Medications, res.Record.Medications)
	assert.Equal(t, llmRec.Allergies, res.Record.Allergies)
	assert.Equal(t, regex.Diagnoses, res.Record.Diagnoses)
	assert.NotEmpty(t, res.Record.Diagnoses)
	assert.Equal(t, regex.VitalSigns, res.Record.VitalSigns)
	assert.Equal(t, regex.Procedures, res.Record.Procedures)
	assert.Equal(t, regex.ClinicalNotes, res.Record.ClinicalNotes)

	assert.Equal(t, []string{sections.KeyMedications}, llm.selected)
	require.NotNil(t, res.LLMRecord)
	assert.Equal(t, llmRec, *res.LLMRecord)
}

func TestCoordinator_LLMIgnoresProceduresAndNotes(t *testing.T) {
	llmRec := document.NewRecord()
	llmRec.Procedures = []string{"made up"}
	llmRec.ClinicalNotes = []string{"made up"}

	c := NewCoordinator(nil, &fakeFieldExtractor{available: true, rec: llmRec}, nil)
	res, err := c.Extract(context.Background(), admissionNote(), Options{UseLLM: true})
	require.NoError(t, err)

	regex := extractNote(admissionNote())
	assert.Equal(t, regex.Procedures, res.Record.Procedures)
	assert.Equal(t, regex.ClinicalNotes, res.Record.ClinicalNotes)
}

func TestCoordinator_TransportErrorFallsBack(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	llm := &fakeFieldExtractor{available: true, err: errors.New("dial tcp: connection refused")}
	c := NewCoordinator(nil, llm, zap.New(core))

	res, err := c.Extract(context.Background(), admissionNote(), Options{UseLLM: true, DocumentLabel: "note.pdf"})
	require.NoError(t, err)

	assert.Equal(t, regexOnly(t, admissionNote()), res.Record)
	assert.Equal(t, MethodRegex, res.Method)
	assert.True(t, res.FellBack)
	assert.Contains(t, res.LLMError, "connection refused")
	assert.Nil(t, res.LLMRecord)
	assert.Equal(t, 1, logs.FilterMessage("llm extraction failed, using regex for all fields").Len())
}

func TestCoordinator_EmptyLLMRecordEqualsRegex(t *testing.T) {
	c := NewCoordinator(nil, &fakeFieldExtractor{available: true, rec: document.NewRecord()}, nil)

	res, err := c.Extract(context.Background(), admissionNote(), Options{UseLLM: true})
	require.NoError(t, err)
	assert.Equal(t, regexOnly(t, admissionNote()), res.Record)
	assert.False(t, res.FellBack)
}

func TestCoordinator_UnavailableLLM(t *testing.T) {
	llm := &fakeFieldExtractor{available: false, rec: document.Record{Diagnoses: []string{"x"}}}
	c := NewCoordinator(nil, llm, nil)

	res, err := c.Extract(context.Background(), admissionNote(), Options{UseLLM: true})
	require.NoError(t, err)
	assert.Equal(t, MethodRegex, res.Method)
	assert.False(t, res.FellBack)
	assert.Equal(t, 0, llm.calls)
	assert.False(t, c.LLMAvailable())
}

func TestCoordinator_CachedLLM(t *testing.T) {
	cached := document.Record{Diagnoses: []string{"Cached diagnosis"}}
	llm := &fakeFieldExtractor{available: true}
	c := NewCoordinator(nil, llm, nil)

	res, err := c.Extract(context.Background(), admissionNote(), Options{UseLLM: true, CachedLLM: &cached})
	require.NoError(t, err)

	assert.Equal(t, 0, llm.calls)
	assert.Equal(t, MethodLLM, res.Method)
	assert.Equal(t, []string{"Cached diagnosis"}, res.Record.Diagnoses)
	// Nil containers in the cached record are normalized.
	assert.Equal(t, []string{}, res.LLMRecord.Allergies)
}

func TestCoordinator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := &fakeFieldExtractor{available: true, err: context.Canceled}
	c := NewCoordinator(nil, llm, nil)

	res, err := c.Extract(ctx, admissionNote(), Options{UseLLM: true})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCoordinator_EmptyDocument(t *testing.T) {
	llm := &fakeFieldExtractor{available: true}
	c := NewCoordinator(nil, llm, nil)

	res, err := c.Extract(context.Background(), nil, Options{UseLLM: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sections.Len())
	assert.Equal(t, document.NewRecord(), res.Record)
}

func TestCoordinator_Close(t *testing.T) {
	llm := &fakeFieldExtractor{available: true}
	c := NewCoordinator(nil, llm, nil)

	require.NoError(t, c.Close())
	assert.True(t, llm.closed)
}

func TestMergeRecords_Sources(t *testing.T) {
	llm := document.NewRecord()
	llm.VitalSigns.HeartRate = "72"

	_, sources := mergeRecords(llm, document.NewRecord())
	assert.Equal(t, MethodLLM, sources[FieldVitalSigns])
	assert.Equal(t, MethodRegex, sources[FieldPatientInfo])
	assert.Equal(t, MethodRegex, sources[FieldDiagnoses])
	assert.Len(t, sources, 5)
}

func TestCoordinator_Provider(t *testing.T) {
	assert.Equal(t, "fake", NewCoordinator(nil, &fakeFieldExtractor{}, nil).Provider())
	assert.Equal(t, ProviderDisabled, NewCoordinator(nil, nil, nil).Provider())
}

func TestCoordinator_Span(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	llm := &fakeFieldExtractor{available: true, err: errors.New("status 503")}
	c := NewCoordinator(nil, llm, nil)
	c.tracer = tt.Tracer(instrumentationName)

	_, err := c.Extract(context.Background(), admissionNote(), Options{UseLLM: true})
	require.NoError(t, err)

	span := tt.Span("extraction.extract")
	require.NotNil(t, span)
	assert.Equal(t, int64(len(admissionNote())), tt.SpanAttr(t, "extraction.extract", "document.elements").AsInt64())
	assert.Equal(t, string(MethodRegex), tt.SpanAttr(t, "extraction.extract", "extraction.method").AsString())
	assert.True(t, tt.SpanAttr(t, "extraction.extract", "extraction.fell_back").AsBool())
	assert.NotEmpty(t, span.Events(), "fallback error recorded on the span")
}

func TestCoordinator_FallbackLogCarriesDocumentID(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	llm := &fakeFieldExtractor{available: true, err: errors.New("status 503")}
	c := NewCoordinator(nil, llm, zap.New(core))

	ctx := logging.WithDocumentID(context.Background(), "doc_7")
	_, err := c.Extract(ctx, admissionNote(), Options{UseLLM: true})
	require.NoError(t, err)

	entries := logs.FilterMessage("llm extraction failed, using regex for all fields").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "doc_7", entries[0].ContextMap()["document.id"])
}
