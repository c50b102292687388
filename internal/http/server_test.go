package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/documents"
	"github.com/fyrsmithlabs/clinicd/internal/logging"
	"github.com/fyrsmithlabs/clinicd/internal/phi"
)

const noteElements = `[
	{"type": "Title", "text": "PATIENT IDENTIFICATION"},
	{"type": "NarrativeText", "text": "Mr. Okafor is a 61-year-old man. MRN: A1234"},
	{"type": "Title", "text": "ACTIVE MEDICAL ISSUES"},
	{"type": "ListItem", "text": "1. Atrial fibrillation"},
	{"type": "ListItem", "text": "2. Gout flare"},
	{"type": "Title", "text": "MEDICATION LIST"},
	{"type": "ListItem", "text": "1. Apixaban 5 mg twice daily"},
	{"type": "Title", "text": "ALLERGIES"},
	{"type": "NarrativeText", "text": "Allergies: penicillin"}
]`

type fakePartitioner struct {
	elements []document.Element
	err      error
}

func (f *fakePartitioner) Partition(_ context.Context, _ string, content io.Reader) ([]document.Element, error) {
	_, _ = io.Copy(io.Discard, content)
	return f.elements, f.err
}

func TestNewServer(t *testing.T) {
	deps := func() Deps {
		return Deps{Documents: documents.NewService(documents.Options{}), Scrubber: phi.MustNew(nil)}
	}

	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 9090,
		}

		server, err := NewServer(deps(), zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
		assert.Equal(t, 50, server.config.MaxUploadMB)
		assert.NotNil(t, server.coord)
		assert.NotNil(t, server.formatter)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(deps(), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(deps(), nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when scrubber is nil", func(t *testing.T) {
		d := deps()
		d.Scrubber = nil
		_, err := NewServer(d, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scrubber cannot be nil")
	})

	t.Run("returns error when documents service is nil", func(t *testing.T) {
		_, err := NewServer(Deps{Scrubber: phi.MustNew(nil)}, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "documents service cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	rec := serve(server, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.LLMAvailable)
	assert.Equal(t, "disabled", resp.LLMProvider)
	assert.Equal(t, 0, resp.Documents)
}

func TestHandleMetrics(t *testing.T) {
	server := setupTestServer(t)

	rec := serve(server, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleUpload_JSON(t *testing.T) {
	server := setupTestServer(t)

	body := `{"filename": "note.json", "use_llm": false, "elements": ` + noteElements + `}`
	rec := serve(server, http.MethodPost, "/api/v1/documents", strings.NewReader(body), echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	doc := decodeDocument(t, rec)
	assert.Equal(t, "note.json", doc.Filename)
	assert.Equal(t, documents.StatusCompleted, doc.Status)
	assert.False(t, doc.UseLLM)
	assert.False(t, doc.Partitioned)
	assert.Equal(t, 9, doc.ElementCount)
	require.NotNil(t, doc.Record)
	assert.Equal(t, []string{"Atrial fibrillation", "Gout flare"}, doc.Record.Diagnoses)
	assert.Contains(t, doc.Discharge, "Atrial fibrillation")

	rec = serve(server, http.MethodGet, "/api/v1/documents/"+doc.ID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, doc.ID, decodeDocument(t, rec).ID)

	rec = serve(server, http.MethodGet, "/api/v1/documents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list DocumentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
}

func TestHandleUpload_JSONDefaultsToLLM(t *testing.T) {
	server := setupTestServer(t)

	body := `{"elements": ` + noteElements + `}`
	rec := serve(server, http.MethodPost, "/api/v1/documents", strings.NewReader(body), echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusCreated, rec.Code)

	doc := decodeDocument(t, rec)
	assert.True(t, doc.UseLLM)
	assert.Equal(t, "document-"+doc.ID+".pdf", doc.Filename)
}

func TestHandleUpload_MissingElements(t *testing.T) {
	server := setupTestServer(t)

	rec := serve(server, http.MethodPost, "/api/v1/documents", strings.NewReader(`{"filename": "x.json"}`), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpload_MultipartElements(t *testing.T) {
	server := setupTestServer(t)

	body, contentType := multipartBody(t, "note.json", `{"elements": `+noteElements+`}`, map[string]string{
		"use_llm":           "false",
		"selected_sections": `["medications", "allergies"]`,
	})
	rec := serve(server, http.MethodPost, "/api/v1/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	doc := decodeDocument(t, rec)
	assert.Equal(t, "note.json", doc.Filename)
	assert.False(t, doc.UseLLM)
	assert.Equal(t, []string{"medications", "allergies"}, doc.SelectedSections)
	require.NotNil(t, doc.Record)
	assert.Equal(t, []document.Medication{{Name: "Apixaban", Dosage: "5 mg"}}, doc.Record.Medications)
}

func TestHandleUpload_MultipartMalformedSections(t *testing.T) {
	server := setupTestServer(t)

	body, contentType := multipartBody(t, "note.json", noteElements, map[string]string{
		"selected_sections": `medications,allergies`,
	})
	rec := serve(server, http.MethodPost, "/api/v1/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, decodeDocument(t, rec).SelectedSections)
}

func TestHandleUpload_MultipartErrors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
		want     int
	}{
		{"unsupported type", "note.docx", "x", nil, http.StatusBadRequest},
		{"invalid elements file", "note.json", "{not json", nil, http.StatusBadRequest},
		{"invalid use_llm", "note.json", noteElements, map[string]string{"use_llm": "sometimes"}, http.StatusBadRequest},
		{"pdf without partitioner", "scan.pdf", "%PDF-1.7", nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t)
			body, contentType := multipartBody(t, tt.filename, tt.content, tt.fields)
			rec := serve(server, http.MethodPost, "/api/v1/documents", body, contentType)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	t.Run("missing file field", func(t *testing.T) {
		server := setupTestServer(t)
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		require.NoError(t, w.WriteField("use_llm", "true"))
		require.NoError(t, w.Close())

		rec := serve(server, http.MethodPost, "/api/v1/documents", &buf, w.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleUpload_PDF(t *testing.T) {
	elements, err := document.DecodeElements(strings.NewReader(noteElements))
	require.NoError(t, err)

	server := setupTestServerWith(t, documents.Options{Partitioner: &fakePartitioner{elements: elements}})
	body, contentType := multipartBody(t, "scan.pdf", "%PDF-1.7", nil)
	rec := serve(server, http.MethodPost, "/api/v1/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	doc := decodeDocument(t, rec)
	assert.True(t, doc.Partitioned)
	assert.Equal(t, "scan.pdf", doc.Filename)
	assert.Equal(t, 9, doc.ElementCount)
}

func TestHandleUpload_PartitionFailure(t *testing.T) {
	server := setupTestServerWith(t, documents.Options{
		Partitioner: &fakePartitioner{err: errors.New("partition API error (500): boom")},
	})

	body, contentType := multipartBody(t, "scan.pdf", "%PDF-1.7", nil)
	rec := serve(server, http.MethodPost, "/api/v1/documents", body, contentType)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["document_id"])

	rec = serve(server, http.MethodGet, "/api/v1/documents/"+resp["document_id"], nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, documents.StatusFailed, decodeDocument(t, rec).Status)

	rec = serve(server, http.MethodGet, "/api/v1/documents/"+resp["document_id"]+"/discharge", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDocumentRoutes_InvalidAndUnknownID(t *testing.T) {
	server := setupTestServer(t)

	paths := []string{"", "/discharge", "/sections"}
	for _, p := range paths {
		rec := serve(server, http.MethodGet, "/api/v1/documents/not-a-uuid"+p, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, p)

		rec = serve(server, http.MethodGet, "/api/v1/documents/6f1c1f0e-8f5e-4c55-9a43-0c1b0f1d2e3a"+p, nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, p)
	}

	rec := serve(server, http.MethodPost, "/api/v1/documents/6f1c1f0e-8f5e-4c55-9a43-0c1b0f1d2e3a/reextract",
		strings.NewReader(`{}`), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReextract(t *testing.T) {
	server := setupTestServer(t)
	doc := uploadNote(t, server)

	rec := serve(server, http.MethodPost, "/api/v1/documents/"+doc.ID+"/reextract",
		strings.NewReader(`{"selected_sections": ["allergies"]}`), echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decodeDocument(t, rec)
	assert.Equal(t, doc.ID, updated.ID)
	assert.Equal(t, []string{"allergies"}, updated.SelectedSections)
	assert.Equal(t, doc.Record.Diagnoses, updated.Record.Diagnoses)
}

func TestHandleDischarge(t *testing.T) {
	server := setupTestServer(t)
	doc := uploadNote(t, server)

	rec := serve(server, http.MethodGet, "/api/v1/documents/"+doc.ID+"/discharge", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMETextPlain))
	assert.Equal(t, doc.Discharge, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Apixaban - 5 mg")
}

func TestHandleSections(t *testing.T) {
	server := setupTestServer(t)
	doc := uploadNote(t, server)

	rec := serve(server, http.MethodGet, "/api/v1/documents/"+doc.ID+"/sections", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var secs []SectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &secs))
	require.Len(t, secs, 4)
	assert.Equal(t, "patient_identification", secs[0].Name)
	assert.Equal(t, "active_medical_issues", secs[1].Name)
	// The header element opens its section.
	assert.Equal(t, 3, secs[1].ElementCount)
	assert.Equal(t, "ACTIVE MEDICAL ISSUES\n1. Atrial fibrillation\n2. Gout flare", secs[1].Text)
}

func TestHandleSearch(t *testing.T) {
	server := setupTestServer(t)
	doc := uploadNote(t, server)

	rec := serve(server, http.MethodGet, "/api/v1/search?query=%20gout%20", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gout", resp.Query)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, doc.ID, resp.Results[0].DocumentID)
	assert.Contains(t, resp.Results[0].Context, "<b>Gout</b>")

	rec = serve(server, http.MethodGet, "/api/v1/search?query=", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Results)
}

func TestHandleExtract(t *testing.T) {
	server := setupTestServer(t)

	body := `{"use_llm": false, "elements": ` + noteElements + `}`
	rec := serve(server, http.MethodPost, "/api/v1/extract", strings.NewReader(body), echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ExtractResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "regex", string(resp.Method))
	assert.False(t, resp.FellBack)
	assert.Equal(t, []string{"Atrial fibrillation", "Gout flare"}, resp.Record.Diagnoses)
	assert.Equal(t, []string{"patient_identification", "active_medical_issues", "medications", "allergies"}, resp.Sections)
	assert.Contains(t, resp.Discharge, "Gout flare")

	// Nothing is stored.
	assert.Equal(t, 0, server.docs.Len())

	rec = serve(server, http.MethodPost, "/api/v1/extract", strings.NewReader(`{}`), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleScrub(t *testing.T) {
	t.Run("scrubs identifiers from content", func(t *testing.T) {
		server := setupTestServer(t)

		body, err := json.Marshal(ScrubRequest{Content: "MRN: 12345678 admitted today"})
		require.NoError(t, err)

		rec := serve(server, http.MethodPost, "/api/v1/scrub", bytes.NewReader(body), echo.MIMEApplicationJSON)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp ScrubResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Content, phi.DefaultRedaction)
		assert.NotContains(t, resp.Content, "12345678")
		assert.GreaterOrEqual(t, resp.FindingsCount, 1)
		assert.Contains(t, resp.ByRule, "medical-record-number")
	})

	t.Run("handles content with no identifiers", func(t *testing.T) {
		server := setupTestServer(t)

		body, err := json.Marshal(ScrubRequest{Content: "Metformin 500 mg PO BID."})
		require.NoError(t, err)

		rec := serve(server, http.MethodPost, "/api/v1/scrub", bytes.NewReader(body), echo.MIMEApplicationJSON)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp ScrubResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Metformin 500 mg PO BID.", resp.Content)
		assert.Equal(t, 0, resp.FindingsCount)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		server := setupTestServer(t)

		rec := serve(server, http.MethodPost, "/api/v1/scrub", strings.NewReader(`{"content": ""}`), echo.MIMEApplicationJSON)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		server := setupTestServer(t)

		rec := serve(server, http.MethodPost, "/api/v1/scrub", strings.NewReader(`{invalid`), echo.MIMEApplicationJSON)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("disabled scrubber returns content unchanged", func(t *testing.T) {
		server, err := NewServer(Deps{
			Documents: documents.NewService(documents.Options{}),
			Scrubber:  phi.NoopScrubber{},
		}, zap.NewNop(), nil)
		require.NoError(t, err)

		content := "MRN: 12345678 admitted today"
		body, err := json.Marshal(ScrubRequest{Content: content})
		require.NoError(t, err)

		rec := serve(server, http.MethodPost, "/api/v1/scrub", bytes.NewReader(body), echo.MIMEApplicationJSON)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp ScrubResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, content, resp.Content)
		assert.Equal(t, 0, resp.FindingsCount)
	})
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 0, // Use random available port
		}

		server, err := NewServer(Deps{
			Documents: documents.NewService(documents.Options{}),
			Scrubber:  phi.MustNew(nil),
		}, zap.NewNop(), cfg)
		require.NoError(t, err)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start()
		}()

		// Give server time to start
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = server.Shutdown(ctx)
		assert.NoError(t, err)

		select {
		case err := <-errChan:
			assert.True(t, err == nil || err == http.ErrServerClosed)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		server := setupTestServer(t)

		rec := serve(server, http.MethodGet, "/health", nil, "")
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("puts request ID in request context", func(t *testing.T) {
		server := setupTestServer(t)

		var seen string
		server.echo.GET("/ctx", func(c echo.Context) error {
			seen = logging.RequestIDFromContext(c.Request().Context())
			return c.NoContent(http.StatusNoContent)
		})

		rec := serve(server, http.MethodGet, "/ctx", nil, "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.NotEmpty(t, seen)
		assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), seen)
	})

	t.Run("ignores malformed client request ID", func(t *testing.T) {
		server := setupTestServer(t)

		var seen string
		server.echo.GET("/ctx", func(c echo.Context) error {
			seen = logging.RequestIDFromContext(c.Request().Context())
			return c.NoContent(http.StatusNoContent)
		})

		req := httptest.NewRequest(http.MethodGet, "/ctx", nil)
		req.Header.Set(echo.HeaderXRequestID, "bad id; drop table")
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, seen)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server := setupTestServer(t)

		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			server.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("limits body size", func(t *testing.T) {
		server, err := NewServer(Deps{
			Documents: documents.NewService(documents.Options{}),
			Scrubber:  phi.MustNew(nil),
		}, zap.NewNop(), &Config{Host: "localhost", Port: 9090, MaxUploadMB: 1})
		require.NoError(t, err)

		big := strings.Repeat("a", 2*1024*1024)
		body := `{"content": "` + big + `"}`
		rec := serve(server, http.MethodPost, "/api/v1/scrub", strings.NewReader(body), echo.MIMEApplicationJSON)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

// setupTestServer creates a test server over an empty document service.
func setupTestServer(t *testing.T) *Server {
	t.Helper()
	return setupTestServerWith(t, documents.Options{})
}

func setupTestServerWith(t *testing.T, opts documents.Options) *Server {
	t.Helper()

	server, err := NewServer(Deps{
		Documents: documents.NewService(opts),
		Scrubber:  phi.MustNew(nil),
	}, zap.NewNop(), &Config{Host: "localhost", Port: 9090})
	require.NoError(t, err)

	return server
}

func serve(server *Server, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func uploadNote(t *testing.T, server *Server) documents.Document {
	t.Helper()

	body := `{"filename": "note.json", "use_llm": false, "elements": ` + noteElements + `}`
	rec := serve(server, http.MethodPost, "/api/v1/documents", strings.NewReader(body), echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeDocument(t, rec)
}

func decodeDocument(t *testing.T, rec *httptest.ResponseRecorder) documents.Document {
	t.Helper()

	var doc documents.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}
