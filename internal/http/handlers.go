package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/documents"
	"github.com/fyrsmithlabs/clinicd/internal/extraction"
	"github.com/fyrsmithlabs/clinicd/internal/partition"
	"github.com/fyrsmithlabs/clinicd/internal/sanitize"
)

// validateDocumentID rejects :id values that are not canonical UUIDs.
func validateDocumentID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := sanitize.ValidateDocumentID(c.Param("id")); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
		}
		return next(c)
	}
}

// handleHealth reports liveness and whether the LLM path is usable.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:       "ok",
		LLMAvailable: s.coord.LLMAvailable(),
		LLMProvider:  s.coord.Provider(),
		Documents:    s.docs.Len(),
	})
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs := s.docs.List()
	return c.JSON(http.StatusOK, DocumentsResponse{Documents: docs, Total: len(docs)})
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.docs.Get(c.Param("id"))
	if err != nil {
		return s.documentError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

// handleUpload ingests a document. Multipart uploads carry a PDF or an
// elements JSON file in the "file" field with optional "use_llm" and
// "selected_sections" (a JSON array) fields. JSON bodies carry elements
// directly.
func (s *Server) handleUpload(c echo.Context) error {
	var (
		up  documents.Upload
		err error
	)
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		var closeFile func()
		up, closeFile, err = s.multipartUpload(c)
		if err != nil {
			return err
		}
		defer closeFile()
	} else {
		var req UploadRequest
		if err := c.Bind(&req); err != nil {
			s.logger.Warn("invalid upload request", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.Elements == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "elements field is required")
		}
		up = documents.Upload{
			Filename: req.Filename,
			Elements: req.Elements,
			UseLLM:   boolOr(req.UseLLM, true),
			Sections: req.SelectedSections,
		}
	}

	doc, err := s.docs.Ingest(c.Request().Context(), up)
	if err != nil {
		if errors.Is(err, documents.ErrPartitionFailed) {
			s.logger.Warn("partition failed", zap.String("document.id", doc.ID), zap.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, map[string]string{
				"message":     "document partitioning failed",
				"document_id": doc.ID,
			})
		}
		return s.documentError(err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (s *Server) multipartUpload(c echo.Context) (documents.Upload, func(), error) {
	noop := func() {}

	fh, err := c.FormFile("file")
	if err != nil {
		return documents.Upload{}, noop, echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}

	useLLM := true
	if raw := c.FormValue("use_llm"); raw != "" {
		useLLM, err = strconv.ParseBool(raw)
		if err != nil {
			return documents.Upload{}, noop, echo.NewHTTPError(http.StatusBadRequest, "use_llm must be a boolean")
		}
	}

	up := documents.Upload{
		Filename: fh.Filename,
		UseLLM:   useLLM,
		Sections: s.parseSections(c.FormValue("selected_sections")),
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext != ".pdf" && ext != ".json" {
		return documents.Upload{}, noop, echo.NewHTTPError(http.StatusBadRequest, "only PDF and elements JSON files are supported")
	}

	f, err := fh.Open()
	if err != nil {
		return documents.Upload{}, noop, echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}

	if ext == ".json" {
		defer f.Close()
		elements, err := partition.ReadElements(f)
		if err != nil {
			s.logger.Warn("invalid elements file", zap.String("filename", fh.Filename), zap.Error(err))
			return documents.Upload{}, noop, echo.NewHTTPError(http.StatusBadRequest, "invalid elements file")
		}
		up.Elements = elements
		return up, noop, nil
	}

	up.PDF = f
	return up, func() { f.Close() }, nil
}

// parseSections decodes a JSON array of section names. Malformed input
// selects no sections.
func (s *Server) parseSections(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		s.logger.Debug("ignoring malformed selected_sections", zap.Error(err))
		return nil
	}
	return names
}

func (s *Server) handleReextract(c echo.Context) error {
	var req ReextractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	doc, err := s.docs.Reextract(c.Request().Context(), c.Param("id"), req.SelectedSections)
	if err != nil {
		return s.documentError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDischarge(c echo.Context) error {
	doc, err := s.docs.Get(c.Param("id"))
	if err != nil {
		return s.documentError(err)
	}
	if doc.Record == nil {
		return echo.NewHTTPError(http.StatusConflict, "document has no extracted data")
	}
	return c.String(http.StatusOK, doc.Discharge)
}

func (s *Server) handleSections(c echo.Context) error {
	secs, err := s.docs.Sections(c.Param("id"))
	if err != nil {
		return s.documentError(err)
	}

	resp := make([]SectionResponse, 0, len(secs))
	for _, sec := range secs {
		resp = append(resp, SectionResponse{
			Name:         sec.Name,
			ElementCount: len(sec.Elements),
			Text:         document.JoinText(sec.Elements),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSearch(c echo.Context) error {
	query := c.QueryParam("query")
	hits := s.docs.Search(query)
	return c.JSON(http.StatusOK, SearchResponse{
		Query:   strings.TrimSpace(query),
		Results: hits,
		Total:   len(hits),
	})
}

// handleExtract runs extraction on elements without storing anything.
func (s *Server) handleExtract(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Elements == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "elements field is required")
	}
	document.Reindex(req.Elements)

	res, err := s.coord.Extract(c.Request().Context(), req.Elements, extraction.Options{
		Sections: req.SelectedSections,
		UseLLM:   boolOr(req.UseLLM, true),
	})
	if err != nil {
		return s.documentError(err)
	}

	return c.JSON(http.StatusOK, ExtractResponse{
		Record:    res.Record,
		Discharge: s.formatter.Format(res.Record),
		Sections:  res.Sections.Names(),
		Method:    res.Method,
		FellBack:  res.FellBack,
		LLMError:  res.LLMError,
	})
}

// handleScrub redacts patient identifiers from the provided content.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)

	s.logger.Debug("scrubbed content", zap.Int("findings", len(result.Findings)))

	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: len(result.Findings),
		ByRule:        result.ByRule,
	})
}

// documentError maps service errors to HTTP errors.
func (s *Server) documentError(err error) error {
	switch {
	case errors.Is(err, documents.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	case errors.Is(err, documents.ErrNoElements):
		return echo.NewHTTPError(http.StatusBadRequest, "document has no elements")
	case errors.Is(err, documents.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "pdf partitioning is not configured")
	case errors.Is(err, documents.ErrPartitionFailed):
		return echo.NewHTTPError(http.StatusBadGateway, "document partitioning failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
