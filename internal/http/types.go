package http

import (
	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/documents"
	"github.com/fyrsmithlabs/clinicd/internal/extraction"
	"github.com/fyrsmithlabs/clinicd/internal/search"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	LLMAvailable bool   `json:"llm_available"`
	LLMProvider  string `json:"llm_provider"`
	Documents    int    `json:"documents"`
}

// UploadRequest is the JSON form of POST /api/v1/documents, carrying
// pre-partitioned elements. PDFs are uploaded as multipart form data.
type UploadRequest struct {
	Filename         string             `json:"filename"`
	Elements         []document.Element `json:"elements"`
	UseLLM           *bool              `json:"use_llm,omitempty"`
	SelectedSections []string           `json:"selected_sections,omitempty"`
}

// ReextractRequest is the request body for POST /api/v1/documents/:id/reextract.
type ReextractRequest struct {
	SelectedSections []string `json:"selected_sections"`
}

// DocumentsResponse is the response body for GET /api/v1/documents.
type DocumentsResponse struct {
	Documents []documents.Document `json:"documents"`
	Total     int                  `json:"total"`
}

// SectionResponse is one entry of GET /api/v1/documents/:id/sections.
type SectionResponse struct {
	Name         string `json:"name"`
	ElementCount int    `json:"element_count"`
	Text         string `json:"text"`
}

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	Query   string       `json:"query"`
	Results []search.Hit `json:"results"`
	Total   int          `json:"total"`
}

// ExtractRequest is the request body for POST /api/v1/extract.
type ExtractRequest struct {
	Elements         []document.Element `json:"elements"`
	UseLLM           *bool              `json:"use_llm,omitempty"`
	SelectedSections []string           `json:"selected_sections,omitempty"`
}

// ExtractResponse is the response body for POST /api/v1/extract.
type ExtractResponse struct {
	Record    document.Record   `json:"extracted_data"`
	Discharge string            `json:"discharge_summary"`
	Sections  []string          `json:"sections"`
	Method    extraction.Method `json:"method"`
	FellBack  bool              `json:"fell_back"`
	LLMError  string            `json:"llm_error,omitempty"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string         `json:"content"`
	FindingsCount int            `json:"findings_count"`
	ByRule        map[string]int `json:"by_rule,omitempty"`
}
