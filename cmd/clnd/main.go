// Package main implements the clnd CLI for extracting clinical notes locally
// and for manual operations against the clinicd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the clinicd HTTP server
	serverURL string
	// version information
	version = "dev"

	uploadUseLLM   bool
	uploadSections []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clnd",
	Short: "CLI for clinical note extraction",
	Long: `clnd extracts structured fields from partitioned clinical notes.

The extract and sections commands run locally on an elements JSON file.
The upload, search, scrub and health commands talk to a clinicd server.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "clinicd server URL")
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(scrubCmd)
	rootCmd.AddCommand(healthCmd)

	uploadCmd.Flags().BoolVar(&uploadUseLLM, "use-llm", true, "request LLM extraction")
	uploadCmd.Flags().StringSliceVar(&uploadSections, "sections", nil, "section names to send to the LLM")
}

// uploadCmd uploads a PDF or elements file to the server
var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a PDF or elements JSON file to clinicd",
	Long: `Upload a clinical note to the clinicd server for extraction.

PDF files are partitioned by the server; .json files must hold
pre-partitioned elements.

Examples:
  # Upload a PDF
  clnd upload admission.pdf

  # Regex extraction only
  clnd upload --use-llm=false note.json

  # Restrict the LLM prompt to two sections
  clnd upload --sections patient_identification,medication_list note.json`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

// searchCmd searches stored documents
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search documents stored on the server",
	Long: `Search the filenames, extracted fields and text of stored documents.

Examples:
  clnd search apixaban
  clnd search "atrial fibrillation"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

// scrubCmd redacts patient identifiers from files or stdin
var scrubCmd = &cobra.Command{
	Use:   "scrub [file]",
	Short: "Redact patient identifiers from a file or stdin",
	Long: `Redact patient identifiers (MRNs, phone numbers, SSNs, dates of birth)
from a file or stdin using the clinicd server.

Examples:
  # Scrub a file
  clnd scrub note.txt

  # Scrub from stdin
  cat note.txt | clnd scrub -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScrub,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check clinicd server health",
	Long: `Check the health status of the clinicd HTTP server.

Examples:
  # Check health
  clnd health

  # Check health on a different server
  clnd health --server http://localhost:8080`,
	RunE: runHealth,
}

// ScrubRequest matches internal/http ScrubRequest
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse matches internal/http ScrubResponse
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status       string `json:"status"`
	LLMAvailable bool   `json:"llm_available"`
	LLMProvider  string `json:"llm_provider"`
	Documents    int    `json:"documents"`
}

// documentSummary is the subset of a stored document the CLI prints.
type documentSummary struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	Status       string `json:"status"`
	ElementCount int    `json:"elements_count"`
	Error        string `json:"error,omitempty"`
}

// searchResponse matches internal/http SearchResponse
type searchResponse struct {
	Query   string `json:"query"`
	Results []struct {
		DocumentID string `json:"documentId"`
		Filename   string `json:"filename"`
		Context    string `json:"context"`
		MatchCount int    `json:"matchCount"`
	} `json:"results"`
	Total int `json:"total"`
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" && ext != ".json" {
		return fmt.Errorf("unsupported file type %q (want .pdf or .json)", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := w.WriteField("use_llm", strconv.FormatBool(uploadUseLLM)); err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if len(uploadSections) > 0 {
		selected, err := json.Marshal(uploadSections)
		if err != nil {
			return fmt.Errorf("failed to encode sections: %w", err)
		}
		if err := w.WriteField("selected_sections", string(selected)); err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/documents", serverURL)
	httpReq, err := http.NewRequest(http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	var doc documentSummary
	if err := doJSON(httpReq, http.StatusCreated, &doc); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Document ID: %s\n", doc.ID)
	fmt.Fprintf(out, "Status:      %s\n", doc.Status)
	fmt.Fprintf(out, "Elements:    %d\n", doc.ElementCount)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	endpoint := fmt.Sprintf("%s/api/v1/search?query=%s", serverURL, url.QueryEscape(query))
	httpReq, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	var resp searchResponse
	if err := doJSON(httpReq, http.StatusOK, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resp.Total == 0 {
		fmt.Fprintf(out, "No documents match %q\n", resp.Query)
		return nil
	}
	for _, hit := range resp.Results {
		fmt.Fprintf(out, "%s  %s  (%d match(es))\n", hit.DocumentID, hit.Filename, hit.MatchCount)
		if hit.Context != "" {
			fmt.Fprintf(out, "    %s\n", hit.Context)
		}
	}
	fmt.Fprintf(out, "%d result(s)\n", resp.Total)
	return nil
}

// runScrub handles the scrub command
func runScrub(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	// Read input from file or stdin
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	if len(content) == 0 {
		return fmt.Errorf("no content to scrub")
	}

	reqJSON, err := json.Marshal(ScrubRequest{Content: string(content)})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/scrub", serverURL)
	httpReq, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var scrubResp ScrubResponse
	if err := doJSON(httpReq, http.StatusOK, &scrubResp); err != nil {
		return err
	}

	// Output scrubbed content to stdout
	fmt.Fprint(cmd.OutOrStdout(), scrubResp.Content)

	// If findings were made, log to stderr
	if scrubResp.FindingsCount > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "\n[clnd] Redacted %d identifier(s)\n", scrubResp.FindingsCount)
	}

	return nil
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/health", serverURL)
	httpReq, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	var healthResp HealthResponse
	if err := doJSON(httpReq, http.StatusOK, &healthResp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", healthResp.Status)
	fmt.Fprintf(out, "LLM Provider:  %s (available: %t)\n", healthResp.LLMProvider, healthResp.LLMAvailable)
	fmt.Fprintf(out, "Documents:     %d\n", healthResp.Documents)
	return nil
}

// doJSON sends req and decodes the JSON body into v when the status matches.
func doJSON(req *http.Request, wantStatus int, v interface{}) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
