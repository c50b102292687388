package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicd/internal/config"
	"github.com/fyrsmithlabs/clinicd/internal/discharge"
	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/extraction"
	"github.com/fyrsmithlabs/clinicd/internal/partition"
	"github.com/fyrsmithlabs/clinicd/internal/phi"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
)

const (
	formatJSON    = "json"
	formatSummary = "summary"
)

var (
	extractSections []string
	extractFormat   string
	extractLLM      bool
	layoutPath      string
	sectionsText    bool
)

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(sectionsCmd)

	rootCmd.PersistentFlags().StringVar(&layoutPath, "layout", "", "section layout file (YAML or TOML)")

	extractCmd.Flags().StringSliceVar(&extractSections, "sections", nil, "section names to send to the LLM")
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", formatJSON, "output format: json or summary")
	extractCmd.Flags().BoolVar(&extractLLM, "llm", false, "use the LLM extractor configured through LLM_* variables")

	sectionsCmd.Flags().BoolVar(&sectionsText, "text", false, "print the text of each section")
}

// extractCmd runs extraction locally on an elements file
var extractCmd = &cobra.Command{
	Use:   "extract <elements.json>",
	Short: "Extract structured fields from an elements file",
	Long: `Extract patient info, vitals, diagnoses, medications, allergies,
procedures and clinical notes from a pre-partitioned elements file.

Regex extraction always runs. With --llm the LLM extractor configured through
the LLM_* environment variables also runs, and its fields take precedence
wherever it produced a value.

Examples:
  # Regex extraction, JSON output
  clnd extract note.json

  # Discharge summary text
  clnd extract --format summary note.json

  # LLM extraction restricted to two sections
  OPENAI_API_KEY=... clnd extract --llm --sections patient_identification,medication_list note.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

// sectionsCmd lists the sections detected in an elements file
var sectionsCmd = &cobra.Command{
	Use:   "sections <elements.json>",
	Short: "List the sections detected in an elements file",
	Long: `List the sections the segmenter detects in a pre-partitioned elements
file, in document order, with their element counts.

Examples:
  clnd sections note.json
  clnd sections --text note.json`,
	Args: cobra.ExactArgs(1),
	RunE: runSections,
}

// extractOutput is the JSON form of a local extraction.
type extractOutput struct {
	Record   document.Record   `json:"extracted_data"`
	Sections []string          `json:"sections"`
	Method   extraction.Method `json:"method"`
	FellBack bool              `json:"fell_back"`
	LLMError string            `json:"llm_error,omitempty"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	if extractFormat != formatJSON && extractFormat != formatSummary {
		return fmt.Errorf("unknown format %q (want %s or %s)", extractFormat, formatJSON, formatSummary)
	}

	elements, err := partition.LoadElements(args[0])
	if err != nil {
		return err
	}
	document.Reindex(elements)

	segmenter, err := loadSegmenter()
	if err != nil {
		return err
	}

	llm := extraction.FieldExtractor(&extraction.NoOpFieldExtractor{})
	if extractLLM {
		llm, err = newFieldExtractor()
		if err != nil {
			return err
		}
		defer llm.Close()
	}

	coord := extraction.NewCoordinator(segmenter, llm, zap.NewNop())

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	res, err := coord.Extract(ctx, elements, extraction.Options{
		Sections:      extractSections,
		UseLLM:        extractLLM,
		DocumentLabel: args[0],
	})
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	if res.FellBack {
		fmt.Fprintf(cmd.ErrOrStderr(), "[clnd] LLM extraction failed, using regex fields: %s\n", res.LLMError)
	}

	out := cmd.OutOrStdout()
	if extractFormat == formatSummary {
		fmt.Fprintln(out, discharge.NewFormatter().Format(res.Record))
		return nil
	}

	data, err := json.MarshalIndent(extractOutput{
		Record:   res.Record,
		Sections: res.Sections.Names(),
		Method:   res.Method,
		FellBack: res.FellBack,
		LLMError: res.LLMError,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func runSections(cmd *cobra.Command, args []string) error {
	elements, err := partition.LoadElements(args[0])
	if err != nil {
		return err
	}
	document.Reindex(elements)

	segmenter, err := loadSegmenter()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, sec := range segmenter.Segment(elements).List() {
		fmt.Fprintf(out, "%-32s %d element(s)\n", sec.Name, len(sec.Elements))
		if sectionsText {
			fmt.Fprintf(out, "%s\n\n", document.JoinText(sec.Elements))
		}
	}
	return nil
}

// loadSegmenter returns the segmenter for --layout, or the built-in one.
func loadSegmenter() (*sections.Segmenter, error) {
	if layoutPath == "" {
		return sections.Default(), nil
	}
	layout, err := sections.LoadLayout(layoutPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load section layout: %w", err)
	}
	return sections.NewSegmenter(layout)
}

// newFieldExtractor builds the LLM extractor from the environment.
func newFieldExtractor() (extraction.FieldExtractor, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if !cfg.LLM.APIKey.IsSet() {
		return nil, fmt.Errorf("--llm requires LLM_API_KEY or the %s provider key", cfg.LLM.Provider)
	}

	var audit extraction.AuditSink = extraction.NoOpAuditSink{}
	if cfg.Audit.Enabled {
		var scrubber phi.Scrubber = phi.NoopScrubber{}
		if cfg.Audit.ScrubPHI {
			phiCfg := phi.DefaultConfig()
			phiCfg.DetectCredentials = cfg.Audit.DetectCredentials
			s, err := phi.New(phiCfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create audit scrubber: %w", err)
			}
			scrubber = s
		}
		audit = extraction.NewFileAuditSink(cfg.Audit.Dir, scrubber)
	}

	return extraction.NewFieldExtractor(extraction.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey.Value(),
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		MaxAttempts: cfg.LLM.MaxRetries + 1,
		MaxBackoff:  cfg.LLM.MaxBackoff,
	}, audit, zap.NewNop())
}
