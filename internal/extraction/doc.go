// Package extraction turns a segmented admission note into a clinical
// record.
//
// Two paths produce field groups:
//   - RegexExtractor applies ordered pattern tables (patterns.go) to the
//     section map and the whole-document text. It always runs.
//   - A FieldExtractor sends the chosen sections to an LLM (OpenAI or
//     Anthropic) in one batched prompt and decodes the JSON answer.
//
// Coordinator merges them per field group: patient_info, vital_signs,
// diagnoses, medications and allergies take the LLM value when it is
// non-empty and the regex value otherwise. Procedures and clinical notes
// are regex-only. Any LLM failure falls back to the full regex record and
// is reported on the Result.
//
// # Usage
//
//	llm, err := extraction.NewFieldExtractor(cfg, extraction.NewFileAuditSink(dir, scrubber), logger)
//	if err != nil {
//	    return err
//	}
//	coord := extraction.NewCoordinator(sections.Default(), llm, logger)
//	defer coord.Close()
//
//	res, err := coord.Extract(ctx, elements, extraction.Options{UseLLM: true})
//	if res.FellBack {
//	    log.Printf("llm unavailable: %s", res.LLMError)
//	}
//
// # Retries
//
// LLM calls are paced by a token bucket (50 per minute, burst 5). Rate
// limiting (429), server errors and network failures are retried up to
// Config.MaxAttempts times with backoff starting at Config.BaseBackoff,
// doubling per retry and capped at Config.MaxBackoff. Waiting honours
// context cancellation and nothing keeps running after a call returns.
//
// # Malformed output
//
// Responses may be wrapped in markdown code fences. Anything that is not a
// JSON object of the expected shape (checked against a JSON schema) yields
// an empty record and a nil error, so the coordinator uses regex for every
// field group.
package extraction
