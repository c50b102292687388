// Package phi detects and redacts protected health information in free
// text: record numbers, dates of birth, titled patient names, contact
// details, and credentials that may have been pasted into a document.
// DetectCredentials adds the gitleaks rule set for keys and tokens.
//
// Prompt previews written to the LLM audit log pass through the scrubber
// when audit.scrub_phi is set. Findings carry rule IDs and offsets, never
// the matched value.
package phi
