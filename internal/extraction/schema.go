package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fyrsmithlabs/clinicd/internal/document"
)

// recordSchema constrains the LLM response before it is decoded. Scalars
// may be strings or numbers; any field group may be null or missing.
// Medication list entries that are not objects are skipped during
// normalization rather than rejected.
const recordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "definitions": {
    "scalar": {"type": ["string", "number", "null"]},
    "scalars": {"type": ["object", "null"], "additionalProperties": {"$ref": "#/definitions/scalar"}},
    "strings": {"type": ["array", "null"], "items": {"type": "string"}}
  },
  "properties": {
    "patient_info": {"$ref": "#/definitions/scalars"},
    "vital_signs": {"$ref": "#/definitions/scalars"},
    "diagnoses": {"$ref": "#/definitions/strings"},
    "allergies": {"$ref": "#/definitions/strings"},
    "medications": {
      "type": ["array", "null"],
      "items": {
        "if": {"type": "object"},
        "then": {
          "properties": {
            "name": {"$ref": "#/definitions/scalar"},
            "dosage": {"$ref": "#/definitions/scalar"}
          }
        }
      }
    }
  }
}`

var (
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
	schemaOnce        sync.Once
)

func llmRecordSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("record.json", strings.NewReader(recordSchema)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile("record.json")
	})
	return compiledSchema, compiledSchemaErr
}

// stripCodeFence removes a surrounding markdown code fence, with or without
// a json language tag.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// parseRecordJSON decodes an LLM response into the LLM-covered field groups.
// The decoded JSON value is returned for auditing whenever the text was
// valid JSON, even if it then failed schema validation.
func parseRecordJSON(raw string) (document.Record, any, error) {
	var v any
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &v); err != nil {
		return document.NewRecord(), nil, fmt.Errorf("unmarshal response: %w", err)
	}

	schema, err := llmRecordSchema()
	if err != nil {
		return document.NewRecord(), v, err
	}
	if err := schema.Validate(v); err != nil {
		return document.NewRecord(), v, fmt.Errorf("response does not match schema: %w", err)
	}

	obj := v.(map[string]any)
	rec := document.NewRecord()

	for key, val := range scalars(obj["patient_info"]) {
		switch key {
		case "name":
			rec.PatientInfo.Name = val
		case "mrn":
			rec.PatientInfo.MRN = val
		case "age":
			rec.PatientInfo.Age = val
		case "gender":
			rec.PatientInfo.Gender = val
		case "date_of_birth":
			rec.PatientInfo.DateOfBirth = val
		}
	}
	for key, val := range scalars(obj["vital_signs"]) {
		rec.VitalSigns.Set(key, val)
	}

	rec.Diagnoses = stringList(obj["diagnoses"])
	rec.Allergies = stringList(obj["allergies"])

	meds := newMedicationSet()
	items, _ := obj["medications"].([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		meds.Add(document.Medication{
			Name:   scalarString(m["name"]),
			Dosage: scalarString(m["dosage"]),
		})
	}
	rec.Medications = meds.Values()

	return rec, v, nil
}

// scalars flattens a JSON object of scalars to trimmed strings, dropping
// nulls and blank values.
func scalars(v any) map[string]string {
	obj, _ := v.(map[string]any)
	out := make(map[string]string, len(obj))
	for k, raw := range obj {
		if s := scalarString(raw); s != "" {
			out[k] = s
		}
	}
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func stringList(v any) []string {
	items, _ := v.([]any)
	set := newStringSet()
	for _, item := range items {
		if s, ok := item.(string); ok {
			set.Add(strings.TrimSpace(s))
		}
	}
	return set.Values()
}
