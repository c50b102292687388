package discharge

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/clinicd/internal/document"
)

// Placeholder values and empty-list messages.
const (
	Missing = "N/A"

	NoVitalSigns  = "No vital signs recorded"
	NoDiagnoses   = "No diagnoses recorded"
	NoMedications = "No medications recorded"
	NoAllergies   = "No known allergies"
	NoProcedures  = "No procedures recorded"
	NoNotes       = "No clinical notes recorded"
)

// maxTemplateSize bounds custom template files.
const maxTemplateSize = 64 * 1024

// DefaultTemplate is the built-in discharge summary layout.
const DefaultTemplate = `DISCHARGE SUMMARY
Date: {date}

PATIENT INFORMATION:
  Name: {patient_name}
  Date of Birth: {date_of_birth}
  MRN: {mrn}
  Age: {age}
  Gender: {gender}

VITAL SIGNS:
{vital_signs}

DIAGNOSES:
{diagnoses}

MEDICATIONS:
{medications}

ALLERGIES:
{allergies}

PROCEDURES:
{procedures}

CLINICAL NOTES:
{clinical_notes}

---
Generated on: {date}
`

// Formatter renders records into a plain-text discharge summary by
// substituting {placeholder} tokens in a template. Unknown tokens are left
// as they are.
type Formatter struct {
	template string
	now      func() time.Time
}

// NewFormatter creates a formatter using DefaultTemplate.
func NewFormatter() *Formatter {
	return &Formatter{template: DefaultTemplate, now: time.Now}
}

// NewFormatterWithTemplate creates a formatter for the given template text.
func NewFormatterWithTemplate(template string) *Formatter {
	return &Formatter{template: template, now: time.Now}
}

// LoadFormatter reads a custom template file. An empty path yields the
// default template.
func LoadFormatter(path string) (*Formatter, error) {
	if path == "" {
		return NewFormatter(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat template: %w", err)
	}
	if info.Size() > maxTemplateSize {
		return nil, fmt.Errorf("template file too large: %d bytes (max %d)", info.Size(), maxTemplateSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return NewFormatterWithTemplate(string(data)), nil
}

// Template returns the template text.
func (f *Formatter) Template() string {
	return f.template
}

// Format renders rec. {date} is today's date as YYYY-MM-DD.
func (f *Formatter) Format(rec document.Record) string {
	p := rec.PatientInfo
	r := strings.NewReplacer(
		"{patient_name}", scalar(p.Name),
		"{date_of_birth}", scalar(p.DateOfBirth),
		"{mrn}", scalar(p.MRN),
		"{age}", scalar(p.Age),
		"{gender}", scalar(p.Gender),
		"{vital_signs}", vitals(rec.VitalSigns),
		"{diagnoses}", numbered(rec.Diagnoses, NoDiagnoses),
		"{medications}", medications(rec.Medications),
		"{allergies}", numbered(rec.Allergies, NoAllergies),
		"{procedures}", numbered(rec.Procedures, NoProcedures),
		"{clinical_notes}", notes(rec.ClinicalNotes),
		"{date}", f.now().Format("2006-01-02"),
	)
	return r.Replace(f.template)
}

func scalar(v string) string {
	if strings.TrimSpace(v) == "" {
		return Missing
	}
	return v
}

func vitals(v document.VitalSigns) string {
	entries := v.Entries()
	if len(entries) == 0 {
		return NoVitalSigns
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, "  "+Label(e.Key)+": "+e.Value)
	}
	return strings.Join(lines, "\n")
}

func numbered(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	lines := make([]string, 0, len(items))
	for i, item := range items {
		lines = append(lines, "  "+strconv.Itoa(i+1)+". "+item)
	}
	return strings.Join(lines, "\n")
}

func medications(meds []document.Medication) string {
	if len(meds) == 0 {
		return NoMedications
	}
	lines := make([]string, 0, len(meds))
	for i, m := range meds {
		text := m.Name
		if m.Dosage != "" {
			text += " - " + m.Dosage
		}
		lines = append(lines, "  "+strconv.Itoa(i+1)+". "+text)
	}
	return strings.Join(lines, "\n")
}

func notes(items []string) string {
	if len(items) == 0 {
		return NoNotes
	}
	lines := make([]string, 0, len(items))
	for _, n := range items {
		lines = append(lines, "  "+n)
	}
	return strings.Join(lines, "\n\n")
}

// Label turns a snake_case key into a title-cased label
// ("blood_pressure" -> "Blood Pressure").
func Label(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
