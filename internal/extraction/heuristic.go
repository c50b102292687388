package extraction

import (
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
)

// RegexExtractor derives every field group of a record from the section map
// and the whole-document text using the pattern tables in patterns.go. Each
// field prefers structure (a named section, list-item elements) and falls
// back to whole-document scanning when that yields nothing. It holds no
// state and never fails; a field with no match keeps its empty default.
type RegexExtractor struct{}

// NewRegexExtractor creates a regex field extractor.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// Extract builds a full record from a segmented document.
func (x *RegexExtractor) Extract(secs *sections.Sections, elements []document.Element) document.Record {
	full := document.JoinText(elements)

	rec := document.NewRecord()
	rec.PatientInfo = x.PatientInfo(secs, full)
	rec.VitalSigns = x.VitalSigns(full)
	rec.Diagnoses = x.Diagnoses(secs, full)
	rec.Medications = x.Medications(secs, full)
	rec.Allergies = x.Allergies(full)
	rec.Procedures = x.Procedures(full)
	rec.ClinicalNotes = x.ClinicalNotes(secs, elements)
	return rec
}

// PatientInfo extracts demographics. Name, age, gender and MRN are read
// from the patient_identification section first and each falls back to the
// whole document on its own. Date of birth is read from the whole document
// only.
func (x *RegexExtractor) PatientInfo(secs *sections.Sections, full string) document.PatientInfo {
	var info document.PatientInfo

	if secs.Has(sections.KeyPatientIdentification) {
		text := secs.Text(sections.KeyPatientIdentification)
		if name, _, ok := firstMatch(sectionNameRules, text); ok {
			info.Name = name
		}
		if ag, _, ok := firstMatch(ageGenderRules, text); ok {
			info.Age = ag.age
			info.Gender = ag.gender
		}
		if mrn, _, ok := firstMatch(mrnRules, text); ok {
			info.MRN = mrn
		}
	}

	if info.Name == "" {
		info.Name, _, _ = firstMatch(documentNameRules, full)
	}
	if info.Age == "" {
		info.Age, _, _ = firstMatch(ageRules, full)
	}
	if info.Gender == "" {
		info.Gender = documentGender(full)
	}
	if info.MRN == "" {
		info.MRN, _, _ = firstMatch(mrnRules, full)
	}
	info.DateOfBirth, _, _ = firstMatch(dobRules, full)

	return info
}

// documentGender applies the age-gender phrase, then honorifics, then
// explicit labels. The first signal found wins.
func documentGender(full string) string {
	if ag, _, ok := firstMatch(ageGenderRules, full); ok {
		return ag.gender
	}
	g, _, _ := firstMatch(genderRules, full)
	return g
}

// VitalSigns extracts each vital independently from the whole text.
func (x *RegexExtractor) VitalSigns(full string) document.VitalSigns {
	var v document.VitalSigns
	for _, vr := range vitalRules {
		if value, _, ok := firstMatch(vr.rules, full); ok {
			v.Set(vr.key, value)
		}
	}
	return v
}

// Diagnoses reads the active_medical_issues section, list items first and
// numbered entries embedded in narrative text otherwise. When the section
// yields nothing, every whole-document diagnosis pattern is collected.
func (x *RegexExtractor) Diagnoses(secs *sections.Sections, full string) []string {
	out := newStringSet()

	for _, e := range secs.Elements(sections.KeyActiveMedicalIssues) {
		text := e.TrimmedText()
		switch e.Kind() {
		case document.KindListItem:
			addDiagnosis(out, ordinalPrefixRe.ReplaceAllString(text, ""))
		case document.KindNarrative:
			for _, item := range numberedItems(text) {
				addDiagnosis(out, item)
			}
		}
	}

	if out.Len() == 0 {
		for _, d := range allMatches(diagnosisRules, full) {
			out.Add(d)
		}
	}
	return out.Values()
}

func addDiagnosis(set *stringSet, text string) {
	text = strings.TrimRight(strings.TrimSpace(text), ".")
	if utf8.RuneCountInString(text) > 3 {
		set.Add(text)
	}
}

// numberedItems splits running text on "N. " markers. Each item runs to the
// next "N." or the end of text and is cut at its first period or newline.
func numberedItems(text string) []string {
	var items []string
	for _, loc := range numberedMarkerRe.FindAllStringIndex(text, -1) {
		rest := text[loc[1]:]
		if b := numberedBoundaryRe.FindStringIndex(rest); b != nil {
			rest = rest[:b[0]]
		}
		if i := strings.IndexAny(rest, ".\n"); i >= 0 {
			rest = rest[:i]
		}
		if item := strings.TrimSpace(rest); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Medications tries, in order until one tier yields results: dosed list
// items in the medications section, numbered entries in that section's
// narrative text, dosed list items in any other section except
// patient_identification and allergies, and finally every whole-document
// medication pattern.
func (x *RegexExtractor) Medications(secs *sections.Sections, full string) []document.Medication {
	out := newMedicationSet()

	for _, e := range secs.Elements(sections.KeyMedications) {
		switch e.Kind() {
		case document.KindListItem:
			if m, _, ok := firstMatch(medicationItemRules, e.TrimmedText()); ok {
				out.Add(m)
			}
		case document.KindNarrative:
			for _, m := range allMatches(numberedMedicationRules, e.TrimmedText()) {
				out.Add(m)
			}
		}
	}

	if out.Len() == 0 {
		for _, sec := range secs.List() {
			switch sec.Name {
			case sections.KeyPatientIdentification, sections.KeyAllergies, sections.KeyMedications:
				continue
			}
			for _, e := range sec.Elements {
				if e.Kind() != document.KindListItem {
					continue
				}
				if m, _, ok := firstMatch(medicationItemRules, e.TrimmedText()); ok {
					out.Add(m)
				}
			}
		}
	}

	if out.Len() == 0 {
		for _, m := range allMatches(medicationRules, full) {
			out.Add(m)
		}
	}
	return out.Values()
}

// Allergies scans the whole text. A "no known allergies" statement wins
// over every other allergy phrase.
func (x *RegexExtractor) Allergies(full string) []string {
	if noKnownAllergiesRe.MatchString(full) {
		return []string{document.NoKnownAllergies}
	}
	out := newStringSet()
	for _, a := range allMatches(allergyRules, full) {
		out.Add(a)
	}
	return out.Values()
}

// Procedures scans the whole text for procedure, surgery and intervention
// labels.
func (x *RegexExtractor) Procedures(full string) []string {
	out := newStringSet()
	for _, p := range allMatches(procedureRules, full) {
		out.Add(p)
	}
	return out.Values()
}

type stringSet struct {
	seen   map[string]struct{}
	values []string
}

func newStringSet() *stringSet {
	return &stringSet{seen: make(map[string]struct{}), values: []string{}}
}

func (s *stringSet) Add(v string) {
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.values = append(s.values, v)
}

func (s *stringSet) Len() int         { return len(s.values) }
func (s *stringSet) Values() []string { return s.values }

type medicationSet struct {
	seen   map[document.Medication]struct{}
	values []document.Medication
}

func newMedicationSet() *medicationSet {
	return &medicationSet{seen: make(map[document.Medication]struct{}), values: []document.Medication{}}
}

func (s *medicationSet) Add(m document.Medication) {
	if m.Name == "" {
		return
	}
	if _, ok := s.seen[m]; ok {
		return
	}
	s.seen[m] = struct{}{}
	s.values = append(s.values, m)
}

func (s *medicationSet) Len() int                      { return len(s.values) }
func (s *medicationSet) Values() []document.Medication { return s.values }
