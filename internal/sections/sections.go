package sections

import (
	"github.com/fyrsmithlabs/clinicd/internal/document"
)

// Canonical section keys referenced by the extractors.
const (
	KeyHeader                   = "header"
	KeyPatientIdentification    = "patient_identification"
	KeyActiveMedicalIssues      = "active_medical_issues"
	KeyMedications              = "medications"
	KeyAllergies                = "allergies"
	KeyHistoryPresentingIllness = "history_presenting_illness"
	KeyPhysicalExamination      = "physical_examination"
	KeyAssessment               = "assessment"
	KeyPlan                     = "plan"
)

// Section is one named group of elements in document order.
type Section struct {
	Name     string             `json:"name"`
	Elements []document.Element `json:"elements"`
}

// Sections is the ordered result of segmentation. Names are kept in the
// order they were first encountered. Read methods treat a nil *Sections as
// empty.
type Sections struct {
	order   []string
	members map[string][]document.Element
}

// New returns an empty Sections.
func New() *Sections {
	return &Sections{members: make(map[string][]document.Element)}
}

// Add appends elements to the named section, creating it on first use.
func (s *Sections) Add(name string, elements ...document.Element) {
	if _, ok := s.members[name]; !ok {
		s.order = append(s.order, name)
		s.members[name] = nil
	}
	s.members[name] = append(s.members[name], elements...)
}

// Names returns section names in first-seen order.
func (s *Sections) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether the named section exists.
func (s *Sections) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.members[name]
	return ok
}

// Elements returns the members of the named section, nil if absent.
func (s *Sections) Elements(name string) []document.Element {
	if s == nil {
		return nil
	}
	return s.members[name]
}

// Text returns the newline-joined text of the named section.
func (s *Sections) Text(name string) string {
	return document.JoinText(s.Elements(name))
}

// Len returns the number of sections.
func (s *Sections) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// ElementCount returns the total number of elements across all sections.
func (s *Sections) ElementCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, m := range s.members {
		n += len(m)
	}
	return n
}

// List returns every section in first-seen order.
func (s *Sections) List() []Section {
	if s == nil {
		return nil
	}
	out := make([]Section, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, Section{Name: name, Elements: s.members[name]})
	}
	return out
}

// Select returns the sections to hand to a consumer that accepts a
// selection: the named sections in selection order when names is non-empty
// (unknown names skipped, duplicates ignored), otherwise every section.
func (s *Sections) Select(names []string) []Section {
	if len(names) == 0 || s == nil {
		return s.List()
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]Section, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if m, ok := s.members[name]; ok {
			out = append(out, Section{Name: name, Elements: m})
		}
	}
	return out
}
