package document

import (
	"encoding/json"
	"strings"
)

// NoKnownAllergies is the single allergy entry recorded when a document
// states that the patient has no known allergies.
const NoKnownAllergies = "No known allergies"

// PatientInfo holds patient demographics. Empty strings mean "not found".
type PatientInfo struct {
	Name        string `json:"name,omitempty"`
	MRN         string `json:"mrn,omitempty"`
	Age         string `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

// IsEmpty reports whether no demographic field is set.
func (p PatientInfo) IsEmpty() bool {
	return p == PatientInfo{}
}

// VitalSigns holds vital sign readings as they appear in the document.
type VitalSigns struct {
	BloodPressure    string `json:"blood_pressure,omitempty"`
	HeartRate        string `json:"heart_rate,omitempty"`
	Temperature      string `json:"temperature,omitempty"`
	RespiratoryRate  string `json:"respiratory_rate,omitempty"`
	OxygenSaturation string `json:"oxygen_saturation,omitempty"`
}

// IsEmpty reports whether no vital sign is set.
func (v VitalSigns) IsEmpty() bool {
	return v == VitalSigns{}
}

// VitalSign is one populated reading keyed by its JSON name.
type VitalSign struct {
	Key   string
	Value string
}

// Entries returns the populated readings in a fixed order.
func (v VitalSigns) Entries() []VitalSign {
	all := []VitalSign{
		{Key: "blood_pressure", Value: v.BloodPressure},
		{Key: "heart_rate", Value: v.HeartRate},
		{Key: "temperature", Value: v.Temperature},
		{Key: "respiratory_rate", Value: v.RespiratoryRate},
		{Key: "oxygen_saturation", Value: v.OxygenSaturation},
	}
	out := all[:0]
	for _, e := range all {
		if e.Value != "" {
			out = append(out, e)
		}
	}
	return out
}

// Set assigns the reading named by its JSON key. Unknown keys are ignored
// and reported as false.
func (v *VitalSigns) Set(key, value string) bool {
	switch key {
	case "blood_pressure":
		v.BloodPressure = value
	case "heart_rate":
		v.HeartRate = value
	case "temperature":
		v.Temperature = value
	case "respiratory_rate":
		v.RespiratoryRate = value
	case "oxygen_saturation":
		v.OxygenSaturation = value
	default:
		return false
	}
	return true
}

// Medication is a drug name with its dosage text ("120 mg").
type Medication struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
}

// Record is the normalized clinical record extracted from one document.
// Every field is always present when serialized; absence of data is an
// empty container, never a missing key.
type Record struct {
	PatientInfo   PatientInfo  `json:"patient_info"`
	VitalSigns    VitalSigns   `json:"vital_signs"`
	Diagnoses     []string     `json:"diagnoses"`
	Medications   []Medication `json:"medications"`
	Allergies     []string     `json:"allergies"`
	Procedures    []string     `json:"procedures"`
	ClinicalNotes []string     `json:"clinical_notes"`
}

// NewRecord returns a record with every container allocated and empty.
func NewRecord() Record {
	return Record{
		Diagnoses:     []string{},
		Medications:   []Medication{},
		Allergies:     []string{},
		Procedures:    []string{},
		ClinicalNotes: []string{},
	}
}

// Normalized returns a copy with nil slices replaced by empty ones.
func (r Record) Normalized() Record {
	if r.Diagnoses == nil {
		r.Diagnoses = []string{}
	}
	if r.Medications == nil {
		r.Medications = []Medication{}
	}
	if r.Allergies == nil {
		r.Allergies = []string{}
	}
	if r.Procedures == nil {
		r.Procedures = []string{}
	}
	if r.ClinicalNotes == nil {
		r.ClinicalNotes = []string{}
	}
	return r
}

// Clone returns a deep copy with normalized containers.
func (r Record) Clone() Record {
	c := r
	c.Diagnoses = append([]string{}, r.Diagnoses...)
	c.Medications = append([]Medication{}, r.Medications...)
	c.Allergies = append([]string{}, r.Allergies...)
	c.Procedures = append([]string{}, r.Procedures...)
	c.ClinicalNotes = append([]string{}, r.ClinicalNotes...)
	return c
}

// MarshalJSON serializes the normalized record so empty fields encode as
// {} or [] rather than null.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(plain(r.Normalized()))
}

// SearchText returns the diagnoses and clinical notes as one newline-joined
// block, the text the search feature matches against.
func (r Record) SearchText() string {
	return strings.Join(r.Diagnoses, "\n") + "\n" + strings.Join(r.ClinicalNotes, "\n")
}
