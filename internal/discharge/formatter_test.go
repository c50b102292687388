package discharge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/clinicd/internal/document"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
}

func TestFormatter_FullRecord(t *testing.T) {
	rec := document.NewRecord()
	rec.PatientInfo = document.PatientInfo{Name: "Ms. J", MRN: "00412-7", Age: "76", Gender: "Female"}
	rec.VitalSigns = document.VitalSigns{BloodPressure: "142/88", HeartRate: "96"}
	rec.Diagnoses = []string{"Hypertension", "Type 2 Diabetes"}
	rec.Medications = []document.Medication{{Name: "Diltiazem", Dosage: "120 mg"}, {Name: "Aspirin"}}
	rec.Allergies = []string{document.NoKnownAllergies}
	rec.ClinicalNotes = []string{"Admitted with dyspnea.", "Improving."}

	f := NewFormatter()
	f.now = fixedNow
	got := f.Format(rec)

	want := `DISCHARGE SUMMARY
Date: 2024-03-05

PATIENT INFORMATION:
  Name: Ms. J
  Date of Birth: N/A
  MRN: 00412-7
  Age: 76
  Gender: Female

VITAL SIGNS:
  Blood Pressure: 142/88
  Heart Rate: 96

DIAGNOSES:
  1. Hypertension
  2. Type 2 Diabetes

MEDICATIONS:
  1. Diltiazem - 120 mg
  2. Aspirin

ALLERGIES:
  1. No known allergies

PROCEDURES:
No procedures recorded

CLINICAL NOTES:
  Admitted with dyspnea.

  Improving.

---
Generated on: 2024-03-05
`
	assert.Equal(t, want, got)
}

func TestFormatter_EmptyRecord(t *testing.T) {
	f := NewFormatter()
	f.now = fixedNow
	got := f.Format(document.NewRecord())

	for _, msg := range []string{NoVitalSigns, NoDiagnoses, NoMedications, NoAllergies, NoProcedures, NoNotes} {
		assert.Contains(t, got, msg)
	}
	assert.Equal(t, 5, strings.Count(got, ": "+Missing))
	assert.NotContains(t, got, "{")
}

func TestFormatter_BlankScalarIsMissing(t *testing.T) {
	f := NewFormatterWithTemplate("[{patient_name}] [{age}]")
	rec := document.NewRecord()
	rec.PatientInfo.Name = "   "

	assert.Equal(t, "[N/A] [N/A]", f.Format(rec))
}

func TestFormatter_SubstitutedValuesAreNotReexpanded(t *testing.T) {
	f := NewFormatterWithTemplate("{patient_name} / {mrn}")
	rec := document.NewRecord()
	rec.PatientInfo.Name = "{mrn}"
	rec.PatientInfo.MRN = "42"

	assert.Equal(t, "{mrn} / 42", f.Format(rec))
}

func TestLoadFormatter(t *testing.T) {
	t.Run("custom template", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "template.txt")
		require.NoError(t, os.WriteFile(path, []byte("Patient: {patient_name}\n{unknown}\n{date}"), 0o600))

		f, err := LoadFormatter(path)
		require.NoError(t, err)
		f.now = fixedNow

		rec := document.NewRecord()
		rec.PatientInfo.Name = "Jane Doe"
		assert.Equal(t, "Patient: Jane Doe\n{unknown}\n2024-03-05", f.Format(rec))
	})

	t.Run("empty path uses default", func(t *testing.T) {
		f, err := LoadFormatter("")
		require.NoError(t, err)
		assert.Equal(t, DefaultTemplate, f.Template())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFormatter(filepath.Join(t.TempDir(), "nope.txt"))
		assert.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.txt")
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", maxTemplateSize+1)), 0o600))
		_, err := LoadFormatter(path)
		assert.ErrorContains(t, err, "too large")
	})
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Blood Pressure", Label("blood_pressure"))
	assert.Equal(t, "Oxygen Saturation", Label("oxygen_saturation"))
	assert.Equal(t, "", Label(""))
}
