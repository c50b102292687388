package document

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementType_Kind(t *testing.T) {
	tests := []struct {
		typ  ElementType
		want Kind
	}{
		{"Title", KindTitle},
		{"title", KindTitle},
		{"ListItem", KindListItem},
		{"list-item", KindListItem},
		{"list_item", KindListItem},
		{"NarrativeText", KindNarrative},
		{"narrative-text", KindNarrative},
		{"Text", KindNarrative},
		{"UncategorizedText", KindOther},
		{"Header", KindOther},
		{"", KindOther},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.Kind())
		})
	}
}

func TestDecodeElements(t *testing.T) {
	input := `[
		{"type": "Title", "text": "PATIENT IDENTIFICATION", "index": 7, "metadata": {"page_number": 1}},
		{"element_type": "ListItem", "text": "1. Hypertension"},
		{"text": "no type here"},
		{"type": "NarrativeText"}
	]`

	elements, err := DecodeElements(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, elements, 4)

	assert.Equal(t, TypeTitle, elements[0].Type)
	assert.Equal(t, float64(1), elements[0].Metadata["page_number"])
	assert.Equal(t, ElementType("ListItem"), elements[1].Type)
	assert.Equal(t, TypeUnknown, elements[2].Type)
	assert.Equal(t, "", elements[3].Text)

	for i, e := range elements {
		assert.Equal(t, i, e.Index, "supplied index 7 and missing indexes become array positions")
	}
}

func TestDecodeElements_Invalid(t *testing.T) {
	_, err := DecodeElements(strings.NewReader(`{"type": "Title"}`))
	assert.Error(t, err)
}

func TestJoinText(t *testing.T) {
	elements := []Element{
		{Text: "first"},
		{Text: ""},
		{Text: "second"},
	}
	assert.Equal(t, "first\nsecond", JoinText(elements))
	assert.Equal(t, "", JoinText(nil))
}

func TestRecord_MarshalJSON_EmptyContainers(t *testing.T) {
	var r Record

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))

	for _, key := range []string{"patient_info", "vital_signs", "diagnoses", "medications", "allergies", "procedures", "clinical_notes"} {
		raw, ok := decoded[key]
		require.True(t, ok, "missing key %s", key)
		assert.NotEqual(t, "null", string(raw), "key %s encoded as null", key)
	}
	assert.Equal(t, "{}", string(decoded["patient_info"]))
	assert.Equal(t, "[]", string(decoded["diagnoses"]))
}

func TestVitalSigns_EntriesAndSet(t *testing.T) {
	var v VitalSigns
	assert.True(t, v.IsEmpty())

	assert.True(t, v.Set("heart_rate", "72"))
	assert.True(t, v.Set("blood_pressure", "120/80"))
	assert.False(t, v.Set("weight", "80"))

	assert.Equal(t, []VitalSign{
		{Key: "blood_pressure", Value: "120/80"},
		{Key: "heart_rate", Value: "72"},
	}, v.Entries())
}

func TestRecord_SearchText(t *testing.T) {
	r := Record{
		Diagnoses:     []string{"Hypertension", "Atrial fibrillation"},
		ClinicalNotes: []string{"Patient stable."},
	}
	assert.Equal(t, "Hypertension\nAtrial fibrillation\nPatient stable.", r.SearchText())
}

func TestRecord_Clone(t *testing.T) {
	rec := NewRecord()
	rec.Diagnoses = []string{"Gout"}
	rec.Medications = []Medication{{Name: "Colchicine", Dosage: "0.6 mg"}}

	c := rec.Clone()
	c.Diagnoses[0] = "changed"
	c.Medications[0].Name = "changed"

	assert.Equal(t, "Gout", rec.Diagnoses[0])
	assert.Equal(t, "Colchicine", rec.Medications[0].Name)
	assert.Equal(t, []string{}, c.Procedures)
}
