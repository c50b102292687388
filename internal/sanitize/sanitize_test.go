package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "clean", input: "admission_note.pdf", expected: "admission_note.pdf"},
		{name: "colon and slash", input: "admission: 12/03.pdf", expected: "admission_ 12_03.pdf"},
		{name: "all reserved", input: `<>:"/\|?*`, expected: "_________"},
		{name: "control characters", input: "a\tb\nc", expected: "a_b_c"},
		{name: "unicode kept", input: "résumé.pdf", expected: "résumé.pdf"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Filename(tt.input); got != tt.expected {
				t.Errorf("Filename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFilename_LengthLimit(t *testing.T) {
	long := strings.Repeat("é", MaxFilenameLength)
	got := Filename(long)
	if len(got) > MaxFilenameLength {
		t.Errorf("Filename() length = %d, want <= %d", len(got), MaxFilenameLength)
	}
	if !utf8.ValidString(got) {
		t.Errorf("Filename() split a rune: %q", got)
	}
}

func TestStem(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/uploads/admission_note.pdf", "admission_note"},
		{"note.elements.json", "note.elements"},
		{"ward 7: bed?.pdf", "ward 7_ bed_"},
		{"", UnknownDocument},
		{"   ", UnknownDocument},
		{"/", UnknownDocument},
		{"***.pdf", UnknownDocument},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Stem(tt.input); got != tt.expected {
				t.Errorf("Stem(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestToken(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Medications", "medications"},
		{"vital signs", "vital_signs"},
		{"a.b*c>", "a_b_c_"},
		{"", "_"},
	}

	for _, tt := range tests {
		if got := Token(tt.input); got != tt.expected {
			t.Errorf("Token(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
