package extraction

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
)

// ClinicalNotes consolidates narrative content into at most one note. The
// text of the history, examination, assessment and plan sections comes
// first, in that order, followed by every long narrative or note-like
// element in document order. Fragments are grouped into blocks while they
// open with a continuation word; all blocks are then joined with collapsed
// whitespace.
func (x *RegexExtractor) ClinicalNotes(secs *sections.Sections, elements []document.Element) []string {
	var blocks []string

	for _, name := range noteSections {
		if text := strings.TrimSpace(secs.Text(name)); text != "" {
			blocks = append(blocks, text)
		}
	}

	var current []string
	for _, e := range elements {
		text := e.TrimmedText()
		if !isNoteFragment(e.Kind(), text) {
			continue
		}
		if len(current) > 0 && !continuesNote(text) {
			blocks = append(blocks, strings.Join(current, " "))
			current = nil
		}
		current = append(current, text)
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, " "))
	}

	if len(blocks) == 0 {
		return []string{}
	}
	note := strings.Join(strings.Fields(strings.Join(blocks, " ")), " ")
	if note == "" {
		return []string{}
	}
	return []string{note}
}

func isNoteFragment(kind document.Kind, text string) bool {
	if utf8.RuneCountInString(text) <= minNoteRunes {
		return false
	}
	if kind == document.KindNarrative {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range noteKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// continuesNote reports whether text opens with a continuation word.
func continuesNote(text string) bool {
	word := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(word) == 0 {
		return false
	}
	return continuationWords[strings.ToLower(word[0])]
}
