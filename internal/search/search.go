package search

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/clinicd/internal/document"
)

// ContextRunes is the number of characters kept on each side of the first
// match in a snippet.
const ContextRunes = 60

// Entry is one searchable document.
type Entry struct {
	DocumentID string
	Filename   string
	Record     document.Record
}

// Hit is a document whose diagnoses or clinical notes contain the query.
type Hit struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Filename   string `json:"filename"`
	Context    string `json:"context"`
	MatchCount int    `json:"matchCount"`
}

// Search returns a hit for every entry whose search text contains query,
// ignoring case. Hits keep the order of entries. A blank query matches
// nothing.
func Search(entries []Entry, query string) []Hit {
	q := strings.TrimSpace(query)
	if q == "" {
		return []Hit{}
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(q))

	hits := []Hit{}
	for _, e := range entries {
		text := e.Record.SearchText()
		matches := re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		hits = append(hits, Hit{
			ID:         uuid.New().String(),
			DocumentID: e.DocumentID,
			Filename:   e.Filename,
			Context:    "..." + snippet(text, re, matches[0][0], matches[0][1]) + "...",
			MatchCount: len(matches),
		})
	}
	return hits
}

// snippet cuts ContextRunes characters either side of text[start:end] and
// wraps every match inside the window in <b></b>.
func snippet(text string, re *regexp.Regexp, start, end int) string {
	from := start
	for i := 0; i < ContextRunes && from > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:from])
		from -= size
	}
	to := end
	for i := 0; i < ContextRunes && to < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[to:])
		to += size
	}
	return re.ReplaceAllString(text[from:to], "<b>$0</b>")
}
