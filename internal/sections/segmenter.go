package sections

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/clinicd/internal/document"
)

var (
	// All-caps heading, with a trailing colon or as a bare line.
	headingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^[A-Z][A-Z\s]+:$`),
		regexp.MustCompile(`^[A-Z][A-Z\s]+\s*$`),
	}

	slugStripRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// fallbackKey names a section whose header text slugifies to nothing.
const fallbackKey = "section"

// Segmenter groups an element stream into named sections. It holds only
// immutable lookup data and is safe for concurrent use.
type Segmenter struct {
	layout       Layout
	knownHeaders []string
	aliases      []Alias
}

// NewSegmenter builds a segmenter from a validated layout.
func NewSegmenter(layout Layout) (*Segmenter, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	s := &Segmenter{layout: layout}
	for _, h := range layout.KnownHeaders {
		s.knownHeaders = append(s.knownHeaders, strings.ToUpper(strings.TrimSpace(h)))
	}
	for _, a := range layout.Aliases {
		s.aliases = append(s.aliases, Alias{Match: strings.ToUpper(strings.TrimSpace(a.Match)), Key: a.Key})
	}
	return s, nil
}

// Default returns a segmenter over DefaultLayout.
func Default() *Segmenter {
	s, err := NewSegmenter(DefaultLayout())
	if err != nil {
		panic("sections: invalid default layout: " + err.Error())
	}
	return s
}

// Layout returns the table the segmenter was built from.
func (s *Segmenter) Layout() Layout {
	return s.layout
}

// Segment partitions elements into sections. Every element lands in exactly
// one section, relative order is preserved, and a header element is the
// first member of the section it opens. Elements before the first header
// go to the "header" bucket. A key seen again later reuses its bucket.
func (s *Segmenter) Segment(elements []document.Element) *Sections {
	out := New()
	current := ""

	for _, e := range elements {
		if s.IsHeader(e) {
			current = s.Normalize(e.Text)
			out.Add(current, e)
			continue
		}
		if current == "" {
			out.Add(KeyHeader, e)
			continue
		}
		out.Add(current, e)
	}
	return out
}

// IsHeader reports whether e opens a new section: a title element, an
// all-caps line, or text containing a known clinical header.
func (s *Segmenter) IsHeader(e document.Element) bool {
	if e.Kind() == document.KindTitle {
		return true
	}
	text := e.TrimmedText()
	if text == "" {
		return false
	}
	for _, re := range headingPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	upper := strings.ToUpper(text)
	for _, h := range s.knownHeaders {
		if strings.Contains(upper, h) {
			return true
		}
	}
	return false
}

// Normalize maps header text to its canonical section key through the alias
// table, slugifying headers the table does not know.
func (s *Segmenter) Normalize(text string) string {
	upper := strings.ToUpper(strings.TrimRight(strings.TrimSpace(text), ":"))
	for _, a := range s.aliases {
		if strings.Contains(upper, a.Match) {
			return a.Key
		}
	}
	return slugify(upper)
}

func slugify(header string) string {
	slug := strings.ReplaceAll(strings.ToLower(header), " ", "_")
	slug = slugStripRe.ReplaceAllString(slug, "")
	if slug == "" {
		return fallbackKey
	}
	return slug
}
