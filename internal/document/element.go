package document

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ElementType is the partitioner's tag for an element. The set is open; only
// a few values carry meaning for extraction (see Kind).
type ElementType string

// Well-known element types as emitted by the partitioning service.
const (
	TypeTitle         ElementType = "Title"
	TypeListItem      ElementType = "ListItem"
	TypeNarrativeText ElementType = "NarrativeText"
	TypeText          ElementType = "Text"
	TypeUnknown       ElementType = "unknown"
)

// Kind is the normalized structural role of an element.
type Kind int

const (
	// KindOther covers every tag without extraction meaning.
	KindOther Kind = iota
	KindTitle
	KindListItem
	KindNarrative
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTitle:
		return "title"
	case KindListItem:
		return "list_item"
	case KindNarrative:
		return "narrative"
	default:
		return "other"
	}
}

// Kind maps the raw tag to its structural role. Matching ignores case and
// the separators used by different partitioner versions, so "ListItem",
// "list-item" and "list_item" are equivalent.
func (t ElementType) Kind() Kind {
	norm := strings.ToLower(string(t))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)

	switch norm {
	case "title":
		return KindTitle
	case "listitem":
		return KindListItem
	case "narrativetext", "text":
		return KindNarrative
	default:
		return KindOther
	}
}

// Element is one typed text fragment produced by the partitioner.
type Element struct {
	ID       string         `json:"element_id,omitempty"`
	Type     ElementType    `json:"type"`
	Text     string         `json:"text"`
	Index    int            `json:"index"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Kind is shorthand for e.Type.Kind().
func (e Element) Kind() Kind {
	return e.Type.Kind()
}

// TrimmedText returns the element text without surrounding whitespace.
func (e Element) TrimmedText() string {
	return strings.TrimSpace(e.Text)
}

// UnmarshalJSON accepts both "type" and the older "element_type" key and
// defaults a missing type to TypeUnknown. A missing text decodes as "".
func (e *Element) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string         `json:"element_id"`
		Type        ElementType    `json:"type"`
		ElementType ElementType    `json:"element_type"`
		Text        *string        `json:"text"`
		Index       int            `json:"index"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.ID = raw.ID
	e.Type = raw.Type
	if e.Type == "" {
		e.Type = raw.ElementType
	}
	if e.Type == "" {
		e.Type = TypeUnknown
	}
	e.Text = ""
	if raw.Text != nil {
		e.Text = *raw.Text
	}
	e.Index = raw.Index
	e.Metadata = raw.Metadata
	return nil
}

// DecodeElements reads a JSON array of elements and assigns each element its
// zero-based position as Index. Array order is document order, so any index
// the partitioner supplied is replaced: partitioners omit it, count per page
// or start at one, and the core relies on unique positions starting at zero.
func DecodeElements(r io.Reader) ([]Element, error) {
	var elements []Element
	if err := json.NewDecoder(r).Decode(&elements); err != nil {
		return nil, fmt.Errorf("decode elements: %w", err)
	}
	Reindex(elements)
	return elements, nil
}

// Reindex sets Index to the slice position of every element, discarding
// whatever Index held before.
func Reindex(elements []Element) {
	for i := range elements {
		elements[i].Index = i
	}
}

// JoinText concatenates the non-empty texts of elements with newlines, in
// slice order.
func JoinText(elements []Element) string {
	parts := make([]string, 0, len(elements))
	for _, e := range elements {
		if e.Text != "" {
			parts = append(parts, e.Text)
		}
	}
	return strings.Join(parts, "\n")
}
