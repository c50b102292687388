// Package sanitize cleans untrusted names before they reach the filesystem,
// log fields or NATS subjects.
package sanitize

import (
	"path/filepath"
	"strings"
)

const (
	// MaxFilenameLength bounds sanitized file names in bytes.
	MaxFilenameLength = 200

	// UnknownDocument is the stem used when a document has no usable name.
	UnknownDocument = "unknown_document"
)

// reservedChars cannot appear in file names on at least one supported platform.
const reservedChars = `<>:"/\|?*`

// Filename replaces characters that are invalid in file names with
// underscores. Control characters are replaced as well. The result is
// truncated to MaxFilenameLength bytes on a rune boundary.
//
// Examples:
//
//	"admission: 12/03.pdf" -> "admission_ 12_03.pdf"
//	"a<b>c?.json"          -> "a_b_c_.json"
func Filename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(reservedChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}

	out := b.String()
	if len(out) > MaxFilenameLength {
		cut := MaxFilenameLength
		for cut > 0 && !runeStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}

// Stem returns the sanitized base name of path without its extension, or
// UnknownDocument when nothing usable is left.
func Stem(path string) string {
	if strings.TrimSpace(path) == "" {
		return UnknownDocument
	}
	base := filepath.Base(filepath.ToSlash(path))
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimSpace(Filename(base))
	if base == "" || base == "." || strings.Trim(base, "_") == "" {
		return UnknownDocument
	}
	return base
}

// Token reduces s to a lowercase [a-z0-9_-] token suitable for a single NATS
// subject segment or a cache key component. Empty input yields "_".
func Token(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func runeStart(b byte) bool {
	return b&0xC0 != 0x80
}
