package config

import (
	"encoding/json"
	"fmt"
)

const redactedSecret = "[REDACTED]"

// Secret holds an API key. Every printing and marshaling path yields
// "[REDACTED]" for a set key and "" for an unset one; only Value returns
// the key itself.
type Secret string

// Value returns the key. Pass it straight to the client that needs it.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a key was configured.
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) redacted() string {
	if s == "" {
		return ""
	}
	return redactedSecret
}

// String implements fmt.Stringer.
func (s Secret) String() string { return s.redacted() }

// GoString implements fmt.GoStringer so %#v does not leak the key.
func (s Secret) GoString() string { return fmt.Sprintf("config.Secret(%q)", s.redacted()) }

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.redacted()) }

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.redacted()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. The raw key is kept.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
