// Package secret provides a string wrapper that carries a redaction
// obligation. Values of type String can be compared and sent to the remote
// API, but every formatting path (fmt, JSON, zerolog) yields a redacted
// placeholder instead of the raw value.
package secret

import "encoding/json"

// Redacted is the placeholder emitted by every formatting path.
const Redacted = "[REDACTED]"

// String holds a sensitive value. The zero value is empty.
type String struct {
	value string
}

// New wraps a raw value.
func New(value string) String {
	return String{value: value}
}

// Reveal returns the raw value. Callers must only use it to construct
// remote requests, never to build log or error text.
func (s String) Reveal() string {
	return s.value
}

// IsZero reports whether the wrapped value is empty.
func (s String) IsZero() bool {
	return s.value == ""
}

// Equal compares two secrets by value.
func (s String) Equal(other String) bool {
	return s.value == other.value
}

// String implements fmt.Stringer and always redacts.
func (s String) String() string {
	if s.value == "" {
		return "<empty>"
	}
	return Redacted
}

// GoString implements fmt.GoStringer so %#v cannot leak the value.
func (s String) GoString() string {
	return "secret.String(" + s.String() + ")"
}

// MarshalJSON always emits the redacted placeholder. Request payloads are
// built from Reveal explicitly; any accidental marshal of the wrapper is
// therefore safe to persist or log.
func (s String) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a raw string. The redacted placeholder is kept
// as-is so that a stored, masked record never resurrects a real value.
func (s *String) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.value = raw
	return nil
}
