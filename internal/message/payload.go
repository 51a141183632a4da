package message

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is a decoded JSON object as received from, or sent to, the platform.
type Payload map[string]any

// DecodePayload parses a JSON object. Non-object documents are rejected.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("decode payload: not a JSON object")
	}
	return p, nil
}

// Clone returns a shallow copy. Nested values are shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the trimmed string value at key, or "" if absent or not a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return strings.TrimSpace(s)
}

// Nested returns the object stored at key, or nil.
func (p Payload) Nested(key string) Payload {
	switch v := p[key].(type) {
	case map[string]any:
		return Payload(v)
	case Payload:
		return v
	}
	return nil
}

// NestedString reads p[outer][inner] as a string.
func (p Payload) NestedString(outer, inner string) string {
	n := p.Nested(outer)
	if n == nil {
		return ""
	}
	return n.String(inner)
}

// Text returns the normalised text sequence. A single string becomes a one
// element slice; non-string array elements are skipped.
func (p Payload) Text() []string {
	return ToStrings(p["text"])
}

// MessageID returns the message_id field.
func (p Payload) MessageID() string {
	return p.String("message_id")
}

// ToStrings coerces a JSON text value into a string slice.
func ToStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
