// Package message defines inbound event and payload types shared by the
// reconciliation components.
package message

import (
	"encoding/json"
	"strings"
	"time"
)

// TimestampLayout matches the millisecond ISO-8601 form browsers produce.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Type is the raw event type string reported by the platform.
type Type string

// Recognised event types.
const (
	TypeText            Type = "text"
	TypeLinkButton      Type = "link_button"
	TypeMenu            Type = "menu"
	TypeTypingIndicator Type = "typing_indicator"
	TypeEndSession      Type = "end_session"
	TypeRichContent     Type = "rich_content"
	TypeURLLink         Type = "url_link"
	TypeOther           Type = "other"
)

var knownTypes = map[Type]bool{
	TypeText:            true,
	TypeLinkButton:      true,
	TypeMenu:            true,
	TypeTypingIndicator: true,
	TypeEndSession:      true,
	TypeRichContent:     true,
	TypeURLLink:         true,
}

// ParseType normalises a raw type value. Session-end aliases collapse to
// TypeEndSession; an empty value becomes TypeOther. Unknown values are kept
// verbatim so fingerprints can tell them apart.
func ParseType(raw string) Type {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case "":
		return TypeOther
	case "csr_end_session", "customer_end_session":
		return TypeEndSession
	}
	return t
}

// Known reports whether t is one of the recognised event types.
func (t Type) Known() bool {
	return knownTypes[t]
}

// Event is one inbound occurrence stored in the ledger. Events are never
// mutated after Append.
type Event struct {
	Index       int
	MessageID   string
	Type        Type
	CustomerKey string
	Keys        []string
	Text        []string
	Timestamp   time.Time
	ReceivedAt  time.Time
	Payload     Payload
}

// Orphaned reports whether no customer key could be derived.
func (e *Event) Orphaned() bool {
	return e.CustomerKey == ""
}

// Renderable reports whether a client can display the event. Unknown types
// fall back to their text when present.
func (e *Event) Renderable() bool {
	return e.Type.Known() || len(e.Text) > 0
}

// MatchesKey reports whether the event answers to the given customer key.
func (e *Event) MatchesKey(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range e.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// MarshalJSON renders the raw payload with the normalised fields laid over it.
func (e *Event) MarshalJSON() ([]byte, error) {
	out := e.Payload.Clone()
	if out == nil {
		out = Payload{}
	}
	out["type"] = string(e.Type)
	out["timestamp"] = FormatTimestamp(e.Timestamp)
	if e.MessageID != "" {
		out["message_id"] = e.MessageID
	}
	if e.CustomerKey != "" {
		out["customer_id"] = e.CustomerKey
	}
	if e.Text != nil {
		out["text"] = e.Text
	}
	return json.Marshal(out)
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts RFC 3339 with or without fractional seconds and
// truncates to milliseconds, matching the cursor arithmetic clients do.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Millisecond), nil
}
