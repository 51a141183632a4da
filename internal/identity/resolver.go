// Package identity maps the customer identity fields found in platform
// payloads onto a single logical customer key.
package identity

import (
	"encoding/json"
	"strings"
	"sync"

	"dmsrelay/internal/message"
)

// Source names the rule that produced a key.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceMapped   Source = "mapped"
	SourceProfile  Source = "profile"
	SourceUUID     Source = "uuid"
	SourceNone     Source = "none"
)

// Resolution is the outcome of resolving one payload.
type Resolution struct {
	Key    string
	Source Source
	// Keys lists every key the payload answers to, resolved key first.
	Keys []string
}

// Resolver resolves logical customer keys. The platform UUID table is
// replaceable at runtime.
type Resolver struct {
	mu       sync.RWMutex
	mappings map[string]string
}

// NewResolver creates a resolver with the given UUID -> key table.
func NewResolver(mappings map[string]string) *Resolver {
	r := &Resolver{}
	r.SetMappings(mappings)
	return r
}

// SetMappings replaces the UUID table. Keys and values are trimmed and
// empty pairs dropped. UUIDs match case-insensitively.
func (r *Resolver) SetMappings(mappings map[string]string) {
	table := make(map[string]string, len(mappings))
	for uuid, key := range mappings {
		uuid, key = strings.ToLower(strings.TrimSpace(uuid)), strings.TrimSpace(key)
		if uuid == "" || key == "" {
			continue
		}
		table[uuid] = key
	}

	r.mu.Lock()
	r.mappings = table
	r.mu.Unlock()
}

// Mappings returns a copy of the UUID table.
func (r *Resolver) Mappings() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.mappings))
	for k, v := range r.mappings {
		out[k] = v
	}
	return out
}

// Lookup returns the logical key mapped to a platform UUID.
func (r *Resolver) Lookup(uuid string) (string, bool) {
	if uuid == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.mappings[strings.ToLower(uuid)]
	return key, ok
}

// Resolve derives the logical customer key. First match wins:
// customer_id, mapped platform UUID, customer.profile_id, literal customer.id.
func (r *Resolver) Resolve(p message.Payload) Resolution {
	explicit := p.String("customer_id")
	profile := p.NestedString("customer", "profile_id")
	rawUUID := p.NestedString("customer", "id")

	mapped, ok := r.Lookup(p.String("pyCustomerId"))
	if !ok {
		mapped, _ = r.Lookup(rawUUID)
	}

	res := Resolution{Source: SourceNone}
	switch {
	case explicit != "":
		res.Key, res.Source = explicit, SourceExplicit
	case mapped != "":
		res.Key, res.Source = mapped, SourceMapped
	case profile != "":
		res.Key, res.Source = profile, SourceProfile
	case rawUUID != "":
		res.Key, res.Source = rawUUID, SourceUUID
	}

	res.Keys = appendUnique(nil, res.Key, explicit, profile, mapped)
	return res
}

// NormalizeEntryText extracts the text carried inside a serialised
// pyEntryText field. The input payload is not modified; the returned payload
// has its "text" replaced when extraction applies.
func NormalizeEntryText(p message.Payload) message.Payload {
	raw, ok := p["pyEntryText"].(string)
	if !ok {
		return p
	}

	out := p.Clone()
	var inner map[string]any
	if err := json.Unmarshal([]byte(raw), &inner); err != nil || inner == nil {
		out["text"] = []string{raw}
		return out
	}
	if text := message.ToStrings(inner["text"]); len(text) > 0 {
		out["text"] = text
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, have := range dst {
			if have == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
