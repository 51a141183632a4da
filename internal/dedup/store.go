// Package dedup decides whether an inbound event is a redelivery of one
// already stored or a distinct event that happens to reuse its id.
package dedup

import (
	"slices"
	"sort"
	"sync"
)

// Decision is the outcome of admitting one event.
type Decision int

const (
	// NewUnique is an event with no id, or the first event with its id.
	NewUnique Decision = iota
	// NewDistinct reuses a known id with a different fingerprint.
	NewDistinct
	// Duplicate repeats a known id and fingerprint.
	Duplicate
)

func (d Decision) String() string {
	switch d {
	case NewUnique:
		return "new_unique"
	case NewDistinct:
		return "new_distinct"
	case Duplicate:
		return "duplicate"
	}
	return "invalid"
}

// Accepted reports whether the event should be appended to the ledger.
func (d Decision) Accepted() bool {
	return d != Duplicate
}

// Fingerprint identifies event content independently of its id.
type Fingerprint struct {
	CustomerKey string
	Type        string
	Text        []string
}

// NewFingerprint builds a fingerprint from an event's identity and content.
// The text is copied so later changes to the event do not alter it.
func NewFingerprint(customerKey, eventType string, text []string) Fingerprint {
	return Fingerprint{
		CustomerKey: customerKey,
		Type:        eventType,
		Text:        slices.Clone(text),
	}
}

// Equal reports whether two fingerprints describe the same content. Text is
// compared element by element; nil and empty are equal.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.CustomerKey == o.CustomerKey &&
		f.Type == o.Type &&
		slices.Equal(f.Text, o.Text)
}

// Record binds a message id to the first ledger index stored under it.
type Record struct {
	MessageID   string
	Index       int
	Fingerprint Fingerprint
}

// Admission is returned by Admit. Index is the bound ledger index for the
// id: the candidate for a fresh id, the first occurrence otherwise, and -1
// when the event has no id.
type Admission struct {
	Decision Decision
	Index    int
}

// Stats summarises the store.
type Stats struct {
	TrackedIDs        int `json:"trackedIds"`
	DuplicatesBlocked int `json:"duplicatesBlocked"`
	DistinctReuses    int `json:"distinctReuses"`
}

// Store holds dedup records keyed by message id.
type Store struct {
	mu       sync.RWMutex
	records  map[string]Record
	blocked  int
	distinct int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// Admit classifies an event. The index binding is first-writer-wins: a
// NewDistinct admission never rebinds the id.
func (s *Store) Admit(messageID string, fp Fingerprint, candidateIndex int) Admission {
	if messageID == "" {
		return Admission{Decision: NewUnique, Index: -1}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, seen := s.records[messageID]
	if !seen {
		s.records[messageID] = Record{MessageID: messageID, Index: candidateIndex, Fingerprint: fp}
		return Admission{Decision: NewUnique, Index: candidateIndex}
	}
	if rec.Fingerprint.Equal(fp) {
		s.blocked++
		return Admission{Decision: Duplicate, Index: rec.Index}
	}
	s.distinct++
	return Admission{Decision: NewDistinct, Index: rec.Index}
}

// Lookup returns the record for a message id.
func (s *Store) Lookup(messageID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[messageID]
	return rec, ok
}

// IDs returns tracked message ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Stats returns a snapshot of counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		TrackedIDs:        len(s.records),
		DuplicatesBlocked: s.blocked,
		DistinctReuses:    s.distinct,
	}
}

// Clear drops every record and resets counters.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record)
	s.blocked = 0
	s.distinct = 0
}
