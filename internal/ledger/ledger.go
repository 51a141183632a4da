// Package ledger is the append-only, arrival-ordered store of inbound events.
package ledger

import (
	"iter"
	"slices"
	"sync"
	"time"

	"dmsrelay/internal/message"
)

// Ledger stores events in arrival order. Stored events are immutable, so
// readers iterate over a snapshot without holding the lock.
type Ledger struct {
	mu     sync.RWMutex
	events []*message.Event
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append stores e, assigns its index and returns it.
func (l *Ledger) Append(e *message.Event) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Index = len(l.events)
	l.events = append(l.events, e)
	return e.Index
}

// Len returns the number of stored events.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// NextIndex returns the index the next Append will assign.
func (l *Ledger) NextIndex() int {
	return l.Len()
}

func (l *Ledger) snapshot() []*message.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.events[:len(l.events):len(l.events)]
}

// Since yields, in ledger order, events that answer to key and whose
// timestamp is strictly after since. Each call starts a fresh pass.
func (l *Ledger) Since(key string, since time.Time) iter.Seq[*message.Event] {
	return func(yield func(*message.Event) bool) {
		if key == "" {
			return
		}
		for _, e := range l.snapshot() {
			if !e.MatchesKey(key) || !e.Timestamp.After(since) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Query collects Since into a slice. The result is never nil.
func (l *Ledger) Query(key string, since time.Time) []*message.Event {
	out := slices.Collect(l.Since(key, since))
	if out == nil {
		out = []*message.Event{}
	}
	return out
}

// All returns every stored event, orphans included.
func (l *Ledger) All() []*message.Event {
	return slices.Clone(l.snapshot())
}

// Recent returns up to n of the most recently appended events.
func (l *Ledger) Recent(n int) []*message.Event {
	events := l.snapshot()
	n = max(n, 0)
	if n < len(events) {
		events = events[len(events)-n:]
	}
	return slices.Clone(events)
}

// Orphans returns events with no customer key.
func (l *Ledger) Orphans() []*message.Event {
	var out []*message.Event
	for _, e := range l.snapshot() {
		if e.Orphaned() {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops every event and returns how many were removed.
func (l *Ledger) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.events)
	l.events = nil
	return n
}
