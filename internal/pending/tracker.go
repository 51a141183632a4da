// Package pending tracks outbound messages until the platform confirms or
// fails them.
package pending

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dmsrelay/pkg/logger"
)

// Default tracker settings.
const (
	DefaultAckTimeout      = 10 * time.Second
	DefaultPollInterval    = 3 * time.Second
	DefaultMaxPollDuration = 60 * time.Second
	DefaultCheckTimeout    = 5 * time.Second
	DefaultMaxPending      = 1000
)

// Entry is the externally visible state of one pending send.
type Entry struct {
	MessageID   string    `json:"messageId"`
	CustomerKey string    `json:"customerKey,omitempty"`
	Text        []string  `json:"text,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Transition describes one state change. From is empty when the entry was
// just created.
type Transition struct {
	Entry  Entry     `json:"entry"`
	From   Status    `json:"from,omitempty"`
	To     Status    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// StatusChecker asks the platform for the delivery status of a sent message.
type StatusChecker interface {
	CheckStatus(ctx context.Context, messageID string) (Status, error)
}

// Config configures a Tracker. Zero values take the defaults.
type Config struct {
	AckTimeout      time.Duration
	PollInterval    time.Duration
	MaxPollDuration time.Duration
	CheckTimeout    time.Duration
	MaxPending      int

	// Checker is polled while an entry is sent. Nil disables polling; the
	// max poll deadline still applies.
	Checker StatusChecker

	// OnTransition is called for every transition, outside the tracker lock.
	OnTransition func(Transition)
}

// record holds an entry and the timers that act on it.
type record struct {
	entry     Entry
	ackGen    int
	ackTimer  *time.Timer
	pollTimer *time.Timer
	deadline  *time.Timer
}

func (r *record) stopTimers() {
	for _, tm := range []*time.Timer{r.ackTimer, r.pollTimer, r.deadline} {
		if tm != nil {
			tm.Stop()
		}
	}
	r.ackTimer, r.pollTimer, r.deadline = nil, nil, nil
}

// Tracker owns the pending-send state machine. Terminal entries are removed
// and their timers stopped before observers hear about them.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*record
	closed  bool

	ackTimeout      time.Duration
	pollInterval    time.Duration
	maxPollDuration time.Duration
	checkTimeout    time.Duration
	maxPending      int
	checker         StatusChecker
	onTransition    func(Transition)

	log zerolog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config) *Tracker {
	t := &Tracker{
		pending:         make(map[string]*record),
		ackTimeout:      DefaultAckTimeout,
		pollInterval:    DefaultPollInterval,
		maxPollDuration: DefaultMaxPollDuration,
		checkTimeout:    DefaultCheckTimeout,
		maxPending:      DefaultMaxPending,
		checker:         cfg.Checker,
		onTransition:    cfg.OnTransition,
		log:             logger.Component("pending"),
	}
	if cfg.AckTimeout > 0 {
		t.ackTimeout = cfg.AckTimeout
	}
	if cfg.PollInterval > 0 {
		t.pollInterval = cfg.PollInterval
	}
	if cfg.MaxPollDuration > 0 {
		t.maxPollDuration = cfg.MaxPollDuration
	}
	if cfg.CheckTimeout > 0 {
		t.checkTimeout = cfg.CheckTimeout
	}
	if cfg.MaxPending > 0 {
		t.maxPending = cfg.MaxPending
	}
	return t
}

// Track registers a new entry in the sending state and arms its ack deadline.
func (t *Tracker) Track(e Entry) error {
	e.MessageID = strings.TrimSpace(e.MessageID)
	if e.MessageID == "" {
		return ErrInvalidMessageID
	}

	now := time.Now()
	e.Status = StatusSending
	e.CreatedAt = now
	e.UpdatedAt = now

	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return ErrClosed
	case t.pending[e.MessageID] != nil:
		t.mu.Unlock()
		return ErrAlreadyPending
	case len(t.pending) >= t.maxPending:
		t.mu.Unlock()
		return ErrMaxPendingExceeded
	}
	rec := &record{entry: e}
	t.armAckLocked(rec, t.ackTimeout)
	t.pending[e.MessageID] = rec
	t.mu.Unlock()

	t.notify(Transition{Entry: e, To: StatusSending, Reason: "submitted", At: now})
	return nil
}

// StartTimeout re-arms the ack deadline of an entry still sending.
func (t *Tracker) StartTimeout(messageID string, deadline time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.pending[messageID]
	if !ok || rec.entry.Status != StatusSending {
		return false
	}
	if deadline <= 0 {
		deadline = t.ackTimeout
	}
	t.armAckLocked(rec, deadline)
	return true
}

// MarkSent records a successful platform acknowledgement and starts polling.
func (t *Tracker) MarkSent(messageID string) bool {
	return t.apply(messageID, StatusSent, "platform ack")
}

// MarkDelivered records delivery confirmation.
func (t *Tracker) MarkDelivered(messageID string) bool {
	return t.apply(messageID, StatusDelivered, "delivery confirmed")
}

// MarkError records a platform failure.
func (t *Tracker) MarkError(messageID string) bool {
	return t.apply(messageID, StatusError, "platform error")
}

// Expire ends an entry: sending becomes timeout, sent becomes unknown.
func (t *Tracker) Expire(messageID string) bool {
	t.mu.Lock()
	rec, ok := t.pending[messageID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	tr, ok := t.transitionLocked(rec, expiryFor(rec.entry.Status), "expired")
	t.mu.Unlock()

	if ok {
		t.notify(tr)
	}
	return ok
}

func (t *Tracker) apply(messageID string, to Status, reason string) bool {
	t.mu.Lock()
	rec, ok := t.pending[messageID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	tr, ok := t.transitionLocked(rec, to, reason)
	t.mu.Unlock()

	if ok {
		t.notify(tr)
	}
	return ok
}

// transitionLocked moves rec to the given status. Caller holds t.mu.
func (t *Tracker) transitionLocked(rec *record, to Status, reason string) (Transition, bool) {
	from := rec.entry.Status
	if !canTransition(from, to) {
		return Transition{}, false
	}

	now := time.Now()
	rec.entry.Status = to
	rec.entry.UpdatedAt = now

	switch {
	case to.Terminal():
		rec.stopTimers()
		delete(t.pending, rec.entry.MessageID)
	case to == StatusSent:
		if rec.ackTimer != nil {
			rec.ackTimer.Stop()
			rec.ackTimer = nil
		}
		rec.deadline = time.AfterFunc(t.maxPollDuration, func() {
			t.fire(rec, func() bool { return rec.entry.Status == StatusSent }, StatusUnknown, "max poll duration exceeded")
		})
		if t.checker != nil {
			t.armPollLocked(rec)
		}
	}

	return Transition{Entry: rec.entry, From: from, To: to, Reason: reason, At: now}, true
}

func (t *Tracker) armAckLocked(rec *record, d time.Duration) {
	if rec.ackTimer != nil {
		rec.ackTimer.Stop()
	}
	rec.ackGen++
	gen := rec.ackGen
	rec.ackTimer = time.AfterFunc(d, func() {
		t.fire(rec, func() bool {
			return rec.ackGen == gen && rec.entry.Status == StatusSending
		}, StatusTimeout, "ack timeout")
	})
}

func (t *Tracker) armPollLocked(rec *record) {
	rec.pollTimer = time.AfterFunc(t.pollInterval, func() { t.poll(rec) })
}

// fire runs a timer-driven transition if rec is still tracked and valid
// holds. valid runs under t.mu.
func (t *Tracker) fire(rec *record, valid func() bool, to Status, reason string) {
	t.mu.Lock()
	if t.pending[rec.entry.MessageID] != rec || !valid() {
		t.mu.Unlock()
		return
	}
	tr, ok := t.transitionLocked(rec, to, reason)
	t.mu.Unlock()

	if ok {
		t.notify(tr)
	}
}

func (t *Tracker) current(rec *record) bool {
	return t.pending[rec.entry.MessageID] == rec && rec.entry.Status == StatusSent
}

func (t *Tracker) poll(rec *record) {
	t.mu.Lock()
	if !t.current(rec) {
		t.mu.Unlock()
		return
	}
	id := rec.entry.MessageID
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.checkTimeout)
	status, err := t.checker.CheckStatus(ctx, id)
	cancel()

	t.mu.Lock()
	if !t.current(rec) {
		t.mu.Unlock()
		return
	}
	if err != nil {
		t.log.Debug().Err(err).Str("message_id", id).Msg("status check failed")
	}
	if err == nil && (status == StatusDelivered || status == StatusError) {
		tr, ok := t.transitionLocked(rec, status, "status poll")
		t.mu.Unlock()
		if ok {
			t.notify(tr)
		}
		return
	}
	t.armPollLocked(rec)
	t.mu.Unlock()
}

// Sweep expires entries created more than maxAge ago. It guards against
// entries whose timers were lost and returns how many were expired.
func (t *Tracker) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	var transitions []Transition
	for _, rec := range t.pending {
		if rec.entry.CreatedAt.After(cutoff) {
			continue
		}
		if tr, ok := t.transitionLocked(rec, expiryFor(rec.entry.Status), "swept"); ok {
			transitions = append(transitions, tr)
		}
	}
	t.mu.Unlock()

	for _, tr := range transitions {
		t.notify(tr)
	}
	return len(transitions)
}

// Status returns the entry for a message id.
func (t *Tracker) Status(messageID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.pending[messageID]; ok {
		return rec.entry, true
	}
	return Entry{}, false
}

// List returns all pending entries, oldest first.
func (t *Tracker) List() []Entry {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.pending))
	for _, rec := range t.pending {
		out = append(out, rec.entry)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of pending entries.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close stops every timer and drops all entries. No transitions are reported.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, rec := range t.pending {
		rec.stopTimers()
		delete(t.pending, id)
	}
	t.closed = true
}

func (t *Tracker) notify(tr Transition) {
	ev := t.log.Debug()
	if tr.To == StatusTimeout || tr.To == StatusUnknown || tr.To == StatusError {
		ev = t.log.Warn()
	}
	ev.Str("message_id", tr.Entry.MessageID).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Str("reason", tr.Reason).
		Msg("pending send transition")

	if t.onTransition != nil {
		t.onTransition(tr)
	}
}
