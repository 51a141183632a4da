// Package reconcile composes identity resolution, deduplication, the message
// ledger and the pending-send tracker into one service shared by every
// request handler.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dmsrelay/internal/dedup"
	"dmsrelay/internal/dms"
	"dmsrelay/internal/identity"
	"dmsrelay/internal/ledger"
	"dmsrelay/internal/message"
	"dmsrelay/internal/pending"
	"dmsrelay/internal/receipts"
	"dmsrelay/pkg/logger"
)

// Sender delivers outbound payloads to the platform.
type Sender interface {
	Configured() bool
	Send(ctx context.Context, payload any) (*dms.Response, error)
}

// StatusSource reports the platform's view of a sent message.
type StatusSource interface {
	CheckStatus(ctx context.Context, messageID string) (string, error)
}

// Config wires a Service.
type Config struct {
	Resolver  *identity.Resolver
	Sender    Sender
	Status    StatusSource
	Publisher receipts.Publisher

	// Tracker timings. Checker and OnTransition are set by the service.
	Tracker pending.Config
}

// Service is the reconciliation core. Create one per process.
type Service struct {
	resolver  *identity.Resolver
	dedup     *dedup.Store
	ledger    *ledger.Ledger
	tracker   *pending.Tracker
	sender    Sender
	publisher receipts.Publisher

	// ingestMu makes admit+append atomic so ledger order is arrival order.
	ingestMu sync.Mutex

	now func() time.Time
	log zerolog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	s := &Service{
		resolver:  cfg.Resolver,
		dedup:     dedup.NewStore(),
		ledger:    ledger.New(),
		sender:    cfg.Sender,
		publisher: cfg.Publisher,
		now:       time.Now,
		log:       logger.Component("reconcile"),
	}
	if s.resolver == nil {
		s.resolver = identity.NewResolver(nil)
	}
	if s.publisher == nil {
		s.publisher = receipts.NopPublisher{}
	}

	tc := cfg.Tracker
	if cfg.Status != nil {
		tc.Checker = statusChecker{src: cfg.Status}
	}
	tc.OnTransition = s.publishReceipt
	s.tracker = pending.NewTracker(tc)
	return s
}

// Resolver returns the identity resolver, for mapping reloads.
func (s *Service) Resolver() *identity.Resolver {
	return s.resolver
}

// FetchSince returns the events for key with a timestamp strictly after since,
// in ledger order.
func (s *Service) FetchSince(key string, since time.Time) []*message.Event {
	return s.ledger.Query(key, since)
}

// SendOutbound registers a pending send and arms its ack deadline. The caller
// reports the platform outcome with MarkSent or MarkError.
func (s *Service) SendOutbound(messageID string, text []string, customerKey string) error {
	return s.tracker.Track(pending.Entry{
		MessageID:   messageID,
		CustomerKey: customerKey,
		Text:        text,
	})
}

// MarkSent records a successful platform acknowledgement.
func (s *Service) MarkSent(messageID string) bool {
	return s.tracker.MarkSent(messageID)
}

// MarkError records a platform failure.
func (s *Service) MarkError(messageID string) bool {
	return s.tracker.MarkError(messageID)
}

// MarkDelivered records delivery confirmation.
func (s *Service) MarkDelivered(messageID string) bool {
	return s.tracker.MarkDelivered(messageID)
}

// MessageStatus returns the status of a pending send, or StatusUnknown when
// the id is not tracked.
func (s *Service) MessageStatus(messageID string) pending.Status {
	if e, ok := s.tracker.Status(messageID); ok {
		return e.Status
	}
	return pending.StatusUnknown
}

// UpdateStatus applies a client-reported status. Only sent, delivered and
// error can be reported.
func (s *Service) UpdateStatus(messageID, status string) (bool, error) {
	st, err := pending.ParseStatus(status)
	if err != nil {
		return false, err
	}
	switch st {
	case pending.StatusSent:
		return s.tracker.MarkSent(messageID), nil
	case pending.StatusDelivered:
		return s.tracker.MarkDelivered(messageID), nil
	case pending.StatusError:
		return s.tracker.MarkError(messageID), nil
	}
	return false, fmt.Errorf("%w: %s cannot be reported", pending.ErrInvalidStatus, st)
}

// Pending lists active pending sends.
func (s *Service) Pending() []pending.Entry {
	return s.tracker.List()
}

// Sweep expires pending sends older than maxAge.
func (s *Service) Sweep(maxAge time.Duration) int {
	return s.tracker.Sweep(maxAge)
}

// Clear empties the ledger and dedup state. Pending sends are kept.
func (s *Service) Clear() int {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	n := s.ledger.Clear()
	s.dedup.Clear()
	s.log.Info().Int("cleared", n).Msg("ledger and dedup state cleared")
	return n
}

// Stats summarises the stores.
type Stats struct {
	Events  int         `json:"totalMessages"`
	Orphans int         `json:"orphanedMessages"`
	Dedup   dedup.Stats `json:"deduplication"`
	Pending int         `json:"pendingSends"`
}

// Stats returns current store counts.
func (s *Service) Stats() Stats {
	return Stats{
		Events:  s.ledger.Len(),
		Orphans: len(s.ledger.Orphans()),
		Dedup:   s.dedup.Stats(),
		Pending: s.tracker.Count(),
	}
}

// Events returns the whole ledger, orphans included.
func (s *Service) Events() []*message.Event {
	return s.ledger.All()
}

// Recent returns the last n events.
func (s *Service) Recent(n int) []*message.Event {
	return s.ledger.Recent(n)
}

// DedupIDs returns every message id seen by the dedup store.
func (s *Service) DedupIDs() []string {
	return s.dedup.IDs()
}

// Close stops all timers and the receipt publisher.
func (s *Service) Close() error {
	s.tracker.Close()
	return s.publisher.Close()
}

// publishReceipt runs on tracker timer goroutines as well as request paths,
// so a failing publisher is contained here.
func (s *Service) publishReceipt(tr pending.Transition) {
	r := receipts.FromTransition(tr)
	defer func() {
		if p := recover(); p != nil {
			s.log.Error().Interface("panic", p).Str("message_id", r.MessageID).Msg("receipt publisher panicked")
		}
	}()
	if err := s.publisher.Publish(context.Background(), r); err != nil {
		s.log.Warn().Err(err).Str("message_id", r.MessageID).Str("status", string(r.Status)).Msg("receipt not published")
	}
}

// statusChecker adapts a StatusSource to the tracker.
type statusChecker struct {
	src StatusSource
}

func (c statusChecker) CheckStatus(ctx context.Context, messageID string) (pending.Status, error) {
	raw, err := c.src.CheckStatus(ctx, messageID)
	if err != nil {
		return "", err
	}
	return pending.ParseStatus(raw)
}
