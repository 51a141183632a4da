package reconcile

import (
	"fmt"
	"time"

	"dmsrelay/internal/dedup"
	"dmsrelay/internal/identity"
	"dmsrelay/internal/message"
)

// Result describes what RecordInbound did with a payload.
type Result struct {
	Stored    bool
	Decision  dedup.Decision
	Event     *message.Event
	Orphaned  bool
	Delivered bool
}

// RecordRaw decodes and records a webhook body. Bodies that are not JSON
// objects are kept as orphans.
func (s *Service) RecordRaw(data []byte) Result {
	p, err := message.DecodePayload(data)
	if err != nil {
		s.log.Warn().Err(err).Int("bytes", len(data)).Msg("malformed inbound payload stored as orphan")
		return s.storeOrphan(message.Payload{"raw": string(data)}, err.Error())
	}
	return s.RecordInbound(p)
}

// RecordInbound resolves, deduplicates and stores an inbound payload. A
// message id matching an active pending send confirms its delivery. It never
// panics; failures store the payload as an orphan.
func (s *Service) RecordInbound(p message.Payload) (res Result) {
	// admitted is set once dedup has ruled on the event; from then on the
	// event is in the ledger (or known to it) and must not be stored again.
	admitted := false
	defer func() {
		if r := recover(); r != nil {
			if admitted {
				s.log.Error().Interface("panic", r).Msg("panic after inbound event was recorded")
				return
			}
			s.log.Error().Interface("panic", r).Msg("inbound payload stored as orphan after panic")
			res = s.storeOrphan(p, fmt.Sprint(r))
		}
	}()

	if p == nil {
		return s.storeOrphan(message.Payload{}, "empty payload")
	}

	p = identity.NormalizeEntryText(p)
	id := s.resolver.Resolve(p)
	ev := s.buildEvent(p, id)
	fp := dedup.NewFingerprint(ev.CustomerKey, string(ev.Type), ev.Text)

	s.log.Debug().
		Str("customer_key", id.Key).
		Str("source", string(id.Source)).
		Strs("keys", id.Keys).
		Msg("identity resolved")

	adm := s.admit(ev, fp)
	admitted = true
	res = Result{
		Stored:   adm.Decision.Accepted(),
		Decision: adm.Decision,
		Event:    ev,
		Orphaned: ev.Orphaned(),
	}

	log := s.log.Info()
	switch {
	case !res.Stored:
		log = s.log.Warn()
	case res.Orphaned:
		log = s.log.Warn().Bool("orphaned", true)
	}
	log.Str("message_id", ev.MessageID).
		Str("customer_key", ev.CustomerKey).
		Str("type", string(ev.Type)).
		Str("decision", adm.Decision.String()).
		Int("index", adm.Index).
		Msg("inbound event")

	if !ev.Type.Known() && len(ev.Text) == 0 {
		s.log.Info().Str("type", string(ev.Type)).Msg("unrecognised event type without text")
	}

	if ev.MessageID != "" {
		res.Delivered = s.tracker.MarkDelivered(ev.MessageID)
	}
	return res
}

func (s *Service) admit(ev *message.Event, fp dedup.Fingerprint) dedup.Admission {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	adm := s.dedup.Admit(ev.MessageID, fp, s.ledger.NextIndex())
	if adm.Decision.Accepted() {
		s.ledger.Append(ev)
	}
	return adm
}

func (s *Service) buildEvent(p message.Payload, id identity.Resolution) *message.Event {
	now := s.now().UTC()
	ts := now.Truncate(time.Millisecond)
	if raw := p.String("timestamp"); raw != "" {
		if parsed, err := message.ParseTimestamp(raw); err == nil {
			ts = parsed
		}
	}

	return &message.Event{
		MessageID:   p.MessageID(),
		Type:        message.ParseType(p.String("type")),
		CustomerKey: id.Key,
		Keys:        id.Keys,
		Text:        p.Text(),
		Timestamp:   ts,
		ReceivedAt:  now,
		Payload:     p,
	}
}

// storeOrphan appends p without identity or dedup.
func (s *Service) storeOrphan(p message.Payload, reason string) Result {
	now := s.now().UTC()
	ev := &message.Event{
		Type:       message.TypeOther,
		Timestamp:  now.Truncate(time.Millisecond),
		ReceivedAt: now,
		Payload:    p,
	}
	if t, ok := p["type"].(string); ok {
		ev.Type = message.ParseType(t)
	}

	s.ingestMu.Lock()
	s.ledger.Append(ev)
	s.ingestMu.Unlock()

	s.log.Warn().Str("reason", reason).Int("index", ev.Index).Msg("orphan stored")
	return Result{Stored: true, Decision: dedup.NewUnique, Event: ev, Orphaned: true}
}
