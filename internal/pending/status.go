package pending

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an outbound message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
	StatusUnknown   Status = "unknown"
)

// Terminal reports whether s removes the entry from the tracker.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusError, StatusTimeout, StatusUnknown:
		return true
	}
	return false
}

// Reported maps s onto the values exposed to status queries: sent,
// delivered, error and unknown. A send still awaiting its platform ack, or
// one that timed out, reports unknown.
func (s Status) Reported() Status {
	switch s {
	case StatusSent, StatusDelivered, StatusError:
		return s
	}
	return StatusUnknown
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusSending, StatusSent, StatusDelivered, StatusError, StatusTimeout, StatusUnknown:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// canTransition encodes the state machine:
//
//	sending -> sent | delivered | error | timeout
//	sent    -> delivered | error | unknown
func canTransition(from, to Status) bool {
	switch from {
	case StatusSending:
		return to == StatusSent || to == StatusDelivered || to == StatusError || to == StatusTimeout
	case StatusSent:
		return to == StatusDelivered || to == StatusError || to == StatusUnknown
	}
	return false
}

// expiryFor returns the terminal status an expiring entry moves to.
func expiryFor(s Status) Status {
	if s == StatusSent {
		return StatusUnknown
	}
	return StatusTimeout
}
