package dms

import (
	"errors"
	"fmt"
)

// Error definitions.
var (
	ErrNotConfigured      = errors.New("dms: jwt secret, channel id and api url are required")
	ErrStatusUnsupported  = errors.New("dms: status url not configured")
	ErrInvalidResponse    = errors.New("dms: invalid response")
	ErrEmptyStatusMessage = errors.New("dms: message id is required")
)

// SendError is a transport failure talking to the platform. No HTTP response
// was received.
type SendError struct {
	Op  string
	URL string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("dms %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
