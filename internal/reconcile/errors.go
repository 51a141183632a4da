package reconcile

import "errors"

var (
	// ErrMissingFields indicates a submit without customer or message id.
	ErrMissingFields = errors.New("missing required fields: customerId and messageId")

	// ErrMissingText indicates a plain text submit without text.
	ErrMissingText = errors.New("missing required field: text")

	// ErrNotConfigured indicates the platform sender cannot send yet.
	ErrNotConfigured = errors.New("platform sender not configured")
)
