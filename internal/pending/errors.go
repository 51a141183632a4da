package pending

import "errors"

var (
	// ErrInvalidMessageID indicates an empty message id.
	ErrInvalidMessageID = errors.New("pending: message id is required")

	// ErrAlreadyPending indicates the message id is already being tracked.
	ErrAlreadyPending = errors.New("pending: message already pending")

	// ErrMaxPendingExceeded indicates the tracker is at capacity.
	ErrMaxPendingExceeded = errors.New("pending: max pending sends exceeded")

	// ErrInvalidStatus indicates an unrecognised status value.
	ErrInvalidStatus = errors.New("pending: invalid status")

	// ErrClosed indicates the tracker has been closed.
	ErrClosed = errors.New("pending: tracker closed")
)
