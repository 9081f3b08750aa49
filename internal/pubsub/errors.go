package pubsub

import "errors"

var (
	// ErrAccessDenied means the caller is not authorized for the target
	// channel. Also returned when the membership source is unavailable:
	// authorization fails closed.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidPayload means the payload cannot be serialized. Publishing
	// fails fast before any fan-out is attempted.
	ErrInvalidPayload = errors.New("payload is not serializable")

	// ErrUnknownUser means a notification targeted a user that does not exist.
	ErrUnknownUser = errors.New("target user not found")
)
