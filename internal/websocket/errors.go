package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed   = errors.New("connection closed")
	ErrConnectionNotReady = errors.New("connection not ready: send buffer full")
)

// Registry-related errors
var (
	ErrNilConnection         = errors.New("connection cannot be nil")
	ErrEmptyConnectionID     = errors.New("connection id cannot be empty")
	ErrDuplicateConnectionID = errors.New("connection id already registered")
)

// IsNotReady reports whether err means a recipient could not take a frame
// right now, as opposed to a programming error.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrConnectionNotReady) || errors.Is(err, ErrConnectionClosed)
}
