package relay

import "errors"

var (
	ErrTooManyConnections = errors.New("too many connections")
	ErrServiceClosed      = errors.New("relay service closed")
	// ErrUnknownConnection is returned when an operation names a connection
	// that is not (or no longer) registered.
	ErrUnknownConnection = errors.New("unknown connection")
)
