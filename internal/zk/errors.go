package zk

import "errors"

// Domain errors for the terminal session package.
var (
	// ErrUnreachable is returned when the terminal cannot be reached
	// (dial or handshake failure). Retryable from the caller's view.
	ErrUnreachable = errors.New("zk: device unreachable")

	// ErrNotConnected is returned when a data operation is attempted
	// without an open connection. This is a usage error, not a runtime
	// condition to recover from.
	ErrNotConnected = errors.New("zk: not connected")

	// ErrNotFound is returned when a requested record does not exist on
	// the terminal. Distinct from ErrOperationFailed.
	ErrNotFound = errors.New("zk: record not found")

	// ErrOperationFailed is returned when the terminal acknowledges a
	// call with a failure indicator. The device may simply be busy; the
	// link itself remains usable.
	ErrOperationFailed = errors.New("zk: device rejected operation")

	// ErrInvalidEnrollNumber is returned when an enrollment number is
	// not a positive integer string.
	ErrInvalidEnrollNumber = errors.New("zk: invalid enrollment number")

	// ErrLinkClosed is returned when a call is made on a closed link.
	ErrLinkClosed = errors.New("zk: link closed")

	// ErrInvalidFrame is returned when a received frame is malformed.
	ErrInvalidFrame = errors.New("zk: invalid frame")
)

// isTransport reports whether err indicates the link itself is broken
// rather than an expected protocol outcome. Transport errors leave the
// session disconnected; protocol outcomes leave it usable.
func isTransport(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrOperationFailed) &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrInvalidEnrollNumber)
}
