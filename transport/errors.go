package transport

import (
	"errors"
	"fmt"
)

// ErrUnexpectedReply is wrapped by the protocol *Error SendAndReceive
// returns when the message read after a request is not a reply to it.
var ErrUnexpectedReply = errors.New("unexpected reply")

// ErrClosed is wrapped by operations on a closed connection.
var ErrClosed = errors.New("connection closed")

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	// ErrorIO indicates a read, write or dial failure (reset, EOF, timeout).
	ErrorIO ErrorKind = iota
	// ErrorClosed indicates use of a closed connection.
	ErrorClosed
	// ErrorProtocol indicates a stream that cannot be resynchronized:
	// bad frame sizes or a reply that does not answer the request.
	ErrorProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorIO:
		return "io"
	case ErrorClosed:
		return "closed"
	case ErrorProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a transport failure. The connection is unusable afterwards;
// recovery (redial) belongs to the owning loop.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransportError returns true if err is or wraps a *Error.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
