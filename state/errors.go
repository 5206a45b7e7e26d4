package state

import "errors"

// RunErrorKind classifies why Run stopped.
type RunErrorKind int

const (
	// RunErrorTransport indicates a connection failure that could not be
	// (or was not configured to be) recovered by redialing.
	RunErrorTransport RunErrorKind = iota
	// RunErrorCanceled indicates context cancellation.
	RunErrorCanceled
)

// RunError is returned by Interface.Run.
type RunError struct {
	Kind RunErrorKind
	Err  error
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// IsTransportFailure returns true if Run stopped on a connection failure.
func IsTransportFailure(err error) bool {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind == RunErrorTransport
	}
	return false
}

// IsCanceledError returns true if Run stopped because its context ended.
func IsCanceledError(err error) bool {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind == RunErrorCanceled
	}
	return false
}
