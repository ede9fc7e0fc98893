package inspiration

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by stores and clients.
var (
	ErrDuplicateInFlight = errors.New("job already in flight")
	ErrAlreadyTerminal   = errors.New("job already terminal")
	ErrJobNotFound       = errors.New("job not found")
	ErrUnavailable       = errors.New("embedding backend unavailable")
)

// ErrorKind is the machine-stable classification surfaced to clients.
type ErrorKind string

// Error kinds.
const (
	KindBadRequest      ErrorKind = "bad_request"
	KindInternal        ErrorKind = "internal"
	KindUnavailable     ErrorKind = "unavailable"
	KindNotFound        ErrorKind = "not_found"
	KindAlreadyTerminal ErrorKind = "already_terminal"
	KindForbidden       ErrorKind = "forbidden"
)

// Error carries a kind alongside a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadRequest builds a caller-facing validation error.
func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

// Internal wraps a storage or index failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf classifies err. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrJobNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyTerminal):
		return KindAlreadyTerminal
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}
