package protocol

import (
	"errors"
	"fmt"
)

// Kind names a class of failure. InvalidPath and BadRequest are the only
// kinds that ever reach the wire, as "ERR <Kind>".
type Kind string

const (
	KindInvalidPath       Kind = "InvalidPath"
	KindBadRequest        Kind = "BadRequest"
	KindNotFound          Kind = "NotFound"
	KindRemoteUnreachable Kind = "RemoteUnreachable"
	KindRemoteTimeout     Kind = "RemoteTimeout"
	KindTruncated         Kind = "Truncated"
	KindInternal          Kind = "Internal"
)

var (
	ErrInvalidPath       = &Error{Kind: KindInvalidPath}
	ErrBadRequest        = &Error{Kind: KindBadRequest}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrRemoteUnreachable = &Error{Kind: KindRemoteUnreachable}
	ErrRemoteTimeout     = &Error{Kind: KindRemoteTimeout}
	ErrTruncated         = &Error{Kind: KindTruncated}
	ErrInternal          = &Error{Kind: KindInternal}

	// ErrEmptyRequest is returned for a blank request line. Servers close
	// the connection without replying.
	ErrEmptyRequest = errors.New("empty request line")
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidPath)
// works regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func Wrap(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err, KindInternal for anything untyped.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// Reply returns the wire line for errors the caller is allowed to see.
func Reply(err error) (string, bool) {
	switch kind := KindOf(err); kind {
	case KindInvalidPath, KindBadRequest:
		return "ERR " + string(kind), true
	default:
		return "", false
	}
}
