package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can decide whether to retry,
// skip the unit of work, or stop.
type ErrorKind int

const (
	// KindUnknown is used for errors that were never classified.
	KindUnknown ErrorKind = iota

	// KindTransient covers an unreachable IMAP server or Mailchain API and
	// authentication failures. The unit of work is retried next tick.
	KindTransient

	// KindProtocol covers unexpected responses from the Mailchain API or
	// the IMAP server. The unit of work is abandoned for this tick.
	KindProtocol

	// KindStorage covers ledger I/O failures. The current delivery fails
	// and the message is never recorded as delivered.
	KindStorage

	// KindConfig covers missing or invalid settings. Fatal at startup.
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	case KindStorage:
		return "storage"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error from a format string. The %w verb is
// honored so the cause stays reachable through errors.Is/As.
func Errorf(kind ErrorKind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil. An err that is already
// classified keeps its original kind.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		kind = classified.Kind
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// IsKind reports whether err (or any error in its chain) has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
