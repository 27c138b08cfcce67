package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so adapters can map them to a response
type Kind string

const (
	KindValidation   Kind = "validation"
	KindRateLimited  Kind = "rate_limited"
	KindNotFound     Kind = "not_found"
	KindStoreLookup  Kind = "store_lookup"
	KindStoreWrite   Kind = "store_write"
	KindEnqueue      Kind = "enqueue"
	KindQueueReceive Kind = "queue_receive"
	KindDecode       Kind = "decode"
	KindConflict     Kind = "conflict"
	KindOverflow     Kind = "overflow"
)

var (
	// ErrNotFound is returned when a code has no resolvable record
	ErrNotFound = errors.New("link not found")
	// ErrConflict is returned by conditional writes when the stored version moved
	ErrConflict = errors.New("version conflict")
	// ErrRateLimited is returned when a client exhausted its window
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInvalidCode is returned for codes failing format checks
	ErrInvalidCode = errors.New("invalid code")
	// ErrReservedCode is returned when registering a code that a built-in route owns
	ErrReservedCode = errors.New("code is reserved")
)

// Error carries a Kind and the operation that failed
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// E builds a classified error
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
