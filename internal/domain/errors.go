package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the ledger, the valuation engine and the adapters.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidArgument
	KindUpstreamUnavailable
	KindConflict
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindConflict:
		return "conflict"
	case KindInvariantViolation:
		return "invariant_violation"
	default:
		return "internal"
	}
}

// Error is the error type every core component returns. Applied reports whether
// any write became visible before the failure.
type Error struct {
	Kind    Kind
	Message string
	Applied bool
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can use errors.Is(err, domain.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the same request may succeed if sent again unchanged.
func (e *Error) Retryable() bool {
	if e.Applied {
		return false
	}
	return e.Kind == KindConflict || e.Kind == KindUpstreamUnavailable
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable, Message: "source unavailable"}
	ErrConflict            = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation, Message: "invariant violation"}
)

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func Invariant(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvariantViolation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(message string, err error) *Error {
	return &Error{Kind: KindConflict, Message: message, Err: err}
}

func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: message, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// WasApplied reports whether err says some write already landed.
func WasApplied(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Applied
	}
	return false
}
