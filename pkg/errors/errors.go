// Package errors implements the scheduler's error taxonomy: Validation,
// Permission, Lookup, Resource, Invariant violation, and Transient race.
// Every synchronous operation returns one of these kinds; asynchronous
// paths (tick, IPI) cannot fail and never construct them.
package errors

import (
	"fmt"
	"runtime"
)

// Kind is one of the scheduler's error taxonomy entries.
type Kind string

const (
	KindValidation Kind = "validation"
	KindPermission Kind = "permission"
	KindLookup     Kind = "lookup"
	KindResource   Kind = "resource"
	KindInvariant  Kind = "invariant"
	KindTransient  Kind = "transient"
)

// SchedError is the concrete error type returned by every synchronous
// scheduler operation; it bubbles straight up to the calling API method.
type SchedError struct {
	Kind      Kind
	Op        string // operation name, e.g. "set_scheduler", "enqueue"
	Message   string
	Cause     error
	StackTrace string
}

func (e *SchedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s (%v)", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *SchedError) Unwrap() error { return e.Cause }

func (e *SchedError) Is(target error) bool {
	t, ok := target.(*SchedError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Op == t.Op
}

// builder mirrors ErrorBuilder's fluent shape, trimmed to the fields this
// domain actually needs.
type builder struct{ err *SchedError }

func New(op, message string) *builder {
	return &builder{err: &SchedError{Op: op, Message: message, Kind: KindInternal()}}
}

// KindInternal is the zero-value default used until WithKind narrows it;
// invariant violations that slip through un-narrowed are still flagged as
// the most severe kind rather than silently validated away.
func KindInternal() Kind { return KindInvariant }

func (b *builder) WithKind(k Kind) *builder {
	b.err.Kind = k
	return b
}

func (b *builder) WithCause(cause error) *builder {
	b.err.Cause = cause
	return b
}

// WithStack captures a short stack trace into StackTrace, reserved for
// KindInvariant so the error records where the assertion failed.
func (b *builder) WithStack() *builder {
	b.err.StackTrace = captureStack()
	return b
}

func (b *builder) Build() *SchedError { return b.err }

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Validation, Permission, Lookup, Resource, and Transient are convenience
// constructors for the non-fatal kinds.
func Validation(op, message string) *SchedError {
	return New(op, message).WithKind(KindValidation).Build()
}

func Permission(op, message string) *SchedError {
	return New(op, message).WithKind(KindPermission).Build()
}

func Lookup(op, message string) *SchedError {
	return New(op, message).WithKind(KindLookup).Build()
}

func Resource(op, message string, cause error) *SchedError {
	return New(op, message).WithKind(KindResource).WithCause(cause).Build()
}

func Transient(op, message string) *SchedError {
	return New(op, message).WithKind(KindTransient).Build()
}

// Invariant constructs an invariant-violation error with a captured
// stack trace. It is returned to the caller like any other error;
// nothing in this module panics on it or logs it, in any build.
func Invariant(op, message string) *SchedError {
	return New(op, message).WithKind(KindInvariant).WithStack().Build()
}

// IsKind reports whether err (or something it wraps) is a SchedError of
// the given Kind.
func IsKind(err error, k Kind) bool {
	for err != nil {
		if se, ok := err.(*SchedError); ok {
			return se.Kind == k
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
