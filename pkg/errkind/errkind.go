// Package errkind attaches an operation name and a sentinel kind to errors
// so callers can branch with errors.Is while logs keep the failing op.
package errkind

import (
	"errors"
	"strings"
)

// Error is an operation-scoped error carrying an optional sentinel kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

// Error renders "op: kind: cause" skipping empty parts.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// New returns an error of the given kind with no further cause.
func New(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap annotates err with op. Returns nil when err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// WrapKind annotates err with op and kind. Returns nil when err is nil.
func WrapKind(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf reports whether err carries kind anywhere in its chain.
func KindOf(err error, kind error) bool {
	return errors.Is(err, kind)
}
