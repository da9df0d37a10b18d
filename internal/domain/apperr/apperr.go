// Package apperr defines the error taxonomy shared by the order lifecycle and
// analytics packages. Every domain error exposes a stable Kind so transports
// can map failures without string matching.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind is the stable category of a domain error.
type Kind string

const (
	KindInternal               Kind = "internal"
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindInsufficientStock      Kind = "insufficient_stock"
	KindInvalidDiscount        Kind = "invalid_discount"
	KindInvalidTransition      Kind = "invalid_transition"
	KindConcurrentModification Kind = "concurrent_modification"
)

// Kinded is implemented by every error that belongs to the taxonomy.
type Kinded interface {
	error
	Kind() Kind
}

// Error is a sentinel-style domain error. Values are compared by identity, so
// package-level variables created with New work with errors.Is.
type Error struct {
	kind Kind
	msg  string
}

// New returns a sentinel error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind implements Kinded.
func (e *Error) Kind() Kind { return e.kind }

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field  string
	Reason string
}

// Validation returns a ValidationError for field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Kind implements Kinded.
func (e *ValidationError) Kind() Kind { return KindValidation }

// KindOf returns the Kind of the first taxonomy error found in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
