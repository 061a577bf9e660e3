// Package ingesterr classifies pipeline failures so the consumer can decide
// between acknowledging, retrying and dead-lettering a message.
package ingesterr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// Transient failures are retried through queue redelivery.
	Transient Kind = iota
	// Malformed messages can never be processed and are dropped.
	Malformed
	// Integrity failures mean the downloaded bytes do not match the declared hash.
	Integrity
	// Validation failures reject a single input (a chunk or a record).
	Validation
	// Fatal failures make the whole document unprocessable.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Malformed:
		return "malformed"
	case Integrity:
		return "integrity"
	case Validation:
		return "validation"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Classified is implemented by errors that carry their own kind.
type Classified interface {
	error
	ErrorKind() Kind
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorKind() Kind { return e.Kind }

func New(kind Kind, op string, err error) error {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transientf(op, format string, args ...any) error {
	return New(Transient, op, fmt.Errorf(format, args...))
}

func Malformedf(op, format string, args ...any) error {
	return New(Malformed, op, fmt.Errorf(format, args...))
}

func Validationf(op, format string, args ...any) error {
	return New(Validation, op, fmt.Errorf(format, args...))
}

func Fatalf(op, format string, args ...any) error {
	return New(Fatal, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first classified error in the chain.
// Unclassified errors are Transient so they get another delivery.
func KindOf(err error) Kind {
	var c Classified
	if errors.As(err, &c) {
		return c.ErrorKind()
	}
	return Transient
}

// Is reports whether err is non-nil and classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
