package crate

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a structurally invalid crate file.
	ErrMalformed = errors.New("crate: malformed container")
	// ErrUnsupportedType reports a value that has no crate encoding.
	ErrUnsupportedType = errors.New("crate: unsupported value type")
	// ErrIntegrity reports a decoded payload whose size contradicts its header.
	ErrIntegrity = errors.New("crate: integrity mismatch")
)

// FormatError describes a read failure at a position in the file.
type FormatError struct {
	Section string
	Offset  int64
	Reason  string
	Err     error

	cause error
}

func (e *FormatError) Error() string {
	msg := e.Reason
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	if e.Section == "" {
		return fmt.Sprintf("%v: %s at offset %d", e.Err, msg, e.Offset)
	}
	return fmt.Sprintf("%v: section %s: %s at offset %d", e.Err, e.Section, msg, e.Offset)
}

// Unwrap yields the error class and, for codec failures, the codec error.
func (e *FormatError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.cause}
}

func malformed(section string, offset int64, format string, args ...any) error {
	return &FormatError{Section: section, Offset: offset, Reason: fmt.Sprintf(format, args...), Err: ErrMalformed}
}

// wrapFormat attaches position information to err. Errors that are not
// already integrity or type errors are classified as malformed input.
func wrapFormat(section string, offset int64, reason string, err error) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		return err
	}
	for _, class := range []error{ErrIntegrity, ErrUnsupportedType, ErrMalformed} {
		if errors.Is(err, class) {
			return &FormatError{Section: section, Offset: offset, Reason: reason, Err: class, cause: err}
		}
	}
	return &FormatError{Section: section, Offset: offset, Reason: reason, Err: ErrMalformed, cause: err}
}
