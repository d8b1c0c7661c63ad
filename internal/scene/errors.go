package scene

import "errors"

var (
	// ErrUnsupportedValue is returned for values that have no scene value type.
	ErrUnsupportedValue = errors.New("unsupported value")
	// ErrInvalidHandle is returned for prim or attribute handles not owned by the document.
	ErrInvalidHandle = errors.New("invalid handle")
	ErrInvalidName   = errors.New("invalid name")
	ErrDuplicateName = errors.New("duplicate name")
	ErrTypeMismatch  = errors.New("type mismatch")
)
