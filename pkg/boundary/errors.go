package boundary

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by Loader.Load wraps one of these in
// a *BoundaryError.
var (
	ErrNotFound            = errors.New("boundary file not found")
	ErrEmpty               = errors.New("boundary file contains no features")
	ErrInvalidGeometry     = errors.New("invalid boundary geometry")
	ErrUnsupportedCRS      = errors.New("unsupported coordinate reference system")
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
	ErrUnsupportedFormat   = errors.New("unsupported boundary file format")
	ErrFetch               = errors.New("failed to fetch remote boundary")
)

// BoundaryError is the "could not obtain boundary" outcome.
type BoundaryError struct {
	// Path is the file or URL that was being loaded.
	Path string

	// Kind is one of the Err* sentinels above.
	Kind error

	// Cause is the underlying error, if any.
	Cause error
}

func (e *BoundaryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("boundary %s: %v: %v", e.Path, e.Kind, e.Cause)
	}
	return fmt.Sprintf("boundary %s: %v", e.Path, e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *BoundaryError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// IsNoBoundary reports whether err means no usable boundary was obtained.
func IsNoBoundary(err error) bool {
	var be *BoundaryError
	return errors.As(err, &be)
}

func newError(path string, kind error, cause error) *BoundaryError {
	return &BoundaryError{Path: path, Kind: kind, Cause: cause}
}

func newErrorf(path string, kind error, format string, args ...interface{}) *BoundaryError {
	return &BoundaryError{Path: path, Kind: kind, Cause: fmt.Errorf(format, args...)}
}
