package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/trendfire/trendfire/pkg/boundary"
	"github.com/trendfire/trendfire/pkg/earthengine"
	"github.com/trendfire/trendfire/pkg/export"
	transport "github.com/trendfire/trendfire/pkg/transports/ssh"
)

// ErrNoBoundary is returned when the region of interest could not be
// obtained. The *boundary.BoundaryError is wrapped alongside it.
var ErrNoBoundary = errors.New("no boundary")

// ErrorClass groups failures by what a caller can do about them.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// a later run. Examples: network timeouts, 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates the export target already exists or is
	// being written by another task.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a failure that will repeat until the
	// configuration, credentials or input change.
	ErrorClassPermanent ErrorClass = "permanent"
)

// PipelineError is a classified failure of one pipeline stage.
type PipelineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Stage is the stage that failed ("session", "boundary", "build",
	// "policy", "export", "ledger", "refresh").
	Stage string `json:"stage"`

	// Product is the export product involved, if any.
	Product string `json:"product,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Product != "" {
		return fmt.Sprintf("[%s] %s (product=%s): %v", e.Class, e.Stage, e.Product, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Class, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches another *PipelineError with the same class and stage.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Stage == "" || e.Stage == t.Stage)
}

// stageError classifies err and attributes it to stage. Errors that are
// already classified are returned unchanged.
func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return err
	}
	return &PipelineError{Class: Classify(err), Stage: stage, Err: err}
}

func productError(stage string, product export.Product, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Class: Classify(err), Stage: stage, Product: string(product), Err: err}
}

// Classify maps an error onto an ErrorClass. Unknown errors are permanent.
func Classify(err error) ErrorClass {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Class
	}

	if apiErr, ok := earthengine.AsAPIError(err); ok {
		switch {
		case apiErr.Throttled():
			return ErrorClassThrottled
		case apiErr.Conflict():
			return ErrorClassConflict
		case apiErr.Temporary():
			return ErrorClassTransient
		}
		return ErrorClassPermanent
	}

	var terr *transport.TransportError
	if errors.As(err, &terr) && terr.Temporary() {
		return ErrorClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTransient
	}
	return ErrorClassPermanent
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return Classify(err) == ErrorClassTransient
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	return Classify(err) == ErrorClassThrottled
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return Classify(err) == ErrorClassConflict
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return Classify(err) == ErrorClassPermanent
}

// IsNoBoundary reports whether err means no region of interest was
// obtained.
func IsNoBoundary(err error) bool {
	return errors.Is(err, ErrNoBoundary) || boundary.IsNoBoundary(err)
}

// IsDenied reports whether err is an export blocked by policy.
func IsDenied(err error) bool {
	var denied *export.DeniedError
	return errors.As(err, &denied)
}
