package earthengine

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotInitialized is returned when no usable session could be created.
var ErrNotInitialized = errors.New("earth engine session not initialized")

// APIError is a non-2xx response from the REST API.
type APIError struct {
	// Op is the API call that failed (e.g., "image.export").
	Op string

	// HTTPStatus is the HTTP response code.
	HTTPStatus int

	// Status is the canonical google.rpc code name, e.g. RESOURCE_EXHAUSTED.
	Status string

	// Message is the service's error message.
	Message string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.HTTPStatus, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %d: %s", e.Op, e.HTTPStatus, e.Message)
}

// Temporary reports server-side or availability failures.
func (e *APIError) Temporary() bool {
	return e.HTTPStatus >= 500 || e.Status == "UNAVAILABLE" || e.Status == "DEADLINE_EXCEEDED"
}

// Throttled reports quota or rate limiting.
func (e *APIError) Throttled() bool {
	return e.HTTPStatus == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED"
}

// Conflict reports that the target already exists or is being written.
func (e *APIError) Conflict() bool {
	return e.HTTPStatus == http.StatusConflict || e.Status == "ALREADY_EXISTS" || e.Status == "ABORTED"
}

// Unauthenticated reports credential problems.
func (e *APIError) Unauthenticated() bool {
	return e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
