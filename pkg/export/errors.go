package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/trendfire/trendfire/pkg/policy"
)

var (
	// ErrUnknownProduct is returned for product names outside Products().
	ErrUnknownProduct = errors.New("unknown export product")

	// ErrNoRegion is returned when an export has no region.
	ErrNoRegion = errors.New("export region is required")

	// ErrPolicyDenied is matched by every *DeniedError.
	ErrPolicyDenied = errors.New("export denied by policy")
)

// DeniedError carries the blocking violations of one export request.
type DeniedError struct {
	Target     string
	Violations []policy.Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("export %s denied by policy: %s", e.Target, strings.Join(msgs, "; "))
}

// Is makes errors.Is(err, ErrPolicyDenied) true.
func (e *DeniedError) Is(target error) bool {
	return target == ErrPolicyDenied
}
