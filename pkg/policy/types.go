package policy

import (
	"time"
)

// Severity of a violation. Error and critical block the export.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego module with a deny set.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`
	Tags        []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

type Violation struct {
	Policy string `json:"policy"`
	// Resource is the export target, unless the policy names another.
	Resource string   `json:"resource,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result of evaluating one export request.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`

	// Warnings name policies that could not be evaluated.
	Warnings          []string      `json:"warnings,omitempty"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Blocking returns the violations that make the result disallowed.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies see as input.
type Input struct {
	Export  *ExportInput `json:"export"`
	Context *Context     `json:"context"`
}

// ExportInput describes one export request.
type ExportInput struct {
	// Product is landsat, rain, sm, rh or all.
	Product string `json:"product"`
	// Destination is asset or drive.
	Destination string `json:"destination"`
	// Target is the full asset name or the Drive file name prefix.
	Target string `json:"target"`
	// Folder is empty for asset exports.
	Folder      string   `json:"folder,omitempty"`
	Description string   `json:"description"`
	Scale       float64  `json:"scale"`
	MaxPixels   int64    `json:"max_pixels"`
	Bands       []string `json:"bands"`

	Region RegionInput `json:"region"`
}

type RegionInput struct {
	Present  bool   `json:"present"`
	CRS      string `json:"crs,omitempty"`
	Vertices int    `json:"vertices"`
}

// Context carries run-wide settings.
type Context struct {
	Project string `json:"project"`
	// AssetRoot is the folder every asset export must live under.
	AssetRoot      string    `json:"asset_root"`
	MaxPixelsLimit int64     `json:"max_pixels_limit"`
	DryRun         bool      `json:"dry_run"`
	Timestamp      time.Time `json:"timestamp"`
}
