// Package export turns trend descriptors into export tasks.
//
// Each product produces one asset export and, when Drive export is on, one
// GeoTIFF export to Drive. Requests are checked against export policies
// before they are sent. Submission returns once the service acknowledges
// the operation; completion is never awaited.
package export

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trendfire/trendfire/pkg/boundary"
	"github.com/trendfire/trendfire/pkg/earthengine"
	"github.com/trendfire/trendfire/pkg/earthengine/expr"
	"github.com/trendfire/trendfire/pkg/policy"
	"github.com/trendfire/trendfire/pkg/telemetry"
	"github.com/trendfire/trendfire/pkg/trend"
)

// Destination kinds.
const (
	DestinationAsset = "asset"
	DestinationDrive = "drive"
)

// Defaults applied by New.
const (
	DefaultScale       = 30.0
	DefaultMaxPixels   = int64(1e13)
	DefaultDriveFolder = "GEE_Exports"
)

// Submitter sends export requests. *earthengine.Session implements it.
type Submitter interface {
	Project() string
	AssetName(id string) string
	ExportImage(ctx context.Context, req *earthengine.ExportImageRequest) (*earthengine.Operation, error)
}

// Evaluator checks export requests. *policy.Engine implements it.
type Evaluator interface {
	EvaluateExport(ctx context.Context, input *policy.Input) (*policy.Result, error)
}

// Options configures an Exporter. Zero values take the defaults.
type Options struct {
	// AssetRoot is the folder asset ids are relative to.
	AssetRoot string

	// Scale is the output pixel size in metres.
	Scale float64

	// MaxPixels is the pixel budget of each export.
	MaxPixels int64

	// MaxPixelsLimit is handed to policies as the largest allowed MaxPixels.
	MaxPixelsLimit int64

	// Drive adds a GeoTIFF export to Drive for each product.
	Drive bool

	// DriveFolder is the Drive folder for file exports.
	DriveFolder string

	// Targets overrides DefaultTargets per product.
	Targets map[Product]Target

	// Policy checks every request; nil skips the check.
	Policy Evaluator
}

// Request is one export request ready to send.
type Request struct {
	Product     Product                         `json:"product" yaml:"product"`
	Destination string                          `json:"destination" yaml:"destination"`
	Target      string                          `json:"target" yaml:"target"`
	Folder      string                          `json:"folder,omitempty" yaml:"folder,omitempty"`
	Bands       []string                        `json:"bands" yaml:"bands"`
	Body        *earthengine.ExportImageRequest `json:"body" yaml:"-"`

	region *boundary.Region
}

// Task is an acknowledged export.
type Task struct {
	Product     Product   `json:"product" yaml:"product"`
	Destination string    `json:"destination" yaml:"destination"`
	Target      string    `json:"target" yaml:"target"`
	Description string    `json:"description" yaml:"description"`
	Scale       float64   `json:"scale" yaml:"scale"`
	MaxPixels   int64     `json:"max_pixels" yaml:"max_pixels"`
	RequestID   string    `json:"request_id" yaml:"request_id"`
	Operation   string    `json:"operation" yaml:"operation"`
	State       string    `json:"state" yaml:"state"`
	SubmittedAt time.Time `json:"submitted_at" yaml:"submitted_at"`
}

// Exporter builds, checks and submits export requests.
type Exporter struct {
	submitter Submitter
	opts      Options
	newID     func() string
	now       func() time.Time
}

// New creates an exporter.
func New(submitter Submitter, opts Options) *Exporter {
	if opts.Scale == 0 {
		opts.Scale = DefaultScale
	}
	if opts.MaxPixels == 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	if opts.MaxPixelsLimit == 0 {
		opts.MaxPixelsLimit = DefaultMaxPixels
	}
	if opts.DriveFolder == "" {
		opts.DriveFolder = DefaultDriveFolder
	}
	targets := DefaultTargets()
	for p, t := range opts.Targets {
		targets[p] = t
	}
	opts.Targets = targets

	return &Exporter{
		submitter: submitter,
		opts:      opts,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AssetRoot returns the full name of the asset root.
func (e *Exporter) AssetRoot() string {
	return strings.TrimSuffix(e.submitter.AssetName(e.opts.AssetRoot), "/")
}

// Requests builds the requests for one product without sending them.
func (e *Exporter) Requests(product Product, image trend.Descriptor, region *boundary.Region) ([]Request, error) {
	target, ok := e.opts.Targets[product]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, product)
	}
	if region == nil {
		return nil, fmt.Errorf("%s: %w", product, ErrNoRegion)
	}

	clipped := image.Image.ClipToBoundsAndScale(region.Geometry(), e.opts.Scale)
	expression, err := expr.Encode(clipped)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode image: %w", product, err)
	}

	assetName := e.submitter.AssetName(path.Join(e.opts.AssetRoot, target.AssetID))
	reqs := []Request{{
		Product:     product,
		Destination: DestinationAsset,
		Target:      assetName,
		Bands:       image.Bands,
		region:      region,
		Body: &earthengine.ExportImageRequest{
			Expression:  expression,
			Description: target.Description,
			MaxPixels:   e.opts.MaxPixels,
			RequestID:   e.newID(),
			AssetExportOptions: &earthengine.AssetExportOptions{
				EarthEngineDestination: &earthengine.EarthEngineDestination{Name: assetName},
			},
		},
	}}

	if e.opts.Drive {
		prefix := target.filePrefix()
		reqs = append(reqs, Request{
			Product:     product,
			Destination: DestinationDrive,
			Target:      prefix,
			Folder:      e.opts.DriveFolder,
			Bands:       image.Bands,
			region:      region,
			Body: &earthengine.ExportImageRequest{
				Expression:  expression,
				Description: prefix,
				MaxPixels:   e.opts.MaxPixels,
				RequestID:   e.newID(),
				FileExportOptions: &earthengine.FileExportOptions{
					FileFormat: earthengine.FileFormatGeoTIFF,
					DriveDestination: &earthengine.DriveDestination{
						Folder:         e.opts.DriveFolder,
						FilenamePrefix: prefix,
					},
				},
			},
		})
	}

	return reqs, nil
}

// Check evaluates export policies for reqs. It returns a *DeniedError for
// the first request with blocking violations.
func (e *Exporter) Check(ctx context.Context, reqs []Request) error {
	if e.opts.Policy == nil {
		return nil
	}

	logger := telemetry.FromContext(ctx).NewComponentLogger("export")
	tel := telemetry.FromTelemetryContext(ctx)

	for i := range reqs {
		req := &reqs[i]
		result, err := e.opts.Policy.EvaluateExport(ctx, e.policyInput(req))
		if err != nil {
			return fmt.Errorf("policy evaluation for %s failed: %w", req.Target, err)
		}

		for _, v := range result.Violations {
			logger.WithFields(map[string]interface{}{
				"policy":   v.Policy,
				"severity": string(v.Severity),
				"target":   req.Target,
			}).Warn(v.Message)
			if tel != nil {
				tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
				_ = tel.Events.PublishPolicyViolation(telemetry.RunID(ctx), req.Target, v.Policy, string(v.Severity), v.Message)
			}
		}

		if blocking := result.Blocking(); len(blocking) > 0 {
			return &DeniedError{Target: req.Target, Violations: blocking}
		}
	}
	return nil
}

// Submit issues the exports of one product and returns the acknowledged
// tasks. Requests are checked by policy first; nothing is sent if any is
// denied.
func (e *Exporter) Submit(ctx context.Context, product Product, image trend.Descriptor, region *boundary.Region) ([]Task, error) {
	reqs, err := e.Requests(product, image, region)
	if err != nil {
		return nil, err
	}
	if err := e.Check(ctx, reqs); err != nil {
		return nil, err
	}
	return e.Send(ctx, reqs)
}

// Send submits already checked requests in order and stops at the first
// failure, returning the tasks acknowledged so far.
func (e *Exporter) Send(ctx context.Context, reqs []Request) ([]Task, error) {
	logger := telemetry.FromContext(ctx).NewComponentLogger("export")
	tel := telemetry.FromTelemetryContext(ctx)

	tasks := make([]Task, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		op, err := e.submitter.ExportImage(ctx, req.Body)
		if err != nil {
			return tasks, fmt.Errorf("failed to submit %s export %s: %w", req.Destination, req.Target, err)
		}

		task := Task{
			Product:     req.Product,
			Destination: req.Destination,
			Target:      req.Target,
			Description: req.Body.Description,
			Scale:       e.opts.Scale,
			MaxPixels:   req.Body.MaxPixels,
			RequestID:   req.Body.RequestID,
			Operation:   op.Name,
			State:       op.State(),
			SubmittedAt: e.now(),
		}
		tasks = append(tasks, task)

		logger.WithProduct(string(req.Product)).WithFields(map[string]interface{}{
			"destination": req.Destination,
			"target":      req.Target,
			"operation":   op.Name,
		}).Info("Export task submitted")

		if tel != nil {
			tel.Metrics.RecordExportSubmitted(string(req.Product), req.Destination)
			_ = tel.Events.PublishExportSubmitted(telemetry.RunID(ctx), string(req.Product), req.Destination, req.Target, op.Name)
		}
	}
	return tasks, nil
}

func (e *Exporter) policyInput(req *Request) *policy.Input {
	in := &policy.Input{
		Export: &policy.ExportInput{
			Product:     string(req.Product),
			Destination: req.Destination,
			Target:      req.Target,
			Folder:      req.Folder,
			Description: req.Body.Description,
			Scale:       e.opts.Scale,
			MaxPixels:   req.Body.MaxPixels,
			Bands:       req.Bands,
		},
		Context: &policy.Context{
			Project:        e.submitter.Project(),
			AssetRoot:      e.AssetRoot(),
			MaxPixelsLimit: e.opts.MaxPixelsLimit,
		},
	}
	if req.region != nil {
		in.Export.Region = policy.RegionInput{
			Present:  true,
			CRS:      req.region.CRS(),
			Vertices: len(req.region.Ring()),
		}
	}
	return in
}
