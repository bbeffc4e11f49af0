package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/trendfire/trendfire/pkg/boundary"
	"github.com/trendfire/trendfire/pkg/earthengine"
	"github.com/trendfire/trendfire/pkg/export"
	"github.com/trendfire/trendfire/pkg/telemetry"
	"github.com/trendfire/trendfire/pkg/trend"
)

// errOffline is returned by the submitter used for planning.
var errOffline = errors.New("planning session cannot submit exports")

// Plan is everything a run would submit.
type Plan struct {
	Project  string
	Region   *boundary.Region
	Products []ProductPlan
}

// ProductPlan holds the export requests of one product.
type ProductPlan struct {
	Product  export.Product
	Bands    []string
	Requests []export.Request
}

// Requests returns the requests of every product in submission order.
func (p *Plan) Requests() []export.Request {
	var reqs []export.Request
	for _, pp := range p.Products {
		reqs = append(reqs, pp.Requests...)
	}
	return reqs
}

// Plan loads the boundary and builds every export request without
// contacting the service. Policies are evaluated; a denial is returned
// together with the plan.
func (p *Pipeline) Plan(ctx context.Context) (*Plan, error) {
	plan, exporter, err := p.build(ctx, offlineSession{project: p.cfg.Project})
	if err != nil {
		return nil, err
	}
	if err := exporter.Check(ctx, plan.Requests()); err != nil {
		return plan, stageError("policy", err)
	}
	return plan, nil
}

// build loads the boundary, builds the four trend products plus their
// merge, and turns each into export requests.
func (p *Pipeline) build(ctx context.Context, submitter export.Submitter) (*Plan, *export.Exporter, error) {
	region, err := p.loadBoundary(ctx)
	if err != nil {
		return nil, nil, err
	}

	stageCtx, end := telemetry.StartStage(ctx, "build")
	products, err := p.buildProducts(stageCtx, region)
	end(err)
	if err != nil {
		return nil, nil, stageError("build", err)
	}

	exporter := export.New(submitter, p.exportOptions())
	plan := &Plan{Project: p.cfg.Project, Region: region}
	for _, d := range products {
		product := export.Product(d.Name)
		reqs, err := exporter.Requests(product, d, region)
		if err != nil {
			return nil, nil, productError("build", product, err)
		}
		plan.Products = append(plan.Products, ProductPlan{
			Product:  product,
			Bands:    d.Bands,
			Requests: reqs,
		})
	}
	return plan, exporter, nil
}

// Boundary loads the configured region of interest through the same
// loader a run uses.
func (p *Pipeline) Boundary(ctx context.Context) (*boundary.Region, error) {
	return p.loadBoundary(ctx)
}

func (p *Pipeline) loadBoundary(ctx context.Context) (*boundary.Region, error) {
	stageCtx, end := telemetry.StartStage(ctx, "boundary")
	region, err := p.loader.Load(stageCtx, p.cfg.Boundary.Path)
	end(err)
	if err != nil {
		telemetry.FromContext(ctx).WithError(err).Error("Could not obtain boundary")
		return nil, stageError("boundary", fmt.Errorf("%w: %w", ErrNoBoundary, err))
	}
	return region, nil
}

// buildProducts returns the landsat, rain, sm and rh descriptors followed
// by their merge "all".
func (p *Pipeline) buildProducts(ctx context.Context, region *boundary.Region) ([]trend.Descriptor, error) {
	logger := telemetry.FromContext(ctx).NewComponentLogger("pipeline")

	indices, err := p.indices.CompileIndices(ctx, p.cfg.Landsat.CustomIndices)
	if err != nil {
		return nil, err
	}

	sources := []trend.Source{
		trend.LandsatSource(p.cfg.Landsat.Options(), trend.LandsatOptions{
			CloudCover: p.cfg.Landsat.CloudCover,
			SMI:        trend.SMIMethod(p.cfg.Landsat.SMI),
			Indices:    indices,
		}),
		trend.RainSource(p.cfg.Rain.Options(), p.cfg.Rain.FirstYear, p.cfg.Rain.LastYear),
		trend.SoilMoistureSource(p.cfg.SoilMoisture.Options()),
		trend.HumiditySource(p.cfg.Humidity.Options(), p.cfg.Humidity.Celsius),
	}

	geometry := region.Geometry()
	descriptors := make([]trend.Descriptor, 0, len(sources)+1)
	for _, src := range sources {
		builder, err := trend.NewBuilder(src)
		if err != nil {
			return nil, err
		}
		d, err := builder.Build(geometry)
		if err != nil {
			return nil, err
		}
		logger.WithProduct(d.Name).WithField("bands", len(d.Bands)).Info("Built trend image")
		descriptors = append(descriptors, d)
	}

	all, err := trend.Merge(string(export.ProductAll), descriptors...)
	if err != nil {
		return nil, err
	}
	return append(descriptors, all), nil
}

func (p *Pipeline) exportOptions() export.Options {
	targets := make(map[export.Product]export.Target, len(p.cfg.Export.Targets))
	for name, t := range p.cfg.Export.Targets {
		targets[export.Product(name)] = export.Target{
			AssetID:     t.AssetID,
			Description: t.Description,
			FilePrefix:  t.FilePrefix,
		}
	}
	return export.Options{
		AssetRoot:      p.cfg.Export.AssetRoot,
		Scale:          p.cfg.Export.Scale,
		MaxPixels:      p.cfg.Export.MaxPixels,
		MaxPixelsLimit: p.cfg.Policy.MaxPixelsLimit,
		Drive:          p.cfg.Export.Drive,
		DriveFolder:    p.cfg.Export.DriveFolder,
		Targets:        targets,
		Policy:         p.policy,
	}
}

// offlineSession names assets like a real session but cannot submit.
type offlineSession struct {
	project string
}

func (s offlineSession) Project() string { return s.project }

func (s offlineSession) AssetName(id string) string {
	return earthengine.AssetName(s.project, id)
}

func (s offlineSession) ExportImage(context.Context, *earthengine.ExportImageRequest) (*earthengine.Operation, error) {
	return nil, errOffline
}
