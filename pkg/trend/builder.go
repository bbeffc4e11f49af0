// Package trend describes per-pixel linear trends over time as server-side
// expressions. Nothing here touches pixels; every function returns a new
// expression node.
package trend

import (
	"errors"
	"fmt"
	"time"

	"github.com/trendfire/trendfire/pkg/earthengine/expr"
)

// dateLayout is the format of Source dates.
const dateLayout = "2006-01-02"

// timeBand is the regressor band added to every image.
const timeBand = "time"

var (
	// ErrDuplicateBand is returned when two trend bands share a name.
	ErrDuplicateBand = errors.New("duplicate band name")

	// ErrInvalidSource is returned for an unusable Source.
	ErrInvalidSource = errors.New("invalid trend source")
)

// Variable is one band to regress against time.
type Variable struct {
	// Band is the band name in the prepared collection.
	Band string `json:"band" yaml:"band"`

	// Alias prefixes the output bands. Empty means Band.
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

// Prefix returns the output band prefix.
func (v Variable) Prefix() string {
	if v.Alias != "" {
		return v.Alias
	}
	return v.Band
}

// SlopeBand returns the name of the slope output band.
func (v Variable) SlopeBand() string { return v.Prefix() + "_Slope" }

// InterceptBand returns the name of the intercept output band.
func (v Variable) InterceptBand() string { return v.Prefix() + "_Intercept" }

// Source is everything a Builder needs to know about one dataset.
type Source struct {
	// Name identifies the source in logs and exports ("landsat", "rain").
	Name string

	// CollectionID is the catalog id of the image collection.
	CollectionID string

	// Start and End bound system:time_start, end exclusive.
	Start string
	End   string

	// TimeReference is the origin of the time band. Empty means Start.
	TimeReference string

	// Filters are applied after the date and bounds filters.
	Filters []expr.Filter

	// Prepare turns the filtered collection into one whose images carry
	// every variable band. Nil keeps the collection as is.
	Prepare func(c expr.ImageCollection, region expr.Geometry) expr.ImageCollection

	// Variables are regressed in order.
	Variables []Variable
}

// Validate checks the source can be built.
func (s Source) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	}
	if s.CollectionID == "" {
		return fmt.Errorf("%w: %s: collection id is required", ErrInvalidSource, s.Name)
	}

	start, err := time.Parse(dateLayout, s.Start)
	if err != nil {
		return fmt.Errorf("%w: %s: start: %v", ErrInvalidSource, s.Name, err)
	}
	end, err := time.Parse(dateLayout, s.End)
	if err != nil {
		return fmt.Errorf("%w: %s: end: %v", ErrInvalidSource, s.Name, err)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: %s: end %s is not after start %s", ErrInvalidSource, s.Name, s.End, s.Start)
	}
	if s.TimeReference != "" {
		if _, err := time.Parse(dateLayout, s.TimeReference); err != nil {
			return fmt.Errorf("%w: %s: time reference: %v", ErrInvalidSource, s.Name, err)
		}
	}

	if len(s.Variables) == 0 {
		return fmt.Errorf("%w: %s: no variables", ErrInvalidSource, s.Name)
	}
	seen := make(map[string]bool, 2*len(s.Variables))
	for _, v := range s.Variables {
		if v.Band == "" {
			return fmt.Errorf("%w: %s: variable band is required", ErrInvalidSource, s.Name)
		}
		if v.Band == timeBand {
			return fmt.Errorf("%w: %s: %q is reserved", ErrInvalidSource, s.Name, timeBand)
		}
		for _, band := range []string{v.SlopeBand(), v.InterceptBand()} {
			if seen[band] {
				return fmt.Errorf("%w: %s: %s", ErrDuplicateBand, s.Name, band)
			}
			seen[band] = true
		}
	}
	return nil
}

func (s Source) timeReference() string {
	if s.TimeReference != "" {
		return s.TimeReference
	}
	return s.Start
}

func (s Source) bands() []string {
	bands := make([]string, len(s.Variables))
	for i, v := range s.Variables {
		bands[i] = v.Band
	}
	return bands
}

// Descriptor is a trend image together with its band names in order.
type Descriptor struct {
	Name  string
	Image expr.Image
	Bands []string
}

// Builder turns a Source into a trend Descriptor.
type Builder struct {
	source Source
}

// NewBuilder validates source and returns a builder for it.
func NewBuilder(source Source) (*Builder, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}
	return &Builder{source: source}, nil
}

// Source returns the builder's source.
func (b *Builder) Source() Source { return b.source }

// Collection returns the filtered, prepared collection restricted to the
// variable bands, sorted by time and carrying the time band.
func (b *Builder) Collection(region expr.Geometry) expr.ImageCollection {
	src := b.source

	c := expr.LoadCollection(src.CollectionID).
		FilterDate(src.Start, src.End).
		FilterBounds(region)
	for _, f := range src.Filters {
		c = c.Filter(f)
	}
	if src.Prepare != nil {
		c = src.Prepare(c, region)
	}

	reference := expr.ParseDate(src.timeReference())
	return c.Select(src.bands()...).
		Sort("system:time_start").
		Map(func(img expr.Image) expr.Image {
			years := img.Date().Difference(reference, "year")
			return img.AddBands(expr.NumberImage(years).ToFloat().Rename(timeBand))
		})
}

// Build fits band = offset + scale * time for every variable and returns
// the <prefix>_Slope and <prefix>_Intercept bands, in variable order.
// Pixels with fewer than two valid observations are masked by the service.
func (b *Builder) Build(region expr.Geometry) (Descriptor, error) {
	if region.Node() == nil {
		return Descriptor{}, fmt.Errorf("%s: region is required", b.source.Name)
	}

	c := b.Collection(region)

	var image expr.Image
	bands := make([]string, 0, 2*len(b.source.Variables))
	for i, v := range b.source.Variables {
		fit := c.Select(timeBand, v.Band).Reduce(expr.LinearFit())
		slope := fit.Select("scale").Rename(v.SlopeBand())
		intercept := fit.Select("offset").Rename(v.InterceptBand())

		if i == 0 {
			image = slope.AddBands(intercept)
		} else {
			image = image.AddBands(slope).AddBands(intercept)
		}
		bands = append(bands, v.SlopeBand(), v.InterceptBand())
	}

	return Descriptor{Name: b.source.Name, Image: image, Bands: bands}, nil
}

// Merge concatenates the bands of descriptors in order. It fails with
// ErrDuplicateBand if a band name repeats.
func Merge(name string, descriptors ...Descriptor) (Descriptor, error) {
	if len(descriptors) == 0 {
		return Descriptor{}, fmt.Errorf("merge %s: no descriptors", name)
	}

	seen := make(map[string]string)
	var bands []string
	image := descriptors[0].Image
	for i, d := range descriptors {
		for _, band := range d.Bands {
			if owner, ok := seen[band]; ok {
				return Descriptor{}, fmt.Errorf("merge %s: %w: %s in %s and %s", name, ErrDuplicateBand, band, owner, d.Name)
			}
			seen[band] = d.Name
			bands = append(bands, band)
		}
		if i > 0 {
			image = image.AddBands(d.Image)
		}
	}

	return Descriptor{Name: name, Image: image, Bands: bands}, nil
}
