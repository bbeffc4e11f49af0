package boundary

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"

	"github.com/trendfire/trendfire/pkg/telemetry"
)

// Fetcher copies a remote boundary (and its sidecars) into dir and returns
// the local path of the main file.
type Fetcher interface {
	Fetch(ctx context.Context, source *url.URL, dir string) (string, error)
}

// feature is one decoded record of a vector file.
type feature struct {
	geometryType string
	ring         orb.Ring
	err          error
}

// Loader reads region-of-interest files.
type Loader struct {
	fetchers map[string]Fetcher
}

// Option configures a Loader.
type Option func(*Loader)

// WithFetcher registers a Fetcher for a URL scheme such as "sftp".
func WithFetcher(scheme string, f Fetcher) Option {
	return func(l *Loader) {
		l.fetchers[scheme] = f
	}
}

// NewLoader creates a loader for local files plus any registered remote
// schemes.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{fetchers: make(map[string]Fetcher)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads path and returns the first feature's exterior ring as a
// Region. Supported formats are ESRI shapefiles (.shp) and GeoJSON
// (.geojson, .json). Every failure is a *BoundaryError.
func (l *Loader) Load(ctx context.Context, path string) (region *Region, err error) {
	logger := telemetry.FromContext(ctx).NewComponentLogger("boundary").WithField("path", path)

	local, cleanup, err := l.localize(ctx, path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// Shapefile decoding allocates from header counts; corrupt files must
	// not take the process down.
	defer func() {
		if r := recover(); r != nil {
			region = nil
			err = newErrorf(path, ErrInvalidGeometry, "corrupt file: %v", r)
		}
	}()

	info, statErr := os.Stat(local)
	if statErr != nil || info.IsDir() {
		return nil, newError(path, ErrNotFound, statErr)
	}

	var features []feature
	var crs string
	switch strings.ToLower(filepath.Ext(local)) {
	case ".shp":
		features, crs, err = readShapefile(local)
	case ".geojson", ".json":
		features, crs, err = readGeoJSON(local)
	default:
		return nil, newErrorf(path, ErrUnsupportedFormat, "extension %q", filepath.Ext(local))
	}
	if err != nil {
		return nil, asBoundaryError(path, err)
	}

	diag := diagnose(features, crs)
	logger.WithFields(map[string]interface{}{
		"features":       diag.Features,
		"geometry_types": strings.Join(diag.GeometryTypes, ","),
		"crs":            diag.CRS,
		"invalid":        diag.Invalid,
	}).Info("Loaded boundary file")

	if len(features) == 0 {
		return nil, newError(path, ErrEmpty, nil)
	}

	first := features[0]
	if first.err != nil {
		return nil, asBoundaryError(path, first.err)
	}

	region, err = NewRegion(first.ring, crs, path)
	if err != nil {
		return nil, err
	}
	region.diagnostics = diag
	return region, nil
}

// localize resolves remote sources to a temporary local copy.
func (l *Loader) localize(ctx context.Context, path string) (string, func(), error) {
	noop := func() {}

	u, err := url.Parse(path)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return path, noop, nil
	}
	if u.Scheme == "file" {
		return u.Path, noop, nil
	}

	fetcher, ok := l.fetchers[u.Scheme]
	if !ok {
		return "", noop, newErrorf(path, ErrUnsupportedFormat, "no fetcher for scheme %q", u.Scheme)
	}

	dir, err := os.MkdirTemp("", "trendfire-boundary-")
	if err != nil {
		return "", noop, newError(path, ErrFetch, err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	local, err := fetcher.Fetch(ctx, u, dir)
	if err != nil {
		cleanup()
		if errors.Is(err, fs.ErrNotExist) {
			return "", noop, newError(path, ErrNotFound, err)
		}
		return "", noop, newError(path, ErrFetch, err)
	}
	return local, cleanup, nil
}

func diagnose(features []feature, crs string) Diagnostics {
	types := make(map[string]bool)
	invalid := 0
	for _, f := range features {
		types[f.geometryType] = true
		if f.err != nil {
			invalid++
			continue
		}
		if ValidateRing(f.ring) != nil {
			invalid++
		}
	}

	names := make([]string, 0, len(types))
	for t := range types {
		names = append(names, t)
	}
	sort.Strings(names)

	return Diagnostics{
		Features:      len(features),
		GeometryTypes: names,
		CRS:           crs,
		Invalid:       invalid,
	}
}

func asBoundaryError(path string, err error) *BoundaryError {
	if be, ok := err.(*BoundaryError); ok {
		be.Path = path
		return be
	}
	return newError(path, ErrInvalidGeometry, err)
}

// kindError tags a decode failure with a failure kind before the path is
// known.
func kindError(kind error, format string, args ...interface{}) *BoundaryError {
	return &BoundaryError{Kind: kind, Cause: fmt.Errorf(format, args...)}
}
