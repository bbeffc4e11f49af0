package boundary

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/trendfire/trendfire/pkg/earthengine/expr"
)

// Region is the validated region of interest for a run. It is immutable;
// accessors return copies.
type Region struct {
	ring        orb.Ring
	crs         string
	source      string
	diagnostics Diagnostics
}

// Diagnostics describes what the loader saw in the source file. It is
// informational only and never affects the returned ring.
type Diagnostics struct {
	Features      int      `json:"features" yaml:"features"`
	GeometryTypes []string `json:"geometry_types" yaml:"geometry_types"`
	CRS           string   `json:"crs" yaml:"crs"`
	Invalid       int      `json:"invalid" yaml:"invalid"`
}

// NewRegion validates ring and builds a region from it. The ring is copied.
func NewRegion(ring orb.Ring, crs, source string) (*Region, error) {
	if err := ValidateRing(ring); err != nil {
		return nil, newError(source, ErrInvalidGeometry, err)
	}
	if crs == "" {
		crs = DefaultCRS
	}
	return &Region{
		ring:   append(orb.Ring(nil), ring...),
		crs:    crs,
		source: source,
	}, nil
}

// Ring returns the exterior ring as [x, y] positions.
func (r *Region) Ring() orb.Ring {
	return append(orb.Ring(nil), r.ring...)
}

// CRS returns the EPSG code the ring is expressed in.
func (r *Region) CRS() string { return r.crs }

// Source returns the path or URL the region was loaded from.
func (r *Region) Source() string { return r.source }

// Diagnostics returns what the loader observed in the source file.
func (r *Region) Diagnostics() Diagnostics { return r.diagnostics }

// Geographic reports whether the ring is in longitude/latitude.
func (r *Region) Geographic() bool { return r.crs == DefaultCRS }

// Bound returns the bounding box of the ring.
func (r *Region) Bound() orb.Bound { return r.ring.Bound() }

// Geometry converts the region into a server-side polygon. Projected rings
// keep planar edges; the service reprojects them.
func (r *Region) Geometry() expr.Geometry {
	coords := make([][2]float64, len(r.ring))
	for i, p := range r.ring {
		coords[i] = [2]float64{p[0], p[1]}
	}
	return expr.Polygon([][][2]float64{coords}, r.crs, r.Geographic())
}

// Feature renders the region as a GeoJSON feature for display.
func (r *Region) Feature() *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{r.Ring()})
	f.Properties["crs"] = r.crs
	f.Properties["source"] = r.source
	return f
}
