package boundary

import (
	"encoding/json"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// readGeoJSON decodes a FeatureCollection, a single Feature or a bare
// geometry. GeoJSON coordinates are always WGS 84; positions with a third
// component are truncated to two by orb.
func readGeoJSON(path string) ([]feature, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", kindError(ErrNotFound, "%v", err)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, "", kindError(ErrInvalidGeometry, "decode %s: %v", path, err)
	}

	var geometries []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, "", kindError(ErrInvalidGeometry, "decode %s: %v", path, err)
		}
		for _, f := range fc.Features {
			geometries = append(geometries, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, "", kindError(ErrInvalidGeometry, "decode %s: %v", path, err)
		}
		geometries = append(geometries, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, "", kindError(ErrInvalidGeometry, "decode %s: %v", path, err)
		}
		geometries = append(geometries, g.Geometry())
	}

	features := make([]feature, 0, len(geometries))
	for _, g := range geometries {
		features = append(features, geometryFeature(g))
	}
	return features, DefaultCRS, nil
}

func geometryFeature(g orb.Geometry) feature {
	switch geom := g.(type) {
	case orb.Polygon:
		if len(geom) == 0 {
			return feature{geometryType: "Polygon", err: kindError(ErrInvalidGeometry, "polygon has no rings")}
		}
		return feature{geometryType: "Polygon", ring: geom[0]}
	case orb.MultiPolygon:
		if len(geom) == 0 || len(geom[0]) == 0 {
			return feature{geometryType: "MultiPolygon", err: kindError(ErrInvalidGeometry, "multipolygon has no rings")}
		}
		return feature{geometryType: "MultiPolygon", ring: geom[0][0]}
	case nil:
		return feature{geometryType: "Null", err: kindError(ErrInvalidGeometry, "feature has no geometry")}
	default:
		return feature{geometryType: g.GeoJSONType(), err: kindError(ErrUnsupportedGeometry, "%s", g.GeoJSONType())}
	}
}
