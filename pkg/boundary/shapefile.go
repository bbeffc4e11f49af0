package boundary

import (
	"fmt"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// readShapefile decodes every record of a polygon shapefile. Z and M
// values are discarded; only the first part (the exterior ring) of each
// record is kept.
func readShapefile(path string) ([]feature, string, error) {
	crs, err := readCRS(path)
	if err != nil {
		return nil, "", kindError(ErrUnsupportedCRS, "%v", err)
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, "", kindError(ErrNotFound, "%v", err)
	}
	defer reader.Close()

	var features []feature
	for reader.Next() {
		_, shape := reader.Shape()
		features = append(features, shapeFeature(shape))
	}
	if err := reader.Err(); err != nil {
		return nil, "", kindError(ErrInvalidGeometry, "read %s: %v", path, err)
	}

	return features, crs, nil
}

func shapeFeature(shape shp.Shape) feature {
	switch s := shape.(type) {
	case *shp.Polygon:
		return feature{geometryType: "Polygon", ring: firstPart(s.Parts, s.Points)}
	case *shp.PolygonZ:
		return feature{geometryType: "PolygonZ", ring: firstPart(s.Parts, s.Points)}
	case *shp.PolygonM:
		return feature{geometryType: "PolygonM", ring: firstPart(s.Parts, s.Points)}
	case *shp.Null:
		return feature{geometryType: "Null", err: kindError(ErrInvalidGeometry, "record has no geometry")}
	default:
		name := fmt.Sprintf("%T", shape)
		return feature{geometryType: name, err: kindError(ErrUnsupportedGeometry, "%s", name)}
	}
}

// firstPart returns the positions of part 0 as a ring. shp.Point carries
// only X and Y, so Z values never reach the result.
func firstPart(parts []int32, points []shp.Point) orb.Ring {
	end := len(points)
	if len(parts) > 1 && int(parts[1]) <= len(points) {
		end = int(parts[1])
	}
	start := 0
	if len(parts) > 0 && int(parts[0]) < end {
		start = int(parts[0])
	}

	ring := make(orb.Ring, 0, end-start)
	for _, p := range points[start:end] {
		ring = append(ring, orb.Point{p.X, p.Y})
	}
	return ring
}
