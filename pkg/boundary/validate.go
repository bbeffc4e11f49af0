package boundary

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ValidateRing checks that ring is a usable polygon exterior: at least
// four positions, closed, finite, non-zero area and not self-intersecting.
// Repeated consecutive positions are ignored.
func ValidateRing(ring orb.Ring) error {
	if len(ring) < 4 {
		return fmt.Errorf("ring has %d positions, need at least 4", len(ring))
	}
	for i, p := range ring {
		if !finite(p[0]) || !finite(p[1]) {
			return fmt.Errorf("position %d is not finite: %v", i, p)
		}
	}
	if !ring.Closed() {
		return fmt.Errorf("ring is not closed: first %v, last %v", ring[0], ring[len(ring)-1])
	}
	if ring = withoutRepeats(ring); len(ring) < 4 {
		return fmt.Errorf("ring has %d distinct positions, need at least 4", len(ring))
	}
	if planar.Area(ring) == 0 {
		return fmt.Errorf("ring has zero area")
	}
	if i, j, ok := selfIntersection(ring); ok {
		return fmt.Errorf("ring self-intersects between edges %d and %d", i, j)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// withoutRepeats drops positions equal to their predecessor. The closing
// position survives because its predecessor differs from it.
func withoutRepeats(ring orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(ring))
	for i, p := range ring {
		if i > 0 && p.Equal(ring[i-1]) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// selfIntersection looks for two non-adjacent edges that touch or cross.
func selfIntersection(ring orb.Ring) (int, int, bool) {
	edges := len(ring) - 1
	for i := 0; i < edges; i++ {
		a1, a2 := ring[i], ring[i+1]
		for j := i + 1; j < edges; j++ {
			// consecutive edges share a vertex, as do the first and last
			if j == i+1 || (i == 0 && j == edges-1) {
				continue
			}
			if segmentsIntersect(a1, a2, ring[j], ring[j+1]) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}
