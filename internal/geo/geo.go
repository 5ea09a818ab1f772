// Package geo holds the pure geometry used by the geofence evaluator and the
// shelter search: great-circle distance and point-in-polygon containment on
// WGS84 coordinates.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"github.com/mr1hm/go-hazard-watch/internal/models"
)

// epsilon is the on-edge tolerance in degrees (~0.1 mm at the equator).
const epsilon = 1e-9

// Point converts a coordinate to orb's lon/lat order.
func Point(c models.Coordinate) orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b models.Coordinate) float64 {
	return orbgeo.DistanceHaversine(Point(a), Point(b))
}

// NormalizeLongitude maps any longitude delta into (-180, 180].
func NormalizeLongitude(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

// PointInPolygon casts a ray eastward along the point's latitude and counts
// edge crossings modulo 2. The ring is unwrapped into longitudes relative to
// the query point, stepping each edge the short way round, so polygons
// straddling the antimeridian do not produce false crossings. Rings must span
// less than 180 degrees of longitude and must not enclose a pole. Points on an
// edge or vertex are inside only when includeBoundary is set. Polygons with
// fewer than three vertices contain nothing.
func PointInPolygon(p models.Coordinate, polygon []models.Coordinate, includeBoundary bool) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}

	// Unwrapped relative longitudes: the query point sits at x=0.
	xs := make([]float64, n)
	xs[0] = NormalizeLongitude(polygon[0].Longitude - p.Longitude)
	for i := 1; i < n; i++ {
		xs[i] = xs[i-1] + NormalizeLongitude(polygon[i].Longitude-polygon[i-1].Longitude)
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		ax, ay := xs[j], polygon[j].Latitude
		bx, by := xs[i], polygon[i].Latitude

		if onSegment(ax, ay, bx, by, p.Latitude) {
			return includeBoundary
		}
		if (ay > p.Latitude) == (by > p.Latitude) {
			continue
		}
		if ax+(p.Latitude-ay)*(bx-ax)/(by-ay) > 0 {
			inside = !inside
		}
	}
	return inside
}

// onSegment reports whether (0, py) lies on the segment (ax,ay)-(bx,by).
func onSegment(ax, ay, bx, by, py float64) bool {
	if 0 < math.Min(ax, bx)-epsilon || 0 > math.Max(ax, bx)+epsilon {
		return false
	}
	if py < math.Min(ay, by)-epsilon || py > math.Max(ay, by)+epsilon {
		return false
	}
	cross := (ax-0)*(by-py) - (ay-py)*(bx-0)
	length := math.Hypot(bx-ax, by-ay)
	if length == 0 {
		return math.Abs(ax) <= epsilon && math.Abs(ay-py) <= epsilon
	}
	return math.Abs(cross)/length <= epsilon
}
