package dem

import (
	"fmt"
	"math"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s2"
	"github.com/robert-malhotra/s1-insar/internal/annotation"
)

// Bounds is a geographic bounding box in degrees. When the box crosses the
// antimeridian West is greater than East.
type Bounds struct {
	West  float64
	South float64
	East  float64
	North float64
}

// CrossesAntimeridian reports whether the box wraps across ±180°.
func (b Bounds) CrossesAntimeridian() bool {
	return b.West > b.East
}

// BBox returns [west, south, east, north].
func (b Bounds) BBox() []float64 {
	return []float64{b.West, b.South, b.East, b.North}
}

// String formats the bounds as the "w,s,e,n" query value of the DEM service.
func (b Bounds) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.West, b.South, b.East, b.North)
}

// BoundsFromPoints computes the smallest lat/lon box holding every point,
// padded by marginDeg on each side. Longitudes are unioned on the circle so
// a footprint straddling the antimeridian yields a narrow wrapped box rather
// than one spanning the globe.
func BoundsFromPoints(points []annotation.GeoPoint, marginDeg float64) (Bounds, error) {
	if len(points) == 0 {
		return Bounds{}, fmt.Errorf("no footprint points")
	}

	rect := s2.EmptyRect()
	for _, p := range points {
		ll := s2.LatLngFromDegrees(p.Lat, p.Lon)
		if !ll.IsValid() {
			return Bounds{}, fmt.Errorf("invalid footprint point lat=%g lon=%g", p.Lat, p.Lon)
		}
		rect = rect.AddPoint(ll)
	}

	if marginDeg > 0 {
		m := s2.LatLngFromDegrees(marginDeg, marginDeg)
		rect = s2.Rect{
			Lat: rect.Lat.Expanded(m.Lat.Radians()).Intersection(r1.Interval{Lo: -math.Pi / 2, Hi: math.Pi / 2}),
			Lng: rect.Lng.Expanded(m.Lng.Radians()),
		}
	}
	if rect.IsEmpty() {
		return Bounds{}, fmt.Errorf("empty footprint bounds")
	}

	lo, hi := rect.Lo(), rect.Hi()
	return Bounds{
		West:  lo.Lng.Degrees(),
		South: lo.Lat.Degrees(),
		East:  hi.Lng.Degrees(),
		North: hi.Lat.Degrees(),
	}, nil
}
