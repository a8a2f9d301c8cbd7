// Package geojson holds the footprint geometries written into product items.
package geojson

import (
	"encoding/json"
	"fmt"
	"math"
)

// Geometry types produced and read by this package.
const (
	TypePolygon      = "Polygon"
	TypeMultiPolygon = "MultiPolygon"
)

// Geometry is a GeoJSON geometry with undecoded coordinates.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Polygon decodes the rings of a Polygon geometry.
func (g *Geometry) Polygon() ([][][]float64, error) {
	var rings [][][]float64
	if err := g.decode(TypePolygon, &rings); err != nil {
		return nil, err
	}
	return rings, nil
}

// MultiPolygon decodes the parts of a MultiPolygon geometry.
func (g *Geometry) MultiPolygon() ([][][][]float64, error) {
	var parts [][][][]float64
	if err := g.decode(TypeMultiPolygon, &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

func (g *Geometry) decode(want string, v any) error {
	if g.Type != want {
		return fmt.Errorf("expected %s geometry, got %q", want, g.Type)
	}
	if err := json.Unmarshal(g.Coordinates, v); err != nil {
		return fmt.Errorf("decode %s coordinates: %w", want, err)
	}
	return nil
}

// BBox returns [west, south, east, north] for the geometry.
func (g *Geometry) BBox() ([]float64, error) {
	return ComputeBBox(g)
}

// ComputeBBox returns [west, south, east, north] for a Polygon or
// MultiPolygon. A two-part MultiPolygon split at the antimeridian yields a
// box with west > east.
func ComputeBBox(g *Geometry) ([]float64, error) {
	if g == nil {
		return nil, fmt.Errorf("nil geometry")
	}

	var parts [][][][]float64
	switch g.Type {
	case TypePolygon:
		rings, err := g.Polygon()
		if err != nil {
			return nil, err
		}
		parts = [][][][]float64{rings}
	case TypeMultiPolygon:
		var err error
		if parts, err = g.MultiPolygon(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}

	var boxes [][4]float64
	for _, rings := range parts {
		if box, ok := extent(rings); ok {
			boxes = append(boxes, box)
		}
	}
	if len(boxes) == 0 {
		return nil, fmt.Errorf("geometry has no coordinates")
	}

	if len(boxes) == 2 && boxes[0][2] == 180 && boxes[1][0] == -180 {
		east, west := boxes[0], boxes[1]
		return []float64{east[0], math.Min(east[1], west[1]), west[2], math.Max(east[3], west[3])}, nil
	}

	union := boxes[0]
	for _, b := range boxes[1:] {
		union = [4]float64{
			math.Min(union[0], b[0]),
			math.Min(union[1], b[1]),
			math.Max(union[2], b[2]),
			math.Max(union[3], b[3]),
		}
	}
	return union[:], nil
}

// extent ignores positions with fewer than two values.
func extent(rings [][][]float64) ([4]float64, bool) {
	box := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	found := false
	for _, ring := range rings {
		for _, p := range ring {
			if len(p) < 2 {
				continue
			}
			found = true
			box[0] = math.Min(box[0], p[0])
			box[1] = math.Min(box[1], p[1])
			box[2] = math.Max(box[2], p[0])
			box[3] = math.Max(box[3], p[1])
		}
	}
	return box, found
}

// NewPolygonFromBBox builds the footprint of [west, south, east, north].
// When west > east the box crosses the antimeridian and the result is a
// MultiPolygon with one part on each side.
func NewPolygonFromBBox(bbox []float64) (*Geometry, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("bbox needs 4 values, got %d", len(bbox))
	}

	west, south, east, north := bbox[0], bbox[1], bbox[2], bbox[3]
	if south > north {
		return nil, fmt.Errorf("bbox south %g is north of %g", south, north)
	}

	if west <= east {
		return newGeometry(TypePolygon, [][][]float64{rectRing(west, south, east, north)})
	}
	return newGeometry(TypeMultiPolygon, [][][][]float64{
		{rectRing(west, south, 180, north)},
		{rectRing(-180, south, east, north)},
	})
}

func newGeometry(typ string, coords any) (*Geometry, error) {
	raw, err := json.Marshal(coords)
	if err != nil {
		return nil, fmt.Errorf("encode %s coordinates: %w", typ, err)
	}
	return &Geometry{Type: typ, Coordinates: raw}, nil
}

// rectRing returns a closed counter-clockwise ring.
func rectRing(west, south, east, north float64) [][]float64 {
	return [][]float64{
		{west, south},
		{east, south},
		{east, north},
		{west, north},
		{west, south},
	}
}
