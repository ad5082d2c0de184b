package domain

import "math"

// GeoPoint represents a geographic coordinate (WGS 84).
// Equality is exact-coordinate equality; GPX loop inference relies on it.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Equal reports exact coordinate equality.
func (p GeoPoint) Equal(o GeoPoint) bool {
	return p.Lat == o.Lat && p.Lon == o.Lon
}

// Polyline is an ordered sequence of geographic coordinates with at least two points.
type Polyline struct {
	Points []GeoPoint `json:"points"`
}

// Bounds represents a south/west/north/east map viewport rectangle.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Valid reports whether the bounds describe a non-degenerate rectangle with
// finite, in-range coordinates.
func (b Bounds) Valid() bool {
	for _, v := range []float64{b.South, b.West, b.North, b.East} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.South >= -90 && b.North <= 90 && b.South < b.North &&
		b.West >= -180 && b.East <= 180 && b.West < b.East
}

// WithinTolerance reports whether each edge of b differs from o by less than eps degrees.
func (b Bounds) WithinTolerance(o Bounds, eps float64) bool {
	return math.Abs(b.South-o.South) < eps &&
		math.Abs(b.West-o.West) < eps &&
		math.Abs(b.North-o.North) < eps &&
		math.Abs(b.East-o.East) < eps
}

// Contains reports whether o lies fully inside b expanded by margin degrees on
// each edge.
func (b Bounds) Contains(o Bounds, margin float64) bool {
	return o.South >= b.South-margin &&
		o.West >= b.West-margin &&
		o.North <= b.North+margin &&
		o.East <= b.East+margin
}
