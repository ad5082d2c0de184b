package geometry

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/pkg/geospatial"
)

// Chunked recomputation parameters: routes above ChunkThreshold points are
// processed ChunkSize points at a time with a scheduler yield between slices,
// so a many-thousand-point route cannot starve the request path.
const (
	ChunkThreshold = 1000
	ChunkSize      = 200
)

// SegmentDistances returns one geodesic distance in meters per consecutive
// pair of points, plus one trailing distance for the closing last→first edge
// when loopClosed is set and the route has at least 3 points. Fewer than two
// points yields an empty result.
func SegmentDistances(points []domain.GeoPoint, loopClosed bool) []float64 {
	if len(points) < 2 {
		return nil
	}

	n := len(points) - 1
	closed := loopClosed && len(points) >= 3
	if closed {
		n++
	}

	out := make([]float64, 0, n)
	for i := 1; i < len(points); i++ {
		out = append(out, geospatial.Haversine(
			points[i-1].Lat, points[i-1].Lon, points[i].Lat, points[i].Lon))
	}
	if closed {
		last, first := points[len(points)-1], points[0]
		out = append(out, geospatial.Haversine(last.Lat, last.Lon, first.Lat, first.Lon))
	}
	return out
}

// SegmentDistancesChunked computes the same result as SegmentDistances but in
// fixed-size slices, yielding to the scheduler between slices and honouring
// context cancellation. Either the full distance list is returned or none of it.
func SegmentDistancesChunked(ctx context.Context, points []domain.GeoPoint, loopClosed bool) ([]float64, error) {
	if len(points) <= ChunkThreshold {
		return SegmentDistances(points, loopClosed), nil
	}

	closed := loopClosed && len(points) >= 3
	n := len(points) - 1
	if closed {
		n++
	}
	out := make([]float64, 0, n)

	for start := 1; start < len(points); start += ChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + ChunkSize
		if end > len(points) {
			end = len(points)
		}
		for i := start; i < end; i++ {
			out = append(out, geospatial.Haversine(
				points[i-1].Lat, points[i-1].Lon, points[i].Lat, points[i].Lon))
		}
		runtime.Gosched()
	}

	if closed {
		last, first := points[len(points)-1], points[0]
		out = append(out, geospatial.Haversine(last.Lat, last.Lon, first.Lat, first.Lon))
	}
	return out, nil
}

// TotalDistance returns the route length in meters, closing edge included when
// applicable.
func TotalDistance(points []domain.GeoPoint, loopClosed bool) float64 {
	var total float64
	for _, d := range SegmentDistances(points, loopClosed) {
		total += d
	}
	return total
}

// Decimate walks the sequence once, keeping a point only if its geodesic
// distance to the most recently kept point is at least minSpacingMeters. The
// first and last points are always retained. Rejected points are dropped, not
// averaged. This is a greedy spacing filter, not a shape-preserving
// simplification: a sharp turn inside the spacing threshold can be lost, an
// accepted trade-off for oversized imports.
func Decimate(points []domain.GeoPoint, minSpacingMeters float64) []domain.GeoPoint {
	if len(points) <= 2 {
		return points
	}

	kept := make([]domain.GeoPoint, 0, len(points))
	kept = append(kept, points[0])
	anchor := points[0]

	for i := 1; i < len(points)-1; i++ {
		d := geospatial.Haversine(anchor.Lat, anchor.Lon, points[i].Lat, points[i].Lon)
		if d >= minSpacingMeters {
			kept = append(kept, points[i])
			anchor = points[i]
		}
	}

	kept = append(kept, points[len(points)-1])
	return kept
}

// DistanceMarkers walks cumulative distance along the route (closing edge
// included when loopClosed and n≥3) and emits an interpolated marker each time
// the cumulative distance crosses a whole multiple of intervalMeters. Long
// segments may carry several markers; all are emitted in order. A route
// shorter than one interval yields no markers.
//
// A non-positive or non-finite interval is a caller defect, not an
// environmental condition, and returns an error.
func DistanceMarkers(points []domain.GeoPoint, loopClosed bool, intervalMeters float64) ([]domain.DistanceMarker, error) {
	if intervalMeters <= 0 || math.IsNaN(intervalMeters) || math.IsInf(intervalMeters, 0) {
		return nil, fmt.Errorf("marker interval must be a positive number of meters, got %v", intervalMeters)
	}
	if len(points) < 2 {
		return nil, nil
	}

	closed := loopClosed && len(points) >= 3

	var markers []domain.DistanceMarker
	cumulative := 0.0
	next := intervalMeters

	emit := func(a, b domain.GeoPoint, segLen float64) {
		for next <= cumulative+segLen {
			t := (next - cumulative) / segLen
			lat, lon := geospatial.Interpolate(a.Lat, a.Lon, b.Lat, b.Lon, t)
			markers = append(markers, domain.DistanceMarker{
				Point:          domain.GeoPoint{Lat: lat, Lon: lon},
				DistanceMeters: next,
			})
			next += intervalMeters
		}
		cumulative += segLen
	}

	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		segLen := geospatial.Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
		if segLen > 0 {
			emit(a, b, segLen)
		}
	}
	if closed {
		a, b := points[len(points)-1], points[0]
		segLen := geospatial.Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
		if segLen > 0 {
			emit(a, b, segLen)
		}
	}

	return markers, nil
}

// MeanSpacing returns the mean inter-point distance in meters, ignoring the
// closing edge. Zero for routes with fewer than two points.
func MeanSpacing(points []domain.GeoPoint) float64 {
	if len(points) < 2 {
		return 0
	}
	return TotalDistance(points, false) / float64(len(points)-1)
}

// DynamicPointSize maps mean inter-point spacing to a rendered vertex size.
// Coarser spacing means larger markers; the steps are monotone. This is a
// presentation hint riding on the same density computation as Decimate.
func DynamicPointSize(points []domain.GeoPoint) float64 {
	spacing := MeanSpacing(points)
	switch {
	case spacing < 25:
		return 3
	case spacing < 100:
		return 4
	case spacing < 500:
		return 6
	default:
		return 8
	}
}
