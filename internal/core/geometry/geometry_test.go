package geometry

import (
	"context"
	"math"
	"testing"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/pkg/geospatial"
)

func pt(lat, lon float64) domain.GeoPoint { return domain.GeoPoint{Lat: lat, Lon: lon} }

// line returns n points spaced roughly spacingMeters apart along a parallel.
func line(n int, spacingMeters float64) []domain.GeoPoint {
	// 1 degree of longitude at 59.30°N ≈ 56,890 m
	step := spacingMeters / 56890.0
	pts := make([]domain.GeoPoint, n)
	for i := range pts {
		pts[i] = pt(59.30, 18.00+float64(i)*step)
	}
	return pts
}

func TestSegmentDistances_Open(t *testing.T) {
	pts := []domain.GeoPoint{pt(59.30, 18.00), pt(59.30, 18.01)}
	got := SegmentDistances(pts, false)
	if len(got) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(got))
	}
	if math.Abs(got[0]-557) > 15 {
		t.Errorf("segment at 59.30°N should be ~557m, got %.1f", got[0])
	}
}

func TestSegmentDistances_CountAndNonNegative(t *testing.T) {
	pts := line(7, 100)
	got := SegmentDistances(pts, false)
	if len(got) != len(pts)-1 {
		t.Fatalf("open route: expected %d segments, got %d", len(pts)-1, len(got))
	}
	for i, d := range got {
		if d < 0 {
			t.Errorf("segment %d is negative: %f", i, d)
		}
	}
}

func TestSegmentDistances_Closed(t *testing.T) {
	pts := []domain.GeoPoint{pt(59.30, 18.00), pt(59.30, 18.01), pt(59.31, 18.01)}
	open := SegmentDistances(pts, false)
	closed := SegmentDistances(pts, true)

	if len(closed) != len(open)+1 {
		t.Fatalf("closing should append exactly one distance: open=%d closed=%d", len(open), len(closed))
	}

	want := geospatial.Haversine(59.31, 18.01, 59.30, 18.00)
	got := closed[len(closed)-1]
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("closing edge = %f, want %f", got, want)
	}
}

func TestSegmentDistances_LoopNeedsThreePoints(t *testing.T) {
	pts := []domain.GeoPoint{pt(59.30, 18.00), pt(59.30, 18.01)}
	if got := SegmentDistances(pts, true); len(got) != 1 {
		t.Errorf("2-point route must not gain a closing edge, got %d segments", len(got))
	}
	if got := SegmentDistances(pts[:1], false); got != nil {
		t.Errorf("single point should yield no segments, got %v", got)
	}
	if got := SegmentDistances(nil, true); got != nil {
		t.Errorf("empty route should yield no segments, got %v", got)
	}
}

func TestSegmentDistancesChunked_MatchesUnchunked(t *testing.T) {
	pts := line(2500, 20)
	want := SegmentDistances(pts, true)
	got, err := SegmentDistancesChunked(context.Background(), pts, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("distance %d differs: %f vs %f", i, got[i], want[i])
		}
	}
}

func TestSegmentDistancesChunked_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := SegmentDistancesChunked(ctx, line(2500, 20), false); err == nil {
		t.Error("expected context error for cancelled chunked computation")
	}
}

func TestDecimate_PreservesEndpointsAndSpacing(t *testing.T) {
	pts := line(500, 5) // 5m spacing, well under threshold
	got := Decimate(pts, 15)

	if !got[0].Equal(pts[0]) {
		t.Error("first point not retained")
	}
	if !got[len(got)-1].Equal(pts[len(pts)-1]) {
		t.Error("last point not retained")
	}
	if len(got) >= len(pts) {
		t.Errorf("expected fewer points after decimation, got %d of %d", len(got), len(pts))
	}

	// Every consecutive retained pair except possibly the final one must be
	// at least minSpacing apart.
	for i := 1; i < len(got)-1; i++ {
		d := geospatial.Haversine(got[i-1].Lat, got[i-1].Lon, got[i].Lat, got[i].Lon)
		if d < 15 {
			t.Errorf("retained pair %d only %.1fm apart", i, d)
		}
	}
}

func TestDecimate_SparseRouteUnchanged(t *testing.T) {
	pts := line(20, 100)
	got := Decimate(pts, 15)
	if len(got) != len(pts) {
		t.Fatalf("already-sparse route changed: %d -> %d points", len(pts), len(got))
	}
	for i := range got {
		if !got[i].Equal(pts[i]) {
			t.Fatalf("point %d changed", i)
		}
	}
}

func TestDecimate_TwoPointsUnchanged(t *testing.T) {
	pts := []domain.GeoPoint{pt(59.30, 18.00), pt(59.30, 18.01)}
	got := Decimate(pts, 1e9)
	if len(got) != 2 || !got[0].Equal(pts[0]) || !got[1].Equal(pts[1]) {
		t.Errorf("2-point route must pass through unchanged regardless of threshold, got %v", got)
	}
}

func TestDistanceMarkers_CountAndSpacing(t *testing.T) {
	pts := line(50, 100) // ~4900m total
	total := TotalDistance(pts, false)
	interval := 500.0

	markers, err := DistanceMarkers(pts, false, interval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := int(math.Floor(total / interval))
	if len(markers) != want {
		t.Fatalf("expected floor(%.0f/%.0f)=%d markers, got %d", total, interval, want, len(markers))
	}
	for i, m := range markers {
		wantDist := float64(i+1) * interval
		if math.Abs(m.DistanceMeters-wantDist) > 1e-6 {
			t.Errorf("marker %d at %.3fm, want %.3fm", i, m.DistanceMeters, wantDist)
		}
	}
}

func TestDistanceMarkers_MultiplePerLongSegment(t *testing.T) {
	// Two points ~5.7km apart with a 1km interval: all markers interpolate
	// inside the single segment.
	pts := []domain.GeoPoint{pt(59.30, 18.00), pt(59.30, 18.10)}
	markers, err := DistanceMarkers(pts, false, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markers) < 5 {
		t.Fatalf("expected at least 5 markers in a ~5.7km segment, got %d", len(markers))
	}
	for i := 1; i < len(markers); i++ {
		if markers[i].DistanceMeters <= markers[i-1].DistanceMeters {
			t.Error("markers must be emitted in increasing distance order")
		}
	}
}

func TestDistanceMarkers_ShortRouteEmpty(t *testing.T) {
	pts := []domain.GeoPoint{pt(59.30, 18.00), pt(59.30, 18.001)} // ~57m
	markers, err := DistanceMarkers(pts, false, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markers) != 0 {
		t.Errorf("route shorter than one interval must yield no markers, got %d", len(markers))
	}
}

func TestDistanceMarkers_ClosedAddsClosingEdge(t *testing.T) {
	pts := []domain.GeoPoint{pt(59.30, 18.00), pt(59.30, 18.02), pt(59.32, 18.02)}
	open, _ := DistanceMarkers(pts, false, 500)
	closed, _ := DistanceMarkers(pts, true, 500)
	if len(closed) <= len(open) {
		t.Errorf("closing the loop should add markers along the closing edge: open=%d closed=%d", len(open), len(closed))
	}
}

func TestDistanceMarkers_InvalidInterval(t *testing.T) {
	pts := line(10, 100)
	for _, interval := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		if _, err := DistanceMarkers(pts, false, interval); err == nil {
			t.Errorf("interval %v should be rejected", interval)
		}
	}
}

func TestDynamicPointSize_Monotone(t *testing.T) {
	sizes := []float64{
		DynamicPointSize(line(10, 10)),
		DynamicPointSize(line(10, 50)),
		DynamicPointSize(line(10, 200)),
		DynamicPointSize(line(10, 1000)),
	}
	for i := 1; i < len(sizes); i++ {
		if sizes[i] < sizes[i-1] {
			t.Fatalf("point size must not shrink as spacing grows: %v", sizes)
		}
	}
}
