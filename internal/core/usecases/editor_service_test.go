package usecases_test

import (
	"math"
	"testing"
	"time"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/core/usecases"
)

func pt(lat, lon float64) domain.GeoPoint { return domain.GeoPoint{Lat: lat, Lon: lon} }

func TestEditor_AddPointRecomputesDistances(t *testing.T) {
	ed := usecases.NewEditorService()

	if err := ed.AddPoint(pt(59.30, 17.90)); err != nil {
		t.Fatal(err)
	}
	if err := ed.AddPoint(pt(59.30, 17.91)); err != nil {
		t.Fatal(err)
	}

	snap := ed.Snapshot()
	if len(snap.SegmentDistances) != 1 {
		t.Fatalf("2 points must yield 1 segment, got %d", len(snap.SegmentDistances))
	}
	if d := snap.SegmentDistances[0]; math.Abs(d-557) > 15 {
		t.Errorf("0.01 deg of longitude at 59.30N should be ~557m, got %.1f", d)
	}
	if snap.TotalDistanceMeters != snap.SegmentDistances[0] {
		t.Error("total must equal the sum of segments")
	}
}

func TestEditor_MoveAndRemovePoint(t *testing.T) {
	ed := usecases.NewEditorService()
	for i := 0; i < 4; i++ {
		if err := ed.AddPoint(pt(59.30+float64(i)*0.01, 17.90)); err != nil {
			t.Fatal(err)
		}
	}

	if err := ed.MovePoint(1, pt(59.35, 17.95)); err != nil {
		t.Fatal(err)
	}
	if got := ed.Snapshot().Route.Points[1]; got != pt(59.35, 17.95) {
		t.Errorf("moved point not applied, got %+v", got)
	}

	if err := ed.RemovePoint(0); err != nil {
		t.Fatal(err)
	}
	snap := ed.Snapshot()
	if len(snap.Route.Points) != 3 {
		t.Fatalf("expected 3 points after removal, got %d", len(snap.Route.Points))
	}
	if len(snap.SegmentDistances) != 2 {
		t.Fatalf("3 open points must yield 2 segments, got %d", len(snap.SegmentDistances))
	}

	if err := ed.MovePoint(7, pt(59, 17)); err == nil {
		t.Error("out-of-range move must fail")
	}
	if err := ed.RemovePoint(-1); err == nil {
		t.Error("negative index removal must fail")
	}
}

func TestEditor_ToggleLoop(t *testing.T) {
	ed := usecases.NewEditorService()
	_ = ed.AddPoint(pt(59.30, 17.90))
	_ = ed.AddPoint(pt(59.31, 17.90))

	if err := ed.ToggleLoop(); err == nil {
		t.Fatal("closing with 2 points must fail")
	}

	_ = ed.AddPoint(pt(59.31, 17.91))
	if err := ed.ToggleLoop(); err != nil {
		t.Fatalf("closing with 3 points must succeed: %v", err)
	}

	snap := ed.Snapshot()
	if !snap.Route.LoopClosed {
		t.Fatal("loop flag not set")
	}
	if len(snap.SegmentDistances) != 3 {
		t.Fatalf("closed 3-point route must have 3 segments, got %d", len(snap.SegmentDistances))
	}

	// Opening is always allowed.
	if err := ed.ToggleLoop(); err != nil {
		t.Fatal(err)
	}
	if ed.Snapshot().Route.LoopClosed {
		t.Error("loop flag not cleared")
	}
}

func TestEditor_RemovalBelowThreeOpensLoop(t *testing.T) {
	ed := usecases.NewEditorService()
	_ = ed.AddPoint(pt(59.30, 17.90))
	_ = ed.AddPoint(pt(59.31, 17.90))
	_ = ed.AddPoint(pt(59.31, 17.91))
	if err := ed.ToggleLoop(); err != nil {
		t.Fatal(err)
	}

	if err := ed.RemovePoint(2); err != nil {
		t.Fatal(err)
	}
	snap := ed.Snapshot()
	if snap.Route.LoopClosed {
		t.Error("loop must open when the route drops below 3 points")
	}
	if len(snap.SegmentDistances) != 1 {
		t.Errorf("2 open points must yield 1 segment, got %d", len(snap.SegmentDistances))
	}
}

func TestEditor_ReplaceRejectsInvalidCoordinates(t *testing.T) {
	ed := usecases.NewEditorService()
	err := ed.Replace(domain.Route{Points: []domain.GeoPoint{
		{Lat: 59.30, Lon: 17.90},
		{Lat: math.NaN(), Lon: 17.91},
	}})
	if err == nil {
		t.Fatal("route with NaN coordinate must be rejected")
	}
	if n := len(ed.Snapshot().Route.Points); n != 0 {
		t.Errorf("rejected replace must leave the session unmodified, got %d points", n)
	}
}

func TestEditor_LargeRouteRecomputesAsync(t *testing.T) {
	ed := usecases.NewEditorService()

	points := make([]domain.GeoPoint, 2500)
	for i := range points {
		points[i] = pt(59.30, 17.90+float64(i)*0.0001)
	}
	if err := ed.Replace(domain.Route{Name: "long haul", Points: points}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ed.Snapshot().SegmentDistances) == len(points)-1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := ed.Snapshot()
	if len(snap.SegmentDistances) != len(points)-1 {
		t.Fatalf("expected %d segments, got %d", len(points)-1, len(snap.SegmentDistances))
	}
	if snap.TotalDistanceMeters <= 0 {
		t.Error("total distance must be positive")
	}
}

func TestEditor_WatchReceivesSnapshots(t *testing.T) {
	ed := usecases.NewEditorService()
	ch := ed.Watch()

	if err := ed.AddPoint(pt(59.30, 17.90)); err != nil {
		t.Fatal(err)
	}

	select {
	case snap := <-ch:
		if len(snap.Route.Points) != 1 {
			t.Errorf("snapshot should carry the applied mutation, got %d points", len(snap.Route.Points))
		}
		if snap.Version == 0 {
			t.Error("applied mutations must bump the version")
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not receive a snapshot")
	}
}

func TestEditor_MarkersDerivedOnDemand(t *testing.T) {
	ed := usecases.NewEditorService()
	// ~2.2km straight line at 59.30N.
	for i := 0; i < 5; i++ {
		_ = ed.AddPoint(pt(59.30, 17.90+float64(i)*0.01))
	}

	markers, err := ed.Markers(1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(markers) < 2 {
		t.Fatalf("expected at least 2 markers on a ~2.2km route at 1km interval, got %d", len(markers))
	}
	for i, m := range markers {
		want := float64(i+1) * 1000
		if math.Abs(m.DistanceMeters-want) > 1e-6 {
			t.Errorf("marker %d at %.3f, want %.0f", i, m.DistanceMeters, want)
		}
	}

	if _, err := ed.Markers(0); err == nil {
		t.Error("non-positive interval must be rejected")
	}
}
