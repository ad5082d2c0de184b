package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/core/geometry"
	"github.com/aoli/gravelmap/internal/pkg/geospatial"
)

// asyncRecomputeThreshold is the point count above which segment distances are
// recomputed off the mutating caller, in chunked slices.
const asyncRecomputeThreshold = 1000

// EditorSnapshot is the read-only view of the editing session. Mutating the
// slices in a snapshot has no effect on the session.
type EditorSnapshot struct {
	Route               domain.Route `json:"route"`
	SegmentDistances    []float64    `json:"segment_distances"`
	TotalDistanceMeters float64      `json:"total_distance_meters"`
	PointSize           float64      `json:"point_size"`
	Version             uint64       `json:"version"`
}

// EditorService owns the route under edit. All mutations funnel through it,
// run the pure geometry recomputation, and replace the derived state
// wholesale. Readers get copies; watchers get a snapshot after every applied
// mutation.
type EditorService struct {
	mu        sync.Mutex
	route     domain.Route
	distances []float64
	version   uint64

	recomputing bool

	watchMu  sync.Mutex
	watchers []chan EditorSnapshot
}

func NewEditorService() *EditorService {
	return &EditorService{}
}

// Replace swaps the whole route, e.g. after an import or a load from storage.
func (s *EditorService) Replace(route domain.Route) error {
	for i, p := range route.Points {
		if !geospatial.ValidCoordinate(p.Lat, p.Lon) {
			return fmt.Errorf("point %d: invalid coordinate (%v, %v)", i, p.Lat, p.Lon)
		}
	}
	if route.LoopClosed && len(route.Points) < 3 {
		route.LoopClosed = false
	}

	s.mu.Lock()
	s.route = route
	s.route.Points = append([]domain.GeoPoint(nil), route.Points...)
	s.route.UpdatedAt = time.Now()
	s.afterMutationLocked()
	s.mu.Unlock()
	return nil
}

// AddPoint appends a vertex to the end of the route.
func (s *EditorService) AddPoint(p domain.GeoPoint) error {
	if !geospatial.ValidCoordinate(p.Lat, p.Lon) {
		return fmt.Errorf("invalid coordinate (%v, %v)", p.Lat, p.Lon)
	}

	s.mu.Lock()
	s.route.Points = append(s.route.Points, p)
	s.route.UpdatedAt = time.Now()
	s.afterMutationLocked()
	s.mu.Unlock()
	return nil
}

// MovePoint relocates the vertex at index.
func (s *EditorService) MovePoint(index int, p domain.GeoPoint) error {
	if !geospatial.ValidCoordinate(p.Lat, p.Lon) {
		return fmt.Errorf("invalid coordinate (%v, %v)", p.Lat, p.Lon)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.route.Points) {
		return fmt.Errorf("point index %d out of range [0,%d)", index, len(s.route.Points))
	}
	s.route.Points[index] = p
	s.route.UpdatedAt = time.Now()
	s.afterMutationLocked()
	return nil
}

// RemovePoint deletes the vertex at index. Dropping below three points opens
// a closed loop.
func (s *EditorService) RemovePoint(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.route.Points) {
		return fmt.Errorf("point index %d out of range [0,%d)", index, len(s.route.Points))
	}
	s.route.Points = append(s.route.Points[:index], s.route.Points[index+1:]...)
	if s.route.LoopClosed && len(s.route.Points) < 3 {
		s.route.LoopClosed = false
	}
	s.route.UpdatedAt = time.Now()
	s.afterMutationLocked()
	return nil
}

// ToggleLoop flips the loop flag. Closing requires at least three points;
// opening is always allowed.
func (s *EditorService) ToggleLoop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.route.LoopClosed && !s.route.CanClose() {
		return fmt.Errorf("cannot close loop with %d points, need 3", len(s.route.Points))
	}
	s.route.LoopClosed = !s.route.LoopClosed
	s.route.UpdatedAt = time.Now()
	s.afterMutationLocked()
	return nil
}

// Clear resets the session to an empty route.
func (s *EditorService) Clear() {
	s.mu.Lock()
	s.route = domain.Route{}
	s.afterMutationLocked()
	s.mu.Unlock()
}

// Snapshot returns the current route and its derived distances. While an
// asynchronous recomputation is in flight the distances may lag the points by
// one version; the snapshot's Version tells readers which state they got.
func (s *EditorService) Snapshot() EditorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Markers computes distance markers for the current route at the given
// interval. Markers are derived on demand, never stored.
func (s *EditorService) Markers(intervalMeters float64) ([]domain.DistanceMarker, error) {
	s.mu.Lock()
	points := append([]domain.GeoPoint(nil), s.route.Points...)
	loop := s.route.LoopClosed
	s.mu.Unlock()
	return geometry.DistanceMarkers(points, loop, intervalMeters)
}

// Watch registers a snapshot channel notified after every applied mutation.
// Slow watchers miss intermediate snapshots rather than blocking the editor.
func (s *EditorService) Watch() <-chan EditorSnapshot {
	ch := make(chan EditorSnapshot, 8)
	s.watchMu.Lock()
	s.watchers = append(s.watchers, ch)
	s.watchMu.Unlock()
	return ch
}

// afterMutationLocked recomputes derived state and notifies watchers. Small
// routes recompute inline; large ones hand off to a single background
// goroutine so a long recomputation never blocks the next edit.
func (s *EditorService) afterMutationLocked() {
	s.version++

	if len(s.route.Points) <= asyncRecomputeThreshold {
		s.distances = geometry.SegmentDistances(s.route.Points, s.route.LoopClosed)
		s.notify(s.snapshotLocked())
		return
	}

	if s.recomputing {
		// The running goroutine re-checks the version when it finishes.
		s.notify(s.snapshotLocked())
		return
	}
	s.recomputing = true
	go s.recomputeLoop()
	s.notify(s.snapshotLocked())
}

// recomputeLoop recomputes chunked distances until the result matches the
// latest version. Results for superseded versions are discarded.
func (s *EditorService) recomputeLoop() {
	for {
		s.mu.Lock()
		version := s.version
		points := append([]domain.GeoPoint(nil), s.route.Points...)
		loop := s.route.LoopClosed
		s.mu.Unlock()

		distances, err := geometry.SegmentDistancesChunked(context.Background(), points, loop)
		if err != nil {
			slog.Warn("segment recomputation aborted", "error", err)
		}

		s.mu.Lock()
		if s.version != version {
			s.mu.Unlock()
			runtime.Gosched()
			continue
		}
		if err == nil {
			s.distances = distances
		}
		s.recomputing = false
		snap := s.snapshotLocked()
		s.mu.Unlock()

		s.notify(snap)
		return
	}
}

func (s *EditorService) snapshotLocked() EditorSnapshot {
	route := s.route
	route.Points = append([]domain.GeoPoint(nil), s.route.Points...)
	distances := append([]float64(nil), s.distances...)

	var total float64
	for _, d := range distances {
		total += d
	}
	return EditorSnapshot{
		Route:               route,
		SegmentDistances:    distances,
		TotalDistanceMeters: total,
		PointSize:           geometry.DynamicPointSize(route.Points),
		Version:             s.version,
	}
}

func (s *EditorService) notify(snap EditorSnapshot) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- snap:
		default:
		}
	}
}
