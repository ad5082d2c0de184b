package usecases_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/core/usecases"
)

// --- Fake RoadSource ---

type fakeSource struct {
	mu        sync.Mutex
	calls     []domain.Bounds
	active    int
	maxActive int
	delay     time.Duration
	err       error
}

func (f *fakeSource) FetchRoads(ctx context.Context, b domain.Bounds) (*domain.RoadNetwork, error) {
	f.mu.Lock()
	f.calls = append(f.calls, b)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	delay, err := f.delay, f.err
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &domain.RoadNetwork{
		Bounds: b,
		Polylines: []domain.Polyline{{Points: []domain.GeoPoint{
			{Lat: b.South, Lon: b.West},
			{Lat: b.North, Lon: b.East},
		}}},
		FetchedAt: time.Now(),
	}, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// --- Fake EventPublisher ---

type fakePublisher struct {
	mu       sync.Mutex
	networks []*domain.RoadNetwork
	statuses []*domain.FetchStatus
}

func (f *fakePublisher) PublishRoadNetwork(ctx context.Context, n *domain.RoadNetwork) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, n)
	return nil
}

func (f *fakePublisher) PublishFetchStatus(ctx context.Context, s *domain.FetchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
	return nil
}

func (f *fakePublisher) PublishRouteSaved(ctx context.Context, r *domain.Route) error { return nil }
func (f *fakePublisher) PublishRouteDeleted(ctx context.Context, id string) error     { return nil }

// --- Helpers ---

func testConfig() usecases.ViewportConfig {
	return usecases.ViewportConfig{
		Debounce:        15 * time.Millisecond,
		EpsilonDeg:      0.0005,
		ContainMargin:   0.001,
		FetchTimeout:    time.Second,
		CacheTTLSeconds: 60,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func bounds(s, w, n, e float64) domain.Bounds {
	return domain.Bounds{South: s, West: w, North: n, East: e}
}

// --- Tests ---

func TestViewport_DebounceCollapsesBursts(t *testing.T) {
	src := &fakeSource{}
	svc := usecases.NewViewportService(src, &fakePublisher{}, nil, testConfig())
	defer svc.Close()

	// A pan gesture: many events in quick succession.
	for i := 0; i < 8; i++ {
		b := bounds(59.0+float64(i)*0.1, 17.0, 60.0+float64(i)*0.1, 18.0)
		if err := svc.OnViewportChanged(b); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	waitFor(t, func() bool { return src.callCount() == 1 }, "one fetch after the burst settles")
	time.Sleep(50 * time.Millisecond)
	if got := src.callCount(); got != 1 {
		t.Fatalf("burst must produce exactly one fetch, got %d", got)
	}

	src.mu.Lock()
	fetched := src.calls[0]
	src.mu.Unlock()
	if fetched.South != 59.7 {
		t.Errorf("fetch must target the last requested bounds, got south=%v", fetched.South)
	}
}

func TestViewport_DedupContainedBounds(t *testing.T) {
	src := &fakeSource{}
	svc := usecases.NewViewportService(src, &fakePublisher{}, nil, testConfig())
	defer svc.Close()

	outer := bounds(59.0, 17.0, 60.0, 18.0)
	if err := svc.OnViewportChanged(outer); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return svc.Network() != nil }, "first fetch applied")

	// Fully inside the fetched bounds: cache hit, no network call.
	inner := bounds(59.2, 17.2, 59.8, 17.8)
	if err := svc.OnViewportChanged(inner); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)
	if got := src.callCount(); got != 1 {
		t.Fatalf("contained bounds must not trigger a fetch, got %d calls", got)
	}

	// Near-identical bounds: also a cache hit.
	near := bounds(59.0001, 17.0001, 60.0001, 18.0001)
	if err := svc.OnViewportChanged(near); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)
	if got := src.callCount(); got != 1 {
		t.Fatalf("near-equal bounds must not trigger a fetch, got %d calls", got)
	}

	// A genuinely new viewport fetches again.
	far := bounds(61.0, 20.0, 62.0, 21.0)
	if err := svc.OnViewportChanged(far); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return src.callCount() == 2 }, "second fetch for new bounds")
}

func TestViewport_TerminalFailureRetainsNetwork(t *testing.T) {
	src := &fakeSource{}
	pub := &fakePublisher{}
	svc := usecases.NewViewportService(src, pub, nil, testConfig())
	defer svc.Close()

	first := bounds(59.0, 17.0, 60.0, 18.0)
	if err := svc.OnViewportChanged(first); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return svc.Network() != nil }, "first fetch applied")

	src.mu.Lock()
	src.err = errors.New("upstream returned HTTP 504")
	src.mu.Unlock()

	if err := svc.OnViewportChanged(bounds(61.0, 20.0, 62.0, 21.0)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return src.callCount() == 2 }, "failing fetch attempted")
	waitFor(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		for _, st := range pub.statuses {
			if st.Error != "" {
				return true
			}
		}
		return false
	}, "failure status published")

	network := svc.Network()
	if network == nil {
		t.Fatal("previous network must be retained after a terminal failure")
	}
	if network.Bounds != first {
		t.Errorf("stale-but-valid network should still be the first fetch, got %+v", network.Bounds)
	}
}

func TestViewport_CooldownStateSurfaced(t *testing.T) {
	src := &fakeSource{err: &domain.CooldownError{Until: time.Now().Add(time.Minute)}}
	svc := usecases.NewViewportService(src, &fakePublisher{}, nil, testConfig())
	defer svc.Close()

	if err := svc.OnViewportChanged(bounds(59.0, 17.0, 60.0, 18.0)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return svc.Status().State == domain.FetchCooldown }, "cooldown state")

	st := svc.Status()
	if st.CooldownUntil == nil || !st.CooldownUntil.After(time.Now()) {
		t.Error("cooldown status must carry the window end")
	}
}

func TestViewport_SingleChainNoConcurrentFetches(t *testing.T) {
	src := &fakeSource{delay: 60 * time.Millisecond}
	svc := usecases.NewViewportService(src, &fakePublisher{}, nil, testConfig())
	defer svc.Close()

	if err := svc.OnViewportChanged(bounds(59.0, 17.0, 60.0, 18.0)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return src.callCount() == 1 }, "first chain started")

	// Events during the in-flight chain only retarget the next evaluation.
	for i := 0; i < 5; i++ {
		if err := svc.OnViewportChanged(bounds(61.0+float64(i), 20.0, 62.0+float64(i), 21.0)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, func() bool { return src.callCount() == 2 }, "superseding chain ran after the first")
	time.Sleep(100 * time.Millisecond)

	src.mu.Lock()
	maxActive := src.maxActive
	calls := len(src.calls)
	src.mu.Unlock()

	if maxActive > 1 {
		t.Fatalf("at most one fetch chain may be active, saw %d", maxActive)
	}
	if calls != 2 {
		t.Errorf("expected 2 chains (original + superseding), got %d", calls)
	}
}

func TestViewport_StaleResponseDiscarded(t *testing.T) {
	src := &fakeSource{delay: 70 * time.Millisecond}
	svc := usecases.NewViewportService(src, &fakePublisher{}, nil, testConfig())
	defer svc.Close()

	old := bounds(59.0, 17.0, 60.0, 18.0)
	if err := svc.OnViewportChanged(old); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return src.callCount() == 1 }, "slow chain started")

	// Supersede while the first response is still in flight; once the slow
	// response lands it must not overwrite the fresher target.
	fresh := bounds(61.0, 20.0, 62.0, 21.0)
	if err := svc.OnViewportChanged(fresh); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		n := svc.Network()
		return n != nil && n.Bounds == fresh
	}, "network reflects the freshest bounds")

	if n := svc.Network(); n.Bounds == old {
		t.Error("stale response must not win over the fresher target")
	}
}

func TestViewport_NoPublisherNoCache(t *testing.T) {
	src := &fakeSource{}
	svc := usecases.NewViewportService(src, nil, nil, testConfig())
	defer svc.Close()

	// A bare coordinator, no broker and no cache wired, must still complete
	// the whole fetch chain on its background goroutine.
	if err := svc.OnViewportChanged(bounds(59.0, 17.0, 60.0, 18.0)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return svc.Network() != nil }, "fetch applied without collaborators")

	if st := svc.Status(); st.State != domain.FetchIdle {
		t.Errorf("state after a settled chain must be idle, got %s", st.State)
	}

	if err := svc.OnViewportChanged(bounds(61.0, 20.0, 62.0, 21.0)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return src.callCount() == 2 }, "second chain ran")
}

func TestViewport_InvalidBoundsRejected(t *testing.T) {
	svc := usecases.NewViewportService(&fakeSource{}, nil, nil, testConfig())
	defer svc.Close()

	if err := svc.OnViewportChanged(bounds(60.0, 17.0, 59.0, 18.0)); err == nil {
		t.Error("inverted bounds must be rejected as a caller defect")
	}
}
