package usecases_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/core/usecases"
)

// --- Mock RouteRepository ---

type mockRouteRepo struct {
	listFn    func(ctx context.Context) ([]domain.Route, error)
	getByIDFn func(ctx context.Context, id string) (*domain.Route, error)
	saveFn    func(ctx context.Context, r *domain.Route) (*domain.Route, error)
	updateFn  func(ctx context.Context, id string, r *domain.Route) (*domain.Route, error)
	deleteFn  func(ctx context.Context, id string) error
}

func (m *mockRouteRepo) List(ctx context.Context) ([]domain.Route, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockRouteRepo) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockRouteRepo) Save(ctx context.Context, r *domain.Route) (*domain.Route, error) {
	if m.saveFn != nil {
		return m.saveFn(ctx, r)
	}
	return r, nil
}

func (m *mockRouteRepo) Update(ctx context.Context, id string, r *domain.Route) (*domain.Route, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, r)
	}
	return r, nil
}

func (m *mockRouteRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockRouteRepo) Count(ctx context.Context) (int, error) { return 0, nil }

// --- Mock CacheService ---

type mockCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{store: map[string][]byte{}}
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.store[key]; ok {
		return data, nil
	}
	return nil, errors.New("cache miss")
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

func twoPointRoute(name string) *domain.Route {
	return &domain.Route{
		Name: name,
		Points: []domain.GeoPoint{
			{Lat: 59.30, Lon: 17.90},
			{Lat: 59.31, Lon: 17.91},
		},
	}
}

func TestRouteService_ListCachesResult(t *testing.T) {
	calls := 0
	repo := &mockRouteRepo{
		listFn: func(ctx context.Context) ([]domain.Route, error) {
			calls++
			return []domain.Route{*twoPointRoute("morning gravel")}, nil
		},
	}
	svc := usecases.NewRouteService(repo, newMockCache(), nil, usecases.DefaultRouteConfig())

	for i := 0; i < 3; i++ {
		routes, err := svc.List(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(routes) != 1 || routes[0].Name != "morning gravel" {
			t.Fatalf("unexpected list: %+v", routes)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 repository hit with warm cache, got %d", calls)
	}
}

func TestRouteService_SaveValidatesAndPublishes(t *testing.T) {
	repo := &mockRouteRepo{
		saveFn: func(ctx context.Context, r *domain.Route) (*domain.Route, error) {
			saved := *r
			saved.ID = "r-1"
			return &saved, nil
		},
	}
	pub := &fakePublisher{}
	svc := usecases.NewRouteService(repo, nil, pub, usecases.DefaultRouteConfig())

	if _, err := svc.Save(context.Background(), &domain.Route{Points: []domain.GeoPoint{{Lat: 1, Lon: 1}}}); err == nil {
		t.Error("single-point route must be rejected")
	}
	if _, err := svc.Save(context.Background(), &domain.Route{
		LoopClosed: true,
		Points:     []domain.GeoPoint{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}},
	}); err == nil {
		t.Error("closed 2-point route must be rejected")
	}

	saved, err := svc.Save(context.Background(), twoPointRoute("after work"))
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "r-1" {
		t.Errorf("expected repository-assigned ID, got %q", saved.ID)
	}
}

func TestRouteService_DeleteInvalidatesCache(t *testing.T) {
	cache := newMockCache()
	repo := &mockRouteRepo{
		listFn: func(ctx context.Context) ([]domain.Route, error) {
			return []domain.Route{*twoPointRoute("stale")}, nil
		},
	}
	svc := usecases.NewRouteService(repo, cache, nil, usecases.DefaultRouteConfig())

	if _, err := svc.List(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(context.Background(), "routes:list"); err != nil {
		t.Fatal("list cache should be warm")
	}

	if err := svc.Delete(context.Background(), "r-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(context.Background(), "routes:list"); err == nil {
		t.Error("delete must invalidate the list cache")
	}
}

func TestRouteService_StorageErrorSurfaces(t *testing.T) {
	repo := &mockRouteRepo{
		listFn: func(ctx context.Context) ([]domain.Route, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := usecases.NewRouteService(repo, nil, nil, usecases.DefaultRouteConfig())

	if _, err := svc.List(context.Background()); err == nil {
		t.Fatal("storage errors must surface to the caller")
	}
}

func TestRouteService_ImportGPXDecimatesOversizedTrack(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><gpx><trk><name>megatrack</name><trkseg>`)
	for i := 0; i < 3000; i++ {
		// ~1.1m spacing, far below the 15m floor.
		lon := 17.90 + float64(i)*0.00001
		fmt.Fprintf(&sb, `<trkpt lat="59.30" lon="%.6f"></trkpt>`, lon)
	}
	sb.WriteString(`</trkseg></trk></gpx>`)

	svc := usecases.NewRouteService(&mockRouteRepo{}, nil, nil, usecases.DefaultRouteConfig())
	route, err := svc.Import([]byte(sb.String()), usecases.FormatGPX)
	if err != nil {
		t.Fatal(err)
	}
	if route.Name != "megatrack" {
		t.Errorf("track name not carried, got %q", route.Name)
	}
	if len(route.Points) >= 3000 {
		t.Fatalf("oversized import must be thinned, still has %d points", len(route.Points))
	}
	if len(route.Points) < 2 {
		t.Fatalf("thinning must keep the endpoints, got %d points", len(route.Points))
	}
}

func TestRouteService_ImportRejectsGarbage(t *testing.T) {
	svc := usecases.NewRouteService(&mockRouteRepo{}, nil, nil, usecases.DefaultRouteConfig())

	if _, err := svc.Import([]byte("not xml at all"), usecases.FormatGPX); err == nil {
		t.Error("garbage GPX must be rejected")
	}
	if _, err := svc.Import([]byte("{"), usecases.FormatGeoJSON); err == nil {
		t.Error("garbage GeoJSON must be rejected")
	}
	if _, err := svc.Import(nil, usecases.RouteFormat("kml")); err == nil {
		t.Error("unknown format must be rejected")
	}
}

func TestRouteService_ExportRoundTrip(t *testing.T) {
	stored := twoPointRoute("loop of the lake")
	stored.ID = "r-9"
	repo := &mockRouteRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Route, error) {
			if id != "r-9" {
				return nil, errors.New("not found")
			}
			return stored, nil
		},
	}
	svc := usecases.NewRouteService(repo, nil, nil, usecases.DefaultRouteConfig())

	data, err := svc.Export(context.Background(), "r-9", usecases.FormatGeoJSON)
	if err != nil {
		t.Fatal(err)
	}

	again, err := svc.Import(data, usecases.FormatGeoJSON)
	if err != nil {
		t.Fatal(err)
	}
	if again.Name != stored.Name {
		t.Errorf("name lost in round trip: %q", again.Name)
	}
	if len(again.Points) != len(stored.Points) {
		t.Errorf("point count changed in round trip: %d vs %d", len(again.Points), len(stored.Points))
	}
}
