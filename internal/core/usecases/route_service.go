package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/core/geometry"
	"github.com/aoli/gravelmap/internal/core/ports"
	"github.com/aoli/gravelmap/internal/pkg/geojson"
	"github.com/aoli/gravelmap/internal/pkg/gpx"
)

// RouteFormat selects an import/export codec.
type RouteFormat string

const (
	FormatGPX     RouteFormat = "gpx"
	FormatGeoJSON RouteFormat = "geojson"
)

// RouteConfig tunes the import decimation pass.
type RouteConfig struct {
	// DecimateThreshold is the imported point count above which the track is
	// thinned before it enters the session.
	DecimateThreshold int
	// DecimateSpacingMeters is the minimum spacing kept by the thinning pass.
	DecimateSpacingMeters float64
}

func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		DecimateThreshold:     2000,
		DecimateSpacingMeters: 15,
	}
}

// RouteService handles stored-route business logic: CRUD against the capped
// local store, import/export codecs, and change events.
type RouteService struct {
	routes ports.RouteRepository
	cache  ports.CacheService
	pub    ports.EventPublisher
	cfg    RouteConfig
}

func NewRouteService(routes ports.RouteRepository, cache ports.CacheService, pub ports.EventPublisher, cfg RouteConfig) *RouteService {
	if cfg.DecimateThreshold <= 0 {
		cfg.DecimateThreshold = 2000
	}
	if cfg.DecimateSpacingMeters <= 0 {
		cfg.DecimateSpacingMeters = 15
	}
	return &RouteService{routes: routes, cache: cache, pub: pub, cfg: cfg}
}

const routeListCacheKey = "routes:list"

// List returns all stored routes, newest first.
func (s *RouteService) List(ctx context.Context) ([]domain.Route, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, routeListCacheKey); err == nil {
			var routes []domain.Route
			if err := json.Unmarshal(data, &routes); err == nil {
				return routes, nil
			}
		}
	}

	routes, err := s.routes.List(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(routes); err == nil {
			_ = s.cache.Set(ctx, routeListCacheKey, data, 300)
		}
	}
	return routes, nil
}

// GetByID returns a single stored route.
func (s *RouteService) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	cacheKey := "routes:id:" + id
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var route domain.Route
			if err := json.Unmarshal(data, &route); err == nil {
				return &route, nil
			}
		}
	}

	route, err := s.routes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(route); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 600)
		}
	}
	return route, nil
}

// Save stores a route. The repository enforces the store cap by evicting the
// oldest route; callers are not told which one went.
func (s *RouteService) Save(ctx context.Context, route *domain.Route) (*domain.Route, error) {
	if err := validateRoute(route); err != nil {
		return nil, err
	}

	saved, err := s.routes.Save(ctx, route)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, saved.ID)
	if s.pub != nil {
		_ = s.pub.PublishRouteSaved(ctx, saved)
	}
	return saved, nil
}

// Update replaces a stored route's content in place.
func (s *RouteService) Update(ctx context.Context, id string, route *domain.Route) (*domain.Route, error) {
	if err := validateRoute(route); err != nil {
		return nil, err
	}

	updated, err := s.routes.Update(ctx, id, route)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	if s.pub != nil {
		_ = s.pub.PublishRouteSaved(ctx, updated)
	}
	return updated, nil
}

// Delete removes a stored route.
func (s *RouteService) Delete(ctx context.Context, id string) error {
	if err := s.routes.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, id)
	if s.pub != nil {
		_ = s.pub.PublishRouteDeleted(ctx, id)
	}
	return nil
}

// Import decodes a GPX or GeoJSON payload into a route, thinning oversized
// tracks so an imported megatrack does not stall every later recomputation.
// The result is not stored; it replaces the editing session.
func (s *RouteService) Import(data []byte, format RouteFormat) (*domain.Route, error) {
	var (
		points []domain.GeoPoint
		loop   bool
		name   string
		err    error
	)
	switch format {
	case FormatGPX:
		points, loop, name, err = gpx.Decode(data)
	case FormatGeoJSON:
		points, loop, name, err = geojson.Decode(data)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}

	if len(points) > s.cfg.DecimateThreshold {
		points = geometry.Decimate(points, s.cfg.DecimateSpacingMeters)
	}
	if loop && len(points) < 3 {
		loop = false
	}

	now := time.Now()
	return &domain.Route{
		Name:       name,
		Points:     points,
		LoopClosed: loop,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Export serializes a stored route.
func (s *RouteService) Export(ctx context.Context, id string, format RouteFormat) ([]byte, error) {
	route, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return EncodeRoute(route, format)
}

// EncodeRoute serializes any route, stored or session-only.
func EncodeRoute(route *domain.Route, format RouteFormat) ([]byte, error) {
	switch format {
	case FormatGPX:
		return gpx.Encode(route.Points, route.LoopClosed, route.Name)
	case FormatGeoJSON:
		return geojson.Encode(route.Points, route.LoopClosed, route.Name)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func (s *RouteService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, routeListCacheKey)
	_ = s.cache.Delete(ctx, "routes:id:"+id)
}

func validateRoute(route *domain.Route) error {
	if route == nil {
		return fmt.Errorf("route must not be nil")
	}
	if len(route.Points) < 2 {
		return fmt.Errorf("route needs at least 2 points, got %d", len(route.Points))
	}
	if route.LoopClosed && !route.CanClose() {
		return fmt.Errorf("cannot store a closed loop with %d points", len(route.Points))
	}
	return nil
}
