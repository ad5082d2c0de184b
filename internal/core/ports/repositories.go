package ports

import (
	"context"

	"github.com/aoli/gravelmap/internal/core/domain"
)

// RouteRepository is the local persistence collaborator: a capped store of
// completed routes. Save evicts the oldest stored route once the configured
// maximum is exceeded. It never participates in geometry computation.
type RouteRepository interface {
	List(ctx context.Context) ([]domain.Route, error)
	GetByID(ctx context.Context, id string) (*domain.Route, error)
	Save(ctx context.Context, route *domain.Route) (*domain.Route, error)
	Update(ctx context.Context, id string, route *domain.Route) (*domain.Route, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SharedRouteRepository mirrors the local CRUD surface for the shared (cloud)
// store, adding owner identity and a public/private visibility flag.
type SharedRouteRepository interface {
	ListPublic(ctx context.Context) ([]domain.SharedRoute, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.SharedRoute, error)
	GetByID(ctx context.Context, id string) (*domain.SharedRoute, error)
	Save(ctx context.Context, route *domain.SharedRoute) (*domain.SharedRoute, error)
	Delete(ctx context.Context, id string, ownerID string) error
}
