package usecases

import (
	"context"
	"fmt"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/core/ports"
)

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// SharedService is the cloud-sync surface: routes mirrored to the shared
// store with an owner and a visibility flag. It never touches the local
// capped store or the geometry pipeline.
type SharedService struct {
	shared ports.SharedRouteRepository
}

func NewSharedService(shared ports.SharedRouteRepository) *SharedService {
	return &SharedService{shared: shared}
}

// ListPublic returns every publicly visible shared route.
func (s *SharedService) ListPublic(ctx context.Context) ([]domain.SharedRoute, error) {
	return s.shared.ListPublic(ctx)
}

// ListByOwner returns all shared routes of one owner, public and private.
func (s *SharedService) ListByOwner(ctx context.Context, ownerID string) ([]domain.SharedRoute, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id must not be empty")
	}
	return s.shared.ListByOwner(ctx, ownerID)
}

// GetByID returns one shared route.
func (s *SharedService) GetByID(ctx context.Context, id string) (*domain.SharedRoute, error) {
	return s.shared.GetByID(ctx, id)
}

// Publish mirrors a route into the shared store.
func (s *SharedService) Publish(ctx context.Context, route *domain.Route, ownerID, visibility string) (*domain.SharedRoute, error) {
	if route == nil {
		return nil, fmt.Errorf("route must not be nil")
	}
	if err := validateRoute(route); err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner id must not be empty")
	}
	switch visibility {
	case VisibilityPublic, VisibilityPrivate:
	case "":
		visibility = VisibilityPrivate
	default:
		return nil, fmt.Errorf("unknown visibility %q", visibility)
	}

	return s.shared.Save(ctx, &domain.SharedRoute{
		Route:      *route,
		OwnerID:    ownerID,
		Visibility: visibility,
	})
}

// Unpublish removes an owner's shared route. Owners can only remove their own.
func (s *SharedService) Unpublish(ctx context.Context, id, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("owner id must not be empty")
	}
	return s.shared.Delete(ctx, id, ownerID)
}
