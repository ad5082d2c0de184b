package ports

import (
	"context"

	"github.com/aoli/gravelmap/internal/core/domain"
)

// RoadSource performs one logical fetch of gravel-surfaced ways for a
// viewport. Resilience policy (timeouts, backoff, cooldown) is fully internal
// to the implementation; callers only see success, a terminal error, or a
// cooldown error.
type RoadSource interface {
	FetchRoads(ctx context.Context, bounds domain.Bounds) (*domain.RoadNetwork, error)
}

// EventPublisher publishes fetch results and route changes to a message broker.
type EventPublisher interface {
	PublishRoadNetwork(ctx context.Context, network *domain.RoadNetwork) error
	PublishFetchStatus(ctx context.Context, status *domain.FetchStatus) error
	PublishRouteSaved(ctx context.Context, route *domain.Route) error
	PublishRouteDeleted(ctx context.Context, id string) error
}

// EventSubscriber consumes route change events from a message broker.
type EventSubscriber interface {
	SubscribeRouteSaved(ctx context.Context, handler func(ctx context.Context, route *domain.Route) error) error
	SubscribeRouteDeleted(ctx context.Context, handler func(ctx context.Context, id string) error) error
}

// FetchObserver receives lifecycle signals from the viewport fetch
// coordinator. Implementations must be safe for concurrent use.
type FetchObserver interface {
	ChainStarted()
	ChainSucceeded()
	ChainFailed()
	CooldownEntered()
	DuplicateSkipped()
	StaleDiscarded()
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
