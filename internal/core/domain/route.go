package domain

import "time"

// Route is an ordered sequence of points drawn or imported by a user, plus a
// loop flag. Closure is a flag, not a stored duplicate vertex: the closing
// edge exists only in derived distances and at serialization boundaries.
type Route struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Points     []GeoPoint `json:"points"`
	LoopClosed bool       `json:"loop_closed"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CanClose reports whether the route has enough points to close into a loop.
func (r *Route) CanClose() bool {
	return len(r.Points) >= 3
}

// SharedRoute is a route mirrored to the shared (cloud) store, carrying an
// owner identity and a visibility flag.
type SharedRoute struct {
	Route
	OwnerID    string `json:"owner_id"`
	Visibility string `json:"visibility"` // "public" | "private"
}

// DistanceMarker is a point on a route at a whole multiple of the marker
// interval, with its cumulative along-route distance. Markers are ephemeral
// and regenerated whenever the route, loop flag, or interval changes.
type DistanceMarker struct {
	Point          GeoPoint `json:"point"`
	DistanceMeters float64  `json:"distance_meters"`
}

// RoadNetwork is the decoded result of one viewport fetch: the gravel-surfaced
// ways visible in the fetched bounds. It is replaced wholesale on each
// successful fetch, never merged incrementally.
type RoadNetwork struct {
	Bounds    Bounds     `json:"bounds"`
	Polylines []Polyline `json:"polylines"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// FetchState describes the viewport fetch pipeline.
type FetchState string

const (
	FetchIdle     FetchState = "idle"
	FetchPending  FetchState = "pending"
	FetchCooldown FetchState = "cooldown"
)

// FetchStatus is the notice published after each fetch chain settles.
type FetchStatus struct {
	State         FetchState `json:"state"`
	Bounds        *Bounds    `json:"bounds,omitempty"`
	Error         string     `json:"error,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Polylines     int        `json:"polylines"`
}

// CooldownError reports that the road source is suppressing fetches after
// repeated throttling. All fetches short-circuit until Until.
type CooldownError struct {
	Until time.Time
}

func (e *CooldownError) Error() string {
	return "road source in cooldown until " + e.Until.Format(time.RFC3339)
}
