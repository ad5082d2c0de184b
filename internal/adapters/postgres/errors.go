package postgres

import "errors"

var (
	// ErrNotFound is returned when the requested route does not exist.
	ErrNotFound = errors.New("route not found")

	// ErrUnavailable is returned when the store cannot be reached. Callers
	// treat it as a degraded-storage condition, not a fatal one.
	ErrUnavailable = errors.New("storage unavailable")
)
