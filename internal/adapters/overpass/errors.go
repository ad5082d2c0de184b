package overpass

import "fmt"

// StatusError is a terminal, non-retryable HTTP failure.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("overpass returned HTTP %d", e.Code)
}
