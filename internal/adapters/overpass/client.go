package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/pkg/geospatial"
	"github.com/aoli/gravelmap/internal/pkg/metrics"
)

// Surface and highway allow-lists for the "unpaved/gravel-like" predicate.
// Kept as fixed lists rather than config: they define what the product means
// by a gravel road.
var (
	surfaceValues = []string{
		"gravel", "fine_gravel", "compacted", "pebblestone",
		"unpaved", "ground", "dirt", "earth",
	}
	highwayValues = []string{
		"track", "unclassified", "residential", "service",
		"tertiary", "secondary", "cycleway", "path", "bridleway",
	}
)

// Config holds Overpass API client settings.
type Config struct {
	BaseURL     string        // interpreter endpoint
	UserAgent   string        // required by the Overpass usage policy; include a contact URL
	Timeout     time.Duration // per-request timeout
	MaxAttempts int           // attempts before giving up / entering cooldown
	Cooldown    time.Duration // client-wide fetch suppression window after throttling
}

// Client implements ports.RoadSource against the Overpass API.
//
// Resilience policy: throttling (429), timeouts, and 5xx responses retry with
// an exponential 2^attempt-second backoff up to MaxAttempts. Exhausting the
// attempts on throttling puts the whole client into cooldown: every fetch is
// short-circuited without touching the network until the window elapses, at
// which point the attempt counter starts fresh.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu            sync.Mutex
	cooldownUntil time.Time

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates an Overpass API client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// FetchRoads performs one logical fetch for the given bounds.
func (c *Client) FetchRoads(ctx context.Context, bounds domain.Bounds) (*domain.RoadNetwork, error) {
	if !bounds.Valid() {
		return nil, fmt.Errorf("invalid bounds: %+v", bounds)
	}

	if until, ok := c.inCooldown(); ok {
		return nil, &domain.CooldownError{Until: until}
	}

	query := BuildQuery(bounds)

	for attempt := 1; ; attempt++ {
		metrics.FetchAttempts.Inc()
		body, status, err := c.do(ctx, query)

		switch {
		case err == nil && status == http.StatusOK:
			polylines, err := c.decodeAsync(ctx, body)
			if err != nil {
				// Malformed payload is terminal, equivalent to a
				// non-retryable HTTP error.
				return nil, fmt.Errorf("decode overpass response: %w", err)
			}
			return &domain.RoadNetwork{
				Bounds:    bounds,
				Polylines: polylines,
				FetchedAt: c.now(),
			}, nil

		case err == nil && status == http.StatusTooManyRequests:
			if attempt >= c.cfg.MaxAttempts {
				until := c.enterCooldown()
				return nil, &domain.CooldownError{Until: until}
			}

		case err == nil && status >= 500:
			if attempt >= c.cfg.MaxAttempts {
				return nil, &StatusError{Code: status}
			}

		case err == nil:
			// Other non-2xx: caller defect or service rejection, no retry.
			return nil, &StatusError{Code: status}

		default:
			// Transport error or timeout: transient.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= c.cfg.MaxAttempts {
				return nil, fmt.Errorf("overpass request: %w", err)
			}
		}

		if err := c.sleep(ctx, backoff(attempt)); err != nil {
			return nil, err
		}
	}
}

// do executes one POST and returns the raw body and status.
func (c *Client) do(ctx context.Context, query string) ([]byte, int, error) {
	form := url.Values{}
	form.Set("data", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// decodeAsync parses the response body on a worker goroutine so a payload
// with thousands of coordinates never blocks the caller's goroutine beyond
// the context deadline.
func (c *Client) decodeAsync(ctx context.Context, body []byte) ([]domain.Polyline, error) {
	type result struct {
		polylines []domain.Polyline
		err       error
	}
	ch := make(chan result, 1)

	go func() {
		start := time.Now()
		polylines, err := extractPolylines(body)
		metrics.DecodeDuration.Observe(time.Since(start).Seconds())
		ch <- result{polylines, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.polylines, r.err
	}
}

// overpassResponse mirrors the JSON skeleton of an "out geom" way query.
type overpassResponse struct {
	Elements []struct {
		Type     string `json:"type"`
		ID       int64  `json:"id"`
		Geometry []struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"geometry"`
	} `json:"elements"`
}

// extractPolylines decodes way geometries into coordinate lists. Ways with
// fewer than two valid coordinates are discarded.
func extractPolylines(body []byte) ([]domain.Polyline, error) {
	var resp overpassResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	polylines := make([]domain.Polyline, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		if el.Type != "way" {
			continue
		}
		points := make([]domain.GeoPoint, 0, len(el.Geometry))
		for _, g := range el.Geometry {
			if !geospatial.ValidCoordinate(g.Lat, g.Lon) {
				continue
			}
			points = append(points, domain.GeoPoint{Lat: g.Lat, Lon: g.Lon})
		}
		if len(points) < 2 {
			continue
		}
		polylines = append(polylines, domain.Polyline{Points: points})
	}
	return polylines, nil
}

// BuildQuery renders the Overpass QL for gravel-like ways inside bounds.
func BuildQuery(b domain.Bounds) string {
	bbox := fmt.Sprintf("%f,%f,%f,%f", b.South, b.West, b.North, b.East)
	return fmt.Sprintf(
		`[out:json][timeout:25];way["highway"~"^(%s)$"]["surface"~"^(%s)$"](%s);out geom;`,
		strings.Join(highwayValues, "|"),
		strings.Join(surfaceValues, "|"),
		bbox,
	)
}

func (c *Client) inCooldown() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Before(c.cooldownUntil) {
		return c.cooldownUntil, true
	}
	return time.Time{}, false
}

func (c *Client) enterCooldown() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldownUntil = c.now().Add(c.cfg.Cooldown)
	return c.cooldownUntil
}

// backoff returns 2^attempt seconds.
func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
