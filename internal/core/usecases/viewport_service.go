package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/core/ports"
)

// ViewportConfig tunes the fetch coordinator.
type ViewportConfig struct {
	Debounce        time.Duration // quiet period after the last viewport event
	EpsilonDeg      float64       // per-edge tolerance for bounds equality
	ContainMargin   float64       // margin for the containment dedup test
	FetchTimeout    time.Duration // ceiling for one whole fetch chain
	CacheTTLSeconds int           // TTL for the serialized network in the cache

	// Observer receives coordinator lifecycle signals, typically a
	// metrics bridge. Optional.
	Observer ports.FetchObserver
}

// DefaultViewportConfig mirrors the tuning the map view was built around: the
// 500 ms debounce absorbs pan/zoom gesture bursts without emitting one
// request per frame.
func DefaultViewportConfig() ViewportConfig {
	return ViewportConfig{
		Debounce:        500 * time.Millisecond,
		EpsilonDeg:      0.0005,
		ContainMargin:   0.001,
		FetchTimeout:    2 * time.Minute,
		CacheTTLSeconds: 600,
	}
}

// ViewportService coordinates viewport-change events into road-network
// fetches: debounce, dedup against the last fetched bounds, a single fetch
// chain at a time, and wholesale replacement of the decoded network.
//
// The service is the sole owner of the fetch state, the dedup baseline, and
// the current network; everything is exposed through copy snapshots.
type ViewportService struct {
	source ports.RoadSource
	pub    ports.EventPublisher
	cache  ports.CacheService
	obs    ports.FetchObserver
	cfg    ViewportConfig

	mu            sync.Mutex
	state         domain.FetchState
	pending       *domain.Bounds
	inFlight      *domain.Bounds
	lastFetched   *domain.Bounds
	network       *domain.RoadNetwork
	cooldownUntil time.Time
	timer         *time.Timer
	closed        bool
}

// NewViewportService creates the fetch coordinator. pub and cache may be nil.
func NewViewportService(source ports.RoadSource, pub ports.EventPublisher, cache ports.CacheService, cfg ViewportConfig) *ViewportService {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Minute
	}
	obs := cfg.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	return &ViewportService{
		source: source,
		pub:    pub,
		cache:  cache,
		obs:    obs,
		cfg:    cfg,
		state:  domain.FetchIdle,
	}
}

// OnViewportChanged records the latest requested bounds and restarts the
// debounce delay. Only the final expiry, with no further change in the
// interval, triggers evaluation. Invalid bounds are a caller defect.
func (s *ViewportService) OnViewportChanged(bounds domain.Bounds) error {
	if !bounds.Valid() {
		return fmt.Errorf("invalid viewport bounds: %+v", bounds)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("viewport service closed")
	}

	b := bounds
	s.pending = &b
	s.rearmLocked(s.cfg.Debounce)
	return nil
}

// rearmLocked restarts the debounce timer. Timer restart is the only
// cancellation primitive: it supersedes the not-yet-fired evaluation.
func (s *ViewportService) rearmLocked(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, s.evaluate)
}

// evaluate runs at debounce expiry and decides whether to fetch.
func (s *ViewportService) evaluate() {
	s.mu.Lock()

	if s.closed || s.pending == nil {
		s.mu.Unlock()
		return
	}

	// One chain at a time: while a fetch is in flight the pending bounds
	// only become the target of the next evaluation.
	if s.inFlight != nil {
		s.rearmLocked(s.cfg.Debounce)
		s.mu.Unlock()
		return
	}

	b := *s.pending
	s.pending = nil

	if s.lastFetched != nil && s.isDuplicateLocked(b) {
		s.obs.DuplicateSkipped()
		s.mu.Unlock()
		slog.Debug("viewport fetch skipped, bounds already covered",
			"south", b.South, "west", b.West, "north", b.North, "east", b.East)
		return
	}

	s.inFlight = &b
	s.state = domain.FetchPending
	s.mu.Unlock()

	s.obs.ChainStarted()
	go s.fetch(b)
}

func (s *ViewportService) isDuplicateLocked(b domain.Bounds) bool {
	return b.WithinTolerance(*s.lastFetched, s.cfg.EpsilonDeg) ||
		s.lastFetched.Contains(b, s.cfg.ContainMargin)
}

// fetch drives the road source for one bounds and applies the outcome.
func (s *ViewportService) fetch(b domain.Bounds) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
	defer cancel()

	network, err := s.source.FetchRoads(ctx, b)

	s.mu.Lock()
	s.inFlight = nil

	// A response for superseded bounds must not overwrite fresher state:
	// if a newer viewport target is already queued, only a response for
	// that exact target may win.
	if s.pending != nil && !s.pending.WithinTolerance(b, s.cfg.EpsilonDeg) && err == nil {
		s.obs.StaleDiscarded()
		s.state = domain.FetchIdle
		s.mu.Unlock()
		return
	}

	switch {
	case err == nil:
		s.lastFetched = &b
		s.network = network
		s.state = domain.FetchIdle
		s.mu.Unlock()
		s.obs.ChainSucceeded()
		s.publishSuccess(network)

	default:
		var cd *domain.CooldownError
		if errors.As(err, &cd) {
			s.state = domain.FetchCooldown
			s.cooldownUntil = cd.Until
			s.obs.CooldownEntered()
		} else {
			s.state = domain.FetchIdle
			s.obs.ChainFailed()
		}
		// Previous network stays untouched: stale-but-valid beats an
		// empty map.
		s.mu.Unlock()
		s.publishFailure(b, err)
	}
}

func (s *ViewportService) publishSuccess(network *domain.RoadNetwork) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.pub != nil {
		if err := s.pub.PublishRoadNetwork(ctx, network); err != nil {
			slog.Warn("publish road network failed", "error", err)
		}
		status := s.Status()
		if err := s.pub.PublishFetchStatus(ctx, &status); err != nil {
			slog.Warn("publish fetch status failed", "error", err)
		}
	}

	if s.cache != nil {
		if data, err := json.Marshal(network); err == nil {
			_ = s.cache.Set(ctx, networkCacheKey(network.Bounds), data, s.cfg.CacheTTLSeconds)
		}
	}

	slog.Info("road network replaced",
		"polylines", len(network.Polylines),
		"south", network.Bounds.South, "north", network.Bounds.North)
}

func (s *ViewportService) publishFailure(b domain.Bounds, err error) {
	slog.Warn("viewport fetch failed", "error", err,
		"south", b.South, "west", b.West, "north", b.North, "east", b.East)

	if s.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := s.Status()
	status.Error = err.Error()
	status.Bounds = &b
	if err := s.pub.PublishFetchStatus(ctx, &status); err != nil {
		slog.Warn("publish fetch status failed", "error", err)
	}
}

// Network returns a copy of the current road network, or nil before the first
// successful fetch.
func (s *ViewportService) Network() *domain.RoadNetwork {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.network == nil {
		return nil
	}
	cp := *s.network
	cp.Polylines = append([]domain.Polyline(nil), s.network.Polylines...)
	return &cp
}

// Status returns the current fetch state snapshot.
func (s *ViewportService) Status() domain.FetchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.FetchStatus{State: s.state}
	if s.network != nil {
		st.Polylines = len(s.network.Polylines)
	}
	if s.lastFetched != nil {
		b := *s.lastFetched
		st.Bounds = &b
	}
	if s.state == domain.FetchCooldown && !s.cooldownUntil.IsZero() {
		t := s.cooldownUntil
		st.CooldownUntil = &t
	}
	return st
}

// Close stops the debounce timer; pending evaluations are abandoned.
func (s *ViewportService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

type noopObserver struct{}

func (noopObserver) ChainStarted()     {}
func (noopObserver) ChainSucceeded()   {}
func (noopObserver) ChainFailed()      {}
func (noopObserver) CooldownEntered()  {}
func (noopObserver) DuplicateSkipped() {}
func (noopObserver) StaleDiscarded()   {}

func networkCacheKey(b domain.Bounds) string {
	return fmt.Sprintf("network:%.4f:%.4f:%.4f:%.4f", b.South, b.West, b.North, b.East)
}
