package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gravelmap",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gravelmap",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gravelmap",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Viewport fetch pipeline metrics
	FetchChainsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravelmap",
		Subsystem: "fetch",
		Name:      "chains_started_total",
		Help:      "Total viewport fetch chains started after debounce",
	})

	FetchChainsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravelmap",
		Subsystem: "fetch",
		Name:      "chains_succeeded_total",
		Help:      "Total fetch chains that replaced the road network",
	})

	FetchChainsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravelmap",
		Subsystem: "fetch",
		Name:      "chains_failed_total",
		Help:      "Total fetch chains that ended in a terminal error",
	})

	FetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravelmap",
		Subsystem: "fetch",
		Name:      "attempts_total",
		Help:      "Total upstream request attempts, including retries",
	})

	FetchCooldowns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravelmap",
		Subsystem: "fetch",
		Name:      "cooldowns_total",
		Help:      "Total rate-limit cooldown windows entered",
	})

	ViewportDedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravelmap",
		Subsystem: "fetch",
		Name:      "viewport_dedup_hits_total",
		Help:      "Viewport changes answered from the last fetched bounds",
	})

	StaleResponsesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravelmap",
		Subsystem: "fetch",
		Name:      "stale_responses_discarded_total",
		Help:      "Fetch responses discarded because a newer viewport superseded them",
	})

	DecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gravelmap",
		Subsystem: "fetch",
		Name:      "decode_duration_seconds",
		Help:      "Duration of upstream response decoding",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gravelmap",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravelmap",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravelmap",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gravelmap",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gravelmap",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gravelmap",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// ViewportObserver bridges fetch coordinator signals onto the prometheus
// counters above. The zero value is ready to use.
type ViewportObserver struct{}

func (ViewportObserver) ChainStarted()     { FetchChainsStarted.Inc() }
func (ViewportObserver) ChainSucceeded()   { FetchChainsSucceeded.Inc() }
func (ViewportObserver) ChainFailed()      { FetchChainsFailed.Inc() }
func (ViewportObserver) CooldownEntered()  { FetchCooldowns.Inc() }
func (ViewportObserver) DuplicateSkipped() { ViewportDedupHits.Inc() }
func (ViewportObserver) StaleDiscarded()   { StaleResponsesDiscarded.Inc() }

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
// Accepts anything with the pgxpool.Stat accessors so this package stays off
// the pgx dependency.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
