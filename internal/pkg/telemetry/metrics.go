package telemetry

// SLI metric names used for instrumentation.
const (
	// Latency
	MetricAPILatencyP50 = "api.latency.p50"
	MetricAPILatencyP95 = "api.latency.p95"
	MetricAPILatencyP99 = "api.latency.p99"

	// Throughput
	MetricRequestsPerSec = "api.requests_per_second"

	// Data freshness
	MetricNetworkAge    = "network.data_age_seconds"
	MetricFetchSettleMs = "fetch.settle_latency_ms"

	// Availability
	MetricUptime = "service.uptime_percentage"

	// Business
	MetricRoutesSaved   = "business.routes_saved"
	MetricRoutesShared  = "business.routes_shared"
	MetricTracksImports = "business.tracks_imported"
)
