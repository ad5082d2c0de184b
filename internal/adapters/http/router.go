package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/aoli/gravelmap/internal/pkg/metrics"
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // Balance speed vs compression ratio
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 120 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error":   "rate limit exceeded",
				"message": "too many requests, please try again later",
			})
		},
		SkipFailedRequests: false,
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Legacy aliases kept one release for early clients
	app.Use(DeprecationMiddleware([]DeprecatedRoute{
		{
			Path:        "/v1/network/current",
			SunsetDate:  time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
			Alternative: "/v1/network",
		},
	}))

	// Health & readiness (no timeout — fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// REST API v1 — 15s per-request timeout
	v1 := app.Group("/v1")

	// Viewport fetch pipeline
	v1.Post("/viewport", timeout.NewWithContext(ViewportHandler(deps), 15*time.Second))
	v1.Get("/network", timeout.NewWithContext(NetworkHandler(deps), 15*time.Second))
	v1.Get("/network/current", timeout.NewWithContext(NetworkHandler(deps), 15*time.Second))
	v1.Get("/network/status", FetchStatusHandler(deps))

	// Stored routes
	v1.Get("/routes", timeout.NewWithContext(ListRoutesHandler(deps), 15*time.Second))
	v1.Post("/routes", timeout.NewWithContext(CreateRouteHandler(deps), 15*time.Second))
	v1.Post("/routes/import", timeout.NewWithContext(ImportRouteHandler(deps), 15*time.Second))
	v1.Get("/routes/:id", timeout.NewWithContext(GetRouteHandler(deps), 15*time.Second))
	v1.Put("/routes/:id", timeout.NewWithContext(UpdateRouteHandler(deps), 15*time.Second))
	v1.Delete("/routes/:id", timeout.NewWithContext(DeleteRouteHandler(deps), 15*time.Second))
	v1.Get("/routes/:id/segments", timeout.NewWithContext(RouteSegmentsHandler(deps), 15*time.Second))
	v1.Get("/routes/:id/markers", timeout.NewWithContext(RouteMarkersHandler(deps), 15*time.Second))
	v1.Get("/routes/:id/export", timeout.NewWithContext(ExportRouteHandler(deps), 15*time.Second))
	v1.Post("/routes/:id/publish", timeout.NewWithContext(PublishRouteHandler(deps), 15*time.Second))

	// Stateless geometry
	v1.Post("/geometry/segments", timeout.NewWithContext(GeometrySegmentsHandler(deps), 15*time.Second))
	v1.Post("/geometry/markers", timeout.NewWithContext(GeometryMarkersHandler(deps), 15*time.Second))
	v1.Post("/geometry/decimate", timeout.NewWithContext(GeometryDecimateHandler(deps), 15*time.Second))
	v1.Post("/geometry/pointsize", timeout.NewWithContext(GeometryPointSizeHandler(deps), 15*time.Second))

	// Editing session
	v1.Get("/editor", EditorSnapshotHandler(deps))
	v1.Delete("/editor", EditorClearHandler(deps))
	v1.Post("/editor/points", EditorAddPointHandler(deps))
	v1.Put("/editor/points/:index", EditorMovePointHandler(deps))
	v1.Delete("/editor/points/:index", EditorRemovePointHandler(deps))
	v1.Post("/editor/loop", EditorToggleLoopHandler(deps))
	v1.Get("/editor/markers", EditorMarkersHandler(deps))

	// Shared (cloud) routes
	v1.Get("/shared", timeout.NewWithContext(ListSharedHandler(deps), 15*time.Second))
	v1.Get("/shared/:id", timeout.NewWithContext(GetSharedHandler(deps), 15*time.Second))
	v1.Delete("/shared/:id", timeout.NewWithContext(UnpublishRouteHandler(deps), 15*time.Second))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
