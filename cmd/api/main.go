package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/aoli/gravelmap/internal/adapters/http"
	natsadapter "github.com/aoli/gravelmap/internal/adapters/nats"
	"github.com/aoli/gravelmap/internal/adapters/overpass"
	"github.com/aoli/gravelmap/internal/adapters/postgres"
	"github.com/aoli/gravelmap/internal/adapters/valkey"
	"github.com/aoli/gravelmap/internal/core/ports"
	"github.com/aoli/gravelmap/internal/core/usecases"
	"github.com/aoli/gravelmap/internal/pkg/config"
	"github.com/aoli/gravelmap/internal/pkg/logging"
	"github.com/aoli/gravelmap/internal/pkg/metrics"
	"github.com/aoli/gravelmap/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("gravelmap-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup(logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Cache. The services take the interface, and a typed-nil pointer
	// inside an interface would defeat their nil guards, so the interface
	// local is only assigned on success.
	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable, running without cache", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	// NATS, same rule as the cache
	var pubSvc ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, running without events", "error", err)
	} else {
		defer pub.Close()
		pubSvc = pub
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	}

	// Upstream road source
	roadSource := overpass.NewClient(overpass.Config{
		BaseURL:     cfg.Overpass.URL,
		UserAgent:   "gravelmap/1.0 (" + cfg.Overpass.Contact + ")",
		Timeout:     time.Duration(cfg.Overpass.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.Overpass.MaxAttempts,
		Cooldown:    time.Duration(cfg.Overpass.CooldownSeconds) * time.Second,
	})

	// Repos
	routeRepo := postgres.NewRouteRepo(db, cfg.Storage.MaxRoutes)
	sharedRepo := postgres.NewSharedRouteRepo(db)

	// Use cases
	viewportSvc := usecases.NewViewportService(roadSource, pubSvc, cacheSvc, usecases.ViewportConfig{
		Debounce:        time.Duration(cfg.Viewport.DebounceMillis) * time.Millisecond,
		EpsilonDeg:      cfg.Viewport.EpsilonDeg,
		ContainMargin:   cfg.Viewport.ContainMargin,
		FetchTimeout:    time.Duration(cfg.Overpass.TimeoutSeconds) * time.Second,
		CacheTTLSeconds: cfg.Viewport.CacheTTLSeconds,
		Observer:        metrics.ViewportObserver{},
	})
	defer viewportSvc.Close()
	editorSvc := usecases.NewEditorService()
	routeSvc := usecases.NewRouteService(routeRepo, cacheSvc, pubSvc, usecases.RouteConfig{
		DecimateThreshold:     cfg.Geometry.DecimateThreshold,
		DecimateSpacingMeters: cfg.Geometry.DecimateSpacingMeters,
	})
	sharedSvc := usecases.NewSharedService(sharedRepo)

	deps := &http.Dependencies{
		Viewport: viewportSvc,
		Editor:   editorSvc,
		Routes:   routeSvc,
		Shared:   sharedSvc,
		NATS:     natsConn,
		DB:       db,
		Cache:    cache,
	}

	// Connection pool gauges
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.UpdateDBPoolMetrics(db.Stat())
			}
		}
	}()

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    8 * 1024 * 1024, // GPX uploads can run to a few MB
		AppName:      "GravelMap API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173, https://*.gravelmap.example",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
