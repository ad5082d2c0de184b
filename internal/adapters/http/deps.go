package http

import (
	"github.com/nats-io/nats.go"

	"github.com/aoli/gravelmap/internal/adapters/postgres"
	"github.com/aoli/gravelmap/internal/adapters/valkey"
	"github.com/aoli/gravelmap/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Viewport *usecases.ViewportService
	Editor   *usecases.EditorService
	Routes   *usecases.RouteService
	Shared   *usecases.SharedService
	NATS     *nats.Conn
	DB       *postgres.DB
	Cache    *valkey.Cache
}
