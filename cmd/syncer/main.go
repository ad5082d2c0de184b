package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	natsadapter "github.com/aoli/gravelmap/internal/adapters/nats"
	"github.com/aoli/gravelmap/internal/adapters/postgres"
	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/core/usecases"
	"github.com/aoli/gravelmap/internal/pkg/config"
	"github.com/aoli/gravelmap/internal/pkg/logging"
)

// mirrorOwner is the shared-store owner id under which local saves are mirrored.
const mirrorOwner = "local-sync"

// Route sync worker. Consumes route-save and route-delete events from
// JetStream and mirrors them into the shared store, so locally saved routes
// survive a wiped local store.
func main() {
	cfg, err := config.Load("gravelmap-syncer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup("info", "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	sharedRepo := postgres.NewSharedRouteRepo(db)

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	// Deleted events carry only the route id; remember the names of routes
	// mirrored during this process lifetime so they can be unmirrored.
	var mu sync.Mutex
	names := make(map[string]string)

	err = sub.SubscribeRouteSaved(ctx, func(ctx context.Context, route *domain.Route) error {
		mirror := &domain.SharedRoute{
			Route:      *route,
			OwnerID:    mirrorOwner,
			Visibility: usecases.VisibilityPrivate,
		}
		if _, err := sharedRepo.Save(ctx, mirror); err != nil {
			slog.Error("mirror save failed", "route_id", route.ID, "error", err)
			return err
		}
		mu.Lock()
		names[route.ID] = route.Name
		mu.Unlock()
		slog.Info("route mirrored", "route_id", route.ID, "name", route.Name)
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe saved: %v", err)
	}

	err = sub.SubscribeRouteDeleted(ctx, func(ctx context.Context, id string) error {
		mu.Lock()
		name, ok := names[id]
		delete(names, id)
		mu.Unlock()
		if !ok {
			// Mirrored by an earlier process or never mirrored. Nothing to
			// key the delete on, so leave the mirror copy in place.
			slog.Debug("no mirror mapping for deleted route", "route_id", id)
			return nil
		}
		if err := sharedRepo.DeleteByOwnerAndName(ctx, mirrorOwner, name); err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				return nil
			}
			slog.Error("mirror delete failed", "route_id", id, "error", err)
			return err
		}
		slog.Info("mirror removed", "route_id", id, "name", name)
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe deleted: %v", err)
	}

	slog.Info("route syncer started", "owner", mirrorOwner)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("syncer stopping")
}
