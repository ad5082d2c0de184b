package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aoli/gravelmap/internal/adapters/postgres"
	"github.com/aoli/gravelmap/internal/core/usecases"
	"github.com/aoli/gravelmap/internal/pkg/config"
)

// Bulk track importer. Walks a directory of GPX and GeoJSON files, runs each
// through the same decode and thinning pipeline the API uses, and saves the
// results into the route store.
//
// usage: importer <dir> [name-prefix]
func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: importer <dir> [name-prefix]")
	}
	dir := os.Args[1]
	prefix := ""
	if len(os.Args) > 2 {
		prefix = os.Args[2]
	}

	cfg, err := config.Load("gravelmap-importer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	routeRepo := postgres.NewRouteRepo(db, cfg.Storage.MaxRoutes)
	routeSvc := usecases.NewRouteService(routeRepo, nil, nil, usecases.RouteConfig{
		DecimateThreshold:     cfg.Geometry.DecimateThreshold,
		DecimateSpacingMeters: cfg.Geometry.DecimateSpacingMeters,
	})

	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".gpx", ".geojson", ".json":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("walk %s: %v", dir, err)
	}
	if len(files) == 0 {
		log.Fatalf("no GPX or GeoJSON files under %s", dir)
	}

	log.Printf("GravelMap importer — %d files from %s", len(files), dir)

	var wg sync.WaitGroup
	sem := make(chan struct{}, 4) // max 4 concurrent imports

	var mu sync.Mutex
	imported, failed := 0, 0

	for _, path := range files {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := importFile(ctx, routeSvc, path, prefix); err != nil {
				log.Printf("ERROR [%s]: %v", filepath.Base(path), err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			imported++
			mu.Unlock()
		}(path)
	}

	wg.Wait()
	log.Printf("import complete: %d saved, %d failed", imported, failed)
}

func importFile(ctx context.Context, svc *usecases.RouteService, path, prefix string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	format := usecases.FormatGPX
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".geojson" || ext == ".json" {
		format = usecases.FormatGeoJSON
	}

	route, err := svc.Import(data, format)
	if err != nil {
		return err
	}

	if route.Name == "" {
		route.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if prefix != "" {
		route.Name = prefix + route.Name
	}

	saved, err := svc.Save(ctx, route)
	if err != nil {
		return err
	}

	log.Printf("OK  %s -> %s (%d points)", filepath.Base(path), saved.ID, len(saved.Points))
	return nil
}
