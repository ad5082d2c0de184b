package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aoli/gravelmap/internal/core/domain"
)

// RouteRepo implements ports.RouteRepository against the capped local store.
// The cap is enforced inside the save transaction: once the table exceeds
// maxRoutes, the oldest routes are evicted.
type RouteRepo struct {
	db        *DB
	maxRoutes int
}

func NewRouteRepo(db *DB, maxRoutes int) *RouteRepo {
	if maxRoutes <= 0 {
		maxRoutes = 50
	}
	return &RouteRepo{db: db, maxRoutes: maxRoutes}
}

func (r *RouteRepo) List(ctx context.Context) ([]domain.Route, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, points, loop_closed, created_at, updated_at
		FROM routes ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		rt, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, *rt)
	}
	return routes, rows.Err()
}

func (r *RouteRepo) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, name, points, loop_closed, created_at, updated_at
		FROM routes WHERE id = $1
	`, id)
	rt, err := scanRoute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rt, err
}

// Save inserts the route and evicts the oldest rows beyond the cap, all in
// one transaction so a crash never leaves the store over the cap with the
// new route missing.
func (r *RouteRepo) Save(ctx context.Context, route *domain.Route) (*domain.Route, error) {
	points, err := json.Marshal(route.Points)
	if err != nil {
		return nil, fmt.Errorf("encode points: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO routes (name, points, loop_closed)
		VALUES ($1, $2, $3)
		RETURNING id, name, points, loop_closed, created_at, updated_at
	`, route.Name, points, route.LoopClosed)
	saved, err := scanRoute(row)
	if err != nil {
		return nil, fmt.Errorf("insert route: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM routes WHERE id IN (
			SELECT id FROM routes ORDER BY created_at DESC
			OFFSET $1
		)
	`, r.maxRoutes)
	if err != nil {
		return nil, fmt.Errorf("evict oldest: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return saved, nil
}

func (r *RouteRepo) Update(ctx context.Context, id string, route *domain.Route) (*domain.Route, error) {
	points, err := json.Marshal(route.Points)
	if err != nil {
		return nil, fmt.Errorf("encode points: %w", err)
	}

	row := r.db.Pool.QueryRow(ctx, `
		UPDATE routes
		SET name = $2, points = $3, loop_closed = $4, updated_at = now()
		WHERE id = $1
		RETURNING id, name, points, loop_closed, created_at, updated_at
	`, id, route.Name, points, route.LoopClosed)
	updated, err := scanRoute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return updated, err
}

func (r *RouteRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM routes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RouteRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM routes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// scanRoute decodes one routes row. Eviction order relies on created_at, so
// the ordering columns stay server-assigned.
func scanRoute(row pgx.Row) (*domain.Route, error) {
	var (
		rt     domain.Route
		points []byte
	)
	if err := row.Scan(&rt.ID, &rt.Name, &points, &rt.LoopClosed, &rt.CreatedAt, &rt.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(points, &rt.Points); err != nil {
		return nil, fmt.Errorf("decode points: %w", err)
	}
	return &rt, nil
}
