package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aoli/gravelmap/internal/core/domain"
)

// SharedRouteRepo implements ports.SharedRouteRepository: the cloud-side
// mirror with owner and visibility columns. No cap here; quota is the
// operator's problem.
type SharedRouteRepo struct {
	db *DB
}

func NewSharedRouteRepo(db *DB) *SharedRouteRepo {
	return &SharedRouteRepo{db: db}
}

func (r *SharedRouteRepo) ListPublic(ctx context.Context) ([]domain.SharedRoute, error) {
	return r.list(ctx, `
		SELECT id, name, points, loop_closed, owner_id, visibility, created_at, updated_at
		FROM shared_routes WHERE visibility = 'public' ORDER BY created_at DESC
	`)
}

func (r *SharedRouteRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.SharedRoute, error) {
	return r.list(ctx, `
		SELECT id, name, points, loop_closed, owner_id, visibility, created_at, updated_at
		FROM shared_routes WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
}

func (r *SharedRouteRepo) GetByID(ctx context.Context, id string) (*domain.SharedRoute, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, name, points, loop_closed, owner_id, visibility, created_at, updated_at
		FROM shared_routes WHERE id = $1
	`, id)
	sr, err := scanSharedRoute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sr, err
}

// Save upserts by (owner_id, name): republishing a route replaces the shared
// copy rather than accumulating duplicates.
func (r *SharedRouteRepo) Save(ctx context.Context, route *domain.SharedRoute) (*domain.SharedRoute, error) {
	points, err := json.Marshal(route.Points)
	if err != nil {
		return nil, fmt.Errorf("encode points: %w", err)
	}

	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO shared_routes (name, points, loop_closed, owner_id, visibility)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, name) DO UPDATE
		SET points = EXCLUDED.points, loop_closed = EXCLUDED.loop_closed,
		    visibility = EXCLUDED.visibility, updated_at = now()
		RETURNING id, name, points, loop_closed, owner_id, visibility, created_at, updated_at
	`, route.Name, points, route.LoopClosed, route.OwnerID, route.Visibility)
	saved, err := scanSharedRoute(row)
	if err != nil {
		return nil, fmt.Errorf("upsert shared route: %w", err)
	}
	return saved, nil
}

func (r *SharedRouteRepo) Delete(ctx context.Context, id, ownerID string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM shared_routes WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByOwnerAndName removes a mirror entry where only the upsert key is
// known, as with route-deleted events that carry no shared route id.
func (r *SharedRouteRepo) DeleteByOwnerAndName(ctx context.Context, ownerID, name string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM shared_routes WHERE owner_id = $1 AND name = $2
	`, ownerID, name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SharedRouteRepo) list(ctx context.Context, query string, args ...any) ([]domain.SharedRoute, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var routes []domain.SharedRoute
	for rows.Next() {
		sr, err := scanSharedRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, *sr)
	}
	return routes, rows.Err()
}

func scanSharedRoute(row pgx.Row) (*domain.SharedRoute, error) {
	var (
		sr     domain.SharedRoute
		points []byte
	)
	if err := row.Scan(&sr.ID, &sr.Name, &points, &sr.LoopClosed,
		&sr.OwnerID, &sr.Visibility, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(points, &sr.Points); err != nil {
		return nil, fmt.Errorf("decode points: %w", err)
	}
	return &sr, nil
}
