package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/aoli/gravelmap/internal/adapters/postgres"
	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/core/geometry"
	"github.com/aoli/gravelmap/internal/core/usecases"
)

// storageError maps repository errors onto HTTP responses.
func storageError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, postgres.ErrUnavailable):
		return errUnavailable(c, err.Error())
	default:
		return errInternal(c, err.Error())
	}
}

// --- Viewport / network ---

// ViewportHandler accepts a viewport change and returns the fetch status
// snapshot. The fetch itself is debounced and asynchronous.
func ViewportHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var b domain.Bounds
		if err := c.BodyParser(&b); err != nil {
			return errBadRequest(c, "invalid bounds payload: "+err.Error())
		}

		if err := deps.Viewport.OnViewportChanged(b); err != nil {
			return errBadRequest(c, err.Error())
		}

		return c.Status(fiber.StatusAccepted).JSON(deps.Viewport.Status())
	}
}

// NetworkHandler returns the current road network snapshot. After a failed
// fetch this is the last successful network, not an error.
func NetworkHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		network := deps.Viewport.Network()
		if network == nil {
			status := deps.Viewport.Status()
			if status.State == domain.FetchCooldown && status.CooldownUntil != nil {
				return errCooldown(c, *status.CooldownUntil)
			}
			return errNotFound(c, "no road network fetched yet")
		}

		c.Set("Cache-Control", "public, max-age=30")
		return c.JSON(network)
	}
}

// FetchStatusHandler returns the fetch pipeline state.
func FetchStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(deps.Viewport.Status())
	}
}

// --- Stored routes ---

// ListRoutesHandler returns stored routes, newest first.
func ListRoutesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		routes, err := deps.Routes.List(c.Context())
		if err != nil {
			return storageError(c, err)
		}

		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 50)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 100 {
			limit = 50
		}

		total := len(routes)
		if offset >= total {
			routes = nil
		} else {
			end := offset + limit
			if end > total {
				end = total
			}
			routes = routes[offset:end]
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: routes, Pagination: pg})
	}
}

// GetRouteHandler returns a single stored route.
func GetRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		route, err := deps.Routes.GetByID(c.Context(), c.Params("id"))
		if err != nil {
			return storageError(c, err)
		}
		c.Set("Cache-Control", "public, max-age=600")
		return c.JSON(route)
	}
}

// CreateRouteHandler stores a route. The store is capped; the oldest route
// is evicted when the cap is exceeded.
func CreateRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var route domain.Route
		if err := c.BodyParser(&route); err != nil {
			return errBadRequest(c, "invalid route payload: "+err.Error())
		}

		saved, err := deps.Routes.Save(c.Context(), &route)
		if err != nil {
			if errors.Is(err, postgres.ErrUnavailable) {
				return errUnavailable(c, err.Error())
			}
			return errBadRequest(c, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(saved)
	}
}

// UpdateRouteHandler replaces a stored route's content.
func UpdateRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var route domain.Route
		if err := c.BodyParser(&route); err != nil {
			return errBadRequest(c, "invalid route payload: "+err.Error())
		}

		updated, err := deps.Routes.Update(c.Context(), c.Params("id"), &route)
		if err != nil {
			if errors.Is(err, postgres.ErrNotFound) || errors.Is(err, postgres.ErrUnavailable) {
				return storageError(c, err)
			}
			return errBadRequest(c, err.Error())
		}
		return c.JSON(updated)
	}
}

// DeleteRouteHandler removes a stored route.
func DeleteRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Routes.Delete(c.Context(), c.Params("id")); err != nil {
			return storageError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// RouteSegmentsHandler returns per-segment and total distances of a stored
// route, including the closing edge when the loop flag is set.
func RouteSegmentsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		route, err := deps.Routes.GetByID(c.Context(), c.Params("id"))
		if err != nil {
			return storageError(c, err)
		}

		distances := geometry.SegmentDistances(route.Points, route.LoopClosed)
		return c.JSON(fiber.Map{
			"segment_distances":     distances,
			"total_distance_meters": geometry.TotalDistance(route.Points, route.LoopClosed),
		})
	}
}

// RouteMarkersHandler returns distance markers for a stored route.
func RouteMarkersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		route, err := deps.Routes.GetByID(c.Context(), c.Params("id"))
		if err != nil {
			return storageError(c, err)
		}

		interval := c.QueryFloat("interval", 1000)
		markers, err := geometry.DistanceMarkers(route.Points, route.LoopClosed, interval)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		return c.JSON(fiber.Map{"interval_meters": interval, "markers": markers})
	}
}

// --- Stateless geometry ---

// geometryRequest is the shared payload of the stateless geometry endpoints.
type geometryRequest struct {
	Points     []domain.GeoPoint `json:"points"`
	LoopClosed bool              `json:"loop_closed"`
}

// GeometrySegmentsHandler computes segment distances for an ad-hoc polyline.
func GeometrySegmentsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req geometryRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid geometry payload: "+err.Error())
		}

		distances, err := geometry.SegmentDistancesChunked(c.Context(), req.Points, req.LoopClosed)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{
			"segment_distances":     distances,
			"total_distance_meters": geometry.TotalDistance(req.Points, req.LoopClosed),
		})
	}
}

// GeometryMarkersHandler computes distance markers for an ad-hoc polyline.
func GeometryMarkersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req geometryRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid geometry payload: "+err.Error())
		}

		interval := c.QueryFloat("interval", 1000)
		markers, err := geometry.DistanceMarkers(req.Points, req.LoopClosed, interval)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		return c.JSON(fiber.Map{"interval_meters": interval, "markers": markers})
	}
}

// GeometryDecimateHandler thins an ad-hoc polyline to a minimum spacing.
func GeometryDecimateHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req geometryRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid geometry payload: "+err.Error())
		}

		spacing := c.QueryFloat("min_spacing", 15)
		if spacing <= 0 {
			return errBadRequest(c, "min_spacing must be positive")
		}
		return c.JSON(fiber.Map{"points": geometry.Decimate(req.Points, spacing)})
	}
}

// GeometryPointSizeHandler returns the rendering point size for a density.
func GeometryPointSizeHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req geometryRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid geometry payload: "+err.Error())
		}
		return c.JSON(fiber.Map{
			"point_size":   geometry.DynamicPointSize(req.Points),
			"mean_spacing": geometry.MeanSpacing(req.Points),
		})
	}
}

// --- Import / export ---

// ImportRouteHandler decodes a GPX or GeoJSON body and replaces the editing
// session with the imported route.
func ImportRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		format := usecases.RouteFormat(c.Query("format", "gpx"))

		route, err := deps.Routes.Import(c.Body(), format)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		if deps.Editor != nil {
			if err := deps.Editor.Replace(*route); err != nil {
				return errInternal(c, err.Error())
			}
		}
		LoggerFromCtx(c.UserContext()).Info("route imported",
			"format", string(format), "points", len(route.Points))
		return c.Status(fiber.StatusCreated).JSON(route)
	}
}

// ExportRouteHandler serializes a stored route as GPX or GeoJSON.
func ExportRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		format := usecases.RouteFormat(c.Query("format", "gpx"))

		data, err := deps.Routes.Export(c.Context(), c.Params("id"), format)
		if err != nil {
			if errors.Is(err, postgres.ErrNotFound) || errors.Is(err, postgres.ErrUnavailable) {
				return storageError(c, err)
			}
			return errBadRequest(c, err.Error())
		}

		switch format {
		case usecases.FormatGeoJSON:
			c.Set("Content-Type", "application/geo+json")
		default:
			c.Set("Content-Type", "application/gpx+xml")
		}
		return c.Send(data)
	}
}

// --- Editing session ---

// EditorSnapshotHandler returns the current editing session state.
func EditorSnapshotHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(deps.Editor.Snapshot())
	}
}

// EditorAddPointHandler appends a vertex to the session route.
func EditorAddPointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var p domain.GeoPoint
		if err := c.BodyParser(&p); err != nil {
			return errBadRequest(c, "invalid point payload: "+err.Error())
		}
		if err := deps.Editor.AddPoint(p); err != nil {
			return errBadRequest(c, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(deps.Editor.Snapshot())
	}
}

// EditorMovePointHandler relocates a vertex.
func EditorMovePointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		index, err := c.ParamsInt("index")
		if err != nil {
			return errBadRequest(c, "index must be an integer")
		}
		var p domain.GeoPoint
		if err := c.BodyParser(&p); err != nil {
			return errBadRequest(c, "invalid point payload: "+err.Error())
		}
		if err := deps.Editor.MovePoint(index, p); err != nil {
			return errBadRequest(c, err.Error())
		}
		return c.JSON(deps.Editor.Snapshot())
	}
}

// EditorRemovePointHandler deletes a vertex.
func EditorRemovePointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		index, err := c.ParamsInt("index")
		if err != nil {
			return errBadRequest(c, "index must be an integer")
		}
		if err := deps.Editor.RemovePoint(index); err != nil {
			return errBadRequest(c, err.Error())
		}
		return c.JSON(deps.Editor.Snapshot())
	}
}

// EditorToggleLoopHandler flips the loop flag.
func EditorToggleLoopHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Editor.ToggleLoop(); err != nil {
			return errBadRequest(c, err.Error())
		}
		return c.JSON(deps.Editor.Snapshot())
	}
}

// EditorClearHandler resets the session.
func EditorClearHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		deps.Editor.Clear()
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// EditorMarkersHandler returns distance markers for the session route.
func EditorMarkersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		interval := c.QueryFloat("interval", 1000)
		markers, err := deps.Editor.Markers(interval)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		return c.JSON(fiber.Map{"interval_meters": interval, "markers": markers})
	}
}

// --- Shared (cloud) routes ---

// ListSharedHandler returns public shared routes, or one owner's routes when
// the owner query parameter is set.
func ListSharedHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var (
			routes []domain.SharedRoute
			err    error
		)
		if owner := c.Query("owner"); owner != "" {
			routes, err = deps.Shared.ListByOwner(c.Context(), owner)
		} else {
			routes, err = deps.Shared.ListPublic(c.Context())
		}
		if err != nil {
			return storageError(c, err)
		}
		return c.JSON(routes)
	}
}

// GetSharedHandler returns one shared route.
func GetSharedHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		route, err := deps.Shared.GetByID(c.Context(), c.Params("id"))
		if err != nil {
			return storageError(c, err)
		}
		return c.JSON(route)
	}
}

// publishRequest carries ownership metadata for route publishing.
type publishRequest struct {
	OwnerID    string `json:"owner_id"`
	Visibility string `json:"visibility"`
}

// PublishRouteHandler mirrors a stored route into the shared store.
func PublishRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req publishRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid publish payload: "+err.Error())
		}

		route, err := deps.Routes.GetByID(c.Context(), c.Params("id"))
		if err != nil {
			return storageError(c, err)
		}

		shared, err := deps.Shared.Publish(c.Context(), route, req.OwnerID, req.Visibility)
		if err != nil {
			if errors.Is(err, postgres.ErrUnavailable) {
				return errUnavailable(c, err.Error())
			}
			return errBadRequest(c, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(shared)
	}
}

// UnpublishRouteHandler removes an owner's shared route.
func UnpublishRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Shared.Unpublish(c.Context(), c.Params("id"), c.Query("owner")); err != nil {
			if errors.Is(err, postgres.ErrNotFound) || errors.Is(err, postgres.ErrUnavailable) {
				return storageError(c, err)
			}
			return errBadRequest(c, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
