package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/aoli/gravelmap/internal/core/geometry"
)

// buildSchema creates the GraphQL schema wired to our services. Read-side
// only: mutations go through the REST surface.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"south": &graphql.Field{Type: graphql.Float},
			"west":  &graphql.Field{Type: graphql.Float},
			"north": &graphql.Field{Type: graphql.Float},
			"east":  &graphql.Field{Type: graphql.Float},
		},
	})

	polylineType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Polyline",
		Fields: graphql.Fields{
			"points": &graphql.Field{Type: graphql.NewList(geoPointType)},
		},
	})

	networkType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RoadNetwork",
		Fields: graphql.Fields{
			"bounds":     &graphql.Field{Type: boundsType},
			"polylines":  &graphql.Field{Type: graphql.NewList(polylineType)},
			"fetched_at": &graphql.Field{Type: graphql.String},
		},
	})

	routeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Route",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"name":        &graphql.Field{Type: graphql.String},
			"points":      &graphql.Field{Type: graphql.NewList(geoPointType)},
			"loop_closed": &graphql.Field{Type: graphql.Boolean},
			"created_at":  &graphql.Field{Type: graphql.String},
			"updated_at":  &graphql.Field{Type: graphql.String},
		},
	})

	sharedRouteType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SharedRoute",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"name":        &graphql.Field{Type: graphql.String},
			"points":      &graphql.Field{Type: graphql.NewList(geoPointType)},
			"loop_closed": &graphql.Field{Type: graphql.Boolean},
			"owner_id":    &graphql.Field{Type: graphql.String},
			"visibility":  &graphql.Field{Type: graphql.String},
		},
	})

	markerType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DistanceMarker",
		Fields: graphql.Fields{
			"point":           &graphql.Field{Type: geoPointType},
			"distance_meters": &graphql.Field{Type: graphql.Float},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"routes": &graphql.Field{
				Type:        graphql.NewList(routeType),
				Description: "List stored routes, newest first",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Routes.List(p.Context)
				},
			},
			"route": &graphql.Field{
				Type:        routeType,
				Description: "Get a stored route by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					return deps.Routes.GetByID(p.Context, id)
				},
			},
			"routeDistance": &graphql.Field{
				Type:        graphql.Float,
				Description: "Total along-route distance in meters, closing edge included when the loop is closed",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					route, err := deps.Routes.GetByID(p.Context, id)
					if err != nil {
						return nil, err
					}
					return geometry.TotalDistance(route.Points, route.LoopClosed), nil
				},
			},
			"routeMarkers": &graphql.Field{
				Type:        graphql.NewList(markerType),
				Description: "Distance markers for a stored route at a whole-unit interval",
				Args: graphql.FieldConfigArgument{
					"id":       &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"interval": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 1000.0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					interval := p.Args["interval"].(float64)
					route, err := deps.Routes.GetByID(p.Context, id)
					if err != nil {
						return nil, err
					}
					return geometry.DistanceMarkers(route.Points, route.LoopClosed, interval)
				},
			},
			"sharedRoutes": &graphql.Field{
				Type:        graphql.NewList(sharedRouteType),
				Description: "Publicly shared routes, or one owner's routes",
				Args: graphql.FieldConfigArgument{
					"owner": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if owner, ok := p.Args["owner"].(string); ok && owner != "" {
						return deps.Shared.ListByOwner(p.Context, owner)
					}
					return deps.Shared.ListPublic(p.Context)
				},
			},
			"network": &graphql.Field{
				Type:        networkType,
				Description: "Current road network snapshot, nil before the first fetch",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Viewport.Network(), nil
				},
			},
			"fetchStatus": &graphql.Field{
				Type: graphql.NewObject(graphql.ObjectConfig{
					Name: "FetchStatus",
					Fields: graphql.Fields{
						"state":     &graphql.Field{Type: graphql.String},
						"polylines": &graphql.Field{Type: graphql.Int},
						"error":     &graphql.Field{Type: graphql.String},
					},
				}),
				Description: "State of the viewport fetch pipeline",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Viewport.Status(), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.Context(),
		})

		return c.JSON(result)
	}
}
