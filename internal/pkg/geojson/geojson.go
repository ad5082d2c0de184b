package geojson

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/pkg/geospatial"
)

// Import boundary errors.
var (
	ErrEmptyFile           = errors.New("geojson: no coordinates found")
	ErrInvalidCoord        = errors.New("geojson: invalid coordinate pair")
	ErrUnsupportedGeometry = errors.New("geojson: unsupported geometry type")
)

// Geometry is a RFC 7946 geometry object. Coordinates stay raw until the type
// is known.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature is a RFC 7946 feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Decode parses GeoJSON bytes into an ordered point sequence. It accepts a
// Feature wrapping a LineString or MultiLineString, or a bare geometry
// object. Coordinates are [lon, lat] per RFC 7946. The loop flag travels in
// properties.loopClosed; a closed ring's duplicated final coordinate is
// dropped from the in-memory route.
func Decode(data []byte) (points []domain.GeoPoint, loopClosed bool, name string, err error) {
	var feature Feature
	if err := json.Unmarshal(data, &feature); err != nil {
		return nil, false, "", fmt.Errorf("geojson: parse: %w", err)
	}

	geom := feature.Geometry
	if feature.Type != "Feature" {
		// Bare geometry document.
		if err := json.Unmarshal(data, &geom); err != nil {
			return nil, false, "", fmt.Errorf("geojson: parse: %w", err)
		}
	}

	switch geom.Type {
	case "LineString":
		var coords [][]float64
		if err := json.Unmarshal(geom.Coordinates, &coords); err != nil {
			return nil, false, "", fmt.Errorf("geojson: coordinates: %w", err)
		}
		points, err = toPoints(coords)
		if err != nil {
			return nil, false, "", err
		}
	case "MultiLineString":
		var lines [][][]float64
		if err := json.Unmarshal(geom.Coordinates, &lines); err != nil {
			return nil, false, "", fmt.Errorf("geojson: coordinates: %w", err)
		}
		for _, coords := range lines {
			pts, err := toPoints(coords)
			if err != nil {
				return nil, false, "", err
			}
			points = append(points, pts...)
		}
	case "":
		return nil, false, "", ErrEmptyFile
	default:
		return nil, false, "", fmt.Errorf("%w: %s", ErrUnsupportedGeometry, geom.Type)
	}

	if len(points) == 0 {
		return nil, false, "", ErrEmptyFile
	}

	if v, ok := feature.Properties["loopClosed"].(bool); ok {
		loopClosed = v
	}
	if v, ok := feature.Properties["name"].(string); ok {
		name = v
	}

	// The format requires an explicit closing vertex; the in-memory route
	// carries closure as a flag only.
	if loopClosed && len(points) >= 4 && points[0].Equal(points[len(points)-1]) {
		points = points[:len(points)-1]
	}
	if len(points) < 3 {
		loopClosed = false
	}

	return points, loopClosed, name, nil
}

// Encode serialises a route as a GeoJSON LineString feature. When the loop is
// closed, the first coordinate is duplicated as the final coordinate.
func Encode(points []domain.GeoPoint, loopClosed bool, name string) ([]byte, error) {
	if len(points) == 0 {
		return nil, ErrEmptyFile
	}

	coords := make([][]float64, 0, len(points)+1)
	for _, p := range points {
		coords = append(coords, []float64{p.Lon, p.Lat})
	}
	closed := loopClosed && len(points) >= 3
	if closed {
		coords = append(coords, []float64{points[0].Lon, points[0].Lat})
	}

	raw, err := json.Marshal(coords)
	if err != nil {
		return nil, fmt.Errorf("geojson: marshal coordinates: %w", err)
	}

	feature := Feature{
		Type:     "Feature",
		Geometry: Geometry{Type: "LineString", Coordinates: raw},
		Properties: map[string]any{
			"loopClosed": closed,
		},
	}
	if name != "" {
		feature.Properties["name"] = name
	}

	return json.MarshalIndent(feature, "", "  ")
}

func toPoints(coords [][]float64) ([]domain.GeoPoint, error) {
	points := make([]domain.GeoPoint, 0, len(coords))
	for i, c := range coords {
		if len(c) < 2 {
			return nil, fmt.Errorf("%w: position %d has %d components", ErrInvalidCoord, i, len(c))
		}
		lon, lat := c[0], c[1]
		if !geospatial.ValidCoordinate(lat, lon) {
			return nil, fmt.Errorf("%w: position %d (%v, %v)", ErrInvalidCoord, i, lon, lat)
		}
		points = append(points, domain.GeoPoint{Lat: lat, Lon: lon})
	}
	return points, nil
}
