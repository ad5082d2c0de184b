package gpx

import (
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/aoli/gravelmap/internal/core/domain"
	"github.com/aoli/gravelmap/internal/pkg/geospatial"
)

// Import boundary errors. These carry the user-facing rejection reason; the
// route under edit is never modified on a failed import.
var (
	ErrEmptyFile    = errors.New("gpx: file contains no track points")
	ErrInvalidCoord = errors.New("gpx: track point has invalid coordinates")
)

const xmlns = "http://www.topografix.com/GPX/1/1"

type gpxFile struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	XMLNS   string   `xml:"xmlns,attr,omitempty"`
	Tracks  []track  `xml:"trk"`
}

type track struct {
	Name     string    `xml:"name,omitempty"`
	Segments []segment `xml:"trkseg"`
}

type segment struct {
	Points []trackPoint `xml:"trkpt"`
}

type trackPoint struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
}

// Decode parses GPX bytes into an ordered point sequence. GPX cannot carry a
// loop flag natively, so closure is inferred: if the first and last point
// coincide exactly, the duplicate trailing point is dropped and loopClosed is
// reported true.
func Decode(data []byte) (points []domain.GeoPoint, loopClosed bool, name string, err error) {
	var f gpxFile
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, false, "", fmt.Errorf("gpx: parse: %w", err)
	}

	for _, trk := range f.Tracks {
		if name == "" {
			name = trk.Name
		}
		for _, seg := range trk.Segments {
			for i, p := range seg.Points {
				if !geospatial.ValidCoordinate(p.Lat, p.Lon) {
					return nil, false, "", fmt.Errorf("%w: point %d (%v, %v)",
						ErrInvalidCoord, i, p.Lat, p.Lon)
				}
				points = append(points, domain.GeoPoint{Lat: p.Lat, Lon: p.Lon})
			}
		}
	}

	if len(points) == 0 {
		return nil, false, "", ErrEmptyFile
	}

	// Loop inference requires at least 3 distinct vertices after dropping
	// the duplicate.
	if len(points) >= 4 && points[0].Equal(points[len(points)-1]) {
		points = points[:len(points)-1]
		loopClosed = true
	}

	return points, loopClosed, name, nil
}

// Encode serialises a route into a single-track, single-segment GPX document.
// A closed loop is written with the first point repeated as the final track
// point, since the format has no loop flag.
func Encode(points []domain.GeoPoint, loopClosed bool, name string) ([]byte, error) {
	if len(points) == 0 {
		return nil, ErrEmptyFile
	}

	seg := segment{Points: make([]trackPoint, 0, len(points)+1)}
	for _, p := range points {
		seg.Points = append(seg.Points, trackPoint{Lat: p.Lat, Lon: p.Lon})
	}
	if loopClosed && len(points) >= 3 {
		seg.Points = append(seg.Points, trackPoint{Lat: points[0].Lat, Lon: points[0].Lon})
	}

	f := gpxFile{
		Version: "1.1",
		Creator: "gravelmap",
		XMLNS:   xmlns,
		Tracks:  []track{{Name: name, Segments: []segment{seg}}},
	}

	out, err := xml.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("gpx: marshal: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
