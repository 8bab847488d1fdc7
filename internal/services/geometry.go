package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

var errNoPolygon = errors.New("geojson contains no polygon")

// PolygonArea returns the area in square metres covered by the polygons
// of a GeoJSON FeatureCollection, Feature or bare geometry. Only outer
// rings count; other geometry types are ignored.
func PolygonArea(data string) (float64, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(data), &head); err != nil {
		return 0, fmt.Errorf("parse geojson: %w", err)
	}

	var geoms []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection([]byte(data))
		if err != nil {
			return 0, fmt.Errorf("parse feature collection: %w", err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature([]byte(data))
		if err != nil {
			return 0, fmt.Errorf("parse feature: %w", err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry([]byte(data))
		if err != nil {
			return 0, fmt.Errorf("parse geometry: %w", err)
		}
		geoms = append(geoms, g.Geometry())
	}

	total, found := 0.0, false
	for _, g := range geoms {
		switch p := g.(type) {
		case orb.Polygon:
			total += outerArea(p)
			found = true
		case orb.MultiPolygon:
			for _, poly := range p {
				total += outerArea(poly)
			}
			found = true
		}
	}
	if !found {
		return 0, errNoPolygon
	}
	return total, nil
}

func outerArea(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	return math.Abs(geo.Area(p[0]))
}
