package ogc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var wktTypes = []string{
	"POINT", "LINESTRING", "POLYGON", "MULTIPOINT", "MULTILINESTRING",
	"MULTIPOLYGON", "GEOMETRYCOLLECTION", "ENVELOPE",
}

// NormalizeGeom turns a geom query literal into WKT. GeoJSON input is converted,
// WKT input is checked for a known geometry tag and passed through.
func NormalizeGeom(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("empty geometry")
	}
	if strings.HasPrefix(s, "{") {
		return GeoJSONToWKT(s)
	}
	upper := strings.ToUpper(s)
	for _, t := range wktTypes {
		if strings.HasPrefix(upper, t) {
			rest := strings.TrimSpace(upper[len(t):])
			if !strings.HasPrefix(rest, "(") && !strings.HasPrefix(rest, "Z") && rest != "EMPTY" {
				break
			}
			return s, nil
		}
	}
	return "", fmt.Errorf("unsupported geometry literal %q", s)
}

func GeoJSONToWKT(geojson string) (string, error) {
	var v struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(geojson), &v); err != nil {
		return "", fmt.Errorf("parse geojson: %w", err)
	}
	switch strings.TrimSpace(v.Type) {
	case "Point":
		var xy []float64
		if err := json.Unmarshal(v.Coordinates, &xy); err != nil {
			return "", fmt.Errorf("parse point coords: %w", err)
		}
		p, err := position(xy)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("POINT(%s)", p), nil
	case "LineString":
		var line [][]float64
		if err := json.Unmarshal(v.Coordinates, &line); err != nil {
			return "", fmt.Errorf("parse linestring coords: %w", err)
		}
		if len(line) < 2 {
			return "", errors.New("linestring has <2 points")
		}
		pts, err := positions(line)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("LINESTRING(%s)", pts), nil
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(v.Coordinates, &rings); err != nil {
			return "", fmt.Errorf("parse polygon coords: %w", err)
		}
		return polygonToWKT(rings)
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(v.Coordinates, &polys); err != nil {
			return "", fmt.Errorf("parse multipolygon coords: %w", err)
		}
		return multiPolygonToWKT(polys)
	default:
		return "", fmt.Errorf("unsupported type %q", v.Type)
	}
}

func position(xy []float64) (string, error) {
	switch len(xy) {
	case 2:
		return fmt.Sprintf("%g %g", xy[0], xy[1]), nil
	case 3:
		return fmt.Sprintf("%g %g %g", xy[0], xy[1], xy[2]), nil
	default:
		return "", errors.New("coordinate must be [x,y] or [x,y,z]")
	}
}

func positions(coords [][]float64) (string, error) {
	pts := make([]string, 0, len(coords))
	for _, xy := range coords {
		p, err := position(xy)
		if err != nil {
			return "", err
		}
		pts = append(pts, p)
	}
	return strings.Join(pts, ", "), nil
}

func polygonToWKT(rings [][][]float64) (string, error) {
	if len(rings) == 0 {
		return "", errors.New("empty polygon")
	}
	outRings := make([]string, 0, len(rings))
	for _, ring := range rings {
		if len(ring) < 4 {
			return "", errors.New("polygon ring has <4 points")
		}
		pts, err := positions(ring)
		if err != nil {
			return "", err
		}
		outRings = append(outRings, fmt.Sprintf("(%s)", pts))
	}
	return fmt.Sprintf("POLYGON(%s)", strings.Join(outRings, ", ")), nil
}

func multiPolygonToWKT(polys [][][][]float64) (string, error) {
	if len(polys) == 0 {
		return "", errors.New("empty multipolygon")
	}
	parts := make([]string, 0, len(polys))
	for _, poly := range polys {
		wkt, err := polygonToWKT(poly)
		if err != nil {
			return "", err
		}
		parts = append(parts, strings.TrimPrefix(wkt, "POLYGON"))
	}
	return fmt.Sprintf("MULTIPOLYGON(%s)", strings.Join(parts, ", ")), nil
}
