package h3mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/connected-systems/internal/core/model"
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

func (m *Mapper) CellsForBBox(bb model.BBox, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	outer := h3.GeoLoop{
		{Lat: bb.Y1, Lng: bb.X1},
		{Lat: bb.Y1, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X1},
	}
	return polyfill(outer, nil, res)
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// CellsForGeometry covers a GeoJSON geometry. Points and line vertices map to
// their own cell, polygons are filled. A polygon smaller than one cell falls
// back to the cells of its outer ring.
func (m *Mapper) CellsForGeometry(raw []byte, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	var g geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	switch g.Type {
	case "Point":
		var xy []float64
		if err := json.Unmarshal(g.Coordinates, &xy); err != nil {
			return nil, fmt.Errorf("parse point coords: %w", err)
		}
		return pointCells([][]float64{xy}, res)

	case "MultiPoint", "LineString":
		var pts [][]float64
		if err := json.Unmarshal(g.Coordinates, &pts); err != nil {
			return nil, fmt.Errorf("parse %s coords: %w", g.Type, err)
		}
		return pointCells(pts, res)

	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("parse polygon coords: %w", err)
		}
		return polygonCells(rings, res)

	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &polys); err != nil {
			return nil, fmt.Errorf("parse multipolygon coords: %w", err)
		}
		if len(polys) == 0 {
			return nil, errors.New("empty multipolygon")
		}
		var all []string
		for pi, rings := range polys {
			cells, err := polygonCells(rings, res)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", pi, err)
			}
			all = append(all, cells...)
		}
		return uniqueSorted(all), nil

	default:
		return nil, fmt.Errorf("unsupported GeoJSON type: %s", g.Type)
	}
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func pointCells(pts [][]float64, res int) (model.Cells, error) {
	out := make([]string, 0, len(pts))
	for _, xy := range pts {
		if len(xy) < 2 {
			return nil, errors.New("position needs at least 2 values")
		}
		c, err := h3.LatLngToCell(h3.LatLng{Lat: xy[1], Lng: xy[0]}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell: %w", err)
		}
		out = append(out, c.String())
	}
	return uniqueSorted(out), nil
}

func polygonCells(rings [][][]float64, res int) (model.Cells, error) {
	if len(rings) == 0 {
		return nil, errors.New("empty polygon")
	}
	outer := toLoop(rings[0])
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 distinct vertices")
	}
	var holes []h3.GeoLoop
	for i := 1; i < len(rings); i++ {
		holes = append(holes, toLoop(rings[i]))
	}
	cells, err := polyfill(outer, holes, res)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return pointCells(rings[0], res)
	}
	return cells, nil
}

// toLoop converts a GeoJSON ring [[lon,lat], ...] to a loop in degrees and
// drops the closing vertex.
func toLoop(coords [][]float64) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(coords))
	for _, xy := range coords {
		if len(xy) < 2 {
			continue
		}
		loop = append(loop, h3.LatLng{Lat: xy[1], Lng: xy[0]})
	}
	if len(loop) >= 2 {
		last, first := loop[len(loop)-1], loop[0]
		if last.Lat == first.Lat && last.Lng == first.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}

func polyfill(outer h3.GeoLoop, holes []h3.GeoLoop, res int) (model.Cells, error) {
	idx, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	out := make([]string, 0, len(idx))
	for _, c := range idx {
		out = append(out, c.String())
	}
	return uniqueSorted(out), nil
}

func uniqueSorted(in []string) model.Cells {
	slices.Sort(in)
	return slices.Compact(in)
}
