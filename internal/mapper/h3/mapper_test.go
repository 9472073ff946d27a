package h3mapper

import (
	"reflect"
	"sort"
	"testing"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/connected-systems/internal/core/model"
)

func TestBBox_HappyPath_SortedUnique(t *testing.T) {
	m := New()
	bb := model.BBox{X1: 17.95, Y1: 59.30, X2: 18.15, Y2: 59.40}

	cells, err := m.CellsForBBox(bb, 8)
	if err != nil {
		t.Fatalf("CellsForBBox err: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("expected non-empty cells for bbox")
	}
	if !sort.StringsAreSorted([]string(cells)) || hasDups(cells) {
		t.Fatalf("cells must be sorted and unique")
	}
}

func TestGeometry_PointMatchesLatLngToCell(t *testing.T) {
	m := New()
	cells, err := m.CellsForGeometry([]byte(`{"type":"Point","coordinates":[18.0686,59.3293]}`), 7)
	if err != nil {
		t.Fatalf("point: %v", err)
	}
	want, err := h3.LatLngToCell(h3.LatLng{Lat: 59.3293, Lng: 18.0686}, 7)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	if len(cells) != 1 || cells[0] != want.String() {
		t.Fatalf("cells=%v want [%s]", cells, want)
	}
}

func TestGeometry_PolygonSubsetOfBBoxAndDeterministic(t *testing.T) {
	m := New()
	bb := model.BBox{X1: 17.95, Y1: 59.30, X2: 18.15, Y2: 59.40}
	poly := []byte(`{"type":"Polygon","coordinates":[[
		[18.00,59.32],[18.12,59.32],[18.12,59.38],[18.00,59.38],[18.00,59.32]
	]]}`)

	cp, err := m.CellsForGeometry(poly, 9)
	if err != nil {
		t.Fatalf("polygon: %v", err)
	}
	cb, err := m.CellsForBBox(bb, 9)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	if len(cp) == 0 || len(cp) > len(cb) {
		t.Fatalf("polygon cells=%d bbox cells=%d", len(cp), len(cb))
	}
	cp2, _ := m.CellsForGeometry(poly, 9)
	if !reflect.DeepEqual(cp, cp2) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestGeometry_TinyPolygonFallsBackToVertices(t *testing.T) {
	m := New()
	poly := []byte(`{"type":"Polygon","coordinates":[[
		[13.0038,55.6050],[13.0039,55.6050],[13.0039,55.6051],[13.0038,55.6050]
	]]}`)
	cells, err := m.CellsForGeometry(poly, 3)
	if err != nil {
		t.Fatalf("polygon: %v", err)
	}
	if len(cells) != 1 {
		t.Fatalf("cells=%v want exactly one", cells)
	}
}

func TestGeometry_Errors(t *testing.T) {
	m := New()
	for _, raw := range []string{
		`{"type":"Polygon","coordinates":[[]]}`,
		`{"type":"GeometryCollection","geometries":[]}`,
		`{"type":"Point","coordinates":[1]}`,
		`not json`,
	} {
		if _, err := m.CellsForGeometry([]byte(raw), 8); err == nil {
			t.Fatalf("%s: expected error", raw)
		}
	}
	if _, err := m.CellsForGeometry([]byte(`{"type":"Point","coordinates":[1,2]}`), 16); err == nil {
		t.Fatalf("expected error for res=16")
	}
}

func hasDups(s []string) bool {
	seen := map[string]struct{}{}
	for _, v := range s {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}
