// Package mapper converts entity geometries into H3 cells.
package mapper

import (
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
)

type Interface interface {
	CellsForBBox(bb model.BBox, res int) (model.Cells, error)
	CellsForGeometry(geojson []byte, res int) (model.Cells, error)
}
