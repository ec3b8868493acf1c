package geometry

import (
	"fmt"

	"github.com/ctessum/geom"

	"github.com/xpublish-community/edrserve/dataset"
)

// SelectByArea subsets a dataset to the grid points falling inside a
// POLYGON or MULTIPOLYGON query geometry given in queryCRS, collapsed
// onto the vectorized point dimension. Points on the polygon edge
// count as inside.
func SelectByArea(ds *dataset.Dataset, wktStr, queryCRS string) (*dataset.Dataset, error) {
	g, err := ParseWKT(wktStr)
	if err != nil {
		return nil, err
	}
	if _, ok := g.(geom.Polygonal); !ok {
		return nil, fmt.Errorf("%w: expected POLYGON or MULTIPOLYGON, got %T", ErrInvalidGeometry, g)
	}

	projected, err := ProjectGeometry(g, queryCRS, ds.CRS)
	if err != nil {
		return nil, err
	}
	poly := projected.(geom.Polygonal)

	xc, okX := ds.AxisCoord("X")
	yc, okY := ds.AxisCoord("Y")
	if !okX || !okY {
		return nil, fmt.Errorf("dataset does not have CF compliant X/Y axes")
	}
	if !ds.HasRegularXY() {
		return nil, fmt.Errorf("area selection requires 1-D horizontal axes")
	}

	// Bounding-box pre-subset keeps the containment test off the full
	// grid.
	b := poly.Bounds()
	xv, yv := xc.Values(), yc.Values()
	var xIdx, yIdx []int
	for yi, y := range yv {
		if y < b.Min.Y || y > b.Max.Y {
			continue
		}
		for xi, x := range xv {
			if x < b.Min.X || x > b.Max.X {
				continue
			}
			if (geom.Point{X: x, Y: y}).Within(poly) != geom.Outside {
				xIdx = append(xIdx, xi)
				yIdx = append(yIdx, yi)
			}
		}
	}
	if len(xIdx) == 0 {
		return nil, dataset.ErrEmptySelection
	}
	return ds.ISelPoints(xc.Name, yc.Name, xIdx, yIdx, dataset.VectorizedDim)
}
