package geometry

import (
	"fmt"

	"github.com/xpublish-community/edrserve/dataset"
)

// Selection methods for single values along an axis.
const (
	MethodNearest = dataset.MethodNearest
	MethodLinear  = dataset.MethodLinear
)

// SelectByPosition subsets a dataset at a POINT or MULTIPOINT query
// geometry given in queryCRS. A single point keeps the grid
// dimensions at length 1; multiple points collapse onto the
// vectorized point dimension.
func SelectByPosition(ds *dataset.Dataset, wktStr, method, queryCRS string) (*dataset.Dataset, error) {
	g, err := ParseWKT(wktStr)
	if err != nil {
		return nil, err
	}
	xs, ys, err := PointCoords(g)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	if err := projectPoints(xs, ys, queryCRS, ds.CRS); err != nil {
		return nil, err
	}

	if len(xs) == 1 {
		return selectSinglePoint(ds, xs[0], ys[0], method)
	}

	switch method {
	case MethodLinear:
		return ds.InterpPoints(xs, ys, dataset.VectorizedDim)
	default:
		return ds.SelPointsNearest(xs, ys, dataset.VectorizedDim)
	}
}

func selectSinglePoint(ds *dataset.Dataset, x, y float64, method string) (*dataset.Dataset, error) {
	xDim, okX := ds.AxisDim("X")
	yDim, okY := ds.AxisDim("Y")
	if !okX || !okY {
		return nil, fmt.Errorf("dataset does not have CF compliant X/Y axes")
	}

	if method == MethodLinear {
		out, err := ds.Interp1D(xDim, x)
		if err == nil {
			out, err = out.Interp1D(yDim, y)
		}
		if err == nil {
			return out, nil
		}
		// Interpolation failures fall back to nearest selection.
	}

	out, err := ds.SelNearest(xDim, x)
	if err != nil {
		return nil, err
	}
	return out.SelNearest(yDim, y)
}

