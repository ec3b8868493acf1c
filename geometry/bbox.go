package geometry

import (
	"fmt"

	"github.com/ctessum/geom"

	"github.com/xpublish-community/edrserve/dataset"
)

// SelectByBBox subsets a dataset to the grid slab covered by a
// (minX, minY, maxX, maxY) bounding box given in queryCRS. Axis order
// is preserved, so descending axes stay descending.
func SelectByBBox(ds *dataset.Dataset, bbox []float64, queryCRS string) (*dataset.Dataset, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values, got %d", len(bbox))
	}
	minX, minY, maxX, maxY := bbox[0], bbox[1], bbox[2], bbox[3]
	if minX > maxX || minY > maxY {
		return nil, fmt.Errorf("bbox min values exceed max values")
	}

	if !SameCRS(queryCRS, ds.CRS) {
		// Reprojected box edges curve, so project the box outline and
		// take its bounds rather than just the two corners.
		outline := geom.Polygon{{
			{X: minX, Y: minY},
			{X: maxX, Y: minY},
			{X: maxX, Y: maxY},
			{X: minX, Y: maxY},
			{X: minX, Y: minY},
		}}
		projected, err := ProjectGeometry(outline, queryCRS, ds.CRS)
		if err != nil {
			return nil, err
		}
		b := projected.Bounds()
		minX, minY, maxX, maxY = b.Min.X, b.Min.Y, b.Max.X, b.Max.Y
	}

	xDim, okX := ds.AxisDim("X")
	yDim, okY := ds.AxisDim("Y")
	if !okX || !okY {
		return nil, fmt.Errorf("dataset does not have CF compliant X/Y axes")
	}

	out, err := ds.SelRange(xDim, minX, maxX)
	if err != nil {
		return nil, err
	}
	return out.SelRange(yDim, minY, maxY)
}
