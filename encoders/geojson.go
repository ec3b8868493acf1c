package encoders

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/xpublish-community/edrserve/dataset"
)

// EncodeGeoJSON renders a selection as a GeoJSON feature collection
// with one point feature per data row.
func EncodeGeoJSON(ds *dataset.Dataset) (*Response, error) {
	xName, yName, err := horizontalCoordNames(ds)
	if err != nil {
		return nil, err
	}

	t, err := tabulate(ds)
	if err != nil {
		return nil, err
	}

	var xCol, yCol *column
	for i := range t.cols {
		switch t.cols[i].name {
		case xName:
			xCol = &t.cols[i]
		case yName:
			yCol = &t.cols[i]
		}
	}
	if xCol == nil || yCol == nil {
		return nil, fmt.Errorf("selection has no horizontal coordinates")
	}

	fc := geojson.NewFeatureCollection()
	for n := 0; n < t.rows; n++ {
		f := geojson.NewFeature(orb.Point{xCol.values[n], yCol.values[n]})
		for _, c := range t.cols {
			if c.name == xName || c.name == yName {
				continue
			}
			v := c.values[n]
			switch {
			case math.IsNaN(v):
				f.Properties[c.name] = nil
			case c.isTime:
				f.Properties[c.name] = dataset.TimeValue(v).Format(covTimeLayout)
			case c.dtype == dataset.DTypeInteger:
				f.Properties[c.name] = int64(v)
			default:
				f.Properties[c.name] = v
			}
		}
		fc.Append(f)
	}

	body, err := fc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return &Response{Body: body, ContentType: "application/geo+json"}, nil
}

// horizontalCoordNames finds the coordinates carrying the output
// positions, preferring reprojected auxiliary coordinates over the
// native grid axes.
func horizontalCoordNames(ds *dataset.Dataset) (string, string, error) {
	xName, yName := "", ""
	for name, c := range ds.Coords {
		if c.IsIndex() {
			continue
		}
		switch c.Attrs[dataset.AttrStandardName] {
		case "longitude", "projection_x_coordinate":
			xName = name
		case "latitude", "projection_y_coordinate":
			yName = name
		}
	}
	if xName != "" && yName != "" {
		return xName, yName, nil
	}

	xDim, okX := ds.AxisDim("X")
	yDim, okY := ds.AxisDim("Y")
	if !okX || !okY {
		return "", "", fmt.Errorf("dataset does not have CF compliant X/Y axes")
	}
	return xDim, yDim, nil
}
