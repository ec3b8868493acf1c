package geometry

import (
	"errors"
	"fmt"

	"github.com/ctessum/geom"
	gsgeom "github.com/go-spatial/geom"
	gswkt "github.com/go-spatial/geom/encoding/wkt"
)

// ErrInvalidGeometry marks coords values that cannot be parsed as
// WKT, so the router can answer 422.
var ErrInvalidGeometry = errors.New("invalid WKT geometry")

// ParseWKT parses a WKT string into a geometry. Only the geometry
// types the EDR queries use are supported.
func ParseWKT(s string) (geom.Geom, error) {
	decoded, err := gswkt.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}

	switch g := decoded.(type) {
	case gsgeom.Point:
		return geom.Point{X: g[0], Y: g[1]}, nil
	case gsgeom.MultiPoint:
		mp := make(geom.MultiPoint, len(g))
		for i, p := range g {
			mp[i] = geom.Point{X: p[0], Y: p[1]}
		}
		return mp, nil
	case gsgeom.Polygon:
		return convertPolygon(g), nil
	case gsgeom.MultiPolygon:
		mp := make(geom.MultiPolygon, len(g))
		for i, p := range g {
			mp[i] = convertPolygon(p)
		}
		return mp, nil
	}
	return nil, fmt.Errorf("%w: unsupported geometry type %T", ErrInvalidGeometry, decoded)
}

func convertPolygon(g gsgeom.Polygon) geom.Polygon {
	poly := make(geom.Polygon, len(g))
	for i, ring := range g {
		path := make([]geom.Point, len(ring))
		for j, p := range ring {
			path[j] = geom.Point{X: p[0], Y: p[1]}
		}
		poly[i] = path
	}
	return poly
}

// PointCoords flattens a POINT or MULTIPOINT geometry into parallel
// coordinate slices.
func PointCoords(g geom.Geom) ([]float64, []float64, error) {
	switch p := g.(type) {
	case geom.Point:
		return []float64{p.X}, []float64{p.Y}, nil
	case geom.MultiPoint:
		xs := make([]float64, len(p))
		ys := make([]float64, len(p))
		for i, pt := range p {
			xs[i] = pt.X
			ys[i] = pt.Y
		}
		return xs, ys, nil
	}
	return nil, nil, fmt.Errorf("expected POINT or MULTIPOINT, got %T", g)
}
