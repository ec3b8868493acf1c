// Package geometry handles coordinate reference systems, WKT query
// geometries and the spatial selection of gridded datasets.
package geometry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"

	"github.com/xpublish-community/edrserve/dataset"
)

// DefaultCRS is assumed for query coordinates when the crs parameter
// is absent.
const DefaultCRS = "EPSG:4326"

// crsProj4 lists the coordinate reference systems the service accepts
// by name, with their proj4 definitions.
var crsProj4 = map[string]string{
	"EPSG:4326": "+proj=longlat +datum=WGS84 +no_defs",
	"OGC:CRS84": "+proj=longlat +datum=WGS84 +no_defs",
	"EPSG:3857": "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +no_defs",
	"EPSG:3577": "+proj=aea +lat_1=-18 +lat_2=-36 +lat_0=0 +lon_0=132 +x_0=0 +y_0=0 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	"EPSG:3111": "+proj=lcc +lat_1=-36 +lat_2=-38 +lat_0=-37 +lon_0=145 +x_0=2500000 +y_0=2500000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
}

// crsWKT carries the well known text renditions served in collection
// metadata.
var crsWKT = map[string]string{
	"EPSG:4326": `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]]`,
	"OGC:CRS84": `GEOGCS["WGS 84 (CRS84)",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["OGC","CRS84"]]`,
	"EPSG:3857": `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","3857"]]`,
	"EPSG:3577": `PROJCS["GDA94 / Australian Albers",GEOGCS["GDA94",DATUM["Geocentric_Datum_of_Australia_1994",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Albers_Conic_Equal_Area"],PARAMETER["standard_parallel_1",-18],PARAMETER["standard_parallel_2",-36],PARAMETER["latitude_of_center",0],PARAMETER["longitude_of_center",132],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","3577"]]`,
	"EPSG:3111": `PROJCS["GDA94 / Vicgrid",GEOGCS["GDA94",DATUM["Geocentric_Datum_of_Australia_1994",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Lambert_Conformal_Conic_2SP"],PARAMETER["standard_parallel_1",-36],PARAMETER["standard_parallel_2",-38],PARAMETER["latitude_of_origin",-37],PARAMETER["central_meridian",145],PARAMETER["false_easting",2500000],PARAMETER["false_northing",2500000],UNIT["metre",1],AUTHORITY["EPSG","3111"]]`,
}

// WKT returns the well known text form of a named CRS. Raw proj4
// definitions fall back to the proj4 text itself.
func WKT(name string) string {
	if w, ok := crsWKT[NormalizeCRS(name)]; ok {
		return w
	}
	p4, err := Proj4(name)
	if err != nil {
		return ""
	}
	return p4
}

// SupportedCRS returns the named coordinate reference systems in
// stable order.
func SupportedCRS() []string {
	names := make([]string, 0, len(crsProj4))
	for name := range crsProj4 {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	srMu      sync.Mutex
	srCache   = make(map[string]*proj.SR)
	transMu   sync.Mutex
	transform = make(map[string]proj.Transformer)
)

// NormalizeCRS maps the aliases of a CRS name to its canonical form.
func NormalizeCRS(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	switch n {
	case "", "WGS84", "CRS84", "WGS 84":
		return DefaultCRS
	case "OGC:CRS84":
		return "OGC:CRS84"
	}
	return n
}

// Proj4 returns the proj4 definition behind a CRS name. Raw proj4
// strings pass through, which lets dataset definitions carry custom
// grids.
func Proj4(name string) (string, error) {
	if strings.HasPrefix(strings.TrimSpace(name), "+") {
		return name, nil
	}
	p4, ok := crsProj4[NormalizeCRS(name)]
	if !ok {
		return "", fmt.Errorf("unsupported crs: %v", name)
	}
	return p4, nil
}

// IsGeographic reports whether the CRS uses longitude/latitude
// degrees.
func IsGeographic(name string) bool {
	p4, err := Proj4(name)
	if err != nil {
		return false
	}
	return strings.Contains(p4, "+proj=longlat")
}

// SameCRS reports whether two CRS names resolve to the same proj4
// definition.
func SameCRS(a, b string) bool {
	pa, errA := Proj4(a)
	pb, errB := Proj4(b)
	return errA == nil && errB == nil && pa == pb
}

func resolveSR(name string) (*proj.SR, error) {
	p4, err := Proj4(name)
	if err != nil {
		return nil, err
	}
	srMu.Lock()
	defer srMu.Unlock()
	if sr, ok := srCache[p4]; ok {
		return sr, nil
	}
	sr, err := proj.Parse(p4)
	if err != nil {
		return nil, fmt.Errorf("failed to parse projection %v: %v", name, err)
	}
	srCache[p4] = sr
	return sr, nil
}

// NewTransform returns a cached coordinate transformer between two
// CRSs.
func NewTransform(src, dst string) (proj.Transformer, error) {
	srcP4, err := Proj4(src)
	if err != nil {
		return nil, err
	}
	dstP4, err := Proj4(dst)
	if err != nil {
		return nil, err
	}
	key := srcP4 + "|" + dstP4

	transMu.Lock()
	if ct, ok := transform[key]; ok {
		transMu.Unlock()
		return ct, nil
	}
	transMu.Unlock()

	srcSR, err := resolveSR(src)
	if err != nil {
		return nil, err
	}
	dstSR, err := resolveSR(dst)
	if err != nil {
		return nil, err
	}
	ct, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, fmt.Errorf("failed to create transform %v -> %v: %v", src, dst, err)
	}

	transMu.Lock()
	transform[key] = ct
	transMu.Unlock()
	return ct, nil
}

// ProjectGeometry reprojects a geometry between two CRSs.
func ProjectGeometry(g geom.Geom, src, dst string) (geom.Geom, error) {
	if SameCRS(src, dst) {
		return g, nil
	}
	ct, err := NewTransform(src, dst)
	if err != nil {
		return nil, err
	}
	return g.Transform(ct)
}

// projectPoints reprojects parallel coordinate slices in place.
func projectPoints(xs, ys []float64, src, dst string) error {
	if SameCRS(src, dst) {
		return nil
	}
	ct, err := NewTransform(src, dst)
	if err != nil {
		return err
	}
	for i := range xs {
		g, err := geom.Point{X: xs[i], Y: ys[i]}.Transform(ct)
		if err != nil {
			return err
		}
		p := g.(geom.Point)
		xs[i], ys[i] = p.X, p.Y
	}
	return nil
}

// ProjectDataset rewrites the horizontal coordinates of a selection
// into the requested output CRS. Vectorized point selections are
// reprojected in place; gridded selections gain auxiliary 2-D
// coordinates since a regular grid is no longer rectilinear after
// reprojection.
func ProjectDataset(ds *dataset.Dataset, dstCRS string) (*dataset.Dataset, error) {
	if SameCRS(ds.CRS, dstCRS) {
		return ds, nil
	}

	xc, okX := ds.AxisCoord("X")
	yc, okY := ds.AxisCoord("Y")
	if !okX || !okY {
		return nil, fmt.Errorf("dataset does not have CF compliant X/Y axes")
	}

	out := ds.Clone()

	if len(xc.Dims) == 1 && xc.Dims[0] == dataset.VectorizedDim {
		xs := out.Coords[xc.Name].Values()
		ys := out.Coords[yc.Name].Values()
		if err := projectPoints(xs, ys, ds.CRS, dstCRS); err != nil {
			return nil, err
		}
		setAxisAttrs(out.Coords[xc.Name], out.Coords[yc.Name], dstCRS)
		out.CRS = dstCRS
		return out, nil
	}

	xName, yName := "x", "y"
	if IsGeographic(dstCRS) {
		xName, yName = "longitude", "latitude"
	}
	if _, clash := out.Coords[xName]; clash || xName == xc.Name {
		return nil, fmt.Errorf("cannot reproject: coordinate %v already exists", xName)
	}
	if _, clash := out.Coords[yName]; clash || yName == yc.Name {
		return nil, fmt.Errorf("cannot reproject: coordinate %v already exists", yName)
	}

	xv, yv := xc.Values(), yc.Values()
	n := len(xv) * len(yv)
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for _, y := range yv {
		for _, x := range xv {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	if err := projectPoints(xs, ys, ds.CRS, dstCRS); err != nil {
		return nil, err
	}

	auxX := dataset.NewCoord2D(xName, yc.Name, xc.Name, len(yv), len(xv), xs)
	auxY := dataset.NewCoord2D(yName, yc.Name, xc.Name, len(yv), len(xv), ys)
	setAxisAttrs(auxX, auxY, dstCRS)
	out.Coords[xName] = auxX
	out.Coords[yName] = auxY
	out.CRS = dstCRS
	return out, nil
}

func setAxisAttrs(x, y *dataset.Coord, crs string) {
	if IsGeographic(crs) {
		x.Attrs = map[string]string{
			dataset.AttrStandardName: "longitude",
			dataset.AttrUnits:        "degrees_east",
		}
		y.Attrs = map[string]string{
			dataset.AttrStandardName: "latitude",
			dataset.AttrUnits:        "degrees_north",
		}
		return
	}
	x.Attrs = map[string]string{
		dataset.AttrStandardName: "projection_x_coordinate",
		dataset.AttrUnits:        "m",
	}
	y.Attrs = map[string]string{
		dataset.AttrStandardName: "projection_y_coordinate",
		dataset.AttrUnits:        "m",
	}
}

// SpatialBounds returns the (minX, minY, maxX, maxY) extent of the
// horizontal axes.
func SpatialBounds(ds *dataset.Dataset) (float64, float64, float64, float64, error) {
	xc, okX := ds.AxisCoord("X")
	yc, okY := ds.AxisCoord("Y")
	if !okX || !okY {
		return 0, 0, 0, 0, fmt.Errorf("dataset does not have CF compliant X/Y axes")
	}
	minX, maxX := minMax(xc.Values())
	minY, maxY := minMax(yc.Values())
	return minX, minY, maxX, maxY, nil
}

// GeographicBounds returns the dataset extent reprojected to the
// default geographic CRS. The native box outline is projected so
// curved edges are accounted for.
func GeographicBounds(ds *dataset.Dataset) (float64, float64, float64, float64, error) {
	minX, minY, maxX, maxY, err := SpatialBounds(ds)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if SameCRS(ds.CRS, DefaultCRS) {
		return minX, minY, maxX, maxY, nil
	}
	outline := geom.Polygon{{
		{X: minX, Y: minY},
		{X: maxX, Y: minY},
		{X: maxX, Y: maxY},
		{X: minX, Y: maxY},
		{X: minX, Y: minY},
	}}
	projected, err := ProjectGeometry(outline, ds.CRS, DefaultCRS)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	b := projected.Bounds()
	return b.Min.X, b.Min.Y, b.Max.X, b.Max.Y, nil
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
