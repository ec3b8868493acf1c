package geometry

import (
	"errors"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"

	"github.com/xpublish-community/edrserve/dataset"
)

func newTestDataset() *dataset.Dataset {
	ds := dataset.New("test")
	ds.Dims = []string{"time", "lat", "lon"}
	ds.Shape = map[string]int{"time": 2, "lat": 3, "lon": 4}
	ds.Axes = map[string]string{"T": "time", "Y": "lat", "X": "lon"}
	ds.CRS = "EPSG:4326"

	addCoord := func(name string, values []float64, isTime bool) {
		data := sparse.ZerosDense(len(values))
		copy(data.Elements, values)
		ds.Coords[name] = &dataset.Coord{Name: name, Dims: []string{name}, Data: data, IsTime: isTime, Attrs: map[string]string{}}
	}
	addCoord("time", []float64{0, 3600}, true)
	addCoord("lat", []float64{10, 20, 30}, false)
	addCoord("lon", []float64{100, 110, 120, 130}, false)

	data := sparse.ZerosDense(2, 3, 4)
	for n := range data.Elements {
		data.Elements[n] = float64(n)
	}
	ds.Vars["air"] = &dataset.Variable{
		Name:  "air",
		Dims:  []string{"time", "lat", "lon"},
		Data:  data,
		DType: dataset.DTypeFloat,
		Attrs: map[string]string{dataset.AttrUnits: "K"},
	}
	ds.VarOrder = []string{"air"}
	return ds
}

func TestParseWKT(t *testing.T) {
	g, err := ParseWKT("POINT(100 10)")
	if err != nil {
		t.Fatalf("ParseWKT failed: %v", err)
	}
	p, ok := g.(geom.Point)
	if !ok || p.X != 100 || p.Y != 10 {
		t.Errorf("unexpected point: %v", g)
	}

	g, err = ParseWKT("MULTIPOINT(100 10, 110 20)")
	if err != nil {
		t.Fatalf("ParseWKT failed: %v", err)
	}
	if mp, ok := g.(geom.MultiPoint); !ok || len(mp) != 2 {
		t.Errorf("unexpected multipoint: %v", g)
	}

	g, err = ParseWKT("POLYGON((100 10, 120 10, 120 30, 100 30, 100 10))")
	if err != nil {
		t.Fatalf("ParseWKT failed: %v", err)
	}
	if _, ok := g.(geom.Polygon); !ok {
		t.Errorf("unexpected polygon type: %T", g)
	}
}

func TestParseWKTInvalid(t *testing.T) {
	if _, err := ParseWKT("POINT(100"); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestNormalizeCRS(t *testing.T) {
	if got := NormalizeCRS(""); got != "EPSG:4326" {
		t.Errorf("expected default for empty, got %v", got)
	}
	if got := NormalizeCRS("epsg:3857"); got != "EPSG:3857" {
		t.Errorf("expected EPSG:3857, got %v", got)
	}
}

func TestProj4Unsupported(t *testing.T) {
	if _, err := Proj4("EPSG:9999"); err == nil {
		t.Errorf("expected error for unsupported crs")
	}
}

func TestSameCRS(t *testing.T) {
	if !SameCRS("EPSG:4326", "OGC:CRS84") {
		t.Errorf("EPSG:4326 and OGC:CRS84 should match")
	}
	if SameCRS("EPSG:4326", "EPSG:3857") {
		t.Errorf("EPSG:4326 and EPSG:3857 should differ")
	}
}

func TestIsGeographic(t *testing.T) {
	if !IsGeographic("EPSG:4326") {
		t.Errorf("EPSG:4326 should be geographic")
	}
	if IsGeographic("EPSG:3857") {
		t.Errorf("EPSG:3857 should not be geographic")
	}
}

func TestSelectByPositionNearest(t *testing.T) {
	ds := newTestDataset()
	out, err := SelectByPosition(ds, "POINT(112 19)", MethodNearest, "EPSG:4326")
	if err != nil {
		t.Fatalf("SelectByPosition failed: %v", err)
	}
	if out.Shape["lon"] != 1 || out.Shape["lat"] != 1 {
		t.Errorf("expected length-1 grid dims, got %v", out.Shape)
	}
	if got := out.Coords["lon"].Values()[0]; got != 110 {
		t.Errorf("expected nearest lon 110, got %v", got)
	}
	// (time 0, lat 20, lon 110) is flat value 5.
	if got := out.Vars["air"].Data.Elements[0]; got != 5 {
		t.Errorf("expected value 5, got %v", got)
	}
}

func TestSelectByPositionLinear(t *testing.T) {
	ds := newTestDataset()
	out, err := SelectByPosition(ds, "POINT(105 15)", MethodLinear, "EPSG:4326")
	if err != nil {
		t.Fatalf("SelectByPosition failed: %v", err)
	}
	// Cell-centre blend of flat values 0, 1, 4, 5.
	if got := out.Vars["air"].Data.Elements[0]; got != 2.5 {
		t.Errorf("expected 2.5 at cell centre, got %v", got)
	}
}

func TestSelectByPositionMultiPoint(t *testing.T) {
	ds := newTestDataset()
	out, err := SelectByPosition(ds, "MULTIPOINT(102 11, 128 29)", MethodNearest, "EPSG:4326")
	if err != nil {
		t.Fatalf("SelectByPosition failed: %v", err)
	}
	if out.Shape[dataset.VectorizedDim] != 2 {
		t.Errorf("expected 2 vectorized points, got %d", out.Shape[dataset.VectorizedDim])
	}
}

func TestSelectByPositionBadGeometry(t *testing.T) {
	ds := newTestDataset()
	if _, err := SelectByPosition(ds, "POLYGON((0 0, 1 0, 1 1, 0 0))", MethodNearest, "EPSG:4326"); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry for polygon, got %v", err)
	}
}

func TestSelectByArea(t *testing.T) {
	ds := newTestDataset()
	out, err := SelectByArea(ds, "POLYGON((105 15, 125 15, 125 25, 105 25, 105 15))", "EPSG:4326")
	if err != nil {
		t.Fatalf("SelectByArea failed: %v", err)
	}
	if out.Shape[dataset.VectorizedDim] != 2 {
		t.Fatalf("expected 2 points inside polygon, got %d", out.Shape[dataset.VectorizedDim])
	}
	air := out.Vars["air"]
	// (lat 20, lon 110) and (lat 20, lon 120) at time 0 are 5 and 6.
	if air.Data.Elements[0] != 5 || air.Data.Elements[1] != 6 {
		t.Errorf("unexpected area values: %v", air.Data.Elements[:2])
	}
}

func TestSelectByAreaEmpty(t *testing.T) {
	ds := newTestDataset()
	_, err := SelectByArea(ds, "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))", "EPSG:4326")
	if err != dataset.ErrEmptySelection {
		t.Errorf("expected ErrEmptySelection, got %v", err)
	}
}

func TestSelectByBBox(t *testing.T) {
	ds := newTestDataset()
	out, err := SelectByBBox(ds, []float64{105, 5, 125, 25}, "EPSG:4326")
	if err != nil {
		t.Fatalf("SelectByBBox failed: %v", err)
	}
	if out.Shape["lon"] != 2 || out.Shape["lat"] != 2 {
		t.Errorf("expected 2x2 slab, got %v", out.Shape)
	}
}

func TestSelectByBBoxInvalid(t *testing.T) {
	ds := newTestDataset()
	if _, err := SelectByBBox(ds, []float64{125, 5, 105, 25}, "EPSG:4326"); err == nil {
		t.Errorf("expected error for inverted bbox")
	}
}

func TestProjectDatasetSameCRS(t *testing.T) {
	ds := newTestDataset()
	out, err := ProjectDataset(ds, "OGC:CRS84")
	if err != nil {
		t.Fatalf("ProjectDataset failed: %v", err)
	}
	if out != ds {
		t.Errorf("same-CRS projection should be a no-op")
	}
}

func TestProjectDatasetGrid(t *testing.T) {
	ds := newTestDataset()
	out, err := ProjectDataset(ds, "EPSG:3857")
	if err != nil {
		t.Fatalf("ProjectDataset failed: %v", err)
	}
	x, ok := out.Coords["x"]
	if !ok {
		t.Fatalf("expected auxiliary x coordinate")
	}
	if len(x.Dims) != 2 || x.Dims[0] != "lat" || x.Dims[1] != "lon" {
		t.Errorf("unexpected auxiliary dims: %v", x.Dims)
	}
	if out.CRS != "EPSG:3857" {
		t.Errorf("expected output CRS EPSG:3857, got %v", out.CRS)
	}
	// Web mercator x grows monotonically with longitude.
	if !(x.Values()[1] > x.Values()[0]) {
		t.Errorf("expected increasing x values, got %v", x.Values()[:2])
	}
	// The source grid must be untouched.
	if ds.Coords["lon"].Values()[0] != 100 {
		t.Errorf("source dataset was modified")
	}
}

func TestSpatialBounds(t *testing.T) {
	ds := newTestDataset()
	minX, minY, maxX, maxY, err := SpatialBounds(ds)
	if err != nil {
		t.Fatalf("SpatialBounds failed: %v", err)
	}
	if minX != 100 || maxX != 130 || minY != 10 || maxY != 30 {
		t.Errorf("unexpected bounds: %v %v %v %v", minX, minY, maxX, maxY)
	}
}
