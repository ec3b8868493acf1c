package dataset

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/xpublish-community/edrserve/utils"
)

func TestFlattenValues(t *testing.T) {
	data, shape, dtype, err := flattenValues([][]float32{{1, 2, 3}, {4, 5, 6}})
	if err != nil {
		t.Fatalf("flattenValues failed: %v", err)
	}
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Errorf("expected shape [2 3], got %v", shape)
	}
	if dtype != DTypeFloat {
		t.Errorf("expected float dtype, got %v", dtype)
	}
	if data[0] != 1 || data[5] != 6 {
		t.Errorf("unexpected flattened values: %v", data)
	}

	_, _, dtype, err = flattenValues([]int16{7, 8})
	if err != nil {
		t.Fatalf("flattenValues failed: %v", err)
	}
	if dtype != DTypeInteger {
		t.Errorf("expected integer dtype, got %v", dtype)
	}

	if _, _, _, err := flattenValues([]string{"a"}); err == nil {
		t.Errorf("expected error for string values")
	}
}

func TestConvertCFTime(t *testing.T) {
	data := sparse.ZerosDense(2)
	data.Elements[0] = 0
	data.Elements[1] = 2
	coord := &Coord{
		Name:  "time",
		Dims:  []string{"time"},
		Data:  data,
		Attrs: map[string]string{AttrUnits: "hours since 1970-01-01 00:00:00"},
	}
	if err := convertCFTime(coord); err != nil {
		t.Fatalf("convertCFTime failed: %v", err)
	}
	if !coord.IsTime {
		t.Errorf("coordinate should be marked as time")
	}
	if coord.Data.Elements[1] != 7200 {
		t.Errorf("expected 7200 seconds, got %v", coord.Data.Elements[1])
	}
}

func TestConvertCFTimeBadUnits(t *testing.T) {
	data := sparse.ZerosDense(1)
	coord := &Coord{
		Name:  "time",
		Dims:  []string{"time"},
		Data:  data,
		Attrs: map[string]string{AttrUnits: "fortnights since 1970-01-01"},
	}
	if err := convertCFTime(coord); err == nil {
		t.Errorf("expected error for unsupported units")
	}
}

func writeTestNetCDF(t *testing.T, path string) {
	t.Helper()

	h := cdf.NewHeader([]string{"time", "lat", "lon"}, []int{2, 2, 3})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", AttrUnits, "seconds since 1970-01-01 00:00:00")
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", AttrUnits, "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", AttrUnits, "degrees_east")
	h.AddVariable("temp", []string{"time", "lat", "lon"}, []float32{0})
	h.AddAttribute("temp", AttrUnits, "K")
	h.Define()

	ff, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	defer ff.Close()

	f, err := cdf.Create(ff, h)
	if err != nil {
		t.Fatalf("failed to write netcdf header: %v", err)
	}

	write := func(name string, values interface{}) {
		end := f.Header.Lengths(name)
		start := make([]int, len(end))
		if _, err := f.Writer(name, start, end).Write(values); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	write("time", []float64{0, 3600})
	write("lat", []float64{10, 20})
	write("lon", []float64{100, 110, 120})
	temp := make([]float32, 12)
	for i := range temp {
		temp[i] = float32(i)
	}
	write("temp", temp)

	if err := cdf.UpdateNumRecs(ff); err != nil {
		t.Fatalf("failed to update record count: %v", err)
	}
}

func TestLoadNetCDFDimOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.nc")
	writeTestNetCDF(t, path)
	def := utils.DatasetDef{Name: "grid", Path: path}

	first, err := LoadNetCDF(def)
	if err != nil {
		t.Fatalf("LoadNetCDF failed: %v", err)
	}
	if len(first.Dims) != 3 {
		t.Fatalf("expected 3 dimensions, got %v", first.Dims)
	}
	if first.Shape["time"] != 2 || first.Shape["lat"] != 2 || first.Shape["lon"] != 3 {
		t.Errorf("unexpected shape: %v", first.Shape)
	}
	if first.Axes["T"] != "time" || first.Axes["Y"] != "lat" || first.Axes["X"] != "lon" {
		t.Errorf("unexpected axis map: %v", first.Axes)
	}
	if v, ok := first.Vars["temp"]; !ok || v.Data.Elements[5] != 5 {
		t.Errorf("unexpected temp variable: %+v", v)
	}

	// The dimension order must come from the file, not from map
	// iteration, so repeated loads agree.
	for i := 0; i < 5; i++ {
		ds, err := LoadNetCDF(def)
		if err != nil {
			t.Fatalf("LoadNetCDF failed: %v", err)
		}
		for j, d := range ds.Dims {
			if d != first.Dims[j] {
				t.Fatalf("dimension order changed between loads: %v vs %v", ds.Dims, first.Dims)
			}
		}
	}
}

func TestApplyMaskAndScale(t *testing.T) {
	data := []float64{2, -999, 4}
	attrs := map[string]string{
		"_FillValue":   "-999",
		"scale_factor": "0.5",
		"add_offset":   "10",
		AttrUnits:      "K",
	}
	dtype := applyMaskAndScale(data, attrs, DTypeInteger)
	if dtype != DTypeFloat {
		t.Errorf("expected float dtype after unpacking, got %v", dtype)
	}
	if data[0] != 11 || data[2] != 12 {
		t.Errorf("unexpected unpacked values: %v", data)
	}
	if !math.IsNaN(data[1]) {
		t.Errorf("fill value should become NaN, got %v", data[1])
	}
	for _, key := range []string{"_FillValue", "scale_factor", "add_offset"} {
		if _, ok := attrs[key]; ok {
			t.Errorf("attribute %s should be consumed", key)
		}
	}
	if attrs[AttrUnits] != "K" {
		t.Errorf("units attribute should survive, got %v", attrs)
	}

	data = []float64{5, -1}
	dtype = applyMaskAndScale(data, map[string]string{"missing_value": "-1"}, DTypeFloat)
	if dtype != DTypeFloat || !math.IsNaN(data[1]) || data[0] != 5 {
		t.Errorf("missing_value should mask without scaling: %v", data)
	}
}

func TestApplyMaskAndScaleUntouched(t *testing.T) {
	data := []float64{1, 2}
	attrs := map[string]string{AttrUnits: "K"}
	if dtype := applyMaskAndScale(data, attrs, DTypeInteger); dtype != DTypeInteger {
		t.Errorf("dtype should be unchanged without packing attributes, got %v", dtype)
	}
	if data[0] != 1 || data[1] != 2 {
		t.Errorf("data should be unchanged: %v", data)
	}
}

func TestResolveAxesFallbackNames(t *testing.T) {
	ds := New("axes")
	addCoord := func(name string, n int) {
		ds.Coords[name] = &Coord{Name: name, Dims: []string{name}, Data: sparse.ZerosDense(n), Attrs: map[string]string{}}
		ds.Shape[name] = n
		ds.Dims = append(ds.Dims, name)
	}
	addCoord("longitude", 4)
	addCoord("latitude", 3)
	addCoord("level", 2)

	if err := resolveAxes(ds); err != nil {
		t.Fatalf("resolveAxes failed: %v", err)
	}
	if ds.Axes["X"] != "longitude" || ds.Axes["Y"] != "latitude" || ds.Axes["Z"] != "level" {
		t.Errorf("unexpected axis map: %v", ds.Axes)
	}
}

func TestResolveAxesMissingX(t *testing.T) {
	ds := New("axes")
	ds.Coords["latitude"] = &Coord{Name: "latitude", Dims: []string{"latitude"}, Data: sparse.ZerosDense(3), Attrs: map[string]string{}}
	if err := resolveAxes(ds); err == nil {
		t.Errorf("expected error for missing X axis")
	}
}
