package encoders

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/ctessum/sparse"
	"github.com/paulmach/orb/geojson"

	"github.com/xpublish-community/edrserve/dataset"
)

func newTestDataset() *dataset.Dataset {
	ds := dataset.New("air_temp")
	ds.Attrs["title"] = "Air Temperature"
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
		Attrs: map[string]string{dataset.AttrUnits: "K", dataset.AttrLongName: "Air Temperature"},
	}
	ds.VarOrder = []string{"air"}
	return ds
}

func TestFormats(t *testing.T) {
	formats, err := Formats("position")
	if err != nil {
		t.Fatalf("Formats failed: %v", err)
	}
	seen := make(map[string]bool)
	for _, f := range formats {
		seen[f] = true
	}
	if !seen["cf_covjson"] || !seen["csv"] || !seen["geojson"] {
		t.Errorf("missing position formats: %v", formats)
	}
	if seen["geotiff"] {
		t.Errorf("geotiff should not be a position format")
	}

	cube, err := Formats("cube")
	if err != nil {
		t.Fatalf("Formats failed: %v", err)
	}
	seen = make(map[string]bool)
	for _, f := range cube {
		seen[f] = true
	}
	if !seen["geotiff"] || seen["csv"] {
		t.Errorf("unexpected cube formats: %v", cube)
	}

	if _, err := Formats("radius"); err == nil {
		t.Errorf("expected error for unknown query type")
	}
}

func TestDescribe(t *testing.T) {
	descs, err := Describe("cube")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if descs["geotiff"] == "" {
		t.Errorf("geotiff has no description: %v", descs)
	}
	if _, ok := descs["csv"]; ok {
		t.Errorf("csv should not be a cube format")
	}
}

func TestLookup(t *testing.T) {
	if _, err := Lookup("position", ""); err != nil {
		t.Errorf("default format lookup failed: %v", err)
	}
	if _, err := Lookup("position", "geotiff"); err == nil {
		t.Errorf("expected error for geotiff position lookup")
	}
}

func TestEncodeCovJSON(t *testing.T) {
	ds := newTestDataset()
	ds.Vars["air"].Data.Elements[0] = math.NaN()

	resp, err := EncodeCovJSON(ds)
	if err != nil {
		t.Fatalf("EncodeCovJSON failed: %v", err)
	}
	if resp.ContentType != "application/prs.coverage+json" {
		t.Errorf("unexpected content type: %v", resp.ContentType)
	}

	var doc struct {
		Type   string `json:"type"`
		Domain struct {
			DomainType string `json:"domainType"`
			Axes       map[string]struct {
				Values []interface{} `json:"values"`
			} `json:"axes"`
		} `json:"domain"`
		Ranges map[string]struct {
			DataType  string        `json:"dataType"`
			AxisNames []string      `json:"axisNames"`
			Shape     []int         `json:"shape"`
			Values    []interface{} `json:"values"`
		} `json:"ranges"`
	}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if doc.Type != "Coverage" || doc.Domain.DomainType != "Grid" {
		t.Errorf("unexpected document head: %v %v", doc.Type, doc.Domain.DomainType)
	}
	if len(doc.Domain.Axes["x"].Values) != 4 {
		t.Errorf("expected 4 x values, got %v", doc.Domain.Axes["x"].Values)
	}
	if doc.Domain.Axes["t"].Values[0] != "1970-01-01T00:00:00" {
		t.Errorf("unexpected t value: %v", doc.Domain.Axes["t"].Values[0])
	}

	air := doc.Ranges["air"]
	if air.DataType != "float" || len(air.Values) != 24 {
		t.Errorf("unexpected range: %v %d", air.DataType, len(air.Values))
	}
	if air.Values[0] != nil {
		t.Errorf("expected null for NaN, got %v", air.Values[0])
	}
	if air.AxisNames[0] != "t" || air.AxisNames[1] != "y" || air.AxisNames[2] != "x" {
		t.Errorf("unexpected axis names: %v", air.AxisNames)
	}
}

func TestEncodeCSV(t *testing.T) {
	ds := newTestDataset()
	resp, err := EncodeCSV(ds)
	if err != nil {
		t.Fatalf("EncodeCSV failed: %v", err)
	}
	if resp.Disposition != "air_temp.csv" {
		t.Errorf("unexpected disposition: %v", resp.Disposition)
	}

	records, err := csv.NewReader(bytes.NewReader(resp.Body)).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(records) != 25 {
		t.Errorf("expected header plus 24 rows, got %d", len(records))
	}
	header := records[0]
	if header[0] != "time" || header[1] != "lat" || header[2] != "lon" || header[3] != "air" {
		t.Errorf("unexpected header: %v", header)
	}
	if records[1][0] != "1970-01-01T00:00:00" {
		t.Errorf("unexpected time cell: %v", records[1][0])
	}
	if records[1][3] != "0" {
		t.Errorf("unexpected value cell: %v", records[1][3])
	}
}

func TestEncodeGeoJSON(t *testing.T) {
	ds := newTestDataset()
	sel, err := ds.SelNearest("time", 0)
	if err != nil {
		t.Fatalf("SelNearest failed: %v", err)
	}
	resp, err := EncodeGeoJSON(sel)
	if err != nil {
		t.Fatalf("EncodeGeoJSON failed: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(resp.Body)
	if err != nil {
		t.Fatalf("invalid geojson: %v", err)
	}
	if len(fc.Features) != 12 {
		t.Errorf("expected 12 features, got %d", len(fc.Features))
	}
	f := fc.Features[0]
	pt := f.Point()
	if pt[0] != 100 || pt[1] != 10 {
		t.Errorf("unexpected geometry: %v", pt)
	}
	if _, ok := f.Properties["air"]; !ok {
		t.Errorf("expected air property, got %v", f.Properties)
	}
}

func TestEncodeNetCDFRoundTrip(t *testing.T) {
	ds := newTestDataset()
	resp, err := EncodeNetCDF(ds)
	if err != nil {
		t.Fatalf("EncodeNetCDF failed: %v", err)
	}
	if resp.ContentType != "application/x-netcdf" {
		t.Errorf("unexpected content type: %v", resp.ContentType)
	}

	tmp, err := os.CreateTemp("", "roundtrip-*.nc")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(resp.Body); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	nc, err := netcdf.Open(tmp.Name())
	if err != nil {
		t.Fatalf("written file is not readable: %v", err)
	}
	defer nc.Close()
	vr, err := nc.GetVariable("air")
	if err != nil {
		t.Fatalf("missing air variable: %v", err)
	}
	if len(vr.Dimensions) != 3 {
		t.Errorf("unexpected dimensions: %v", vr.Dimensions)
	}
}

func TestEncodeParquet(t *testing.T) {
	ds := newTestDataset()
	resp, err := EncodeParquet(ds)
	if err != nil {
		t.Fatalf("EncodeParquet failed: %v", err)
	}
	if !bytes.HasPrefix(resp.Body, []byte("PAR1")) || !bytes.HasSuffix(resp.Body, []byte("PAR1")) {
		t.Errorf("body is not a parquet file")
	}
}

func TestEncodeGeoTIFF(t *testing.T) {
	ds := newTestDataset()
	resp, err := EncodeGeoTIFF(ds)
	if err != nil {
		t.Fatalf("EncodeGeoTIFF failed: %v", err)
	}
	body := resp.Body
	if !bytes.HasPrefix(body, []byte{'I', 'I', 42, 0}) {
		t.Fatalf("body is not a little-endian tiff")
	}

	ifd := binary.LittleEndian.Uint32(body[4:8])
	count := binary.LittleEndian.Uint16(body[ifd : ifd+2])
	var width, samples uint32
	for i := 0; i < int(count); i++ {
		off := int(ifd) + 2 + i*12
		tag := binary.LittleEndian.Uint16(body[off : off+2])
		value := binary.LittleEndian.Uint32(body[off+8 : off+12])
		switch tag {
		case tagImageWidth:
			width = value
		case tagSamplesPerPixel:
			samples = value
		}
	}
	if width != 4 {
		t.Errorf("expected width 4, got %d", width)
	}
	// Two time steps become two bands.
	if samples != 2 {
		t.Errorf("expected 2 samples per pixel, got %d", samples)
	}
}

func TestEncodeGeoTIFFTooManyDims(t *testing.T) {
	ds := newTestDataset()
	data := sparse.ZerosDense(2, 2, 3, 4)
	ds.Dims = []string{"z", "time", "lat", "lon"}
	ds.Shape["z"] = 2
	ds.Vars["air"] = &dataset.Variable{
		Name: "air", Dims: []string{"z", "time", "lat", "lon"}, Data: data, DType: dataset.DTypeFloat, Attrs: map[string]string{},
	}
	_, err := EncodeGeoTIFF(ds)
	if !errors.Is(err, ErrUnsupportedLayout) {
		t.Errorf("expected ErrUnsupportedLayout for 4-D variable, got %v", err)
	}
}

func TestEncodeGeoTIFFDegenerateGrid(t *testing.T) {
	ds := newTestDataset()
	sel, err := ds.SelNearest("lon", 110)
	if err != nil {
		t.Fatalf("SelNearest failed: %v", err)
	}
	_, err = EncodeGeoTIFF(sel)
	if !errors.Is(err, ErrUnsupportedLayout) {
		t.Errorf("expected ErrUnsupportedLayout for a single-column grid, got %v", err)
	}
}
