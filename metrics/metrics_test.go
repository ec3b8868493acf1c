package metrics

import (
	"strings"
	"testing"
)

func TestToJSON(t *testing.T) {
	info := &MetricsInfo{
		RemoteAddr: "10.0.0.1:40000",
		URL: URLInfo{
			RawURL: "http://example.com/edr/sst/position?coords=POINT(1 2)&f=csv",
		},
		HTTPStatus: 200,
		Query: &QueryInfo{
			Collection: "sst",
			QueryType:  "position",
			Format:     "csv",
			Geometry:   "POINT(1 2)",
		},
	}

	out, err := info.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	if info.RemoteHost != "10.0.0.1" || info.RemotePort != "40000" {
		t.Errorf("remote addr not split: %v %v", info.RemoteHost, info.RemotePort)
	}
	if info.URL.Path != "/edr/sst/position" {
		t.Errorf("unexpected path: %v", info.URL.Path)
	}
	if info.URL.Query["f"] != "csv" {
		t.Errorf("unexpected query map: %v", info.URL.Query)
	}
	if !strings.Contains(out, `"collection":"sst"`) {
		t.Errorf("missing query info in output: %v", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("records are line oriented")
	}
}

func TestNormaliseGeometryArea(t *testing.T) {
	info := &MetricsInfo{
		Query: &QueryInfo{
			Geometry:    "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))",
			GeometrySRS: "EPSG:4326",
		},
	}
	if err := info.normaliseGeometry(); err != nil {
		t.Fatalf("normaliseGeometry failed: %v", err)
	}
	if info.Query.GeometryArea < 0.99 || info.Query.GeometryArea > 1.01 {
		t.Errorf("unexpected area: %v", info.Query.GeometryArea)
	}
}

func TestNormaliseGeometryEmpty(t *testing.T) {
	info := &MetricsInfo{Query: &QueryInfo{}}
	if err := info.normaliseGeometry(); err != nil {
		t.Fatalf("normaliseGeometry failed: %v", err)
	}
	if info.Query.Geometry != "POLYGON EMPTY" {
		t.Errorf("expected POLYGON EMPTY, got %v", info.Query.Geometry)
	}
}
