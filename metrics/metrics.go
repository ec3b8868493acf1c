// Package metrics collects per-request records and writes them as
// JSON lines for offline analysis.
package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"time"

	"github.com/ctessum/geom"

	"github.com/xpublish-community/edrserve/geometry"
	"github.com/xpublish-community/edrserve/utils"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

// QueryInfo describes the EDR query a request resolved to.
type QueryInfo struct {
	Collection   string  `json:"collection"`
	QueryType    string  `json:"query_type"`
	Format       string  `json:"format"`
	CRS          string  `json:"crs"`
	Geometry     string  `json:"geometry"`
	GeometrySRS  string  `json:"-"`
	GeometryArea float64 `json:"geometry_area"`
	NumPoints    int     `json:"num_points"`
}

type MetricsInfo struct {
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	URL         URLInfo       `json:"url"`
	RemoteAddr  string        `json:"remote_addr"`
	RemoteHost  string        `json:"remote_host"`
	RemotePort  string        `json:"remote_port"`
	HTTPStatus  int           `json:"http_status"`
	Query       *QueryInfo    `json:"query"`
}

type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	return &MetricsCollector{
		Info: &MetricsInfo{
			Query: &QueryInfo{},
		},
		logger: logger,
	}
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *MetricsInfo) ToJSON() (string, error) {
	i.normaliseNetworkAddr(i.RemoteAddr)
	err := i.normaliseURL(&i.URL)
	if err != nil {
		log.Printf("metrics: normaliseURL() error: %v", err)
	}
	err = i.normaliseGeometry()
	if err != nil {
		log.Printf("metrics: normaliseGeometry() error: %v", err)
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err = enc.Encode(i)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (i *MetricsInfo) normaliseNetworkAddr(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
		i.RemotePort = port
	} else {
		i.RemoteHost = addr
	}
}

func (i *MetricsInfo) normaliseURL(u *URLInfo) error {
	r, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}

	u.Host = r.Host
	u.Path = r.Path
	query, err := utils.ParseQuery(r.RawQuery)
	if err != nil {
		return err
	}

	if u.Query == nil {
		u.Query = make(map[string]string)
	}
	for k, v := range query {
		if len(v) == 1 {
			u.Query[k] = v[0]
		} else if len(v) > 1 {
			u.Query[k] = fmt.Sprintf("%v", v)
		} else {
			u.Query[k] = ""
		}
	}
	return nil
}

// normaliseGeometry reprojects the recorded query geometry to
// geographic coordinates and records the covered area, so records
// from collections in different grids aggregate cleanly.
func (i *MetricsInfo) normaliseGeometry() error {
	if i.Query == nil {
		return nil
	}
	if len(i.Query.Geometry) == 0 {
		i.Query.Geometry = "POLYGON EMPTY"
		return nil
	}

	g, err := geometry.ParseWKT(i.Query.Geometry)
	if err != nil {
		return err
	}

	srs := i.Query.GeometrySRS
	if srs == "" {
		srs = geometry.DefaultCRS
	}
	projected, err := geometry.ProjectGeometry(g, srs, geometry.DefaultCRS)
	if err != nil {
		return err
	}
	if poly, ok := projected.(geom.Polygonal); ok {
		i.Query.GeometryArea = poly.Area()
	}
	return nil
}
