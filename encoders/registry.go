// Package encoders renders selected datasets into the output formats
// the data queries accept.
package encoders

import (
	"errors"
	"fmt"
	"sort"

	"github.com/xpublish-community/edrserve/dataset"
)

// DefaultFormat is used when a query has no f parameter.
const DefaultFormat = "cf_covjson"

// ErrUnsupportedLayout reports a selection whose shape the requested
// format cannot represent, e.g. a raster format over a grid collapsed
// to a single row. The request is at fault, not the server.
var ErrUnsupportedLayout = errors.New("unsupported dataset layout")

// Response is an encoded query result ready to serve.
type Response struct {
	Body        []byte
	ContentType string
	// Disposition carries the attachment file name for file formats,
	// empty for inline documents.
	Disposition string
}

// EncodeFunc renders one selected dataset.
type EncodeFunc func(ds *dataset.Dataset) (*Response, error)

// Tabular formats need the point or squeezed layout produced by
// position and area queries; grid formats need the slab layout
// produced by cube queries.
var positionFormats = map[string]EncodeFunc{
	"cf_covjson": EncodeCovJSON,
	"csv":        EncodeCSV,
	"geojson":    EncodeGeoJSON,
	"nc":         EncodeNetCDF,
	"netcdf4":    EncodeNetCDF,
	"parquet":    EncodeParquet,
	"geoparquet": EncodeParquet,
}

var areaFormats = map[string]EncodeFunc{
	"cf_covjson": EncodeCovJSON,
	"csv":        EncodeCSV,
	"geojson":    EncodeGeoJSON,
	"nc":         EncodeNetCDF,
	"netcdf4":    EncodeNetCDF,
	"parquet":    EncodeParquet,
	"geoparquet": EncodeParquet,
}

var cubeFormats = map[string]EncodeFunc{
	"cf_covjson": EncodeCovJSON,
	"nc":         EncodeNetCDF,
	"netcdf4":    EncodeNetCDF,
	"parquet":    EncodeParquet,
	"geoparquet": EncodeParquet,
	"geotiff":    EncodeGeoTIFF,
}

var formatDescriptions = map[string]string{
	"cf_covjson": "CoverageJSON document",
	"csv":        "Tabular comma separated values",
	"geojson":    "GeoJSON FeatureCollection of points",
	"nc":         "Classic NetCDF file",
	"netcdf4":    "Classic NetCDF file",
	"parquet":    "Apache Parquet columnar file",
	"geoparquet": "Apache Parquet columnar file",
	"geotiff":    "Georeferenced TIFF raster",
}

func formatTable(queryType string) (map[string]EncodeFunc, error) {
	switch queryType {
	case "position":
		return positionFormats, nil
	case "area":
		return areaFormats, nil
	case "cube":
		return cubeFormats, nil
	}
	return nil, fmt.Errorf("unknown query type: %v", queryType)
}

// Formats lists the output formats of one query type in stable order.
func Formats(queryType string) ([]string, error) {
	table, err := formatTable(queryType)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Describe maps every output format of one query type to its
// description, the document served by the formats endpoints.
func Describe(queryType string) (map[string]string, error) {
	table, err := formatTable(queryType)
	if err != nil {
		return nil, err
	}
	descs := make(map[string]string, len(table))
	for name := range table {
		descs[name] = formatDescriptions[name]
	}
	return descs, nil
}

// Lookup resolves the encoder for a query type and format name. An
// empty format selects the default.
func Lookup(queryType, format string) (EncodeFunc, error) {
	table, err := formatTable(queryType)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = DefaultFormat
	}
	enc, ok := table[format]
	if !ok {
		return nil, fmt.Errorf("%s is not a valid format for %s queries, see /edr/%s/formats", format, queryType, queryType)
	}
	return enc, nil
}
