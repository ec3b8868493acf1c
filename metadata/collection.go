// Package metadata builds the OGC EDR collection documents served
// alongside the data queries.
package metadata

import (
	"fmt"
	"time"

	"github.com/xpublish-community/edrserve/dataset"
	"github.com/xpublish-community/edrserve/geometry"
)

// CRSDetails describes one coordinate reference system a collection
// accepts.
type CRSDetails struct {
	CRS string `json:"crs"`
	WKT string `json:"wkt"`
}

// VariablesMetadata describes the template variables of a data query
// link.
type VariablesMetadata struct {
	Title               string                 `json:"title,omitempty"`
	Description         string                 `json:"description,omitempty"`
	QueryType           string                 `json:"query_type,omitempty"`
	Coords              map[string]interface{} `json:"coords,omitempty"`
	BBox                map[string]interface{} `json:"bbox,omitempty"`
	OutputFormats       []string               `json:"output_formats,omitempty"`
	DefaultOutputFormat string                 `json:"default_output_format,omitempty"`
	CRSDetails          []CRSDetails           `json:"crs_details,omitempty"`
}

// Link is an OGC API hyperlink.
type Link struct {
	Href      string             `json:"href"`
	Rel       string             `json:"rel"`
	Type      string             `json:"type,omitempty"`
	HrefLang  string             `json:"hreflang,omitempty"`
	Title     string             `json:"title,omitempty"`
	Templated bool               `json:"templated,omitempty"`
	Variables *VariablesMetadata `json:"variables,omitempty"`
}

// SpatialExtent is the horizontal coverage of a collection.
type SpatialExtent struct {
	BBox [][]float64 `json:"bbox"`
	CRS  string      `json:"crs"`
}

// TemporalExtent is the time coverage of a collection.
type TemporalExtent struct {
	Interval []string `json:"interval"`
	Values   []string `json:"values"`
	TRS      string   `json:"trs"`
}

// VerticalExtent is the vertical coverage of a collection.
type VerticalExtent struct {
	Interval []float64 `json:"interval"`
	Values   []float64 `json:"values"`
	VRS      string    `json:"vrs"`
}

// Extent aggregates the spatial, temporal and vertical coverage.
type Extent struct {
	Spatial  SpatialExtent   `json:"spatial"`
	Temporal *TemporalExtent `json:"temporal,omitempty"`
	Vertical *VerticalExtent `json:"vertical,omitempty"`
}

// EDRQueryMetadata wraps the link describing one query type.
type EDRQueryMetadata struct {
	Link Link `json:"link"`
}

// DataQueries lists the query types a collection supports.
type DataQueries struct {
	Position *EDRQueryMetadata `json:"position,omitempty"`
	Area     *EDRQueryMetadata `json:"area,omitempty"`
	Cube     *EDRQueryMetadata `json:"cube,omitempty"`
}

// SymbolMetadata is the symbol part of a unit description.
type SymbolMetadata struct {
	Value string `json:"value,omitempty"`
	Type  string `json:"type,omitempty"`
}

// UnitMetadata describes the unit of a parameter.
type UnitMetadata struct {
	Label  string         `json:"label"`
	Symbol SymbolMetadata `json:"symbol"`
}

// ObservedProperty names what a parameter measures.
type ObservedProperty struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Parameter describes one queryable data variable.
type Parameter struct {
	Type             string           `json:"type"`
	Label            string           `json:"label,omitempty"`
	Description      string           `json:"description,omitempty"`
	DataType         string           `json:"data-type,omitempty"`
	Unit             *UnitMetadata    `json:"unit,omitempty"`
	ObservedProperty ObservedProperty `json:"observedProperty"`
}

// Collection is the OGC EDR collection document.
type Collection struct {
	Links          []Link               `json:"links"`
	ID             string               `json:"id"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	Keywords       []string             `json:"keywords"`
	Extent         Extent               `json:"extent"`
	DataQueries    DataQueries          `json:"data_queries"`
	CRS            []string             `json:"crs"`
	OutputFormats  []string             `json:"output_formats"`
	ParameterNames map[string]Parameter `json:"parameter_names"`
}

const (
	trsGregorian = `TIMECRS["DateTime",TDATUM["Gregorian Calendar"],CS[TemporalDateTime,1],AXIS["Time (T)",unspecified]]`
	timeLayout   = "2006-01-02T15:04:05"
)

// BuildCollection assembles the collection document for one dataset.
func BuildCollection(ds *dataset.Dataset, id string, keywords []string, outputFormats []string) (*Collection, error) {
	ext, err := buildExtent(ds)
	if err != nil {
		return nil, err
	}

	title := ds.Attrs["title"]
	if title == "" {
		title = id
	}
	description := ds.Attrs["description"]
	if description == "" {
		description = "no description"
	}
	if keywords == nil {
		keywords = []string{}
	}

	supportedCRS := []CRSDetails{{CRS: ds.CRS, WKT: geometry.WKT(ds.CRS)}}
	if !geometry.SameCRS(ds.CRS, geometry.DefaultCRS) {
		supportedCRS = append(supportedCRS, CRSDetails{
			CRS: geometry.DefaultCRS,
			WKT: geometry.WKT(geometry.DefaultCRS),
		})
	}

	return &Collection{
		Links:       []Link{},
		ID:          id,
		Title:       title,
		Description: description,
		Keywords:    keywords,
		Extent:      *ext,
		DataQueries: DataQueries{
			Position: positionQuery(id, outputFormats, supportedCRS),
			Area:     areaQuery(id, outputFormats, supportedCRS),
			Cube:     cubeQuery(id, outputFormats, supportedCRS),
		},
		CRS:            []string{ds.CRS},
		OutputFormats:  outputFormats,
		ParameterNames: buildParameters(ds),
	}, nil
}

func buildExtent(ds *dataset.Dataset) (*Extent, error) {
	// Extents are always reported in geographic coordinates, which
	// every client can consume.
	minX, minY, maxX, maxY, err := geometry.GeographicBounds(ds)
	if err != nil {
		return nil, err
	}
	ext := &Extent{
		Spatial: SpatialExtent{
			BBox: [][]float64{{minX, minY, maxX, maxY}},
			CRS:  geometry.DefaultCRS,
		},
	}

	if tc, ok := ds.AxisCoord("T"); ok {
		values := tc.Values()
		lo, hi := values[0], values[0]
		for _, v := range values[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		tMin := dataset.TimeValue(lo).Format(timeLayout)
		tMax := dataset.TimeValue(hi).Format(timeLayout)
		ext.Temporal = &TemporalExtent{
			Interval: []string{tMin, tMax},
			Values:   []string{tMin + "/" + tMax},
			TRS:      trsGregorian,
		}
	}

	if zc, ok := ds.AxisCoord("Z"); ok {
		values := zc.Values()
		lo, hi := values[0], values[0]
		for _, v := range values[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		units := zc.Attrs[dataset.AttrUnits]
		if units == "" {
			units = "unknown"
		}
		positive := zc.Attrs[dataset.AttrPositive]
		if positive == "" {
			positive = "up"
		}
		ext.Vertical = &VerticalExtent{
			Interval: []float64{lo, hi},
			Values:   append([]float64{}, values...),
			VRS:      fmt.Sprintf("VERTCRS[VERT_CS['unknown'],AXIS['Z',%s],UNIT[%s,1]]", positive, units),
		}
	}
	return ext, nil
}

func buildParameters(ds *dataset.Dataset) map[string]Parameter {
	params := make(map[string]Parameter, len(ds.Vars))
	for _, name := range ds.VarOrder {
		v := ds.Vars[name]
		label := v.Attrs[dataset.AttrStandardName]
		if label == "" {
			label = name
		}
		params[name] = Parameter{
			Type:        "Parameter",
			Label:       label,
			Description: v.Attrs[dataset.AttrLongName],
			DataType:    v.DType,
			Unit: &UnitMetadata{
				Label:  v.Attrs[dataset.AttrUnits],
				Symbol: SymbolMetadata{Value: v.Attrs[dataset.AttrUnits], Type: "unit"},
			},
			ObservedProperty: ObservedProperty{
				Label:       label,
				Description: v.Attrs[dataset.AttrLongName],
			},
		}
	}
	return params
}

func positionQuery(id string, outputFormats []string, crs []CRSDetails) *EDRQueryMetadata {
	return &EDRQueryMetadata{
		Link: Link{
			Href:      fmt.Sprintf("/edr/%s/position?coords={coords}", id),
			HrefLang:  "en",
			Rel:       "data",
			Templated: true,
			Variables: &VariablesMetadata{
				Title:       "Position query",
				Description: "Returns position data based on WKT `POINT(lon lat)` or `MULTIPOINT(lon lat, ...)` coordinates",
				QueryType:   "position",
				Coords: map[string]interface{}{
					"type":        "string",
					"description": "WKT `POINT(lon lat)` or `MULTIPOINT(lon lat, ...)` coordinates",
					"required":    true,
				},
				OutputFormats:       outputFormats,
				DefaultOutputFormat: "cf_covjson",
				CRSDetails:          crs,
			},
		},
	}
}

func areaQuery(id string, outputFormats []string, crs []CRSDetails) *EDRQueryMetadata {
	return &EDRQueryMetadata{
		Link: Link{
			Href:      fmt.Sprintf("/edr/%s/area?coords={coords}", id),
			HrefLang:  "en",
			Rel:       "data",
			Templated: true,
			Variables: &VariablesMetadata{
				Title:       "Area query",
				Description: "Returns data in a polygon based on WKT `POLYGON(lon lat, ...)` coordinates",
				QueryType:   "area",
				Coords: map[string]interface{}{
					"type":        "string",
					"description": "WKT `POLYGON(lon lat, ...)` coordinates",
					"required":    true,
				},
				OutputFormats:       outputFormats,
				DefaultOutputFormat: "cf_covjson",
				CRSDetails:          crs,
			},
		},
	}
}

func cubeQuery(id string, outputFormats []string, crs []CRSDetails) *EDRQueryMetadata {
	return &EDRQueryMetadata{
		Link: Link{
			Href:      fmt.Sprintf("/edr/%s/cube?bbox={bbox}", id),
			HrefLang:  "en",
			Rel:       "data",
			Templated: true,
			Variables: &VariablesMetadata{
				Title:       "Cube query",
				Description: "Returns data in a cube based on a bounding box, with optional elevation",
				QueryType:   "cube",
				BBox: map[string]interface{}{
					"type":        "string",
					"description": "Bounding box in the format `min_x,min_y,max_x,max_y`",
					"required":    true,
				},
				OutputFormats:       outputFormats,
				DefaultOutputFormat: "cf_covjson",
				CRSDetails:          crs,
			},
		},
	}
}

// LandingPage is the OGC API landing document served at the service
// root.
type LandingPage struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Links       []Link `json:"links"`
}

// BuildLandingPage lists the collections the service exposes.
func BuildLandingPage(title, description string, collections []string) *LandingPage {
	links := []Link{
		{Href: "/", Rel: "self", Type: "application/json", Title: "Landing page"},
	}
	for _, c := range collections {
		links = append(links, Link{
			Href:  fmt.Sprintf("/edr/%s/", c),
			Rel:   "collection",
			Type:  "application/json",
			Title: c,
		})
	}
	return &LandingPage{Title: title, Description: description, Links: links}
}

// FormatTime renders a time for temporal extents.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
