package utils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// EDRParams contains the serialised version of the parameters
// contained in an EDR position, area or cube request.
type EDRParams struct {
	Coords     *string   `json:"coords,omitempty"`
	BBox       []float64 `json:"bbox,omitempty"`
	Z          *string   `json:"z,omitempty"`
	Datetime   *string   `json:"datetime,omitempty"`
	Parameters []string  `json:"parameters,omitempty"`
	CRS        *string   `json:"crs,omitempty"`
	Format     *string   `json:"f,omitempty"`
	Method     *string   `json:"method,omitempty"`
}

// EDRRegexpMap maps EDR request parameters to regular expressions
// for doing validation when parsing.
// --- These regexp do not avoid every case of
// --- invalid code but filter most of the malformed
// --- cases. Error free JSON deserialisation into types
// --- also validates correct values.
var EDRRegexpMap = map[string]string{
	"coords":         `^(?i)(?:POINT|MULTIPOINT|POLYGON|MULTIPOLYGON)\s*\(.+\)$`,
	"bbox":           `^[-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?(,[-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?){3}$`,
	"z":              `^[^,'"]+$`,
	"datetime":       `^[0-9.][^,'"]*$`,
	"parameter-name": `^[A-Za-z_][A-Za-z0-9_:\-]*(,\s*[A-Za-z_][A-Za-z0-9_:\-]*)*$`,
	"crs":            `^(?i)(?:[A-Z]+):(?:[A-Z0-9]+)$`,
	"f":              `^[A-Za-z0-9_]+$`,
	"method":         `^nearest$|^linear$`,
}

func CompileEDRRegexMap() map[string]*regexp.Regexp {
	REMap := make(map[string]*regexp.Regexp)
	for key, re := range EDRRegexpMap {
		REMap[key] = regexp.MustCompile(re)
	}

	return REMap
}

// EDRReservedParams is the set of query parameters consumed by the
// EDR queries themselves. Anything else in the query string is
// treated as a free-form selector along the dataset dimension of the
// same name.
var EDRReservedParams = map[string]bool{
	"coords":         true,
	"bbox":           true,
	"z":              true,
	"datetime":       true,
	"parameter-name": true,
	"crs":            true,
	"f":              true,
	"method":         true,
}

// EDRParamsChecker checks and marshals the content of the parameters
// of an EDR request into an EDRParams struct.
func EDRParamsChecker(params map[string][]string, compREMap map[string]*regexp.Regexp) (EDRParams, error) {

	jsonFields := []string{}

	if coords, coordsOK := params["coords"]; coordsOK {
		if !compREMap["coords"].MatchString(coords[0]) {
			return EDRParams{}, fmt.Errorf("Invalid coords parameter, expecting WKT POINT, MULTIPOINT, POLYGON or MULTIPOLYGON")
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"coords":%q`, coords[0]))
	}

	if bbox, bboxOK := params["bbox"]; bboxOK {
		if !compREMap["bbox"].MatchString(bbox[0]) {
			return EDRParams{}, fmt.Errorf("Invalid bbox parameter, expecting min_x,min_y,max_x,max_y")
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"bbox":[%s]`, bbox[0]))
	}

	if z, zOK := params["z"]; zOK {
		if !compREMap["z"].MatchString(z[0]) {
			return EDRParams{}, fmt.Errorf("Invalid z parameter")
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"z":%q`, z[0]))
	}

	if datetime, datetimeOK := params["datetime"]; datetimeOK {
		if !compREMap["datetime"].MatchString(datetime[0]) {
			return EDRParams{}, fmt.Errorf("Invalid datetime parameter")
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"datetime":%q`, datetime[0]))
	}

	if names, namesOK := params["parameter-name"]; namesOK {
		if !compREMap["parameter-name"].MatchString(names[0]) {
			return EDRParams{}, fmt.Errorf("Invalid parameter-name parameter")
		}
		var quoted []string
		for _, name := range strings.Split(names[0], ",") {
			quoted = append(quoted, fmt.Sprintf("%q", strings.TrimSpace(name)))
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"parameters":[%s]`, strings.Join(quoted, ",")))
	}

	if crs, crsOK := params["crs"]; crsOK {
		if !compREMap["crs"].MatchString(crs[0]) {
			return EDRParams{}, fmt.Errorf("Invalid crs parameter")
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"crs":%q`, crs[0]))
	}

	if format, formatOK := params["f"]; formatOK {
		if !compREMap["f"].MatchString(format[0]) {
			return EDRParams{}, fmt.Errorf("Invalid f parameter")
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"f":%q`, format[0]))
	}

	if method, methodOK := params["method"]; methodOK {
		if !compREMap["method"].MatchString(method[0]) {
			return EDRParams{}, fmt.Errorf("Invalid method parameter, options are 'nearest' or 'linear'")
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"method":%q`, method[0]))
	}

	jsonParams := fmt.Sprintf("{%s}", strings.Join(jsonFields, ","))

	var edrParams EDRParams
	err := json.Unmarshal([]byte(jsonParams), &edrParams)
	if err != nil {
		return edrParams, err
	}

	if edrParams.Datetime != nil {
		if _, err := ParseDatetimeBounds(*edrParams.Datetime); err != nil {
			return edrParams, err
		}
	}

	return edrParams, nil
}

// GetMethod returns the requested selection method, defaulting to
// nearest.
func (p *EDRParams) GetMethod() string {
	if p.Method == nil {
		return "nearest"
	}
	return *p.Method
}

// GetCRS returns the requested coordinate reference system,
// defaulting to EPSG:4326.
func (p *EDRParams) GetCRS() string {
	if p.CRS == nil {
		return "EPSG:4326"
	}
	return *p.CRS
}

// ExtraDimSelectors extracts the free-form dimension selectors from a
// query, dropping the reserved EDR parameters. Only the first value
// of repeated keys is honoured.
func ExtraDimSelectors(query map[string][]string) map[string]string {
	selectors := make(map[string]string)
	for key, values := range query {
		if EDRReservedParams[key] || len(values) == 0 {
			continue
		}
		selectors[key] = values[0]
	}
	return selectors
}

// ParseDatetimeBounds splits an EDR datetime parameter into its
// bounds. A single instant yields one entry; "start/end" yields two,
// where an ".." bound is returned as nil for an open interval. More
// than two bounds is an error.
func ParseDatetimeBounds(value string) ([]*time.Time, error) {
	parts := strings.Split(value, "/")
	if len(parts) > 2 {
		return nil, fmt.Errorf("Invalid datetimes submitted - %v", parts)
	}

	bounds := make([]*time.Time, len(parts))
	for i, part := range parts {
		if part == ".." && len(parts) == 2 {
			continue
		}
		t, err := iso8601.ParseString(part)
		if err != nil {
			return nil, fmt.Errorf("Invalid datetime (%v)", err)
		}
		tt := t.UTC()
		bounds[i] = &tt
	}
	return bounds, nil
}
