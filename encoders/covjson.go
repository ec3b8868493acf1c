package encoders

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/xpublish-community/edrserve/dataset"

	"github.com/xpublish-community/edrserve/geometry"
)

const covJSONContentType = "application/prs.coverage+json"

const covTimeLayout = "2006-01-02T15:04:05"

type covAxis struct {
	Values []interface{} `json:"values"`
}

type covDomain struct {
	Type        string             `json:"type"`
	DomainType  string             `json:"domainType"`
	Axes        map[string]covAxis `json:"axes"`
	Referencing []covReferencing   `json:"referencing"`
}

type covReferencing struct {
	Coordinates []string               `json:"coordinates"`
	System      map[string]interface{} `json:"system"`
}

type covParameter struct {
	Type             string            `json:"type"`
	Description      map[string]string `json:"description,omitempty"`
	Unit             *covUnit          `json:"unit,omitempty"`
	ObservedProperty covObserved       `json:"observedProperty"`
}

type covUnit struct {
	Label map[string]string `json:"label"`
}

type covObserved struct {
	ID    string            `json:"id,omitempty"`
	Label map[string]string `json:"label,omitempty"`
}

type covRange struct {
	Type      string        `json:"type"`
	DataType  string        `json:"dataType"`
	AxisNames []string      `json:"axisNames"`
	Shape     []int         `json:"shape"`
	Values    []interface{} `json:"values"`
}

type covJSON struct {
	Type       string                  `json:"type"`
	Domain     covDomain               `json:"domain"`
	Parameters map[string]covParameter `json:"parameters"`
	Ranges     map[string]covRange     `json:"ranges"`
}

// EncodeCovJSON renders a selection as a CoverageJSON coverage, the
// default output format.
func EncodeCovJSON(ds *dataset.Dataset) (*Response, error) {
	doc := covJSON{
		Type: "Coverage",
		Domain: covDomain{
			Type:       "Domain",
			DomainType: "Grid",
			Axes:       make(map[string]covAxis),
		},
		Parameters: make(map[string]covParameter),
		Ranges:     make(map[string]covRange),
	}

	axisID := covAxisIDs(ds)

	names := make([]string, 0, len(ds.Coords))
	for name := range ds.Coords {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := ds.Coords[name]
		values := make([]interface{}, len(c.Data.Elements))
		for i, v := range c.Data.Elements {
			switch {
			case c.IsTime:
				values[i] = dataset.TimeValue(v).Format(covTimeLayout)
			case math.IsNaN(v):
				values[i] = nil
			default:
				values[i] = v
			}
		}
		doc.Domain.Axes[axisID[name]] = covAxis{Values: values}
	}

	doc.Domain.Referencing = covReferencingFor(ds, axisID)

	for _, name := range ds.VarOrder {
		v := ds.Vars[name]

		param := covParameter{Type: "Parameter"}
		if sn := v.Attrs[dataset.AttrStandardName]; sn != "" {
			param.ObservedProperty.ID = sn
		}
		if ln := v.Attrs[dataset.AttrLongName]; ln != "" {
			param.Description = map[string]string{"en": ln}
			param.ObservedProperty.Label = map[string]string{"en": ln}
		}
		if u := v.Attrs[dataset.AttrUnits]; u != "" {
			param.Unit = &covUnit{Label: map[string]string{"en": u}}
		}
		doc.Parameters[name] = param

		values := make([]interface{}, len(v.Data.Elements))
		for i, val := range v.Data.Elements {
			if math.IsNaN(val) {
				values[i] = nil
			} else if v.DType == dataset.DTypeInteger {
				values[i] = int64(val)
			} else {
				values[i] = val
			}
		}
		axisNames := make([]string, len(v.Dims))
		for i, d := range v.Dims {
			if c, ok := ds.Coords[d]; ok {
				axisNames[i] = axisID[c.Name]
			} else {
				axisNames[i] = d
			}
		}
		doc.Ranges[name] = covRange{
			Type:      "NdArray",
			DataType:  v.DType,
			AxisNames: axisNames,
			Shape:     v.Data.Shape,
			Values:    values,
		}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return &Response{Body: body, ContentType: covJSONContentType}, nil
}

// covAxisIDs maps coordinate names to CoverageJSON axis identifiers:
// the lowercase CF axis letter where a coordinate backs an axis, the
// coordinate name otherwise. Auxiliary coordinates produced by
// reprojection claim the x/y identifiers, displacing the native grid
// coordinates to their own names.
func covAxisIDs(ds *dataset.Dataset) map[string]string {
	ids := make(map[string]string, len(ds.Coords))
	claimed := make(map[string]bool)

	for name, c := range ds.Coords {
		if c.IsIndex() {
			continue
		}
		switch c.Attrs[dataset.AttrStandardName] {
		case "longitude", "projection_x_coordinate":
			ids[name] = "x"
			claimed["x"] = true
		case "latitude", "projection_y_coordinate":
			ids[name] = "y"
			claimed["y"] = true
		default:
			ids[name] = name
		}
	}

	letters := map[string]string{"X": "x", "Y": "y", "Z": "z", "T": "t"}
	for axis, dim := range ds.Axes {
		if _, ok := ds.Coords[dim]; !ok {
			continue
		}
		id := letters[axis]
		if id == "" || claimed[id] {
			ids[dim] = dim
			continue
		}
		ids[dim] = id
		claimed[id] = true
	}

	for name := range ds.Coords {
		if _, ok := ids[name]; !ok {
			ids[name] = name
		}
	}
	return ids
}

func covReferencingFor(ds *dataset.Dataset, axisID map[string]string) []covReferencing {
	var refs []covReferencing

	system := map[string]interface{}{"type": "ProjectedCRS", "id": ds.CRS}
	if geometry.IsGeographic(ds.CRS) {
		system["type"] = "GeographicCRS"
	}
	refs = append(refs, covReferencing{
		Coordinates: []string{"x", "y"},
		System:      system,
	})

	if tDim, ok := ds.AxisDim("T"); ok {
		if _, ok := ds.Coords[tDim]; ok {
			refs = append(refs, covReferencing{
				Coordinates: []string{axisID[tDim]},
				System: map[string]interface{}{
					"type":     "TemporalRS",
					"calendar": "Gregorian",
				},
			})
		}
	}
	return refs
}
