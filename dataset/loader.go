package dataset

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/ctessum/sparse"
	"github.com/relvacode/iso8601"

	"github.com/xpublish-community/edrserve/utils"
)

// LoadNetCDF reads one NetCDF file into an in-memory Dataset,
// resolving CF axes, converting time coordinates to Unix seconds and
// evaluating any configured derived parameters.
func LoadNetCDF(def utils.DatasetDef) (*Dataset, error) {
	nc, err := netcdf.Open(def.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", def.Path, err)
	}
	defer nc.Close()

	ds := New(def.Name)
	if attrs := nc.Attributes(); attrs != nil {
		for _, key := range attrs.Keys() {
			if val, has := attrs.Get(key); has {
				ds.Attrs[key] = stringifyAttr(val)
			}
		}
	}
	if len(def.Title) > 0 {
		ds.Attrs["title"] = def.Title
	}
	if len(def.Abstract) > 0 {
		ds.Attrs["description"] = def.Abstract
	}

	type rawVar struct {
		name  string
		dims  []string
		shape []int
		data  []float64
		dtype string
		attrs map[string]string
	}

	var raws []*rawVar
	dimSizes := make(map[string]int)
	// First-encounter order keeps ds.Dims stable across process runs.
	var dimOrder []string
	for _, name := range nc.ListVariables() {
		vr, err := nc.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read variable %s: %v", name, err)
		}

		data, shape, dtype, err := flattenValues(vr.Values)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %v", name, err)
		}

		attrs := make(map[string]string)
		if vr.Attributes != nil {
			for _, key := range vr.Attributes.Keys() {
				if val, has := vr.Attributes.Get(key); has {
					attrs[key] = stringifyAttr(val)
				}
			}
		}

		dtype = applyMaskAndScale(data, attrs, dtype)

		dims := vr.Dimensions
		if len(dims) != len(shape) {
			return nil, fmt.Errorf("variable %s: %d dimensions for rank %d data", name, len(dims), len(shape))
		}
		for i, d := range dims {
			if prev, ok := dimSizes[d]; ok {
				if prev != shape[i] {
					return nil, fmt.Errorf("dimension %s has conflicting lengths %d and %d", d, prev, shape[i])
				}
				continue
			}
			dimSizes[d] = shape[i]
			dimOrder = append(dimOrder, d)
		}

		raws = append(raws, &rawVar{name: name, dims: dims, shape: shape, data: data, dtype: dtype, attrs: attrs})
	}

	for _, d := range dimOrder {
		ds.Shape[d] = dimSizes[d]
		ds.Dims = append(ds.Dims, d)
	}

	for _, rv := range raws {
		arr := sparse.ZerosDense(rv.shape...)
		copy(arr.Elements, rv.data)

		if len(rv.dims) == 1 && rv.dims[0] == rv.name {
			coord := &Coord{Name: rv.name, Dims: rv.dims, Data: arr, Attrs: rv.attrs}
			if isTimeUnits(rv.attrs[AttrUnits]) {
				if err := convertCFTime(coord); err != nil {
					return nil, fmt.Errorf("coordinate %s: %v", rv.name, err)
				}
			}
			ds.Coords[rv.name] = coord
			continue
		}
		ds.Vars[rv.name] = &Variable{Name: rv.name, Dims: rv.dims, Data: arr, DType: rv.dtype, Attrs: rv.attrs}
		ds.VarOrder = append(ds.VarOrder, rv.name)
	}

	if err := resolveAxes(ds); err != nil {
		return nil, err
	}

	if err := resolveCRS(ds, def.CRS); err != nil {
		return nil, err
	}

	for _, dp := range def.DerivedParams {
		if err := addDerivedParam(ds, dp); err != nil {
			return nil, err
		}
	}

	return ds, nil
}

// resolveAxes fills the CF axis map from coordinate attributes,
// falling back to conventional coordinate names.
func resolveAxes(ds *Dataset) error {
	for name, coord := range ds.Coords {
		if !coord.IsIndex() {
			continue
		}
		axis := ""
		switch strings.ToUpper(coord.Attrs[AttrAxis]) {
		case "X", "Y", "Z", "T":
			axis = strings.ToUpper(coord.Attrs[AttrAxis])
		}
		if axis == "" {
			switch coord.Attrs[AttrStandardName] {
			case "longitude", "projection_x_coordinate":
				axis = "X"
			case "latitude", "projection_y_coordinate":
				axis = "Y"
			case "time":
				axis = "T"
			case "height", "depth", "altitude", "air_pressure":
				axis = "Z"
			}
		}
		if axis == "" {
			switch strings.ToLower(name) {
			case "lon", "longitude", "x":
				axis = "X"
			case "lat", "latitude", "y":
				axis = "Y"
			case "time", "t":
				axis = "T"
			case "z", "level", "height", "depth", "elevation":
				axis = "Z"
			}
		}
		if axis == "" && coord.IsTime {
			axis = "T"
		}
		if axis != "" {
			if prev, ok := ds.Axes[axis]; ok && prev != name {
				return fmt.Errorf("multiple %s axes found: %s, %s", axis, prev, name)
			}
			ds.Axes[axis] = name
		}
	}

	if _, ok := ds.Axes["X"]; !ok {
		return fmt.Errorf("dataset has no identifiable X axis")
	}
	if _, ok := ds.Axes["Y"]; !ok {
		return fmt.Errorf("dataset has no identifiable Y axis")
	}
	return nil
}

// resolveCRS decides the native CRS of the grid: explicit config
// override first, else WGS84 when the horizontal axes are
// latitude/longitude.
func resolveCRS(ds *Dataset, override string) error {
	if len(strings.TrimSpace(override)) > 0 {
		ds.CRS = override
		return nil
	}
	x, _ := ds.AxisCoord("X")
	y, _ := ds.AxisCoord("Y")
	if isLonLat(x) && isLonLat(y) {
		ds.CRS = "EPSG:4326"
		return nil
	}
	return fmt.Errorf("unknown coordinate system for %s: set crs in the dataset definition", ds.Name)
}

func isLonLat(c *Coord) bool {
	if c == nil {
		return false
	}
	switch c.Attrs[AttrStandardName] {
	case "latitude", "longitude":
		return true
	}
	units := strings.ToLower(c.Attrs[AttrUnits])
	if strings.HasPrefix(units, "degrees_") || units == "degrees" {
		return true
	}
	switch strings.ToLower(c.Name) {
	case "lat", "latitude", "lon", "longitude":
		return true
	}
	return false
}

func addDerivedParam(ds *Dataset, dp utils.DerivedParam) error {
	pe, err := utils.ParseParamExpression(dp)
	if err != nil {
		return err
	}
	if _, exists := ds.Vars[dp.Name]; exists {
		return fmt.Errorf("derived parameter %s shadows a file variable", dp.Name)
	}

	var src []*Variable
	for _, name := range pe.VarList {
		v, ok := ds.Vars[name]
		if !ok {
			return fmt.Errorf("derived parameter %s references unknown variable %s", dp.Name, name)
		}
		src = append(src, v)
	}
	for _, v := range src[1:] {
		if len(v.Data.Elements) != len(src[0].Data.Elements) {
			return fmt.Errorf("derived parameter %s mixes variables of different shapes", dp.Name)
		}
	}

	data := sparse.ZerosDense(src[0].Data.Shape...)
	values := make(map[string]float64, len(src))
	for n := range data.Elements {
		for i, v := range src {
			values[pe.VarList[i]] = v.Data.Elements[n]
		}
		val, err := pe.Evaluate(values)
		if err != nil {
			return fmt.Errorf("derived parameter %s: %v", dp.Name, err)
		}
		data.Elements[n] = val
	}

	attrs := map[string]string{}
	if len(dp.Units) > 0 {
		attrs[AttrUnits] = dp.Units
	}
	if len(dp.LongName) > 0 {
		attrs[AttrLongName] = dp.LongName
	}
	ds.Vars[dp.Name] = &Variable{
		Name:  dp.Name,
		Dims:  src[0].Dims,
		Data:  data,
		DType: DTypeFloat,
		Attrs: attrs,
	}
	ds.VarOrder = append(ds.VarOrder, dp.Name)
	return nil
}

// flattenValues converts the possibly nested slices returned by the
// NetCDF reader into a flat float64 array plus shape and data type.
func flattenValues(values interface{}) ([]float64, []int, string, error) {
	rv := reflect.ValueOf(values)
	var shape []int
	for v := rv; v.Kind() == reflect.Slice; {
		shape = append(shape, v.Len())
		if v.Len() == 0 {
			return nil, nil, "", fmt.Errorf("empty dimension")
		}
		v = v.Index(0)
	}
	if len(shape) == 0 {
		return nil, nil, "", fmt.Errorf("scalar variables are not supported")
	}

	n := 1
	for _, s := range shape {
		n *= s
	}
	data := make([]float64, 0, n)
	dtype := DTypeFloat
	var walk func(v reflect.Value) error
	walk = func(v reflect.Value) error {
		if v.Kind() == reflect.Slice {
			for i := 0; i < v.Len(); i++ {
				if err := walk(v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		}
		switch v.Kind() {
		case reflect.Float32, reflect.Float64:
			data = append(data, v.Float())
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
			data = append(data, float64(v.Int()))
			dtype = DTypeInteger
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			data = append(data, float64(v.Uint()))
			dtype = DTypeInteger
		default:
			return fmt.Errorf("unsupported value type %v", v.Kind())
		}
		return nil
	}
	if err := walk(rv); err != nil {
		return nil, nil, "", err
	}
	return data, shape, dtype, nil
}

// applyMaskAndScale implements the CF packed-data conventions:
// entries equal to _FillValue or missing_value become NaN, and
// scale_factor/add_offset unpack the stored numbers. The consumed
// attributes are removed and any touched variable becomes float
// typed, since both sentinels and unpacking leave integer ranges
// meaningless.
func applyMaskAndScale(data []float64, attrs map[string]string, dtype string) string {
	var fills []float64
	for _, key := range []string{"_FillValue", "missing_value"} {
		if s, ok := attrs[key]; ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				fills = append(fills, f)
			}
			delete(attrs, key)
		}
	}

	scale, offset := 1.0, 0.0
	packed := false
	if s, ok := attrs["scale_factor"]; ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			scale = f
			packed = true
		}
		delete(attrs, "scale_factor")
	}
	if s, ok := attrs["add_offset"]; ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			offset = f
			packed = true
		}
		delete(attrs, "add_offset")
	}

	if len(fills) == 0 && !packed {
		return dtype
	}

	for i, v := range data {
		masked := false
		for _, f := range fills {
			if v == f {
				data[i] = math.NaN()
				masked = true
				break
			}
		}
		if !masked && packed {
			data[i] = v*scale + offset
		}
	}
	return DTypeFloat
}

func stringifyAttr(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, " ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func isTimeUnits(units string) bool {
	return strings.Contains(units, " since ")
}

var timeUnitSeconds = map[string]float64{
	"seconds": 1, "second": 1, "secs": 1, "sec": 1, "s": 1,
	"minutes": 60, "minute": 60, "mins": 60, "min": 60,
	"hours": 3600, "hour": 3600, "hrs": 3600, "hr": 3600, "h": 3600,
	"days": 86400, "day": 86400, "d": 86400,
}

// convertCFTime rewrites a "<unit> since <epoch>" coordinate into
// Unix seconds and marks it as a time axis.
func convertCFTime(coord *Coord) error {
	parts := strings.SplitN(coord.Attrs[AttrUnits], " since ", 2)
	mult, ok := timeUnitSeconds[strings.ToLower(strings.TrimSpace(parts[0]))]
	if !ok {
		return fmt.Errorf("unsupported time units %q", coord.Attrs[AttrUnits])
	}

	epochStr := strings.TrimSpace(parts[1])
	epochStr = strings.Replace(epochStr, " ", "T", 1)
	epoch, err := iso8601.ParseString(epochStr)
	if err != nil {
		return fmt.Errorf("unparseable time epoch %q: %v", parts[1], err)
	}

	base := float64(epoch.UTC().Unix())
	for i, v := range coord.Data.Elements {
		if math.IsNaN(v) {
			continue
		}
		coord.Data.Elements[i] = base + v*mult
	}
	coord.IsTime = true
	return nil
}
