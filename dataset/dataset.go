// Package dataset implements a labeled multidimensional array model
// for CF convention gridded data, with the nearest/linear selection
// operations the EDR queries are built from.
package dataset

import (
	"fmt"
	"time"

	"github.com/ctessum/sparse"
)

// Data types reported by encoders.
const (
	DTypeFloat   = "float"
	DTypeInteger = "integer"
)

// Well known CF attribute names.
const (
	AttrUnits        = "units"
	AttrLongName     = "long_name"
	AttrStandardName = "standard_name"
	AttrAxis         = "axis"
	AttrPositive     = "positive"
)

// VectorizedDim is the dimension name position and area selections
// collapse their X/Y pairs onto.
const VectorizedDim = "pts"

// Coord is a coordinate variable. Index coordinates are 1-D and named
// after their dimension; auxiliary coordinates produced by
// reprojection may span two dimensions.
type Coord struct {
	Name   string
	Dims   []string
	Data   *sparse.DenseArray
	IsTime bool
	Attrs  map[string]string
}

// IsIndex reports whether the coordinate indexes its own dimension.
func (c *Coord) IsIndex() bool {
	return len(c.Dims) == 1 && c.Dims[0] == c.Name
}

// Values returns the flattened coordinate values.
func (c *Coord) Values() []float64 {
	return c.Data.Elements
}

// Variable is a data variable over a subset of the dataset
// dimensions.
type Variable struct {
	Name  string
	Dims  []string
	Data  *sparse.DenseArray
	DType string
	Attrs map[string]string
}

// Dataset is an in-memory labeled array collection: ordered
// dimensions, coordinates and data variables, plus the CF axis map
// relating the X/Y/Z/T axes to dimension names.
type Dataset struct {
	Name   string
	Attrs  map[string]string
	Dims   []string
	Shape  map[string]int
	Coords map[string]*Coord
	Vars   map[string]*Variable
	// VarOrder preserves the source file variable order for
	// deterministic encoding.
	VarOrder []string
	// Axes maps CF axis letters (X, Y, Z, T) to dimension names.
	Axes map[string]string
	// CRS is the proj4 string of the horizontal grid.
	CRS string
}

func New(name string) *Dataset {
	return &Dataset{
		Name:   name,
		Attrs:  make(map[string]string),
		Shape:  make(map[string]int),
		Coords: make(map[string]*Coord),
		Vars:   make(map[string]*Variable),
		Axes:   make(map[string]string),
	}
}

// AxisDim returns the dimension name behind a CF axis letter.
func (ds *Dataset) AxisDim(axis string) (string, bool) {
	dim, ok := ds.Axes[axis]
	return dim, ok
}

// AxisCoord returns the index coordinate behind a CF axis letter.
func (ds *Dataset) AxisCoord(axis string) (*Coord, bool) {
	dim, ok := ds.Axes[axis]
	if !ok {
		return nil, false
	}
	coord, ok := ds.Coords[dim]
	return coord, ok
}

// HasRegularXY reports whether both horizontal axes are 1-D index
// coordinates. Curvilinear grids are not supported for selection.
func (ds *Dataset) HasRegularXY() bool {
	x, okX := ds.AxisCoord("X")
	y, okY := ds.AxisCoord("Y")
	return okX && okY && x.IsIndex() && y.IsIndex()
}

func (ds *Dataset) hasDim(dim string) bool {
	_, ok := ds.Shape[dim]
	return ok
}

// shallowCopy duplicates the dataset structure. Coordinate and
// variable entries are shared until a selection replaces them.
func (ds *Dataset) shallowCopy() *Dataset {
	out := New(ds.Name)
	out.CRS = ds.CRS
	for k, v := range ds.Attrs {
		out.Attrs[k] = v
	}
	out.Dims = append([]string{}, ds.Dims...)
	for k, v := range ds.Shape {
		out.Shape[k] = v
	}
	for k, v := range ds.Coords {
		out.Coords[k] = v
	}
	for k, v := range ds.Vars {
		out.Vars[k] = v
	}
	out.VarOrder = append([]string{}, ds.VarOrder...)
	for k, v := range ds.Axes {
		out.Axes[k] = v
	}
	return out
}

// Clone duplicates the dataset with fresh coordinate arrays so a
// reprojection can rewrite them. Variable data stays shared.
func (ds *Dataset) Clone() *Dataset {
	out := ds.shallowCopy()
	for name, c := range ds.Coords {
		data := sparse.ZerosDense(c.Data.Shape...)
		copy(data.Elements, c.Data.Elements)
		attrs := make(map[string]string, len(c.Attrs))
		for k, v := range c.Attrs {
			attrs[k] = v
		}
		out.Coords[name] = &Coord{
			Name:   c.Name,
			Dims:   append([]string{}, c.Dims...),
			Data:   data,
			IsTime: c.IsTime,
			Attrs:  attrs,
		}
	}
	return out
}

// NewCoord2D builds an auxiliary coordinate spanning two dimensions
// from row-major values.
func NewCoord2D(name, dim0, dim1 string, n0, n1 int, values []float64) *Coord {
	data := sparse.ZerosDense(n0, n1)
	copy(data.Elements, values)
	return &Coord{Name: name, Dims: []string{dim0, dim1}, Data: data, Attrs: map[string]string{}}
}

// FilterParameters keeps only the named data variables, in the
// requested order. Unknown names are an error so the router can
// surface them as 404s.
func (ds *Dataset) FilterParameters(names []string) (*Dataset, error) {
	out := ds.shallowCopy()
	out.Vars = make(map[string]*Variable)
	out.VarOrder = nil
	for _, name := range names {
		v, ok := ds.Vars[name]
		if !ok {
			return nil, fmt.Errorf("Invalid variable: %v", name)
		}
		out.Vars[name] = v
		out.VarOrder = append(out.VarOrder, name)
	}
	return out, nil
}

// NumPoints returns the number of data points in the largest
// variable, which is the effective size of a selection.
func (ds *Dataset) NumPoints() int {
	n := 0
	for _, v := range ds.Vars {
		if len(v.Data.Elements) > n {
			n = len(v.Data.Elements)
		}
	}
	return n
}

// Squeeze drops length-1 dimensions from every variable. The
// corresponding coordinates survive as scalar-like length-1 coords so
// tabular encoders can still emit them as constant columns.
func (ds *Dataset) Squeeze() *Dataset {
	out := ds.shallowCopy()
	for name, v := range ds.Vars {
		var dims []string
		var shape []int
		for i, d := range v.Dims {
			if v.Data.Shape[i] > 1 {
				dims = append(dims, d)
				shape = append(shape, v.Data.Shape[i])
			}
		}
		if len(dims) == len(v.Dims) {
			continue
		}
		if len(shape) == 0 {
			shape = []int{1}
		}
		data := sparse.ZerosDense(shape...)
		copy(data.Elements, v.Data.Elements)
		out.Vars[name] = &Variable{Name: v.Name, Dims: dims, Data: data, DType: v.DType, Attrs: v.Attrs}
	}
	var dims []string
	for _, d := range ds.Dims {
		if ds.Shape[d] > 1 {
			dims = append(dims, d)
		}
	}
	out.Dims = dims
	return out
}

// TimeValue renders a time coordinate value held as Unix seconds.
func TimeValue(sec float64) time.Time {
	return time.Unix(int64(sec), int64((sec-float64(int64(sec)))*1e9)).UTC()
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

func flatIndex(str, idx []int) int {
	n := 0
	for i, s := range str {
		n += s * idx[i]
	}
	return n
}

// unravel fills idx with the multi-index of flat position n.
func unravel(n int, shape []int, idx []int) {
	for i := len(shape) - 1; i >= 0; i-- {
		idx[i] = n % shape[i]
		n /= shape[i]
	}
}

func dimPos(dims []string, dim string) int {
	for i, d := range dims {
		if d == dim {
			return i
		}
	}
	return -1
}
