package encoders

import (
	"fmt"
	"sort"

	"github.com/ctessum/sparse"

	"github.com/xpublish-community/edrserve/dataset"
)

// column is one field of the tabular rendition a selection flattens
// into.
type column struct {
	name   string
	isTime bool
	dtype  string
	values []float64
}

// table is the row-major flattening of a selection, used by the
// tabular encoders. Length-1 dimensions are squeezed into constant
// columns.
type table struct {
	rowDims []string
	shape   []int
	rows    int
	cols    []column
}

func tabulate(ds *dataset.Dataset) (*table, error) {
	sq := ds.Squeeze()

	t := &table{rows: 1}
	for _, d := range sq.Dims {
		t.rowDims = append(t.rowDims, d)
		t.shape = append(t.shape, sq.Shape[d])
		t.rows *= sq.Shape[d]
	}

	rowIdx := make([]int, len(t.shape))
	cell := func(dims []string, data *sparse.DenseArray) func() float64 {
		str := strides(data.Shape)
		pos := make([]int, len(dims))
		for i, d := range dims {
			pos[i] = dimPos(t.rowDims, d)
		}
		return func() float64 {
			n := 0
			for i := range dims {
				if pos[i] < 0 || data.Shape[i] == 1 {
					continue
				}
				n += str[i] * rowIdx[pos[i]]
			}
			return data.Elements[n]
		}
	}

	addColumn := func(name, dtype string, isTime bool, dims []string, data *sparse.DenseArray) {
		get := cell(dims, data)
		values := make([]float64, t.rows)
		for n := 0; n < t.rows; n++ {
			unravel(n, t.shape, rowIdx)
			values[n] = get()
		}
		t.cols = append(t.cols, column{name: name, isTime: isTime, dtype: dtype, values: values})
	}

	added := make(map[string]bool)
	for _, d := range t.rowDims {
		if c, ok := sq.Coords[d]; ok {
			addColumn(c.Name, dataset.DTypeFloat, c.IsTime, c.Dims, c.Data)
			added[c.Name] = true
		}
	}

	var rest []string
	for name := range sq.Coords {
		if !added[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		c := sq.Coords[name]
		addColumn(c.Name, dataset.DTypeFloat, c.IsTime, c.Dims, c.Data)
	}

	if len(sq.VarOrder) == 0 {
		return nil, fmt.Errorf("selection has no data variables")
	}
	for _, name := range sq.VarOrder {
		v := sq.Vars[name]
		addColumn(v.Name, v.DType, false, v.Dims, v.Data)
	}
	return t, nil
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
