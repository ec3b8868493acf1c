package dataset

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/sparse"
)

// ErrEmptySelection is returned when a valid selection matches no
// data, so the router can answer 404 rather than emit an empty
// document.
var ErrEmptySelection = errors.New("selection matches no data")

// nearestIndex returns the index of the coordinate value closest to
// target. A linear scan keeps it correct for descending and
// irregularly spaced axes alike.
func nearestIndex(values []float64, target float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, v := range values {
		d := math.Abs(v - target)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// rangeIndices returns the indices of every coordinate value v with
// lo <= v <= hi, in axis order. Open bounds are passed as +-Inf.
func rangeIndices(values []float64, lo, hi float64) []int {
	var idx []int
	for i, v := range values {
		if v >= lo && v <= hi {
			idx = append(idx, i)
		}
	}
	return idx
}

// take selects the given indices along one dimension, returning a new
// dataset whose dimension length equals len(indices). Variables and
// coordinates without the dimension are shared unchanged.
func (ds *Dataset) take(dim string, indices []int) (*Dataset, error) {
	if !ds.hasDim(dim) {
		return nil, fmt.Errorf("no dimension named %v", dim)
	}
	if len(indices) == 0 {
		return nil, ErrEmptySelection
	}
	size := ds.Shape[dim]
	for _, i := range indices {
		if i < 0 || i >= size {
			return nil, fmt.Errorf("index %d out of range for dimension %v", i, dim)
		}
	}

	out := ds.shallowCopy()
	out.Shape[dim] = len(indices)

	for name, v := range ds.Vars {
		if dimPos(v.Dims, dim) < 0 {
			continue
		}
		out.Vars[name] = &Variable{
			Name:  v.Name,
			Dims:  v.Dims,
			Data:  takeArray(v.Data, dimPos(v.Dims, dim), indices),
			DType: v.DType,
			Attrs: v.Attrs,
		}
	}
	for name, c := range ds.Coords {
		if dimPos(c.Dims, dim) < 0 {
			continue
		}
		out.Coords[name] = &Coord{
			Name:   c.Name,
			Dims:   c.Dims,
			Data:   takeArray(c.Data, dimPos(c.Dims, dim), indices),
			IsTime: c.IsTime,
			Attrs:  c.Attrs,
		}
	}
	return out, nil
}

func takeArray(a *sparse.DenseArray, pos int, indices []int) *sparse.DenseArray {
	shape := append([]int{}, a.Shape...)
	shape[pos] = len(indices)
	out := sparse.ZerosDense(shape...)

	srcStrides := strides(a.Shape)
	idx := make([]int, len(shape))
	for n := range out.Elements {
		unravel(n, shape, idx)
		idx[pos] = indices[idx[pos]]
		out.Elements[n] = a.Elements[flatIndex(srcStrides, idx)]
	}
	return out
}

// SelNearest selects the single coordinate value nearest to target
// along dim, keeping the dimension with length 1.
func (ds *Dataset) SelNearest(dim string, target float64) (*Dataset, error) {
	coord, ok := ds.Coords[dim]
	if !ok || !coord.IsIndex() {
		return nil, fmt.Errorf("no index coordinate for dimension %v", dim)
	}
	return ds.take(dim, []int{nearestIndex(coord.Values(), target)})
}

// SelRange selects every coordinate value within [lo, hi] along dim,
// preserving axis order. Works for ascending and descending axes.
func (ds *Dataset) SelRange(dim string, lo, hi float64) (*Dataset, error) {
	coord, ok := ds.Coords[dim]
	if !ok || !coord.IsIndex() {
		return nil, fmt.Errorf("no index coordinate for dimension %v", dim)
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return ds.take(dim, rangeIndices(coord.Values(), lo, hi))
}

// Interp1D linearly interpolates every variable to a single target
// value along dim. Targets outside the coordinate range interpolate
// to NaN, matching label-based interpolation semantics.
func (ds *Dataset) Interp1D(dim string, target float64) (*Dataset, error) {
	coord, ok := ds.Coords[dim]
	if !ok || !coord.IsIndex() {
		return nil, fmt.Errorf("no index coordinate for dimension %v", dim)
	}
	values := coord.Values()
	i0, i1, w := bracket(values, target)

	sel, err := ds.take(dim, []int{i0})
	if err != nil {
		return nil, err
	}
	if i0 == i1 && w == 0 {
		return sel, nil
	}

	out := sel
	for name, v := range ds.Vars {
		pos := dimPos(v.Dims, dim)
		if pos < 0 {
			continue
		}
		lo := takeArray(v.Data, pos, []int{i0})
		hi := takeArray(v.Data, pos, []int{i1})
		data := sparse.ZerosDense(lo.Shape...)
		for n := range data.Elements {
			data.Elements[n] = lerp(lo.Elements[n], hi.Elements[n], w)
		}
		out.Vars[name] = &Variable{Name: v.Name, Dims: v.Dims, Data: data, DType: DTypeFloat, Attrs: v.Attrs}
	}

	// The coordinate takes the requested label.
	c := out.Coords[dim]
	data := sparse.ZerosDense(1)
	data.Elements[0] = target
	out.Coords[dim] = &Coord{Name: c.Name, Dims: c.Dims, Data: data, IsTime: c.IsTime, Attrs: c.Attrs}
	return out, nil
}

// bracket locates the pair of indices surrounding target and the
// interpolation weight of the upper index. NaN weight marks an
// out-of-range target.
func bracket(values []float64, target float64) (int, int, float64) {
	if len(values) == 1 {
		if values[0] == target {
			return 0, 0, 0
		}
		return 0, 0, math.NaN()
	}
	for i := 0; i < len(values)-1; i++ {
		a, b := values[i], values[i+1]
		lo, hi := math.Min(a, b), math.Max(a, b)
		if target < lo || target > hi {
			continue
		}
		if a == b {
			return i, i, 0
		}
		return i, i + 1, (target - a) / (b - a)
	}
	return 0, 0, math.NaN()
}

func lerp(a, b, w float64) float64 {
	if math.IsNaN(w) {
		return math.NaN()
	}
	return a + (b-a)*w
}

// ISelPoints applies a vectorized positional selection over the two
// horizontal dimensions: the (xIdx[k], yIdx[k]) pairs collapse onto a
// single new dimension. The X and Y index coordinates become 1-D
// coordinates over that dimension.
func (ds *Dataset) ISelPoints(xDim, yDim string, xIdx, yIdx []int, ptsDim string) (*Dataset, error) {
	if len(xIdx) != len(yIdx) {
		return nil, fmt.Errorf("mismatched selection lengths: %d vs %d", len(xIdx), len(yIdx))
	}
	if len(xIdx) == 0 {
		return nil, ErrEmptySelection
	}
	if !ds.hasDim(xDim) || !ds.hasDim(yDim) {
		return nil, fmt.Errorf("no dimensions named %v, %v", xDim, yDim)
	}

	out := ds.shallowCopy()

	var dims []string
	inserted := false
	for _, d := range ds.Dims {
		if d == xDim || d == yDim {
			if !inserted {
				dims = append(dims, ptsDim)
				inserted = true
			}
			continue
		}
		dims = append(dims, d)
	}
	out.Dims = dims
	delete(out.Shape, xDim)
	delete(out.Shape, yDim)
	out.Shape[ptsDim] = len(xIdx)

	for name, v := range ds.Vars {
		if dimPos(v.Dims, xDim) < 0 && dimPos(v.Dims, yDim) < 0 {
			continue
		}
		nv, err := vectorizePair(v.Dims, v.Data, xDim, yDim, xIdx, yIdx, ptsDim)
		if err != nil {
			return nil, fmt.Errorf("variable %v: %v", name, err)
		}
		out.Vars[name] = &Variable{Name: v.Name, Dims: nv.dims, Data: nv.data, DType: v.DType, Attrs: v.Attrs}
	}

	for name, c := range ds.Coords {
		if dimPos(c.Dims, xDim) < 0 && dimPos(c.Dims, yDim) < 0 {
			continue
		}
		nc, err := vectorizePair(c.Dims, c.Data, xDim, yDim, xIdx, yIdx, ptsDim)
		if err != nil {
			return nil, fmt.Errorf("coordinate %v: %v", name, err)
		}
		out.Coords[name] = &Coord{Name: c.Name, Dims: nc.dims, Data: nc.data, IsTime: c.IsTime, Attrs: c.Attrs}
	}
	return out, nil
}

type vectorized struct {
	dims []string
	data *sparse.DenseArray
}

// vectorizePair rebuilds one array with its x and/or y dimensions
// replaced by the vectorized point dimension.
func vectorizePair(dims []string, a *sparse.DenseArray, xDim, yDim string, xIdx, yIdx []int, ptsDim string) (*vectorized, error) {
	px := dimPos(dims, xDim)
	py := dimPos(dims, yDim)

	var outDims []string
	var outShape []int
	inserted := false
	ptsPos := -1
	for i, d := range dims {
		if i == px || i == py {
			if !inserted {
				ptsPos = len(outDims)
				outDims = append(outDims, ptsDim)
				outShape = append(outShape, len(xIdx))
				inserted = true
			}
			continue
		}
		outDims = append(outDims, d)
		outShape = append(outShape, a.Shape[i])
	}

	out := sparse.ZerosDense(outShape...)
	srcStrides := strides(a.Shape)
	srcIdx := make([]int, len(dims))
	outIdx := make([]int, len(outShape))
	for n := range out.Elements {
		unravel(n, outShape, outIdx)
		k := outIdx[ptsPos]
		oi := 0
		for i := range dims {
			switch i {
			case px:
				srcIdx[i] = xIdx[k]
			case py:
				srcIdx[i] = yIdx[k]
			default:
				if oi == ptsPos {
					oi++
				}
				srcIdx[i] = outIdx[oi]
				oi++
			}
		}
		out.Elements[n] = a.Elements[flatIndex(srcStrides, srcIdx)]
	}
	return &vectorized{dims: outDims, data: out}, nil
}

// SelPointsNearest selects the grid points nearest to each (x, y)
// query position, vectorized onto ptsDim. The returned coordinates
// carry the grid values, not the query values.
func (ds *Dataset) SelPointsNearest(xs, ys []float64, ptsDim string) (*Dataset, error) {
	xCoord, okX := ds.AxisCoord("X")
	yCoord, okY := ds.AxisCoord("Y")
	if !okX || !okY {
		return nil, fmt.Errorf("dataset does not have CF compliant X/Y axes")
	}
	xIdx := make([]int, len(xs))
	yIdx := make([]int, len(ys))
	for i := range xs {
		xIdx[i] = nearestIndex(xCoord.Values(), xs[i])
		yIdx[i] = nearestIndex(yCoord.Values(), ys[i])
	}
	return ds.ISelPoints(xCoord.Name, yCoord.Name, xIdx, yIdx, ptsDim)
}

// InterpPoints bilinearly interpolates every variable to each (x, y)
// query position, vectorized onto ptsDim. Positions outside the grid
// interpolate to NaN.
func (ds *Dataset) InterpPoints(xs, ys []float64, ptsDim string) (*Dataset, error) {
	xCoord, okX := ds.AxisCoord("X")
	yCoord, okY := ds.AxisCoord("Y")
	if !okX || !okY {
		return nil, fmt.Errorf("dataset does not have CF compliant X/Y axes")
	}
	xv, yv := xCoord.Values(), yCoord.Values()

	// Nearest-index skeleton supplies the output layout; data values
	// are replaced with the bilinear blend of the four corners.
	out, err := ds.SelPointsNearest(xs, ys, ptsDim)
	if err != nil {
		return nil, err
	}

	xDim, yDim := xCoord.Name, yCoord.Name
	for name, v := range ds.Vars {
		px := dimPos(v.Dims, xDim)
		py := dimPos(v.Dims, yDim)
		if px < 0 || py < 0 {
			continue
		}
		ov := out.Vars[name]
		ptsPos := dimPos(ov.Dims, ptsDim)
		outIdx := make([]int, len(ov.Dims))
		srcIdx := make([]int, len(v.Dims))
		srcStrides := strides(v.Data.Shape)
		data := sparse.ZerosDense(ov.Data.Shape...)

		corner := func(xi, yi int) float64 {
			srcIdx[px] = xi
			srcIdx[py] = yi
			return v.Data.Elements[flatIndex(srcStrides, srcIdx)]
		}

		for n := range data.Elements {
			unravel(n, ov.Data.Shape, outIdx)
			k := outIdx[ptsPos]
			oi := 0
			for i := range v.Dims {
				if i == px || i == py {
					continue
				}
				if oi == ptsPos {
					oi++
				}
				srcIdx[i] = outIdx[oi]
				oi++
			}

			x0, x1, wx := bracket(xv, xs[k])
			y0, y1, wy := bracket(yv, ys[k])
			if math.IsNaN(wx) || math.IsNaN(wy) {
				data.Elements[n] = math.NaN()
				continue
			}
			v00 := corner(x0, y0)
			v10 := corner(x1, y0)
			v01 := corner(x0, y1)
			v11 := corner(x1, y1)
			data.Elements[n] = lerp(lerp(v00, v10, wx), lerp(v01, v11, wx), wy)
		}
		out.Vars[name] = &Variable{Name: v.Name, Dims: ov.Dims, Data: data, DType: DTypeFloat, Attrs: v.Attrs}
	}

	// Interpolated positions take the query labels.
	for dimName, vals := range map[string][]float64{xDim: xs, yDim: ys} {
		c := out.Coords[dimName]
		data := sparse.ZerosDense(len(vals))
		copy(data.Elements, vals)
		out.Coords[dimName] = &Coord{Name: c.Name, Dims: c.Dims, Data: data, IsTime: c.IsTime, Attrs: c.Attrs}
	}
	return out, nil
}
