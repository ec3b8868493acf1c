package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xpublish-community/edrserve/utils"
)

// Selection methods for single values along an axis.
const (
	MethodNearest = "nearest"
	MethodLinear  = "linear"
)

// SelectValue picks one label along a dimension, interpolating when
// requested. Interpolation failures fall back to nearest selection.
func (ds *Dataset) SelectValue(dim string, val float64, method string) (*Dataset, error) {
	if method == MethodLinear {
		if out, err := ds.Interp1D(dim, val); err == nil {
			return out, nil
		}
	}
	return ds.SelNearest(dim, val)
}

// SelectZ subsets the vertical axis. A single value selects the
// nearest or interpolated level, "lo/hi" selects the inclusive range.
func (ds *Dataset) SelectZ(z, method string) (*Dataset, error) {
	zDim, ok := ds.AxisDim("Z")
	if !ok {
		return nil, fmt.Errorf("the dataset has no vertical axis")
	}

	parts := strings.Split(z, "/")
	switch len(parts) {
	case 1:
		val, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid z value: %v", parts[0])
		}
		return ds.SelectValue(zDim, val, method)
	case 2:
		lo, errLo := strconv.ParseFloat(parts[0], 64)
		hi, errHi := strconv.ParseFloat(parts[1], 64)
		if errLo != nil || errHi != nil {
			return nil, fmt.Errorf("invalid z range: %v", z)
		}
		return ds.SelRange(zDim, lo, hi)
	}
	return nil, fmt.Errorf("invalid z parameter: %v", z)
}

// SelectDatetime subsets the time axis. An instant selects the
// nearest timestep, "start/end" selects the inclusive interval where
// either bound may be open ("..").
func (ds *Dataset) SelectDatetime(datetime, method string) (*Dataset, error) {
	tDim, ok := ds.AxisDim("T")
	if !ok {
		return nil, fmt.Errorf("the dataset has no time axis")
	}

	bounds, err := utils.ParseDatetimeBounds(datetime)
	if err != nil {
		return nil, err
	}

	if len(bounds) == 1 {
		return ds.SelectValue(tDim, float64(bounds[0].Unix()), method)
	}

	lo := math.Inf(-1)
	hi := math.Inf(1)
	if bounds[0] != nil {
		lo = float64(bounds[0].Unix())
	}
	if bounds[1] != nil {
		hi = float64(bounds[1].Unix())
	}
	return ds.SelRange(tDim, lo, hi)
}

// SelectExtraDims subsets any further dimension named by a free-form
// query parameter, e.g. ensemble=2 or step=0/5. Range selectors are
// applied before single values; selectors naming no dataset dimension
// are ignored.
func (ds *Dataset) SelectExtraDims(selectors map[string]string, method string) (*Dataset, error) {
	for dim, value := range selectors {
		if !ds.hasDim(dim) || !strings.Contains(value, "/") {
			continue
		}
		parts := strings.Split(value, "/")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid selector for dimension %v: %v", dim, value)
		}
		lo, errLo := strconv.ParseFloat(parts[0], 64)
		hi, errHi := strconv.ParseFloat(parts[1], 64)
		if errLo != nil || errHi != nil {
			return nil, fmt.Errorf("invalid selector for dimension %v: %v", dim, value)
		}
		sel, err := ds.SelRange(dim, lo, hi)
		if err != nil {
			return nil, err
		}
		ds = sel
	}

	for dim, value := range selectors {
		if !ds.hasDim(dim) || strings.Contains(value, "/") {
			continue
		}
		val, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid selector for dimension %v: %v", dim, value)
		}
		sel, err := ds.SelectValue(dim, val, method)
		if err != nil {
			return nil, err
		}
		ds = sel
	}
	return ds, nil
}
