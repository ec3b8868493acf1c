package encoders

import (
	"fmt"
	"os"

	"github.com/ctessum/cdf"

	"github.com/xpublish-community/edrserve/dataset"
)

// EncodeNetCDF renders a selection as a classic NetCDF file.
// Coordinates are written as float64, float variables as float32 and
// integer variables as int32. The library writes through a seekable
// file, so the document is staged in a temporary file.
func EncodeNetCDF(ds *dataset.Dataset) (*Response, error) {
	dims := make([]string, 0, len(ds.Dims))
	lengths := make([]int, 0, len(ds.Dims))
	for _, d := range ds.Dims {
		dims = append(dims, d)
		lengths = append(lengths, ds.Shape[d])
	}
	h := cdf.NewHeader(dims, lengths)
	for k, v := range ds.Attrs {
		h.AddAttribute("", k, v)
	}

	coordNames := make([]string, 0, len(ds.Coords))
	for name, c := range ds.Coords {
		h.AddVariable(name, c.Dims, []float64{0})
		for k, v := range c.Attrs {
			if k == dataset.AttrUnits && c.IsTime {
				continue
			}
			h.AddAttribute(name, k, v)
		}
		if c.IsTime {
			h.AddAttribute(name, dataset.AttrUnits, "seconds since 1970-01-01 00:00:00")
		}
		coordNames = append(coordNames, name)
	}

	for _, name := range ds.VarOrder {
		v := ds.Vars[name]
		if v.DType == dataset.DTypeInteger {
			h.AddVariable(name, v.Dims, []int32{0})
		} else {
			h.AddVariable(name, v.Dims, []float32{0})
		}
		for k, attr := range v.Attrs {
			h.AddAttribute(name, k, attr)
		}
	}
	h.Define()

	ff, err := os.CreateTemp("", "edr-*.nc")
	if err != nil {
		return nil, err
	}
	fname := ff.Name()
	defer os.Remove(fname)
	defer ff.Close()

	f, err := cdf.Create(ff, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create netcdf: %v", err)
	}

	for _, name := range coordNames {
		c := ds.Coords[name]
		if err := writeVar(f, name, c.Data.Elements, dataset.DTypeFloat, true); err != nil {
			return nil, err
		}
	}
	for _, name := range ds.VarOrder {
		v := ds.Vars[name]
		if err := writeVar(f, name, v.Data.Elements, v.DType, false); err != nil {
			return nil, err
		}
	}
	if err := cdf.UpdateNumRecs(ff); err != nil {
		return nil, err
	}

	body, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	return &Response{
		Body:        body,
		ContentType: "application/x-netcdf",
		Disposition: ds.Name + ".nc",
	}, nil
}

func writeVar(f *cdf.File, name string, values []float64, dtype string, wide bool) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)

	var data interface{}
	switch {
	case wide:
		out := make([]float64, len(values))
		copy(out, values)
		data = out
	case dtype == dataset.DTypeInteger:
		out := make([]int32, len(values))
		for i, v := range values {
			out[i] = int32(v)
		}
		data = out
	default:
		out := make([]float32, len(values))
		for i, v := range values {
			out[i] = float32(v)
		}
		data = out
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %v: %v", name, err)
	}
	return nil
}
