package encoders

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xpublish-community/edrserve/dataset"
	"github.com/xpublish-community/edrserve/geometry"
)

// TIFF and GeoTIFF tag numbers.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

const (
	tiffTypeShort  = 3
	tiffTypeLong   = 4
	tiffTypeASCII  = 2
	tiffTypeDouble = 12
)

// EncodeGeoTIFF renders a gridded selection as a single-strip float32
// GeoTIFF. A single variable may carry one extra dimension, which
// becomes the band axis; multiple variables must be purely horizontal
// and become one band each.
func EncodeGeoTIFF(ds *dataset.Dataset) (*Response, error) {
	if !ds.HasRegularXY() {
		return nil, fmt.Errorf("%w: geotiff requires a regular grid", ErrUnsupportedLayout)
	}
	sq := ds.Squeeze()
	xDim, _ := sq.AxisDim("X")
	yDim, _ := sq.AxisDim("Y")
	xv := sq.Coords[xDim].Values()
	yv := sq.Coords[yDim].Values()
	w, h := len(xv), len(yv)
	if w < 2 || h < 2 {
		return nil, fmt.Errorf("%w: geotiff requires at least a 2x2 horizontal grid, got %dx%d", ErrUnsupportedLayout, w, h)
	}

	bands, err := rasterBands(sq, xDim, yDim)
	if err != nil {
		return nil, err
	}

	// Raster rows run north to south and columns west to east.
	flipX := len(xv) > 1 && xv[0] > xv[len(xv)-1]
	flipY := len(yv) > 1 && yv[0] < yv[len(yv)-1]
	col := func(c int) int {
		if flipX {
			return w - 1 - c
		}
		return c
	}
	row := func(r int) int {
		if flipY {
			return h - 1 - r
		}
		return r
	}

	nb := len(bands)
	pixels := make([]float32, w*h*nb)
	n := 0
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			for _, b := range bands {
				pixels[n] = float32(b(row(r), col(c)))
				n++
			}
		}
	}

	minX, maxX := minMaxValues(xv)
	minY, maxY := minMaxValues(yv)
	dx, dy := 1.0, 1.0
	if w > 1 {
		dx = (maxX - minX) / float64(w-1)
	}
	if h > 1 {
		dy = (maxY - minY) / float64(h-1)
	}

	body := writeTIFF(pixels, w, h, nb, dx, dy, minX-dx/2, maxY+dy/2, ds.CRS)
	return &Response{
		Body:        body,
		ContentType: "image/tiff",
		Disposition: ds.Name + ".tif",
	}, nil
}

type bandFunc func(yi, xi int) float64

func rasterBands(sq *dataset.Dataset, xDim, yDim string) ([]bandFunc, error) {
	if len(sq.VarOrder) == 1 {
		v := sq.Vars[sq.VarOrder[0]]
		if len(v.Dims) > 3 {
			return nil, fmt.Errorf("%w: geotiff supports at most 3 dimensions for a single variable, got %d", ErrUnsupportedLayout, len(v.Dims))
		}
		return varBands(v, xDim, yDim)
	}

	var bands []bandFunc
	for _, name := range sq.VarOrder {
		v := sq.Vars[name]
		if len(v.Dims) != 2 {
			return nil, fmt.Errorf("%w: geotiff supports at most 2 dimensions for multiple variables, variable %v has %d", ErrUnsupportedLayout, name, len(v.Dims))
		}
		b, err := varBands(v, xDim, yDim)
		if err != nil {
			return nil, err
		}
		bands = append(bands, b...)
	}
	return bands, nil
}

func varBands(v *dataset.Variable, xDim, yDim string) ([]bandFunc, error) {
	px := dimPos(v.Dims, xDim)
	py := dimPos(v.Dims, yDim)
	if px < 0 || py < 0 {
		return nil, fmt.Errorf("%w: variable %v does not span the horizontal grid", ErrUnsupportedLayout, v.Name)
	}
	str := strides(v.Data.Shape)
	data := v.Data.Elements

	pb := -1
	for i := range v.Dims {
		if i != px && i != py {
			pb = i
		}
	}
	if pb < 0 {
		return []bandFunc{func(yi, xi int) float64 {
			return data[str[px]*xi+str[py]*yi]
		}}, nil
	}

	bands := make([]bandFunc, v.Data.Shape[pb])
	for bi := range bands {
		offset := str[pb] * bi
		bands[bi] = func(yi, xi int) float64 {
			return data[offset+str[px]*xi+str[py]*yi]
		}
	}
	return bands, nil
}

type tiffTag struct {
	tag, typ uint16
	count    uint32
	value    uint32
}

func writeTIFF(pixels []float32, w, h, bands int, dx, dy, originX, originY float64, crs string) []byte {
	pixelBytes := len(pixels) * 4
	ifdOffset := 8 + pixelBytes

	geoKeys := geoKeyDirectory(crs)

	const numTags = 15
	extra := ifdOffset + 2 + numTags*12 + 4
	var extras bytes.Buffer
	extraOffset := func(data interface{}) uint32 {
		at := uint32(extra + extras.Len())
		binary.Write(&extras, binary.LittleEndian, data)
		return at
	}

	shortArray := func(tag uint16, values []uint16) tiffTag {
		t := tiffTag{tag: tag, typ: tiffTypeShort, count: uint32(len(values))}
		if len(values) == 1 {
			t.value = uint32(values[0])
		} else if len(values) == 2 {
			t.value = uint32(values[0]) | uint32(values[1])<<16
		} else {
			t.value = extraOffset(values)
		}
		return t
	}

	same := func(n int, v uint16) []uint16 {
		out := make([]uint16, n)
		for i := range out {
			out[i] = v
		}
		return out
	}

	tags := []tiffTag{
		{tagImageWidth, tiffTypeLong, 1, uint32(w)},
		{tagImageLength, tiffTypeLong, 1, uint32(h)},
		shortArray(tagBitsPerSample, same(bands, 32)),
		{tagCompression, tiffTypeShort, 1, 1},
		{tagPhotometric, tiffTypeShort, 1, 1},
		{tagStripOffsets, tiffTypeLong, 1, 8},
		{tagSamplesPerPixel, tiffTypeShort, 1, uint32(bands)},
		{tagRowsPerStrip, tiffTypeLong, 1, uint32(h)},
		{tagStripByteCounts, tiffTypeLong, 1, uint32(pixelBytes)},
		{tagPlanarConfig, tiffTypeShort, 1, 1},
		shortArray(tagSampleFormat, same(bands, 3)),
		{tagModelPixelScale, tiffTypeDouble, 3, extraOffset([]float64{dx, dy, 0})},
		{tagModelTiepoint, tiffTypeDouble, 6, extraOffset([]float64{0, 0, 0, originX, originY, 0})},
		{tagGeoKeyDirectory, tiffTypeShort, uint32(len(geoKeys)), extraOffset(geoKeys)},
		{tagGDALNoData, tiffTypeASCII, 4, uint32('n') | uint32('a')<<8 | uint32('n')<<16},
	}

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, uint32(ifdOffset))
	binary.Write(&buf, binary.LittleEndian, pixels)

	binary.Write(&buf, binary.LittleEndian, uint16(len(tags)))
	for _, t := range tags {
		binary.Write(&buf, binary.LittleEndian, t.tag)
		binary.Write(&buf, binary.LittleEndian, t.typ)
		binary.Write(&buf, binary.LittleEndian, t.count)
		binary.Write(&buf, binary.LittleEndian, t.value)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.Write(extras.Bytes())
	return buf.Bytes()
}

// geoKeyDirectory builds the GeoTIFF key directory for a named CRS.
// Unknown projections are marked user-defined.
func geoKeyDirectory(crs string) []uint16 {
	code := uint16(32767)
	norm := geometry.NormalizeCRS(crs)
	if norm == "OGC:CRS84" {
		norm = "EPSG:4326"
	}
	if strings.HasPrefix(norm, "EPSG:") {
		if v, err := strconv.Atoi(strings.TrimPrefix(norm, "EPSG:")); err == nil && v > 0 && v < math.MaxUint16 {
			code = uint16(v)
		}
	}

	geographic := geometry.IsGeographic(crs)
	modelType := uint16(1)
	crsKey := uint16(3072)
	if geographic {
		modelType = 2
		crsKey = 2048
	}

	keys := [][4]uint16{
		{1024, 0, 1, modelType},
		{1025, 0, 1, 1},
		{crsKey, 0, 1, code},
	}
	out := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		out = append(out, k[0], k[1], k[2], k[3])
	}
	return out
}

func minMaxValues(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
