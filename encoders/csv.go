package encoders

import (
	"bytes"
	"encoding/csv"
	"math"
	"strconv"

	"github.com/xpublish-community/edrserve/dataset"
)

// EncodeCSV renders a selection as a CSV table with one row per data
// point. Missing values are left empty.
func EncodeCSV(ds *dataset.Dataset) (*Response, error) {
	t, err := tabulate(ds)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(t.cols))
	for i, c := range t.cols {
		header[i] = c.name
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	row := make([]string, len(t.cols))
	for n := 0; n < t.rows; n++ {
		for i, c := range t.cols {
			row[i] = formatCell(c, c.values[n])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	return &Response{
		Body:        buf.Bytes(),
		ContentType: "text/csv",
		Disposition: ds.Name + ".csv",
	}, nil
}

func formatCell(c column, v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case c.isTime:
		return dataset.TimeValue(v).Format(covTimeLayout)
	case c.dtype == dataset.DTypeInteger:
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
