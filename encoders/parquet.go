package encoders

import (
	"bytes"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/xpublish-community/edrserve/dataset"
)

// EncodeParquet renders a selection as a Parquet table with one row
// per data point. Time columns are written as ISO 8601 strings,
// integer variables as int64 and everything else as float64.
func EncodeParquet(ds *dataset.Dataset) (*Response, error) {
	t, err := tabulate(ds)
	if err != nil {
		return nil, err
	}

	fields := make([]arrow.Field, len(t.cols))
	for i, c := range t.cols {
		var typ arrow.DataType
		switch {
		case c.isTime:
			typ = arrow.BinaryTypes.String
		case c.dtype == dataset.DTypeInteger:
			typ = arrow.PrimitiveTypes.Int64
		default:
			typ = arrow.PrimitiveTypes.Float64
		}
		fields[i] = arrow.Field{Name: c.name, Type: typ, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	for i, c := range t.cols {
		switch fb := b.Field(i).(type) {
		case *array.StringBuilder:
			for _, v := range c.values {
				if math.IsNaN(v) {
					fb.AppendNull()
					continue
				}
				fb.Append(dataset.TimeValue(v).Format(covTimeLayout))
			}
		case *array.Int64Builder:
			for _, v := range c.values {
				if math.IsNaN(v) {
					fb.AppendNull()
					continue
				}
				fb.Append(int64(v))
			}
		case *array.Float64Builder:
			for _, v := range c.values {
				if math.IsNaN(v) {
					fb.AppendNull()
					continue
				}
				fb.Append(v)
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	chunkSize := int64(t.rows)
	if chunkSize == 0 {
		chunkSize = 1
	}
	var buf bytes.Buffer
	err = pqarrow.WriteTable(tbl, &buf, chunkSize, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, err
	}
	return &Response{
		Body:        buf.Bytes(),
		ContentType: "application/vnd.apache.parquet",
		Disposition: ds.Name + ".parquet",
	}, nil
}
