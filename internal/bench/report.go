package bench

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// resultSchema is the Arrow layout of one benchmark result row.
var resultSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "op", Type: arrow.BinaryTypes.String},
		{Name: "kind", Type: arrow.BinaryTypes.String},
		{Name: "iterations", Type: arrow.PrimitiveTypes.Int64},
		{Name: "total_ns", Type: arrow.PrimitiveTypes.Int64},
		{Name: "min_ns", Type: arrow.PrimitiveTypes.Int64},
		{Name: "max_ns", Type: arrow.PrimitiveTypes.Int64},
		{Name: "mean_ns", Type: arrow.PrimitiveTypes.Int64},
	},
	nil,
)

// NewRecord builds an Arrow record batch from benchmark results. The caller
// must Release the returned record.
func NewRecord(pool memory.Allocator, results []Result) arrow.RecordBatch {
	opB := array.NewStringBuilder(pool)
	defer opB.Release()
	kindB := array.NewStringBuilder(pool)
	defer kindB.Release()
	iterB := array.NewInt64Builder(pool)
	defer iterB.Release()
	totalB := array.NewInt64Builder(pool)
	defer totalB.Release()
	minB := array.NewInt64Builder(pool)
	defer minB.Release()
	maxB := array.NewInt64Builder(pool)
	defer maxB.Release()
	meanB := array.NewInt64Builder(pool)
	defer meanB.Release()

	for _, r := range results {
		opB.Append(r.Name)
		kindB.Append(r.Kind)
		iterB.Append(int64(r.Iterations))
		totalB.Append(r.Total.Nanoseconds())
		minB.Append(r.Min.Nanoseconds())
		maxB.Append(r.Max.Nanoseconds())
		meanB.Append(r.Mean.Nanoseconds())
	}

	cols := make([]arrow.Array, 0, 7)
	for _, b := range []array.Builder{opB, kindB, iterB, totalB, minB, maxB, meanB} {
		arr := b.NewArray()
		defer arr.Release()
		cols = append(cols, arr)
	}

	return array.NewRecordBatch(resultSchema, cols, int64(len(results)))
}

// WriteIPC streams the record batch in Arrow IPC format.
func WriteIPC(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
