package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/JonMunkholm/payrecon/internal/clean"
	"github.com/JonMunkholm/payrecon/internal/schema"
	"github.com/JonMunkholm/payrecon/internal/transform"
)

// Output formats.
const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
)

// Writer serializes one normalized table.
type Writer interface {
	Ext() string
	Write(w io.Writer, res *transform.Result) error
}

// NewWriter returns the writer for format.
func NewWriter(format string) (Writer, error) {
	switch format {
	case FormatParquet, "":
		return ParquetWriter{}, nil
	case FormatCSV:
		return CSVWriter{}, nil
	}
	return nil, fmt.Errorf("unknown output format %q (want parquet or csv)", format)
}

// writeFile writes res to path through a temporary file so a failed write
// never leaves a partial partition behind.
func writeFile(path string, w Writer, res *transform.Result) (err error) {
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err = w.Write(f, res); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// CSVWriter writes a header row and formatted values; nulls are empty.
type CSVWriter struct{}

func (CSVWriter) Ext() string { return ".csv" }

func (CSVWriter) Write(w io.Writer, res *transform.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(res.Names()); err != nil {
		return err
	}

	record := make([]string, len(res.Columns))
	for row := 0; row < res.Rows; row++ {
		for i, col := range res.Columns {
			record[i], _ = clean.Format(col.Values[row])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParquetWriter writes one snappy-compressed row group per table with a
// schema derived from the column types. Every column is OPTIONAL.
type ParquetWriter struct{}

func (ParquetWriter) Ext() string { return ".parquet" }

func (ParquetWriter) Write(w io.Writer, res *transform.Result) error {
	failed := make(map[string]bool, len(res.FailedColumns))
	for _, name := range res.FailedColumns {
		failed[name] = true
	}

	kinds := make([]parquetKind, len(res.Columns))
	md := make([]string, len(res.Columns))
	for i, col := range res.Columns {
		kinds[i] = kindOf(col, failed[col.Name])
		md[i] = fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", col.Name, kinds[i].tag())
	}

	pw, err := writer.NewCSVWriter(md, writerfile.NewWriterFile(w), 1)
	if err != nil {
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	rec := make([]any, len(res.Columns))
	for row := 0; row < res.Rows; row++ {
		for i, col := range res.Columns {
			rec[i] = kinds[i].value(col.Values[row])
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return fmt.Errorf("parquet write row %d: %w", row, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("parquet flush: %w", err)
	}
	return nil
}

type parquetKind int

const (
	kindString parquetKind = iota
	kindInt64
	kindDouble
	kindDate
	kindBool
	kindTimestamp
)

// kindOf picks the physical type. A column whose cleaner failed holds raw
// strings whatever its declared type.
func kindOf(col transform.Column, failed bool) parquetKind {
	if failed {
		return kindString
	}
	if col.Storage == transform.StorageTimestamp {
		return kindTimestamp
	}
	switch col.Type {
	case schema.TypeInteger:
		return kindInt64
	case schema.TypeFloat:
		return kindDouble
	case schema.TypeDate:
		return kindDate
	case schema.TypeBoolean:
		return kindBool
	}
	return kindString
}

func (k parquetKind) tag() string {
	switch k {
	case kindInt64:
		return "type=INT64"
	case kindDouble:
		return "type=DOUBLE"
	case kindDate:
		return "type=INT32, convertedtype=DATE"
	case kindBool:
		return "type=BOOLEAN"
	case kindTimestamp:
		return "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	}
	return "type=BYTE_ARRAY, convertedtype=UTF8"
}

// value converts a cleaned value to the Go type the parquet writer expects
// for k. Values of the wrong shape are written as null.
func (k parquetKind) value(v any) any {
	if v == nil {
		return nil
	}
	switch k {
	case kindInt64:
		if n, ok := v.(int64); ok {
			return n
		}
	case kindDouble:
		if d, ok := v.(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
	case kindDate:
		if t, ok := v.(time.Time); ok {
			return int32(t.Unix() / 86400)
		}
	case kindBool:
		if b, ok := v.(bool); ok {
			return b
		}
	case kindTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.UnixMilli()
		}
	default:
		if s, ok := clean.Format(v); ok {
			return s
		}
	}
	return nil
}
