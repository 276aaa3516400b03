// Package source reads raw payment exports (CSV, XLSX, XLS) into a header
// plus string rows, ready for the transformer.
//
// CSV files are decoded to UTF-8 first (see decode) and their delimiter is
// sniffed from the header line. Spreadsheets are read from their first
// sheet using raw cell values, so dates arrive as spreadsheet serials and
// are converted by the date cleaner.
package source

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var (
	ErrEmptyFile         = errors.New("file has no header row")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Options controls a single read.
type Options struct {
	// Encoding is the single-byte fallback for CSV files that are not
	// UTF-8 (schema.EncodingLatin1 or schema.EncodingArabic).
	Encoding string

	// Limit stops after this many data rows. Zero reads everything.
	Limit int
}

// Table is a raw file: trimmed headers and rows padded to the header width.
type Table struct {
	Path      string
	Headers   []string
	Rows      [][]string
	Encoding  string
	Delimiter rune
	Bytes     int64
}

// Index returns the position of header, or -1.
func (t *Table) Index(header string) int {
	for i, h := range t.Headers {
		if h == header {
			return i
		}
	}
	return -1
}

// Column returns the values under header as raw strings.
func (t *Table) Column(header string) ([]any, bool) {
	idx := t.Index(header)
	if idx < 0 {
		return nil, false
	}
	col := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		col[i] = row[idx]
	}
	return col, true
}

// IsSupported reports whether path has an extension Read understands.
func IsSupported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", ".xlsx", ".xls":
		return true
	}
	return false
}

// Read loads path, choosing the reader by extension.
func Read(path string, opts Options) (*Table, error) {
	var (
		t   *Table
		err error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		t, err = readCSVFile(path, opts)
	case ".xlsx":
		t, err = readXLSX(path, opts)
	case ".xls":
		t, err = readXLS(path, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	t.Path = path
	return t, nil
}

func readCSVFile(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadCSV(f, opts)
}

// ReadCSV reads a delimited export from r.
func ReadCSV(r io.Reader, opts Options) (*Table, error) {
	counter := &countingReader{reader: r}
	decoded, enc, err := decode(counter, opts.Encoding)
	if err != nil {
		return nil, fmt.Errorf("detect encoding: %w", err)
	}

	br := bufio.NewReaderSize(decoded, sniffSize)
	line, err := peekHeaderLine(br)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(line)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &Table{
		Headers:   normalizeHeaders(header),
		Encoding:  enc,
		Delimiter: reader.Comma,
	}
	if len(t.Headers) == 0 {
		return nil, ErrEmptyFile
	}

	for opts.Limit <= 0 || len(t.Rows) < opts.Limit {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.Rows)+1, err)
		}
		t.appendRow(record)
	}

	t.Bytes = counter.n
	return t, nil
}

func readXLSX(path string, opts Options) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheets[0], err)
	}
	defer rows.Close()

	t := &Table{Encoding: EncodingUTF8}
	for rows.Next() {
		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheets[0], err)
		}
		if t.Headers == nil {
			if isBlank(cols) {
				continue
			}
			t.Headers = normalizeHeaders(cols)
			continue
		}
		if opts.Limit > 0 && len(t.Rows) >= opts.Limit {
			break
		}
		t.appendRow(cols)
	}
	if err := rows.Error(); err != nil {
		return nil, err
	}
	if len(t.Headers) == 0 {
		return nil, ErrEmptyFile
	}
	return t, nil
}

func readXLS(path string, opts Options) (t *Table, err error) {
	// The BIFF parser panics on some malformed workbooks.
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("parse xls: %v", r)
		}
	}()

	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, err
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, ErrEmptyFile
	}

	t = &Table{Encoding: EncodingUTF8}
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			continue
		}
		cols := make([]string, 0, row.LastCol())
		for j := 0; j < row.LastCol(); j++ {
			cols = append(cols, row.Col(j))
		}
		if t.Headers == nil {
			if isBlank(cols) {
				continue
			}
			t.Headers = normalizeHeaders(cols)
			continue
		}
		if opts.Limit > 0 && len(t.Rows) >= opts.Limit {
			break
		}
		t.appendRow(cols)
	}
	if len(t.Headers) == 0 {
		return nil, ErrEmptyFile
	}
	return t, nil
}

// appendRow pads or truncates record to the header width. Fully blank rows
// are skipped.
func (t *Table) appendRow(record []string) {
	if isBlank(record) {
		return
	}
	row := make([]string, len(t.Headers))
	copy(row, record)
	t.Rows = append(t.Rows, row)
}

// normalizeHeaders strips a leading BOM and surrounding whitespace and drops
// trailing empty header cells left by spreadsheet exports.
func normalizeHeaders(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
