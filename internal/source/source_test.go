package source

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"

	"github.com/JonMunkholm/payrecon/internal/schema"
)

// ----------------------------------------------------------------------------
// CSV Tests
// ----------------------------------------------------------------------------

func TestReadCSVDelimiters(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  rune
	}{
		{"comma", "Order Id,Amount\n1001,10.50\n", ','},
		{"semicolon", "Order Id;Amount\n1001;10,50\n", ';'},
		{"tab", "Order Id\tAmount\n1001\t10.50\n", '\t'},
		{"quoted comma ignored", "\"Name, Full\";Amount\nA;1\n", ';'},
		{"single column", "Order Id\n1001\n", ','},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := ReadCSV(strings.NewReader(tt.input), Options{})
			if err != nil {
				t.Fatalf("ReadCSV() error = %v", err)
			}
			if tbl.Delimiter != tt.want {
				t.Errorf("Delimiter = %q, want %q", tbl.Delimiter, tt.want)
			}
			if len(tbl.Rows) != 1 {
				t.Errorf("rows = %d, want 1", len(tbl.Rows))
			}
		})
	}
}

func TestReadCSVHeaders(t *testing.T) {
	input := "\xEF\xBB\xBF  Order Id , Amount ,\r\n1001,5,\r\n"

	tbl, err := ReadCSV(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}

	want := []string{"Order Id", "Amount"}
	if !reflect.DeepEqual(tbl.Headers, want) {
		t.Errorf("Headers = %q, want %q", tbl.Headers, want)
	}
	if tbl.Encoding != EncodingUTF8BOM {
		t.Errorf("Encoding = %q, want %q", tbl.Encoding, EncodingUTF8BOM)
	}
}

func TestReadCSVRaggedRows(t *testing.T) {
	input := "a,b,c\n1\n1,2,3,4\n\n,,\n7,8,9\n"

	tbl, err := ReadCSV(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}

	want := [][]string{
		{"1", "", ""},
		{"1", "2", "3"},
		{"7", "8", "9"},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("Rows = %q, want %q", tbl.Rows, want)
	}
}

func TestReadCSVLazyQuotes(t *testing.T) {
	input := "name,note\nfoo,say \"hi\" now\n"

	tbl, err := ReadCSV(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if got := tbl.Rows[0][1]; got != `say "hi" now` {
		t.Errorf("note = %q", got)
	}
}

func TestReadCSVLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("n\n")
	for i := 0; i < 50; i++ {
		b.WriteString("1\n")
	}

	tbl, err := ReadCSV(strings.NewReader(b.String()), Options{Limit: 20})
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(tbl.Rows) != 20 {
		t.Errorf("rows = %d, want 20", len(tbl.Rows))
	}
}

func TestReadCSVEmpty(t *testing.T) {
	for _, input := range []string{"", "\xEF\xBB\xBF", ",,,\n"} {
		_, err := ReadCSV(strings.NewReader(input), Options{})
		if !errors.Is(err, ErrEmptyFile) {
			t.Errorf("ReadCSV(%q) error = %v, want ErrEmptyFile", input, err)
		}
	}
}

// ----------------------------------------------------------------------------
// Encoding Tests
// ----------------------------------------------------------------------------

func TestReadCSVUTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := enc.String("Order Id,Name\n1001,مطبخ\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tbl, err := ReadCSV(strings.NewReader(data), Options{})
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if tbl.Encoding != EncodingUTF16 {
		t.Errorf("Encoding = %q, want %q", tbl.Encoding, EncodingUTF16)
	}
	if tbl.Headers[0] != "Order Id" || tbl.Rows[0][1] != "مطبخ" {
		t.Errorf("decoded = %q / %q", tbl.Headers, tbl.Rows)
	}
}

func TestReadCSVLegacyFallback(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		encoding string
		want     string
		wantEnc  string
	}{
		{
			name:     "arabic",
			input:    []byte("name\n\xC7\xE3\n"),
			encoding: schema.EncodingArabic,
			want:     "ام",
			wantEnc:  schema.EncodingArabic,
		},
		{
			name:     "latin1",
			input:    []byte("name\ncaf\xE9\n"),
			encoding: schema.EncodingLatin1,
			want:     "café",
			wantEnc:  schema.EncodingLatin1,
		},
		{
			name:    "unknown falls back to latin1",
			input:   []byte("name\ncaf\xE9\n"),
			want:    "café",
			wantEnc: schema.EncodingLatin1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := ReadCSV(bytes.NewReader(tt.input), Options{Encoding: tt.encoding})
			if err != nil {
				t.Fatalf("ReadCSV() error = %v", err)
			}
			if tbl.Encoding != tt.wantEnc {
				t.Errorf("Encoding = %q, want %q", tbl.Encoding, tt.wantEnc)
			}
			if got := tbl.Rows[0][0]; got != tt.want {
				t.Errorf("value = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUTF8SanitizerSplitSequences(t *testing.T) {
	input := "a,مطبخ,é\n"
	r := newUTF8Sanitizer(iotest.OneByteReader(strings.NewReader(input)))

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != input {
		t.Errorf("got %q, want %q", got, input)
	}
	if r.Replaced() != 0 {
		t.Errorf("Replaced() = %d, want 0", r.Replaced())
	}
}

func TestUTF8SanitizerInvalidBytes(t *testing.T) {
	r := newUTF8Sanitizer(strings.NewReader("ok\xFFok"))

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "ok?ok" {
		t.Errorf("got %q, want %q", got, "ok?ok")
	}
	if r.Replaced() != 1 {
		t.Errorf("Replaced() = %d, want 1", r.Replaced())
	}
}

// ----------------------------------------------------------------------------
// File Tests
// ----------------------------------------------------------------------------

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.xlsx")

	f := excelize.NewFile()
	if err := f.SetSheetRow("Sheet1", "A1", &[]any{" Order Id ", "Order Total"}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &[]any{1001, 12.5}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Sheet1", "A3", &[]any{1002}); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	tbl, err := Read(path, Options{})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if !reflect.DeepEqual(tbl.Headers, []string{"Order Id", "Order Total"}) {
		t.Errorf("Headers = %q", tbl.Headers)
	}
	want := [][]string{{"1001", "12.5"}, {"1002", ""}}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("Rows = %q, want %q", tbl.Rows, want)
	}
	if tbl.Path != path {
		t.Errorf("Path = %q", tbl.Path)
	}
}

func TestReadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.CSV")
	if err := os.WriteFile(path, []byte("RRN;Transaction Amount\n123;5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tbl, err := Read(path, Options{})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	col, ok := tbl.Column("Transaction Amount")
	if !ok || len(col) != 1 || col[0] != "5" {
		t.Errorf("Column() = %v, %v", col, ok)
	}
	if _, ok := tbl.Column("missing"); ok {
		t.Error("Column(missing) reported ok")
	}
	if tbl.Bytes == 0 {
		t.Error("Bytes not counted")
	}
}

func TestReadUnsupported(t *testing.T) {
	_, err := Read("report.pdf", Options{})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Read() error = %v, want ErrUnsupportedFormat", err)
	}
	if IsSupported("report.pdf") || !IsSupported("x.XLSX") {
		t.Error("IsSupported() mismatch")
	}
}
