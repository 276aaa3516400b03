package batch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/payrecon/internal/clean"
	"github.com/JonMunkholm/payrecon/internal/schema"
	"github.com/JonMunkholm/payrecon/internal/transform"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func portalSpec(files ...string) schema.SourceSchema {
	return schema.SourceSchema{
		TargetTable: "portal",
		Files:       files,
		Columns: map[string]schema.ColumnSpec{
			"order_id":           schema.NewColumnSpec("Order Id", "order_id", schema.TypeInteger),
			"transaction_amount": schema.NewColumnSpec("Order Total", "transaction_amount", schema.TypeFloat),
		},
	}
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newRunner(t *testing.T, out string, loader *Loader) *Runner {
	t.Helper()
	catalog := schema.DefaultCatalog()
	tr := transform.New(clean.NewRegistry(catalog, discard()), discard())
	r, err := NewRunner(catalog, tr, loader, nil, discard(), Options{
		OutputDir:      out,
		Workers:        2,
		Format:         FormatCSV,
		FlagDuplicates: true,
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return r
}

const (
	goodPortal = "Order Id,Order Total\n1001,\"1,250.50\"\n1002,N/A\n"
	badPortal  = "Something,Else\n1,2\n"
)

// fakeDB records statements and drains COPY sources.
type fakeDB struct {
	mu     sync.Mutex
	execs  []string
	copied map[string][][]any
	cols   []string
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag(""), nil
}

func (f *fakeDB) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, rows pgx.CopyFromSource) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copied == nil {
		f.copied = make(map[string][][]any)
	}
	f.cols = columns
	var n int64
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return n, err
		}
		f.copied[table[0]] = append(f.copied[table[0]], append([]any(nil), vals...))
		n++
	}
	return n, rows.Err()
}

// ----------------------------------------------------------------------------
// Runner Tests
// ----------------------------------------------------------------------------

func TestRunWritesPartitions(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	a := writeInput(t, in, "jan.csv", goodPortal)
	b := writeInput(t, in, "feb.csv", goodPortal)
	reg := schema.Registry{schema.SourcePortal: portalSpec(a, b)}

	report, err := newRunner(t, out, nil).Run(context.Background(), reg, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Files) != 2 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	data, err := os.ReadFile(filepath.Join(out, "portal", "jan.csv"))
	if err != nil {
		t.Fatalf("read partition: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("partition has %d lines, want 3:\n%s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "order_id,transaction_amount,data_source,processed_at") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasSuffix(lines[0], transform.ColDuplicate) {
		t.Errorf("header %q missing duplicate flag", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1001,1250.5,portal,") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "1002,,portal,") {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestRunFirstBatchFailureStops(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	bad := writeInput(t, in, "bad.csv", badPortal)
	good := writeInput(t, in, "good.csv", goodPortal)
	reg := schema.Registry{schema.SourcePortal: portalSpec(bad, good)}

	report, err := newRunner(t, out, nil).Run(context.Background(), reg, nil)
	if !errors.Is(err, ErrFirstBatch) {
		t.Fatalf("Run() error = %v, want ErrFirstBatch", err)
	}
	if !strings.Contains(err.Error(), "bad.csv") || !strings.Contains(err.Error(), "portal") {
		t.Errorf("error %q does not name the file and source", err)
	}
	if len(report.Files) != 1 {
		t.Errorf("processed %d files, want 1", len(report.Files))
	}
	if _, err := os.Stat(filepath.Join(out, "portal", "good.csv")); !os.IsNotExist(err) {
		t.Errorf("later file was processed after first-batch failure")
	}
}

func TestRunCollectsLaterFailures(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	good := writeInput(t, in, "good.csv", goodPortal)
	bad := writeInput(t, in, "bad.csv", badPortal)
	good2 := writeInput(t, in, "good2.csv", goodPortal)
	reg := schema.Registry{schema.SourcePortal: portalSpec(good, bad, good2)}

	report, err := newRunner(t, out, nil).Run(context.Background(), reg, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", report.Failed)
	}
	if report.Files[1].Error == "" || !strings.Contains(report.Files[1].Error, "no configured column") {
		t.Errorf("bad file error = %q", report.Files[1].Error)
	}
	for _, name := range []string{"good.csv", "good2.csv"} {
		if _, err := os.Stat(filepath.Join(out, "portal", name)); err != nil {
			t.Errorf("partition %s missing: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "portal", "bad.csv")); !os.IsNotExist(err) {
		t.Errorf("failed file left output behind")
	}
}

func TestRunUnknownSource(t *testing.T) {
	reg := schema.Registry{schema.SourcePortal: portalSpec()}
	_, err := newRunner(t, t.TempDir(), nil).Run(context.Background(), reg, []string{"nope"})
	if !errors.Is(err, schema.ErrUnknownSource) {
		t.Errorf("Run() error = %v, want ErrUnknownSource", err)
	}
}

func TestRunNilRegistry(t *testing.T) {
	_, err := newRunner(t, t.TempDir(), nil).Run(context.Background(), nil, nil)
	if !errors.Is(err, schema.ErrNoRegistry) {
		t.Errorf("Run() error = %v, want ErrNoRegistry", err)
	}
}

func TestRunLoadsIntoDatabase(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	a := writeInput(t, in, "jan.csv", goodPortal)
	b := writeInput(t, in, "feb.csv", goodPortal)
	reg := schema.Registry{schema.SourcePortal: portalSpec(a, b)}

	db := &fakeDB{}
	loader := NewLoader(db, schema.DefaultCatalog(), discard())
	report, err := newRunner(t, out, loader).Run(context.Background(), reg, []string{schema.SourcePortal})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(db.execs) != 2 {
		t.Fatalf("execs = %v, want create + truncate", db.execs)
	}
	if !strings.HasPrefix(db.execs[0], `CREATE TABLE IF NOT EXISTS "portal"`) {
		t.Errorf("first exec = %q", db.execs[0])
	}
	if db.execs[1] != `TRUNCATE TABLE "portal"` {
		t.Errorf("second exec = %q", db.execs[1])
	}
	if got := len(db.copied["portal"]); got != 4 {
		t.Errorf("copied %d rows, want 4", got)
	}
	for _, fr := range report.Files {
		if fr.Loaded != 2 {
			t.Errorf("%s loaded %d rows, want 2", fr.File, fr.Loaded)
		}
	}

	row := db.copied["portal"][0]
	if id, ok := row[0].(int64); !ok || id != 1001 {
		t.Errorf("order_id value = %#v", row[0])
	}
	if _, ok := row[3].(pgtype.Timestamp); !ok {
		t.Errorf("processed_at value = %#v", row[3])
	}
}

func TestNewRunnerRejectsBadOptions(t *testing.T) {
	catalog := schema.DefaultCatalog()
	tr := transform.New(clean.NewRegistry(catalog, discard()), discard())

	if _, err := NewRunner(catalog, tr, nil, nil, discard(), Options{OutputDir: "x", Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := NewRunner(catalog, tr, nil, nil, discard(), Options{}); err == nil {
		t.Error("expected error for missing output dir")
	}
}

// ----------------------------------------------------------------------------
// Writer Tests
// ----------------------------------------------------------------------------

type failingWriter struct{}

func (failingWriter) Ext() string { return ".csv" }

func (failingWriter) Write(w io.Writer, _ *transform.Result) error {
	io.WriteString(w, "half a row")
	return errors.New("disk full")
}

func TestWriteFileRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jan.csv")

	if err := writeFile(path, failingWriter{}, &transform.Result{}); err == nil {
		t.Fatal("writeFile() succeeded, want error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("directory not empty after failed write: %v", entries)
	}
}

func TestCSVWriter(t *testing.T) {
	res := &transform.Result{
		Rows: 2,
		Columns: []transform.Column{
			{Name: "amount", Type: schema.TypeFloat, Values: []any{decimal.RequireFromString("10.5"), nil}},
			{Name: "note", Type: schema.TypeText, Values: []any{"a, b", "c"}},
		},
	}

	var buf bytes.Buffer
	if err := (CSVWriter{}).Write(&buf, res); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := "amount,note\n10.5,\"a, b\"\n,c\n"
	if buf.String() != want {
		t.Errorf("Write() = %q, want %q", buf.String(), want)
	}
}

func TestParquetWriter(t *testing.T) {
	res := &transform.Result{
		Rows: 1,
		Columns: []transform.Column{
			{Name: "order_id", Type: schema.TypeInteger, Values: []any{int64(7)}},
			{Name: "note", Type: schema.TypeString, Values: []any{nil}},
		},
	}

	var buf bytes.Buffer
	if err := (ParquetWriter{}).Write(&buf, res); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	b := buf.Bytes()
	if len(b) < 8 || string(b[:4]) != "PAR1" || string(b[len(b)-4:]) != "PAR1" {
		t.Errorf("output is not a parquet file (%d bytes)", len(b))
	}
}

func TestNewWriter(t *testing.T) {
	tests := []struct {
		format  string
		wantExt string
		wantErr bool
	}{
		{"", ".parquet", false},
		{FormatParquet, ".parquet", false},
		{FormatCSV, ".csv", false},
		{"json", "", true},
	}
	for _, tt := range tests {
		w, err := NewWriter(tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewWriter(%q) error = %v", tt.format, err)
			continue
		}
		if err == nil && w.Ext() != tt.wantExt {
			t.Errorf("NewWriter(%q).Ext() = %q, want %q", tt.format, w.Ext(), tt.wantExt)
		}
	}
}

// ----------------------------------------------------------------------------
// Loader Tests
// ----------------------------------------------------------------------------

func TestTableColumns(t *testing.T) {
	src, _ := schema.DefaultCatalog().Lookup(schema.SourcePortal)
	cols := TableColumns(portalSpec(), src)

	if cols[0] != [2]string{"order_id", "INTEGER"} {
		t.Errorf("first column = %v", cols[0])
	}
	last := cols[len(cols)-3:]
	want := [][2]string{
		{transform.ColDataSource, "VARCHAR(255)"},
		{transform.ColProcessedAt, transform.StorageTimestamp},
		{transform.ColDuplicate, "BOOLEAN"},
	}
	for i := range want {
		if last[i] != want[i] {
			t.Errorf("metadata column %d = %v, want %v", i, last[i], want[i])
		}
	}

	found := false
	for _, c := range cols {
		if c[0] == "chef_name" {
			found = c[1] == "VARCHAR(255)"
		}
	}
	if !found {
		t.Error("view column chef_name not added as VARCHAR(255)")
	}
}

func TestCreateTableSQL(t *testing.T) {
	got := CreateTableSQL(`we"ird`, [][2]string{{"a", "INTEGER"}, {"b", "TEXT"}})
	want := "CREATE TABLE IF NOT EXISTS \"we\"\"ird\" (\n    \"a\" INTEGER,\n    \"b\" TEXT\n);"
	if got != want {
		t.Errorf("CreateTableSQL() =\n%s\nwant\n%s", got, want)
	}
}
