// Package transform turns a raw source table into the normalized table for
// its source: configured columns only, cleaned by semantic type, renamed to
// canonical names and stamped with data_source and processed_at.
//
// A failing cleaner never drops rows. The raw column is copied under its
// canonical name instead and the failure is recorded on the Result.
package transform

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/JonMunkholm/payrecon/internal/clean"
	"github.com/JonMunkholm/payrecon/internal/schema"
	"github.com/JonMunkholm/payrecon/internal/source"
)

// Metadata columns appended to every normalized table.
const (
	ColDataSource  = "data_source"
	ColProcessedAt = "processed_at"
	ColDuplicate   = "is_potential_duplicate"
)

// StorageTimestamp is the storage type of processed_at.
const StorageTimestamp = "TIMESTAMP"

// ErrNoColumns is returned when none of the configured headers are present.
var ErrNoColumns = errors.New("no configured columns found in file")

// Column is one normalized column.
type Column struct {
	Name    string
	Type    schema.SemanticType
	Storage string
	Values  []any

	// Nulled counts non-null inputs the cleaner turned into null.
	Nulled int

	// Filled marks a column back-filled with nulls because the file did
	// not have it.
	Filled bool
}

// Result is a normalized table plus what happened while producing it.
type Result struct {
	Source  string
	File    string
	Rows    int
	Columns []Column

	Missing       []string // configured headers absent from the file
	Extra         []string // file headers absent from the configuration
	FailedColumns []string // canonical names copied raw after a cleaner failure
	Duplicates    int
}

// Column returns the column called name.
func (r *Result) Column(name string) (*Column, bool) {
	for i := range r.Columns {
		if r.Columns[i].Name == name {
			return &r.Columns[i], true
		}
	}
	return nil, false
}

// Names returns the column names in output order.
func (r *Result) Names() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Transformer applies a source schema to raw tables.
type Transformer struct {
	cleaners *clean.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a Transformer using the given cleaner map.
func New(cleaners *clean.Registry, logger *slog.Logger) *Transformer {
	return &Transformer{
		cleaners: cleaners,
		logger:   logger.With("component", "transform"),
		now:      time.Now,
	}
}

// Transform normalizes tbl according to spec. The output always holds every
// canonical column of spec (back-filled with nulls when missing) followed by
// data_source and processed_at.
func (t *Transformer) Transform(tbl *source.Table, spec schema.SourceSchema, sourceID string) (*Result, error) {
	file := filepath.Base(tbl.Path)
	log := t.logger.With("source", sourceID, "file", file)

	res := &Result{Source: sourceID, File: file, Rows: len(tbl.Rows)}

	configured := make(map[string]bool, len(spec.Columns))
	for _, col := range spec.Columns {
		configured[col.Original] = true
		if tbl.Index(col.Original) < 0 {
			res.Missing = append(res.Missing, col.Original)
		}
	}
	for _, h := range tbl.Headers {
		if !configured[h] {
			res.Extra = append(res.Extra, h)
		}
	}
	sort.Strings(res.Missing)

	if len(res.Missing) > 0 {
		log.Warn("configured columns missing from file", "missing", res.Missing)
	}
	if len(res.Extra) > 0 {
		log.Info("dropping unconfigured columns", "columns", res.Extra)
	}
	if len(res.Missing) == len(spec.Columns) {
		return nil, fmt.Errorf("%w: source %s, file %s", ErrNoColumns, sourceID, file)
	}

	for _, col := range spec.OrderedColumns() {
		raw, ok := tbl.Column(col.Original)
		if !ok {
			continue
		}
		stripControl(raw)
		res.Columns = append(res.Columns, t.cleanColumn(raw, col, sourceID, res, log))
	}

	res.Columns = append(res.Columns,
		constantColumn(ColDataSource, schema.TypeString, schema.TypeString.StorageType(), sourceID, res.Rows),
		constantColumn(ColProcessedAt, "", StorageTimestamp, t.now().UTC().Truncate(time.Second), res.Rows),
	)

	Conform(res, spec)
	return res, nil
}

func (t *Transformer) cleanColumn(raw []any, spec schema.ColumnSpec, sourceID string, res *Result, log *slog.Logger) Column {
	out := Column{
		Name:    spec.CanonicalName,
		Type:    spec.SemanticType,
		Storage: storageOf(spec),
	}

	opts := clean.Options{Source: sourceID, ColumnName: spec.Original, MappedName: spec.CanonicalName}
	cleaned, err := t.runCleaner(spec.SemanticType, raw, opts)
	if err != nil {
		log.Warn("cleaner failed, keeping raw column",
			"column", spec.CanonicalName,
			"type", spec.SemanticType,
			"error", err,
		)
		res.FailedColumns = append(res.FailedColumns, spec.CanonicalName)
		out.Values = raw
		return out
	}

	for i, v := range cleaned {
		if v == nil && !clean.IsNull(raw[i]) {
			out.Nulled++
		}
	}
	out.Values = cleaned
	return out
}

// runCleaner dispatches to the cleaner for typ, converting a panic or a
// short result into an error.
func (t *Transformer) runCleaner(typ schema.SemanticType, values []any, opts clean.Options) (out []any, err error) {
	c, ok := t.cleaners.For(typ)
	if !ok {
		return nil, fmt.Errorf("no cleaner for type %q", typ)
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("cleaner panic: %v", r)
		}
	}()

	out, err = c.Clean(values, opts)
	if err == nil && len(out) != len(values) {
		err = fmt.Errorf("cleaner returned %d values for %d rows", len(out), len(values))
	}
	return out, err
}

func stripControl(values []any) {
	for i, v := range values {
		if s, ok := v.(string); ok {
			values[i] = clean.StripControl(s)
		}
	}
}

func constantColumn(name string, typ schema.SemanticType, storage string, v any, rows int) Column {
	values := make([]any, rows)
	for i := range values {
		values[i] = v
	}
	return Column{Name: name, Type: typ, Storage: storage, Values: values}
}

func storageOf(spec schema.ColumnSpec) string {
	if spec.StorageType != "" {
		return spec.StorageType
	}
	return spec.SemanticType.StorageType()
}
