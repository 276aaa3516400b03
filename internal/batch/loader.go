package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/payrecon/internal/clean"
	"github.com/JonMunkholm/payrecon/internal/schema"
	"github.com/JonMunkholm/payrecon/internal/transform"
)

// DBTX is the subset of *pgxpool.Pool the loader needs.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, rows pgx.CopyFromSource) (int64, error)
}

// Loader bulk-loads normalized tables into PostgreSQL, one table per
// source. Prepare must run once per source before any Load of that source.
type Loader struct {
	db      DBTX
	catalog *schema.Catalog
	logger  *slog.Logger

	// locks serializes COPY per table.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLoader returns a Loader writing through db.
func NewLoader(db DBTX, catalog *schema.Catalog, logger *slog.Logger) *Loader {
	return &Loader{
		db:      db,
		catalog: catalog,
		logger:  logger.With("component", "loader"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// TableColumns returns the column definitions for a source table: the
// registry columns, any view column the files never had (typed as
// VARCHAR(255)), then the metadata columns.
func TableColumns(spec schema.SourceSchema, src *schema.Source) [][2]string {
	cols := make([][2]string, 0, len(spec.Columns)+8)
	for _, c := range spec.OrderedColumns() {
		storage := c.StorageType
		if storage == "" {
			storage = c.SemanticType.StorageType()
		}
		cols = append(cols, [2]string{c.CanonicalName, storage})
	}
	if src != nil {
		for _, name := range src.ViewColumns {
			if !spec.Has(name) {
				cols = append(cols, [2]string{name, schema.TypeString.StorageType()})
			}
		}
	}
	return append(cols,
		[2]string{transform.ColDataSource, schema.TypeString.StorageType()},
		[2]string{transform.ColProcessedAt, transform.StorageTimestamp},
		[2]string{transform.ColDuplicate, schema.TypeBoolean.StorageType()},
	)
}

// CreateTableSQL renders CREATE TABLE IF NOT EXISTS for a source.
func CreateTableSQL(table string, cols [][2]string) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("    %s %s", quoteIdentifier(c[0]), c[1])
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", quoteIdentifier(table), strings.Join(defs, ",\n"))
}

// Prepare creates the source table if needed and empties it, so each run
// replaces the previous run's rows.
func (l *Loader) Prepare(ctx context.Context, sourceID string, spec schema.SourceSchema) error {
	src, _ := l.catalog.Lookup(sourceID)
	table := tableName(sourceID, spec)

	if _, err := l.db.Exec(ctx, CreateTableSQL(table, TableColumns(spec, src))); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	if _, err := l.db.Exec(ctx, "TRUNCATE TABLE "+quoteIdentifier(table)); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	l.logger.Info("prepared table", "source", sourceID, "table", table)
	return nil
}

// Load copies res into the source table.
func (l *Loader) Load(ctx context.Context, sourceID string, spec schema.SourceSchema, res *transform.Result) (int64, error) {
	table := tableName(sourceID, spec)

	lock := l.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	n, err := l.db.CopyFrom(ctx, pgx.Identifier{table}, res.Names(), &resultSource{res: res, row: -1})
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}

	l.logger.Info("loaded rows",
		"source", sourceID,
		"table", table,
		"file", res.File,
		"rows", n,
		"duration", time.Since(start),
	)
	return n, nil
}

func (l *Loader) tableLock(table string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[table]
	if !ok {
		m = &sync.Mutex{}
		l.locks[table] = m
	}
	return m
}

// resultSource streams a Result through pgx.CopyFromSource.
type resultSource struct {
	res *transform.Result
	row int
	buf []any
}

func (s *resultSource) Next() bool {
	s.row++
	return s.row < s.res.Rows
}

func (s *resultSource) Values() ([]any, error) {
	if s.buf == nil {
		s.buf = make([]any, len(s.res.Columns))
	}
	for i, col := range s.res.Columns {
		s.buf[i] = pgValue(col, col.Values[s.row])
	}
	return s.buf, nil
}

func (s *resultSource) Err() error { return nil }

// pgValue converts a cleaned value for COPY. Raw strings left in a
// non-text column by a failed cleaner load as NULL.
func pgValue(col transform.Column, v any) any {
	if col.Storage == transform.StorageTimestamp {
		if t, ok := v.(time.Time); ok {
			return pgtype.Timestamp{Time: t, Valid: true}
		}
		return nil
	}
	return clean.ToPg(col.Type, v)
}

func tableName(sourceID string, spec schema.SourceSchema) string {
	if spec.TargetTable != "" {
		return spec.TargetTable
	}
	return sourceID
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
