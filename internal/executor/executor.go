// Package executor runs a generated reconciliation pipeline against
// PostgreSQL and exports the report.
//
// DDL chunks (indexes, view) run one statement at a time in autocommit mode
// so a failure in one does not roll back the others. The report select runs
// on a dedicated connection with a statement timeout and is exported either
// through COPY ... TO STDOUT (CSV) or row by row into an xlsx workbook.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/payrecon/internal/query"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Chunk names reported in ChunkError.
const (
	ChunkIndexes    = "indexes"
	ChunkDropView   = "drop_view"
	ChunkCreateView = "create_view"
	ChunkSelect     = "select"
)

// ChunkError reports which pipeline statement failed.
type ChunkError struct {
	Chunk string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("pipeline %s failed: %v", e.Chunk, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// session is one database connection held for the report select.
type session interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyTo(ctx context.Context, w io.Writer, sql string) (pgconn.CommandTag, error)
	Release()
}

// database is the pool surface the executor needs.
type database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	session(ctx context.Context) (session, error)
}

type poolDB struct{ pool *pgxpool.Pool }

func (p poolDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}

func (p poolDB) session(ctx context.Context) (session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return poolSession{conn}, nil
}

type poolSession struct{ conn *pgxpool.Conn }

func (s poolSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.conn.Exec(ctx, sql, args...)
}

func (s poolSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.conn.Query(ctx, sql, args...)
}

func (s poolSession) CopyTo(ctx context.Context, w io.Writer, sql string) (pgconn.CommandTag, error) {
	return s.conn.Conn().PgConn().CopyTo(ctx, w, sql)
}

func (s poolSession) Release() { s.conn.Release() }

// Options configures an Executor.
type Options struct {
	StatementTimeout time.Duration // 0 disables the timeout
	Format           string        // csv or xlsx
}

// Result describes one exported report.
type Result struct {
	Output   string        `json:"output"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration"`
}

// Executor runs pipelines.
type Executor struct {
	db     database
	opts   Options
	logger *slog.Logger
}

// New returns an Executor over pool.
func New(pool *pgxpool.Pool, opts Options, logger *slog.Logger) (*Executor, error) {
	return newExecutor(poolDB{pool}, opts, logger)
}

func newExecutor(db database, opts Options, logger *slog.Logger) (*Executor, error) {
	switch opts.Format {
	case "":
		opts.Format = FormatCSV
	case FormatCSV, FormatXLSX:
	default:
		return nil, fmt.Errorf("unknown export format %q (want csv or xlsx)", opts.Format)
	}
	return &Executor{db: db, opts: opts, logger: logger.With("component", "executor")}, nil
}

// Ext returns the file extension of exported reports.
func (e *Executor) Ext() string { return "." + e.opts.Format }

// Prepare runs the index and view chunks, each in its own autocommit
// statement.
func (e *Executor) Prepare(ctx context.Context, p *query.Pipeline) error {
	chunks := []struct {
		name string
		sql  string
	}{
		{ChunkIndexes, p.Indexes},
		{ChunkDropView, p.DropView},
		{ChunkCreateView, p.CreateView},
	}
	for _, c := range chunks {
		start := time.Now()
		if _, err := e.db.Exec(ctx, c.sql); err != nil {
			return &ChunkError{Chunk: c.name, Err: err}
		}
		e.logger.Debug("pipeline chunk done", "chunk", c.name, "duration", time.Since(start))
	}
	return nil
}

// Export runs the report select and writes it to w.
func (e *Executor) Export(ctx context.Context, p *query.Pipeline, w io.Writer) (int64, error) {
	sess, err := e.db.session(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer sess.Release()

	if e.opts.StatementTimeout > 0 {
		ms := e.opts.StatementTimeout.Milliseconds()
		if _, err := sess.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", ms)); err != nil {
			return 0, fmt.Errorf("set statement timeout: %w", err)
		}
		defer sess.Exec(context.Background(), "RESET statement_timeout")
	}

	stmt := strings.TrimSuffix(strings.TrimSpace(p.Select), ";")

	var n int64
	switch e.opts.Format {
	case FormatXLSX:
		rows, qerr := sess.Query(ctx, stmt)
		if qerr != nil {
			return 0, &ChunkError{Chunk: ChunkSelect, Err: qerr}
		}
		n, err = writeXLSX(w, rows)
	default:
		var tag pgconn.CommandTag
		tag, err = sess.CopyTo(ctx, w, CopySQL(stmt))
		n = tag.RowsAffected()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
		return n, &ChunkError{Chunk: ChunkSelect, Err: err}
	}
	return n, nil
}

// CopySQL wraps a select for CSV export with a header row.
func CopySQL(selectSQL string) string {
	return "COPY (" + strings.TrimSuffix(strings.TrimSpace(selectSQL), ";") + ") TO STDOUT WITH CSV HEADER"
}

// Run prepares the pipeline and exports the report to path. The report is
// written to a temporary file first and renamed into place on success.
func (e *Executor) Run(ctx context.Context, p *query.Pipeline, path string) (*Result, error) {
	start := time.Now()

	if err := e.Prepare(ctx, p); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	n, err := e.Export(ctx, p, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("finalize report: %w", err)
	}

	res := &Result{Output: path, Rows: n, Duration: time.Since(start)}
	e.logger.Info("report exported",
		"output", path,
		"rows", n,
		"format", e.opts.Format,
		"duration", res.Duration,
	)
	return res, nil
}

// IsTimeout reports whether err came from statement_timeout or a context
// deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "57014"
}
