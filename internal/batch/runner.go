// Package batch runs the cleaning stage over every file in a registry: read,
// transform, write one output partition per file and optionally bulk-load
// the result into PostgreSQL.
//
// The first file of a run is processed on its own before any fan-out. If it
// fails the run stops with ErrFirstBatch; later failures are collected in
// the Report without cancelling sibling files.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/payrecon/internal/metrics"
	"github.com/JonMunkholm/payrecon/internal/schema"
	"github.com/JonMunkholm/payrecon/internal/source"
	"github.com/JonMunkholm/payrecon/internal/transform"
)

// ErrFirstBatch wraps the failure of the first file of a run.
var ErrFirstBatch = errors.New("first batch failed")

// DefaultWorkers bounds the per-file fan-out when Options.Workers is unset.
const DefaultWorkers = 4

// Options configures a Runner.
type Options struct {
	OutputDir      string
	Workers        int
	Format         string // parquet or csv
	FlagDuplicates bool
}

// Task is one source file to clean.
type Task struct {
	Source string
	File   string
	Spec   schema.SourceSchema
}

// FileResult reports one processed file.
type FileResult struct {
	Source        string        `json:"source"`
	File          string        `json:"file"`
	Output        string        `json:"output,omitempty"`
	Rows          int           `json:"rows"`
	Loaded        int64         `json:"loaded"`
	Missing       []string      `json:"missing,omitempty"`
	FailedColumns []string      `json:"failed_columns,omitempty"`
	Duplicates    int           `json:"duplicates"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Files    []FileResult `json:"files"`
	Failed   int          `json:"failed"`
}

// Runner cleans registry sources.
type Runner struct {
	catalog     *schema.Catalog
	transformer *transform.Transformer
	writer      Writer
	loader      *Loader
	metrics     *metrics.Metrics
	logger      *slog.Logger
	opts        Options
}

// NewRunner validates opts and returns a Runner. loader and m may be nil.
func NewRunner(catalog *schema.Catalog, tr *transform.Transformer, loader *Loader, m *metrics.Metrics, logger *slog.Logger, opts Options) (*Runner, error) {
	w, err := NewWriter(opts.Format)
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.OutputDir == "" {
		return nil, errors.New("batch: output directory is required")
	}
	return &Runner{
		catalog:     catalog,
		transformer: tr,
		writer:      w,
		loader:      loader,
		metrics:     m,
		logger:      logger.With("component", "batch"),
		opts:        opts,
	}, nil
}

// Tasks lists the files of the selected sources in registry order. An
// empty selection means every source.
func Tasks(reg schema.Registry, sources []string) ([]Task, error) {
	ids := reg.SourceIDs()
	if len(sources) > 0 {
		for _, id := range sources {
			if _, err := reg.Source(id); err != nil {
				return nil, err
			}
		}
		ids = filterOrdered(ids, sources)
	}

	var tasks []Task
	for _, id := range ids {
		spec := reg[id]
		for _, f := range spec.Files {
			tasks = append(tasks, Task{Source: id, File: f, Spec: spec})
		}
	}
	return tasks, nil
}

// Run cleans the selected sources of reg.
func (r *Runner) Run(ctx context.Context, reg schema.Registry, sources []string) (*Report, error) {
	if reg == nil {
		return nil, schema.ErrNoRegistry
	}
	tasks, err := Tasks(reg, sources)
	if err != nil {
		return nil, err
	}

	report := &Report{Started: time.Now()}
	defer func() { report.Finished = time.Now() }()

	if len(tasks) == 0 {
		r.logger.Warn("no files to process")
		return report, nil
	}

	if r.loader != nil {
		prepared := make(map[string]bool)
		for _, t := range tasks {
			if prepared[t.Source] {
				continue
			}
			if err := r.loader.Prepare(ctx, t.Source, t.Spec); err != nil {
				return report, err
			}
			prepared[t.Source] = true
		}
	}

	results := make([]FileResult, len(tasks))

	first := tasks[0]
	results[0] = r.process(ctx, first)
	if results[0].Error != "" {
		report.Files = results[:1]
		report.Failed = 1
		return report, fmt.Errorf("%w: source %s, file %s: %s",
			ErrFirstBatch, first.Source, filepath.Base(first.File), results[0].Error)
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i := 1; i < len(tasks); i++ {
		i := i
		g.Go(func() error {
			results[i] = r.process(ctx, tasks[i])
			return nil
		})
	}
	g.Wait()

	report.Files = results
	for _, fr := range results {
		if fr.Error != "" {
			report.Failed++
		}
	}

	r.logger.Info("batch run finished",
		"files", len(results),
		"failed", report.Failed,
		"duration", time.Since(report.Started),
	)
	return report, ctx.Err()
}

// process handles one file end to end. Errors are returned inside the
// FileResult so siblings keep running.
func (r *Runner) process(ctx context.Context, t Task) FileResult {
	start := time.Now()
	fr := FileResult{Source: t.Source, File: t.File}
	log := r.logger.With("source", t.Source, "file", filepath.Base(t.File))

	err := r.processFile(ctx, t, &fr)
	fr.Duration = time.Since(start)

	status := "ok"
	if err != nil {
		status = "failed"
		fr.Error = err.Error()
		log.Error("file failed", "error", err)
	} else {
		log.Info("file processed", "rows", fr.Rows, "output", fr.Output, "duration", fr.Duration)
	}
	r.metrics.FileProcessed(t.Source, status)
	return fr
}

func (r *Runner) processFile(ctx context.Context, t Task, fr *FileResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := r.catalog.MustLookup(t.Source)
	if err != nil {
		return err
	}

	tbl, err := source.Read(t.File, source.Options{Encoding: src.Encoding})
	if err != nil {
		return err
	}

	res, err := r.transformer.Transform(tbl, t.Spec, t.Source)
	if err != nil {
		return err
	}
	if r.opts.FlagDuplicates {
		transform.FlagDuplicates(res, src.DuplicateKeys, r.logger)
	}

	fr.Rows = res.Rows
	fr.Missing = res.Missing
	fr.FailedColumns = res.FailedColumns
	fr.Duplicates = res.Duplicates

	for _, col := range res.Columns {
		r.metrics.CellsNulled(t.Source, string(col.Type), col.Nulled)
	}
	r.metrics.ColumnsFailed(t.Source, len(res.FailedColumns))

	out, err := r.outputPath(t)
	if err != nil {
		return err
	}
	if err := writeFile(out, r.writer, res); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(out), err)
	}
	fr.Output = out

	if r.loader != nil {
		n, err := r.loader.Load(ctx, t.Source, t.Spec, res)
		if err != nil {
			return err
		}
		fr.Loaded = n
	}
	return nil
}

// outputPath is <output>/<source>/<file stem><ext>.
func (r *Runner) outputPath(t Task) (string, error) {
	dir := filepath.Join(r.opts.OutputDir, t.Source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(t.File)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+r.writer.Ext()), nil
}

func filterOrdered(ordered, keep []string) []string {
	want := make(map[string]bool, len(keep))
	for _, k := range keep {
		want[k] = true
	}
	var out []string
	for _, id := range ordered {
		if want[id] {
			out = append(out, id)
		}
	}
	return out
}
