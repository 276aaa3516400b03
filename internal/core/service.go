package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/payrecon/internal/batch"
	"github.com/JonMunkholm/payrecon/internal/clean"
	"github.com/JonMunkholm/payrecon/internal/config"
	"github.com/JonMunkholm/payrecon/internal/executor"
	"github.com/JonMunkholm/payrecon/internal/infer"
	"github.com/JonMunkholm/payrecon/internal/metrics"
	"github.com/JonMunkholm/payrecon/internal/query"
	"github.com/JonMunkholm/payrecon/internal/schema"
	"github.com/JonMunkholm/payrecon/internal/transform"
)

// ErrNoDatabase is returned by operations that need PostgreSQL when the
// service was built without a pool.
var ErrNoDatabase = errors.New("database not configured")

// reportExecutor runs a pipeline and exports the report to a file.
type reportExecutor interface {
	Run(ctx context.Context, p *query.Pipeline, path string) (*executor.Result, error)
	Ext() string
}

// Service wires the pipeline stages together for the API, the CLI and the
// scheduler.
type Service struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics

	catalog     *schema.Catalog
	cleaners    *clean.Registry
	transformer *transform.Transformer
	exec        reportExecutor

	slots   *runSlots
	runs    *runHistory

	mu       sync.RWMutex
	registry schema.Registry

	// background runs started through StartRun
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewService creates a Service. pool may be nil for offline use (infer,
// clean without loading, generate); database operations then fail with
// ErrNoDatabase. m may be nil.
func NewService(pool *pgxpool.Pool, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	catalog := schema.DefaultCatalog()
	if path := cfg.Pipeline.CatalogOverridesPath; path != "" {
		if err := catalog.ApplyOverrides(path); err != nil {
			return nil, fmt.Errorf("catalog overrides: %w", err)
		}
	}

	cleaners := clean.NewRegistry(catalog, logger)

	s := &Service{
		cfg:         cfg,
		pool:        pool,
		logger:      logger,
		metrics:     m,
		catalog:     catalog,
		cleaners:    cleaners,
		transformer: transform.New(cleaners, logger),
		slots:       newRunSlots(DefaultRunSlots, DefaultSlotWait),
		runs:        newRunHistory(cfg.Report.HistorySize),
		now:         time.Now,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if pool != nil {
		exec, err := executor.New(pool, executor.Options{
			StatementTimeout: cfg.Database.StatementTimeout,
			Format:           cfg.Report.ExportFormat,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.exec = exec
	}

	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Catalog returns the source catalog in use.
func (s *Service) Catalog() *schema.Catalog { return s.catalog }

// Ping checks database connectivity.
func (s *Service) Ping(ctx context.Context) error {
	if s.pool == nil {
		return ErrNoDatabase
	}
	return s.pool.Ping(ctx)
}

// ============================================================================
// Registry
// ============================================================================

// Registry returns the cached registry, loading it from REGISTRY_PATH on
// first use.
func (s *Service) Registry() (schema.Registry, error) {
	s.mu.RLock()
	reg := s.registry
	s.mu.RUnlock()
	if reg != nil {
		return reg, nil
	}
	return s.LoadRegistry()
}

// LoadRegistry (re)reads the registry from REGISTRY_PATH.
func (s *Service) LoadRegistry() (schema.Registry, error) {
	reg, err := schema.Load(s.cfg.Pipeline.RegistryPath)
	if err != nil {
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.registry = reg
	s.mu.Unlock()

	s.logger.Info("schema registry loaded",
		"path", s.cfg.Pipeline.RegistryPath,
		"sources", len(reg),
	)
	return reg, nil
}

// InferRegistry builds a registry from the files listed in SOURCES_PATH,
// saves it to REGISTRY_PATH and makes it current.
func (s *Service) InferRegistry(ctx context.Context) (schema.Registry, error) {
	list, err := infer.LoadSourceList(s.cfg.Pipeline.SourcesPath)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	in := infer.New(s.catalog, s.logger, s.cfg.Pipeline.InferSampleSize)
	reg, err := in.BuildRegistry(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("infer registry: %w", err)
	}

	if err := schema.Save(s.cfg.Pipeline.RegistryPath, reg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.registry = reg
	s.mu.Unlock()

	s.logger.Info("schema registry inferred",
		"path", s.cfg.Pipeline.RegistryPath,
		"sources", len(reg),
		"duration", time.Since(start),
	)
	return reg, nil
}

// ============================================================================
// Cleaning
// ============================================================================

// CleanSources cleans every file of the given sources (all registry sources
// when empty) into OUTPUT_DIR. With load set, cleaned tables also replace
// the source tables in PostgreSQL.
func (s *Service) CleanSources(ctx context.Context, sources []string, load bool) (*batch.Report, error) {
	reg, err := s.Registry()
	if err != nil {
		return nil, err
	}

	var loader *batch.Loader
	if load {
		if s.pool == nil {
			return nil, ErrNoDatabase
		}
		loader = batch.NewLoader(s.pool, s.catalog, s.logger)
	}

	runner, err := batch.NewRunner(s.catalog, s.transformer, loader, s.metrics, s.logger, batch.Options{
		OutputDir:      s.cfg.Pipeline.OutputDir,
		Workers:        s.cfg.Pipeline.MaxWorkers,
		Format:         s.cfg.Pipeline.OutputFormat,
		FlagDuplicates: s.cfg.Pipeline.FlagDuplicates,
	})
	if err != nil {
		return nil, err
	}

	return runner.Run(ctx, reg, sources)
}

// ============================================================================
// Reports
// ============================================================================

// AvailableFields lists the columns of the reconciliation view.
func (s *Service) AvailableFields(includeReconciliation bool) []string {
	return query.AvailableFields(includeReconciliation)
}

// GenerateReport builds the SQL pipeline for req without executing it.
func (s *Service) GenerateReport(req ReportRequest) (*query.Pipeline, error) {
	p, _, err := s.generate(req)
	return p, err
}

func (s *Service) generate(req ReportRequest) (*query.Pipeline, query.Options, error) {
	opts, err := req.Options(s.cfg.Report)
	if err != nil {
		return nil, opts, err
	}

	reg, err := s.Registry()
	if err != nil {
		return nil, opts, err
	}

	gen, err := query.NewGenerator(reg, s.logger)
	if err != nil {
		return nil, opts, err
	}
	p, err := gen.Generate(opts)
	if err != nil {
		return nil, opts, err
	}
	return p, opts, nil
}

// RunReport generates, executes and exports a report, waiting for a free
// run slot first. The returned RunInfo is also kept in the run history.
func (s *Service) RunReport(ctx context.Context, req ReportRequest, trigger string) (*RunInfo, error) {
	if s.exec == nil {
		return nil, ErrNoDatabase
	}

	p, opts, err := s.generate(req)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if err := s.slots.acquire(ctx, id); err != nil {
		return nil, err
	}
	defer s.slots.release(id)

	info := s.newRun(id, trigger, opts)
	err = s.execute(ctx, info.ID, p)

	final, _ := s.runs.get(info.ID)
	return &final, err
}

// StartRun validates req and starts the run in the background. It fails
// immediately with ErrRunInProgress, naming the blocking run, when another
// run holds the slot.
func (s *Service) StartRun(req ReportRequest, trigger string) (*RunInfo, error) {
	if s.exec == nil {
		return nil, ErrNoDatabase
	}

	p, opts, err := s.generate(req)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if err := s.slots.tryAcquire(id); err != nil {
		return nil, err
	}

	info := s.newRun(id, trigger, opts)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.slots.release(id)
		s.execute(s.ctx, info.ID, p)
	}()

	return &info, nil
}

func (s *Service) newRun(id, trigger string, opts query.Options) RunInfo {
	info := RunInfo{
		ID:      id,
		Trigger: trigger,
		Status:  RunPending,
		Started: s.now(),
		Options: opts,
	}
	s.runs.add(info)
	return info
}

// execute runs p for run id and records the outcome. The caller holds a
// run slot.
func (s *Service) execute(ctx context.Context, id string, p *query.Pipeline) error {
	log := s.logger.With("run_id", id)

	var started time.Time
	s.runs.update(id, func(r *RunInfo) {
		r.Status = RunRunning
		started = r.Started
	})
	log.Info("report run started")

	name := fmt.Sprintf("reconciliation_%s_%s%s", started.Format("20060102_150405"), id[:8], s.exec.Ext())
	path := filepath.Join(s.cfg.Report.Dir, name)

	res, err := s.exec.Run(ctx, p, path)
	finished := s.now()

	s.runs.update(id, func(r *RunInfo) {
		r.Finished = &finished
		if err != nil {
			r.Status = RunFailed
			r.Error = err.Error()
			r.Code = MapError(err).Code
			return
		}
		r.Status = RunSucceeded
		r.Rows = res.Rows
		r.Output = res.Output
	})

	status := string(RunSucceeded)
	if err != nil {
		status = string(RunFailed)
		log.Error("report run failed", "error", err, "code", MapError(err).Code)
	} else {
		log.Info("report run completed", "rows", res.Rows, "output", res.Output)
	}
	s.metrics.ReportRun(status, finished.Sub(started))
	return err
}

// Run returns one run from the history.
func (s *Service) Run(id string) (RunInfo, error) {
	r, ok := s.runs.get(id)
	if !ok {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, nil
}

// Active returns the ids of runs currently executing, oldest first.
func (s *Service) Active() []string {
	return s.slots.running()
}

// Runs returns the run history, newest first.
func (s *Service) Runs() []RunInfo {
	return s.runs.list()
}

// Close cancels background runs and waits for them to return or for ctx
// to expire.
func (s *Service) Close(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
