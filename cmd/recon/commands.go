package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/payrecon/internal/batch"
	"github.com/JonMunkholm/payrecon/internal/config"
	"github.com/JonMunkholm/payrecon/internal/core"
	"github.com/JonMunkholm/payrecon/internal/logging"
	"github.com/JonMunkholm/payrecon/internal/query"
)

// app carries the state shared by all subcommands.
type app struct {
	out    io.Writer
	cfg    *config.Config
	logger *slog.Logger

	envFile  string
	logLevel string
	registry string
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "recon",
		Short: "Payment gateway reconciliation",
		Long: `recon infers a schema registry from gateway exports, cleans and loads
the exports into PostgreSQL, and generates or runs the reconciliation report.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load if present")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&a.registry, "registry", "", "schema registry path; overrides REGISTRY_PATH")

	root.AddCommand(
		a.inferCmd(),
		a.cleanCmd(),
		a.loadCmd(),
		a.generateCmd(),
		a.runCmd(),
	)
	return root
}

// setup loads the environment and configuration. The database URL is
// checked later, by the commands that connect.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.envFile != "" {
		if err := godotenv.Overload(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.LoadOffline()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.registry != "" {
		cfg.Pipeline.RegistryPath = a.registry
	}

	a.cfg = cfg
	a.logger = logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

// service builds a core.Service, connecting to PostgreSQL only when
// withDB is set. The returned cleanup closes the pool.
func (a *app) service(ctx context.Context, withDB bool) (*core.Service, func(), error) {
	if !withDB {
		svc, err := core.NewService(nil, a.cfg, nil, a.logger)
		return svc, func() {}, err
	}

	if err := a.cfg.Validate(); err != nil {
		return nil, nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(a.cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(a.cfg.Database.MaxConns)
	poolConfig.MinConns = int32(a.cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = a.cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = a.cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	svc, err := core.NewService(pool, a.cfg, nil, a.logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return svc, pool.Close, nil
}

// ============================================================================
// infer
// ============================================================================

func (a *app) inferCmd() *cobra.Command {
	var (
		sources string
		out     string
		sample  int
	)

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Infer the schema registry from the listed source files",
		Example: `  recon infer --sources sources.yaml --out schema_registry.json --sample 20`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("sources") {
				a.cfg.Pipeline.SourcesPath = sources
			}
			if cmd.Flags().Changed("out") {
				a.cfg.Pipeline.RegistryPath = out
			}
			if cmd.Flags().Changed("sample") {
				if sample <= 0 {
					return fmt.Errorf("--sample must be positive, got %d", sample)
				}
				a.cfg.Pipeline.InferSampleSize = sample
			}

			svc, cleanup, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			reg, err := svc.InferRegistry(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tTABLE\tFILES\tCOLUMNS")
			for _, id := range reg.SourceIDs() {
				s := reg[id]
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", id, s.TargetTable, len(s.Files), len(s.Columns))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "registry written to %s\n", a.cfg.Pipeline.RegistryPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&sources, "sources", "", "source list file (overrides SOURCES_PATH)")
	cmd.Flags().StringVar(&out, "out", "", "registry output path (overrides REGISTRY_PATH)")
	cmd.Flags().IntVar(&sample, "sample", 0, "rows sampled per file for type inference (overrides INFER_SAMPLE_SIZE)")
	return cmd
}

// ============================================================================
// clean / load
// ============================================================================

type cleanFlags struct {
	out     string
	workers int
	format  string
}

func (f *cleanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.out, "out", "", "output directory (overrides OUTPUT_DIR)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "parallel files (overrides MAX_WORKERS)")
	cmd.Flags().StringVar(&f.format, "format", "", "output format, parquet or csv (overrides OUTPUT_FORMAT)")
}

func (f *cleanFlags) apply(cmd *cobra.Command, cfg *config.PipelineConfig) error {
	if cmd.Flags().Changed("out") {
		cfg.OutputDir = f.out
	}
	if cmd.Flags().Changed("workers") {
		if f.workers <= 0 {
			return fmt.Errorf("--workers must be positive, got %d", f.workers)
		}
		cfg.MaxWorkers = f.workers
	}
	if cmd.Flags().Changed("format") {
		format := strings.ToLower(f.format)
		if format != batch.FormatParquet && format != batch.FormatCSV {
			return fmt.Errorf("--format must be parquet or csv, got %q", f.format)
		}
		cfg.OutputFormat = format
	}
	return nil
}

func (a *app) cleanCmd() *cobra.Command {
	var (
		flags cleanFlags
		load  bool
	)

	cmd := &cobra.Command{
		Use:   "clean [source...]",
		Short: "Clean source files against the registry",
		Long: `clean normalizes every file of the given sources (all registry sources
when none are named) into the output directory. With --load the cleaned
tables also replace the source tables in PostgreSQL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd, &a.cfg.Pipeline); err != nil {
				return err
			}
			return a.clean(cmd.Context(), args, load || a.cfg.Pipeline.LoadAfterClean)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&load, "load", false, "also load cleaned tables into PostgreSQL")
	return cmd
}

func (a *app) loadCmd() *cobra.Command {
	var flags cleanFlags

	cmd := &cobra.Command{
		Use:   "load [source...]",
		Short: "Clean source files and load them into PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd, &a.cfg.Pipeline); err != nil {
				return err
			}
			return a.clean(cmd.Context(), args, true)
		},
	}

	flags.register(cmd)
	return cmd
}

func (a *app) clean(ctx context.Context, sources []string, load bool) error {
	svc, cleanup, err := a.service(ctx, load)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := svc.CleanSources(ctx, sources, load)
	if err != nil {
		return err
	}

	printCleanReport(a.out, report)
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", report.Failed, len(report.Files))
	}
	return nil
}

func printCleanReport(w io.Writer, report *batch.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tFILE\tROWS\tLOADED\tDUPLICATES\tOUTPUT\tERROR")
	for _, f := range report.Files {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			f.Source, filepath.Base(f.File), f.Rows, f.Loaded, f.Duplicates, f.Output, f.Error)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d files in %s, %d failed\n",
		len(report.Files), report.Finished.Sub(report.Started).Round(time.Millisecond), report.Failed)
}

// ============================================================================
// generate / run
// ============================================================================

// reportFlags are the report options shared by generate and run.
type reportFlags struct {
	fields           string
	noReconciliation bool
	from, to         string
	limit            int
	distinct         bool
	allOutcomes      bool
	bestMatch        bool
	out              string
}

func (f *reportFlags) register(cmd *cobra.Command, outUsage string) {
	cmd.Flags().StringVar(&f.fields, "fields", "", `fields per source, e.g. "portal:customer_name;bank:rrn" (overrides REPORT_FIELDS)`)
	cmd.Flags().BoolVar(&f.noReconciliation, "no-reconciliation", false, "skip the bank reconciliation join")
	cmd.Flags().StringVar(&f.from, "from", "", "first transaction date, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "last transaction date, YYYY-MM-DD")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "row limit, 0 for none (overrides REPORT_ROW_LIMIT)")
	cmd.Flags().BoolVar(&f.distinct, "distinct", false, "one row per gateway order")
	cmd.Flags().BoolVar(&f.allOutcomes, "all-outcomes", false, "keep failed transactions, not only successes")
	cmd.Flags().BoolVar(&f.bestMatch, "best-match", false, "keep only the tightest bank match per transaction")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", outUsage)
}

// request turns the flags that were set into a report request; unset
// flags fall back to the REPORT_* configuration.
func (f *reportFlags) request(cmd *cobra.Command) (core.ReportRequest, error) {
	var req core.ReportRequest
	flags := cmd.Flags()

	if flags.Changed("fields") {
		if _, err := query.ParseFields(f.fields); err != nil {
			return req, err
		}
		req.FieldSpec = f.fields
	}
	if flags.Changed("no-reconciliation") {
		include := !f.noReconciliation
		req.IncludeReconciliation = &include
	}
	req.From, req.To = f.from, f.to
	if flags.Changed("limit") {
		limit := f.limit
		req.Limit = &limit
	}
	if flags.Changed("distinct") {
		distinct := f.distinct
		req.DistinctOrders = &distinct
	}
	if flags.Changed("all-outcomes") {
		successOnly := !f.allOutcomes
		req.SuccessOnly = &successOnly
	}
	if flags.Changed("best-match") {
		req.BankMatch = string(query.AnyMatch)
		if f.bestMatch {
			req.BankMatch = string(query.BestMatch)
		}
	}
	return req, nil
}

func (a *app) generateCmd() *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print the reconciliation SQL pipeline",
		Example: `  recon generate --fields "portal:customer_name;bank:rrn" --from 2024-01-01 --to 2024-01-31
  recon generate --no-reconciliation --distinct --limit 100 -o report.sql`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}

			svc, cleanup, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			p, err := svc.GenerateReport(req)
			if err != nil {
				return err
			}

			if flags.out == "" || flags.out == "-" {
				_, err = io.WriteString(a.out, p.SQL())
				return err
			}
			if err := os.WriteFile(flags.out, []byte(p.SQL()), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", flags.out, err)
			}
			fmt.Fprintf(a.out, "pipeline written to %s (%d fields)\n", flags.out, len(p.Fields))
			return nil
		},
	}

	flags.register(cmd, `write the SQL to this file instead of stdout`)
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate, execute and export the reconciliation report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			if flags.out != "" {
				a.cfg.Report.Dir = flags.out
			}

			svc, cleanup, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer cleanup()

			info, err := svc.RunReport(cmd.Context(), req, core.TriggerCLI)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "run %s: %d rows written to %s in %s\n",
				info.ID, info.Rows, info.Output, info.Finished.Sub(info.Started).Round(time.Millisecond))
			return nil
		},
	}

	flags.register(cmd, `report directory (overrides REPORT_DIR)`)
	return cmd
}

// formatError renders err for the terminal, adding the coded user message
// when one applies.
func formatError(err error) string {
	msg := "error: " + err.Error()
	if core.IsUserFacing(err) {
		msg += "\n" + core.FormatUserError(err)
	}
	return msg
}
