package core

// scheduler.go runs reconciliation reports on a cron schedule.
//
// Each tick runs one report with the configured REPORT_* options and, when
// REPORT_LOOKBACK_DAYS is set, a date filter covering the last N days in the
// report timezone. A tick that fires while the previous run is still going
// is skipped. Failures are logged and recorded in the run history; they
// never stop the scheduler.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/payrecon/internal/config"
)

// reportRunner is the part of Service the scheduler drives.
type reportRunner interface {
	RunReport(ctx context.Context, req ReportRequest, trigger string) (*RunInfo, error)
}

// Scheduler triggers report runs from a cron expression.
type Scheduler struct {
	runner reportRunner
	cfg    config.ReportConfig
	loc    *time.Location
	cron   *cron.Cron
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler parses cfg.Schedule in cfg's timezone. The scheduler does
// nothing until Start.
func NewScheduler(r reportRunner, cfg config.ReportConfig, logger *slog.Logger) (*Scheduler, error) {
	loc := cfg.Location()
	logger = logger.With("component", "scheduler")

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		),
	)

	s := &Scheduler{
		runner: r,
		cfg:    cfg,
		loc:    loc,
		cron:   c,
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := c.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("unable to schedule reconciliation report %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("report scheduler started",
		"schedule", s.cfg.Schedule,
		"timezone", s.loc.String(),
		"lookback_days", s.cfg.LookbackDays,
	)
}

// Stop cancels a running tick and waits for it to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.logger.Info("report scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled fire time.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	req := Lookback(s.cfg.LookbackDays, time.Now(), s.loc)

	s.logger.Info("scheduled report run starting", "from", req.From, "to", req.To)
	info, err := s.runner.RunReport(s.ctx, req, TriggerSchedule)
	if err != nil {
		attrs := []any{"error", err, "code", MapError(err).Code}
		if info != nil {
			attrs = append(attrs, "run_id", info.ID)
		}
		s.logger.Error("scheduled report run failed", attrs...)
		return
	}
	s.logger.Info("scheduled report run completed",
		"run_id", info.ID,
		"rows", info.Rows,
		"output", info.Output,
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
