// Package metrics holds the Prometheus collectors for cleaning and report
// runs. Collectors live on a private registry so tests can build as many
// instances as they like; the API exposes it at /metrics.
//
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of pipeline collectors.
type Metrics struct {
	reg *prometheus.Registry

	cellsNulled    *prometheus.CounterVec
	columnsFailed  *prometheus.CounterVec
	filesProcessed *prometheus.CounterVec
	reportRuns     *prometheus.CounterVec
	reportDuration prometheus.Histogram
}

// New builds and registers the collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cellsNulled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payrecon_cells_nulled_total",
				Help: "Non-null raw cells turned into null by a cleaner, by source and semantic type.",
			},
			[]string{"source", "type"},
		),
		columnsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payrecon_columns_failed_total",
				Help: "Columns copied raw after their cleaner failed, by source.",
			},
			[]string{"source"},
		),
		filesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payrecon_files_processed_total",
				Help: "Source files processed by the batch runner, by source and status.",
			},
			[]string{"source", "status"},
		),
		reportRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payrecon_report_runs_total",
				Help: "Reconciliation report runs, by status.",
			},
			[]string{"status"},
		),
		reportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payrecon_report_duration_seconds",
			Help:    "Wall time of reconciliation report runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"cells nulled":    m.cellsNulled,
		"columns failed":  m.columnsFailed,
		"files processed": m.filesProcessed,
		"report runs":     m.reportRuns,
		"report duration": m.reportDuration,
	} {
		if err := m.reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register %s: %w", name, err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) CellsNulled(source, typ string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cellsNulled.WithLabelValues(source, typ).Add(float64(n))
}

func (m *Metrics) ColumnsFailed(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.columnsFailed.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) FileProcessed(source, status string) {
	if m == nil {
		return
	}
	m.filesProcessed.WithLabelValues(source, status).Inc()
}

// ReportRun records one report run and its duration.
func (m *Metrics) ReportRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.reportRuns.WithLabelValues(status).Inc()
	m.reportDuration.Observe(d.Seconds())
}
