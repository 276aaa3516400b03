// Package config provides centralized configuration management for the
// reconciliation service and CLI. Configuration is read from environment
// variables with defaults and validated on startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Pipeline PipelineConfig
	Report   ReportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 by default: report runs over the API can be slow.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds non-run API requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Supports both DATABASE_URL
	// and DB_URL. Required by everything except LoadOffline callers.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// StatementTimeout applies to the report select (default: 10m, 0 disables)
	StatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" default:"10m"`
}

// PipelineConfig holds inference and cleaning settings.
type PipelineConfig struct {
	// RegistryPath is where the inferred schema registry lives (.json or .yaml)
	RegistryPath string `env:"REGISTRY_PATH" default:"schema_registry.json"`

	// SourcesPath lists the raw files of every source
	SourcesPath string `env:"SOURCES_PATH" default:"sources.yaml"`

	// CatalogOverridesPath optionally extends the built-in source catalog
	CatalogOverridesPath string `env:"CATALOG_OVERRIDES_PATH"`

	OutputDir string `env:"OUTPUT_DIR" default:"cleaned_data"`

	// InferSampleSize is the number of leading rows inspected per column (default: 20)
	InferSampleSize int `env:"INFER_SAMPLE_SIZE" default:"20"`

	// MaxWorkers bounds concurrent file processing (default: 4)
	MaxWorkers int `env:"MAX_WORKERS" default:"4"`

	// OutputFormat is parquet or csv (default: parquet)
	OutputFormat string `env:"OUTPUT_FORMAT" default:"parquet"`

	// LoadAfterClean bulk-loads cleaned tables into PostgreSQL
	LoadAfterClean bool `env:"LOAD_AFTER_CLEAN" default:"false"`

	// FlagDuplicates adds is_potential_duplicate to cleaned tables (default: true)
	FlagDuplicates bool `env:"FLAG_DUPLICATES" default:"true"`
}

// ReportConfig holds reconciliation report settings.
type ReportConfig struct {
	// Schedule is a standard 5-field cron expression; empty disables scheduled runs
	Schedule string `env:"REPORT_SCHEDULE"`

	Timezone string `env:"REPORT_TIMEZONE" default:"UTC"`

	IncludeReconciliation bool `env:"REPORT_INCLUDE_RECONCILIATION" default:"true"`

	// SuccessOnly keeps only successful transactions in the view (default: true)
	SuccessOnly bool `env:"REPORT_SUCCESS_ONLY" default:"true"`

	// BankMatch is any or best (default: any)
	BankMatch string `env:"REPORT_BANK_MATCH" default:"any"`

	// RowLimit caps the report select; 0 means no limit
	RowLimit int `env:"REPORT_ROW_LIMIT" default:"0"`

	DistinctOrders bool `env:"REPORT_DISTINCT_ORDERS" default:"false"`

	// Fields is the requested field spec, e.g. "portal:customer_name;bank:rrn"
	Fields string `env:"REPORT_FIELDS"`

	// LookbackDays restricts scheduled runs to the last N days; 0 disables the filter
	LookbackDays int `env:"REPORT_LOOKBACK_DAYS" default:"0"`

	// ExportFormat is csv or xlsx (default: csv)
	ExportFormat string `env:"REPORT_EXPORT_FORMAT" default:"csv"`

	Dir string `env:"REPORT_DIR" default:"reports"`

	// HistorySize is the number of runs kept in memory (default: 50)
	HistorySize int `env:"REPORT_HISTORY_SIZE" default:"50"`
}

// RateLimitConfig holds per-IP rate limiting settings for the HTTP API.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the limit per client IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables API key authentication on /api routes
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Location returns the report timezone, falling back to UTC.
func (c *ReportConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		return time.UTC
	}
	return loc
}
