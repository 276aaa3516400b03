package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Load reads configuration from environment variables, applies defaults and
// validates the result. A database URL is required.
func Load() (*Config, error) {
	return load(true)
}

// LoadOffline is Load for commands that never open a database connection.
func LoadOffline() (*Config, error) {
	return load(false)
}

func load(requireDB bool) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.validate(requireDB); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := os.Getenv(envName)
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = os.Getenv(alt)
		}

		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(strings.TrimSpace(value))

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks the full configuration, including the database URL.
// All violations are reported in a single error.
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireDB bool) error {
	var errs []string

	// Database
	if requireDB && c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.StatementTimeout < 0 {
		errs = append(errs, "DB_STATEMENT_TIMEOUT must be non-negative")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Pipeline
	if c.Pipeline.RegistryPath == "" {
		errs = append(errs, "REGISTRY_PATH is required")
	}
	if c.Pipeline.InferSampleSize <= 0 {
		errs = append(errs, "INFER_SAMPLE_SIZE must be positive")
	}
	if c.Pipeline.MaxWorkers <= 0 {
		errs = append(errs, "MAX_WORKERS must be positive")
	}
	if !oneOf(c.Pipeline.OutputFormat, "parquet", "csv") {
		errs = append(errs, fmt.Sprintf("OUTPUT_FORMAT (%q) must be one of: parquet, csv", c.Pipeline.OutputFormat))
	}

	// Report
	if c.Report.Schedule != "" {
		if _, err := cron.ParseStandard(c.Report.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("REPORT_SCHEDULE (%q) is not a valid cron expression: %v", c.Report.Schedule, err))
		}
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("REPORT_TIMEZONE (%q) is not a known timezone", c.Report.Timezone))
	}
	if !oneOf(c.Report.BankMatch, "any", "best") {
		errs = append(errs, fmt.Sprintf("REPORT_BANK_MATCH (%q) must be one of: any, best", c.Report.BankMatch))
	}
	if !oneOf(c.Report.ExportFormat, "csv", "xlsx") {
		errs = append(errs, fmt.Sprintf("REPORT_EXPORT_FORMAT (%q) must be one of: csv, xlsx", c.Report.ExportFormat))
	}
	if c.Report.RowLimit < 0 {
		errs = append(errs, "REPORT_ROW_LIMIT must be non-negative")
	}
	if c.Report.LookbackDays < 0 {
		errs = append(errs, "REPORT_LOOKBACK_DAYS must be non-negative")
	}
	if c.Report.HistorySize <= 0 {
		errs = append(errs, "REPORT_HISTORY_SIZE must be positive")
	}

	// Rate limit
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	// Security
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging
	if !oneOf(c.Logging.Level, "debug", "info", "warn", "error") {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	if !oneOf(c.Logging.Format, "text", "json") {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func oneOf(v string, allowed ...string) bool {
	v = strings.ToLower(v)
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// String returns a safe string representation of the config for logging.
// The database URL is masked.
func (c *Config) String() string {
	dbURL := "[MASKED]"
	if c.Database.URL == "" {
		dbURL = "[UNSET]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: %s, MaxConns: %d, MinConns: %d, StatementTimeout: %s}, ",
		dbURL, c.Database.MaxConns, c.Database.MinConns, c.Database.StatementTimeout)
	fmt.Fprintf(&b, "Pipeline: {Registry: %q, Output: %q, Format: %s, Workers: %d}, ",
		c.Pipeline.RegistryPath, c.Pipeline.OutputDir, c.Pipeline.OutputFormat, c.Pipeline.MaxWorkers)
	fmt.Fprintf(&b, "Report: {Schedule: %q, Timezone: %s, BankMatch: %s, Export: %s}, ",
		c.Report.Schedule, c.Report.Timezone, c.Report.BankMatch, c.Report.ExportFormat)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ", c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
