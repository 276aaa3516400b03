package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/payrecon/internal/query"
	"github.com/JonMunkholm/payrecon/internal/schema"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_URL", "")

	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeRegistry(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema_registry.json")
	reg := schema.Registry{
		schema.SourcePortal: {
			TargetTable: "portal",
			Columns: map[string]schema.ColumnSpec{
				"order_id":      schema.NewColumnSpec("Order Id", "order_id", schema.TypeInteger),
				"customer_name": schema.NewColumnSpec("Customer", "customer_name", schema.TypeString),
			},
		},
	}
	if err := schema.Save(path, reg); err != nil {
		t.Fatalf("save registry: %v", err)
	}
	return path
}

// ----------------------------------------------------------------------------
// infer
// ----------------------------------------------------------------------------

func TestInferCommand(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "exports"), 0o755)
	os.WriteFile(filepath.Join(dir, "exports", "portal.csv"),
		[]byte("Order Id,Order Total\n1001,10.50\n1002,99.00\n"), 0o644)
	sources := filepath.Join(dir, "sources.yaml")
	os.WriteFile(sources, []byte("sources:\n  portal:\n    files: [exports/portal.csv]\n"), 0o644)
	registry := filepath.Join(dir, "out", "schema_registry.json")

	out, err := execute(t, "infer", "--sources", sources, "--out", registry, "--sample", "5")
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if !strings.Contains(out, "portal") || !strings.Contains(out, registry) {
		t.Errorf("output = %q", out)
	}
	if _, err := schema.Load(registry); err != nil {
		t.Errorf("registry not written: %v", err)
	}
}

func TestInferRejectsBadSample(t *testing.T) {
	_, err := execute(t, "infer", "--sample", "0")
	if err == nil || !strings.Contains(err.Error(), "--sample") {
		t.Fatalf("err = %v", err)
	}
}

// ----------------------------------------------------------------------------
// generate
// ----------------------------------------------------------------------------

func TestGenerateToStdout(t *testing.T) {
	registry := writeRegistry(t)

	out, err := execute(t, "--registry", registry, "generate",
		"--fields", "portal:customer_name",
		"--from", "2024-01-01", "--to", "2024-01-31",
		"--limit", "25", "--distinct")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	for _, want := range []string{"CREATE OR REPLACE VIEW", "DISTINCT ON", "LIMIT 25", "2024-01-31", "portal_customer_name"} {
		if !strings.Contains(out, want) {
			t.Errorf("SQL missing %q", want)
		}
	}
}

func TestGenerateToFile(t *testing.T) {
	registry := writeRegistry(t)
	path := filepath.Join(t.TempDir(), "report.sql")

	out, err := execute(t, "--registry", registry, "generate", "--no-reconciliation", "-o", path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("output = %q", out)
	}

	sql, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if strings.Contains(string(sql), "bank_match_type") {
		t.Error("reconciliation disabled but bank_match_type present")
	}
}

func TestGenerateErrors(t *testing.T) {
	registry := writeRegistry(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"half date range", []string{"--registry", registry, "generate", "--from", "2024-01-01"}, "invalid date filter"},
		{"bad field spec", []string{"--registry", registry, "generate", "--fields", "portal"}, "field selection"},
		{"missing registry", []string{"--registry", filepath.Join(t.TempDir(), "none.json"), "generate"}, "schema registry not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Database commands
// ----------------------------------------------------------------------------

func TestDatabaseCommandsNeedURL(t *testing.T) {
	registry := writeRegistry(t)

	for _, args := range [][]string{
		{"--registry", registry, "run"},
		{"--registry", registry, "load"},
		{"--registry", registry, "clean", "--load"},
	} {
		_, err := execute(t, args...)
		if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
			t.Errorf("%v: err = %v, want DATABASE_URL error", args, err)
		}
	}
}

func TestCleanRejectsBadFormat(t *testing.T) {
	_, err := execute(t, "clean", "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "--format") {
		t.Fatalf("err = %v", err)
	}
}

// ----------------------------------------------------------------------------
// Flags and errors
// ----------------------------------------------------------------------------

func TestReportFlagsRequest(t *testing.T) {
	var flags reportFlags
	cmd := &cobra.Command{Use: "test"}
	flags.register(cmd, "")

	if err := cmd.ParseFlags([]string{"--all-outcomes", "--best-match", "--limit", "0"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	req, err := flags.request(cmd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if req.SuccessOnly == nil || *req.SuccessOnly {
		t.Errorf("SuccessOnly = %v, want false", req.SuccessOnly)
	}
	if req.BankMatch != string(query.BestMatch) {
		t.Errorf("BankMatch = %q", req.BankMatch)
	}
	if req.Limit == nil || *req.Limit != 0 {
		t.Errorf("explicit --limit 0 should override the config, got %v", req.Limit)
	}
	if req.IncludeReconciliation != nil || req.DistinctOrders != nil || req.FieldSpec != "" {
		t.Errorf("unset flags leaked into the request: %+v", req)
	}
}

func TestFormatError(t *testing.T) {
	got := formatError(schema.ErrNoRegistry)
	if !strings.Contains(got, "REG001") || !strings.HasPrefix(got, "error: ") {
		t.Errorf("formatError = %q", got)
	}

	got = formatError(errors.New("something odd"))
	if got != "error: something odd" {
		t.Errorf("formatError = %q", got)
	}
}
