package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/payrecon/internal/config"
	"github.com/JonMunkholm/payrecon/internal/core"
	"github.com/JonMunkholm/payrecon/internal/logging"
	"github.com/JonMunkholm/payrecon/internal/metrics"
	"github.com/JonMunkholm/payrecon/internal/query"
	"github.com/JonMunkholm/payrecon/internal/schema"
)

// fakeService serves a fixed registry, generates real SQL and keeps runs in
// a map.
type fakeService struct {
	cfg     config.ReportConfig
	reg     schema.Registry
	regErr  error
	pingErr error
	busy    bool

	mu   sync.Mutex
	runs map[string]core.RunInfo
	reqs []core.ReportRequest
}

func newFakeService() *fakeService {
	return &fakeService{
		cfg: config.ReportConfig{IncludeReconciliation: true, SuccessOnly: true, BankMatch: "any"},
		reg: schema.Registry{
			schema.SourcePortal: {
				TargetTable: "portal",
				Files:       []string{"exports/portal.csv"},
				Columns: map[string]schema.ColumnSpec{
					"order_id":           schema.NewColumnSpec("Order ID", "order_id", schema.TypeInteger),
					"transaction_amount": schema.NewColumnSpec("Amount", "transaction_amount", schema.TypeFloat),
				},
			},
		},
		runs: map[string]core.RunInfo{},
	}
}

func (f *fakeService) Ping(context.Context) error { return f.pingErr }

func (f *fakeService) Registry() (schema.Registry, error) {
	if f.regErr != nil {
		return nil, f.regErr
	}
	return f.reg, nil
}

func (f *fakeService) LoadRegistry() (schema.Registry, error) { return f.Registry() }

func (f *fakeService) AvailableFields(include bool) []string {
	return query.AvailableFields(include)
}

func (f *fakeService) GenerateReport(req core.ReportRequest) (*query.Pipeline, error) {
	opts, err := req.Options(f.cfg)
	if err != nil {
		return nil, err
	}
	gen, err := query.NewGenerator(f.reg, logging.Discard())
	if err != nil {
		return nil, err
	}
	return gen.Generate(opts)
}

func (f *fakeService) StartRun(req core.ReportRequest, trigger string) (*core.RunInfo, error) {
	if _, err := f.GenerateReport(req); err != nil {
		return nil, err
	}
	if f.busy {
		return nil, core.ErrRunInProgress
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	info := core.RunInfo{
		ID:      fmt.Sprintf("run-%d", len(f.runs)+1),
		Trigger: trigger,
		Status:  core.RunPending,
		Started: time.Date(2024, 3, 5, 6, 30, 0, 0, time.UTC),
	}
	f.runs[info.ID] = info
	f.reqs = append(f.reqs, req)
	return &info, nil
}

func (f *fakeService) Run(id string) (core.RunInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.runs[id]
	if !ok {
		return core.RunInfo{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	return info, nil
}

func (f *fakeService) Runs() []core.RunInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.RunInfo
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Report: config.ReportConfig{IncludeReconciliation: true},
	}
}

func newTestServer(t *testing.T, svc Service, cfg *config.Config, m *metrics.Metrics) *Server {
	t.Helper()
	s := NewServer(svc, cfg, m, logging.Discard())
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// ----------------------------------------------------------------------------
// Health and metrics
// ----------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	svc := newFakeService()
	s := newTestServer(t, svc, testConfig(), nil)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	svc.pingErr = core.ErrNoDatabase
	rec = do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["code"] != "DB005" {
		t.Errorf("body = %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics.New: %v", err)
	}
	m.ReportRun("succeeded", time.Second)

	s := newTestServer(t, newFakeService(), testConfig(), m)
	rec := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "payrecon_") {
		t.Errorf("metrics status %d body %q", rec.Code, rec.Body.String())
	}

	s = newTestServer(t, newFakeService(), testConfig(), nil)
	if rec := do(t, s, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without collectors: status %d, want 404", rec.Code)
	}
}

// ----------------------------------------------------------------------------
// Registry
// ----------------------------------------------------------------------------

func TestRegistryEndpoints(t *testing.T) {
	svc := newFakeService()
	s := newTestServer(t, svc, testConfig(), nil)

	rec := do(t, s, http.MethodGet, "/api/registry", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct{ Sources []SourceResponse }](t, rec)
	if len(body.Sources) != 1 || body.Sources[0].ID != schema.SourcePortal {
		t.Fatalf("sources = %+v", body.Sources)
	}
	cols := body.Sources[0].Columns
	if len(cols) != 2 || cols[0].Name != "order_id" || cols[0].SemanticType != string(schema.TypeInteger) {
		t.Errorf("columns = %+v", cols)
	}

	rec = do(t, s, http.MethodGet, "/api/registry/portal", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("source status = %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/registry/stripe", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown source status = %d, want 404", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Code != "REG002" {
		t.Errorf("error = %+v", got)
	}

	rec = do(t, s, http.MethodPost, "/api/registry/reload", "")
	if rec.Code != http.StatusOK {
		t.Errorf("reload status = %d", rec.Code)
	}
}

func TestRegistryMissing(t *testing.T) {
	svc := newFakeService()
	svc.regErr = fmt.Errorf("%w: schema_registry.json", schema.ErrNoRegistry)
	s := newTestServer(t, svc, testConfig(), nil)

	rec := do(t, s, http.MethodGet, "/api/registry", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	got := decode[ErrorResponse](t, rec)
	if got.Code != "REG001" || got.Action == "" {
		t.Errorf("error = %+v", got)
	}
}

// ----------------------------------------------------------------------------
// Fields and query
// ----------------------------------------------------------------------------

func TestFields(t *testing.T) {
	s := newTestServer(t, newFakeService(), testConfig(), nil)

	tests := []struct {
		path    string
		status  int
		include bool
	}{
		{"/api/fields", http.StatusOK, true},
		{"/api/fields?reconciliation=false", http.StatusOK, false},
		{"/api/fields?reconciliation=maybe", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.path, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			body := decode[struct {
				Reconciliation bool
				Fields         []string
			}](t, rec)
			if body.Reconciliation != tt.include || len(body.Fields) != len(query.AvailableFields(tt.include)) {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestQuery(t *testing.T) {
	s := newTestServer(t, newFakeService(), testConfig(), nil)

	rec := do(t, s, http.MethodPost, "/api/query", `{"from":"2024-01-01","to":"2024-01-31","limit":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	got := decode[QueryResponse](t, rec)
	if !strings.Contains(got.CreateView, "CREATE") || !strings.Contains(got.Select, "LIMIT 10") {
		t.Errorf("pipeline = %+v", got)
	}
	if !strings.Contains(got.SQL, got.Select) || len(got.Fields) == 0 {
		t.Error("sql script should include the select and fields")
	}

	// An empty body runs with the defaults.
	if rec := do(t, s, http.MethodPost, "/api/query", ""); rec.Code != http.StatusOK {
		t.Errorf("empty body status = %d", rec.Code)
	}
}

func TestQueryBadRequests(t *testing.T) {
	s := newTestServer(t, newFakeService(), testConfig(), nil)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"from":`, "REQ001"},
		{"unknown field", `{"form":"2024-01-01"}`, "REQ001"},
		{"trailing data", `{} {}`, "REQ001"},
		{"half date range", `{"from":"2024-01-01"}`, "SQL001"},
		{"bad bank match", `{"bank_match":"first"}`, "SQL003"},
		{"negative limit", `{"limit":-1}`, "SQL005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/query", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			if got := decode[ErrorResponse](t, rec); got.Code != tt.code {
				t.Errorf("code = %s, want %s", got.Code, tt.code)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Runs
// ----------------------------------------------------------------------------

func TestRuns(t *testing.T) {
	svc := newFakeService()
	s := newTestServer(t, svc, testConfig(), nil)

	rec := do(t, s, http.MethodPost, "/api/runs", `{"bank_match":"best"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	info := decode[core.RunInfo](t, rec)
	if info.Trigger != core.TriggerAPI || rec.Header().Get("Location") != "/api/runs/"+info.ID {
		t.Errorf("run = %+v, location %q", info, rec.Header().Get("Location"))
	}
	if svc.reqs[0].BankMatch != "best" {
		t.Errorf("request not passed through: %+v", svc.reqs[0])
	}

	rec = do(t, s, http.MethodGet, "/api/runs/"+info.ID, "")
	if rec.Code != http.StatusOK || decode[core.RunInfo](t, rec).ID != info.ID {
		t.Errorf("get run: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/runs", "")
	if got := decode[struct{ Runs []core.RunInfo }](t, rec); len(got.Runs) != 1 {
		t.Errorf("runs = %+v", got.Runs)
	}

	rec = do(t, s, http.MethodGet, "/api/runs/nope", "")
	if rec.Code != http.StatusNotFound || decode[ErrorResponse](t, rec).Code != "RUN002" {
		t.Errorf("unknown run: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRunsEmptyList(t *testing.T) {
	s := newTestServer(t, newFakeService(), testConfig(), nil)

	rec := do(t, s, http.MethodGet, "/api/runs", "")
	if strings.TrimSpace(rec.Body.String()) != `{"runs":[]}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRunInProgress(t *testing.T) {
	svc := newFakeService()
	svc.busy = true
	s := newTestServer(t, svc, testConfig(), nil)

	rec := do(t, s, http.MethodPost, "/api/runs", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if got := decode[ErrorResponse](t, rec); got.Code != "RUN001" {
		t.Errorf("code = %s", got.Code)
	}
}

// ----------------------------------------------------------------------------
// Middleware wiring
// ----------------------------------------------------------------------------

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	s := newTestServer(t, newFakeService(), cfg, nil)

	if rec := do(t, s, http.MethodGet, "/api/runs", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key: status %d", rec.Code)
	}

	// Health stays open for liveness checks.
	if rec := do(t, s, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz: status %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	s := newTestServer(t, newFakeService(), cfg, nil)

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if decode[ErrorResponse](t, rec).Code != "RATE001" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	defer rl.stop()

	now := time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.allow("1.2.3.4") || rl.allow("1.2.3.4") {
		t.Fatal("second request in the window should be refused")
	}
	if !rl.allow("5.6.7.8") {
		t.Error("limits are per ip")
	}

	now = now.Add(61 * time.Second)
	if !rl.allow("1.2.3.4") {
		t.Error("a new window should refill")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrRunNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: x", schema.ErrUnknownSource), http.StatusNotFound},
		{core.ErrRunInProgress, http.StatusConflict},
		{core.ErrNoDatabase, http.StatusServiceUnavailable},
		{query.ErrInvalidTable, http.StatusBadRequest},
		{errors.New("row limit must not be negative"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err, core.MapError(tt.err).Code); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
