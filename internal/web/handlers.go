package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/payrecon/internal/core"
	"github.com/JonMunkholm/payrecon/internal/logging"
	"github.com/JonMunkholm/payrecon/internal/schema"
)

// maxBodySize caps report request bodies.
const maxBodySize = 1 << 20

// errInvalidBody prefixes request decoding failures.
var errInvalidBody = errors.New("invalid request body")

// ============================================================================
// Health
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"code":   core.MapError(err).Code,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// Registry
// ============================================================================

// ColumnResponse is one registry column.
type ColumnResponse struct {
	Name         string `json:"name"`
	Original     string `json:"original"`
	SemanticType string `json:"type"`
	StorageType  string `json:"sql_type"`
}

// SourceResponse is one registry source.
type SourceResponse struct {
	ID          string           `json:"id"`
	TargetTable string           `json:"target_table"`
	Files       []string         `json:"files"`
	Columns     []ColumnResponse `json:"columns"`
}

func newSourceResponse(id string, src schema.SourceSchema) SourceResponse {
	resp := SourceResponse{
		ID:          id,
		TargetTable: src.TargetTable,
		Files:       src.Files,
		Columns:     make([]ColumnResponse, 0, len(src.Columns)),
	}
	if resp.Files == nil {
		resp.Files = []string{}
	}
	for _, col := range src.OrderedColumns() {
		resp.Columns = append(resp.Columns, ColumnResponse{
			Name:         col.CanonicalName,
			Original:     col.Original,
			SemanticType: string(col.SemanticType),
			StorageType:  col.StorageType,
		})
	}
	return resp
}

func registryResponse(reg schema.Registry) map[string]any {
	sources := make([]SourceResponse, 0, len(reg))
	for _, id := range reg.SourceIDs() {
		sources = append(sources, newSourceResponse(id, reg[id]))
	}
	return map[string]any{"sources": sources}
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := s.service.Registry()
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, registryResponse(reg))
}

func (s *Server) handleReloadRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := s.service.LoadRegistry()
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, registryResponse(reg))
}

func (s *Server) handleRegistrySource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source")

	reg, err := s.service.Registry()
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	src, err := reg.Source(id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, newSourceResponse(id, src))
}

// ============================================================================
// Fields and SQL
// ============================================================================

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	include := s.cfg.Report.IncludeReconciliation
	if v := r.URL.Query().Get("reconciliation"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, r, fmt.Errorf("%w: reconciliation=%q", errInvalidBody, v), http.StatusBadRequest)
			return
		}
		include = b
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reconciliation": include,
		"fields":         s.service.AvailableFields(include),
	})
}

// QueryResponse carries a generated SQL pipeline.
type QueryResponse struct {
	Fields     []string          `json:"fields"`
	Mapped     map[string]string `json:"mapped,omitempty"`
	Dropped    []string          `json:"dropped,omitempty"`
	Indexes    string            `json:"indexes"`
	DropView   string            `json:"drop_view"`
	CreateView string            `json:"create_view"`
	Select     string            `json:"select"`
	SQL        string            `json:"sql"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	p, err := s.service.GenerateReport(req)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Fields:     p.Fields,
		Mapped:     p.Resolution.Mapped,
		Dropped:    p.Resolution.Dropped,
		Indexes:    p.Indexes,
		DropView:   p.DropView,
		CreateView: p.CreateView,
		Select:     p.Select,
		SQL:        p.SQL(),
	})
}

// ============================================================================
// Runs
// ============================================================================

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	info, err := s.service.StartRun(req, core.TriggerAPI)
	if err != nil {
		if errors.Is(err, core.ErrRunInProgress) {
			w.Header().Set("Retry-After", "30")
		}
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Location", "/api/runs/"+info.ID)
	writeJSON(w, http.StatusAccepted, info)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.service.Runs()
	if runs == nil {
		runs = []core.RunInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Run(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ============================================================================
// Helpers
// ============================================================================

// decodeRequest reads an optional JSON report request. An empty body is
// the zero request, which runs with the configured defaults.
func decodeRequest(w http.ResponseWriter, r *http.Request) (core.ReportRequest, error) {
	var req core.ReportRequest
	if r.Body == nil {
		return req, nil
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return core.ReportRequest{}, nil
		}
		return req, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if dec.More() {
		return req, fmt.Errorf("%w: trailing data after JSON object", errInvalidBody)
	}
	return req, nil
}
