// Package query generates the reconciliation pipeline: supporting indexes,
// the payment_analysis_view definition and a final projection over it.
//
// SQL is assembled from a small structured representation (Query, Select,
// Item) and rendered to PostgreSQL text only at the end. Per-gateway
// vocabularies and bank-matching tiers live in data tables.
package query

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/payrecon/internal/fields"
	"github.com/JonMunkholm/payrecon/internal/schema"
)

// ViewName is the reconciliation view the pipeline (re)creates.
const ViewName = "payment_analysis_view"

// CTE names, in pipeline order.
const (
	StageGatewayAnalysis = "gateway_analysis"
	StageRanked          = "ranked_transactions"
	StageAnalysis        = "transaction_with_analysis"
	StageBankCandidates  = "bank_candidates"
)

// DateLayout is the accepted date filter format.
const DateLayout = "2006-01-02"

// BankMatch selects how gateway rows pair with bank rows.
type BankMatch string

const (
	// AnyMatch keeps every bank row satisfying any tier.
	AnyMatch BankMatch = "any"
	// BestMatch keeps only the bank row of the tightest tier per gateway row.
	BestMatch BankMatch = "best"
)

// ParseBankMatch parses "any", "best" or "" (any).
func ParseBankMatch(s string) (BankMatch, error) {
	switch BankMatch(strings.ToLower(strings.TrimSpace(s))) {
	case AnyMatch, "":
		return AnyMatch, nil
	case BestMatch:
		return BestMatch, nil
	}
	return "", fmt.Errorf("unknown bank match strategy %q (want any or best)", s)
}

var (
	// ErrInvalidDateFilter means a date filter bound is not YYYY-MM-DD or the
	// range is reversed.
	ErrInvalidDateFilter = errors.New("invalid date filter")

	// ErrInvalidTable means a registry target table is not a plain identifier.
	ErrInvalidTable = errors.New("invalid table name")
)

// DateFilter restricts gateway rows by portal transaction date, inclusive.
type DateFilter struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

func (f *DateFilter) active() bool {
	return f != nil && f.Enabled && f.Start != "" && f.End != ""
}

func (f *DateFilter) validate() error {
	if !f.active() {
		return nil
	}
	start, err := time.Parse(DateLayout, f.Start)
	if err != nil {
		return fmt.Errorf("%w: start %q is not YYYY-MM-DD", ErrInvalidDateFilter, f.Start)
	}
	end, err := time.Parse(DateLayout, f.End)
	if err != nil {
		return fmt.Errorf("%w: end %q is not YYYY-MM-DD", ErrInvalidDateFilter, f.End)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidDateFilter, f.End, f.Start)
	}
	return nil
}

// Options control one generated pipeline.
type Options struct {
	// Fields maps a source key (portal, metabase, bank, analysis or a
	// gateway id) to the fields requested from it.
	Fields                map[string][]string `json:"fields"`
	IncludeReconciliation bool                `json:"include_reconciliation"`
	DateFilter            *DateFilter         `json:"date_filter,omitempty"`
	Limit                 int                 `json:"limit,omitempty"`
	DistinctOrders        bool                `json:"distinct_orders"`

	// SuccessOnly keeps only rows whose outcome is Success. Merged
	// authorizations are removed either way.
	SuccessOnly bool      `json:"success_only"`
	BankMatch   BankMatch `json:"bank_match,omitempty"`
}

// DefaultOptions reconciles against the bank and keeps successful rows.
func DefaultOptions() Options {
	return Options{
		IncludeReconciliation: true,
		SuccessOnly:           true,
		BankMatch:             AnyMatch,
	}
}

// EssentialFields are always projected.
var EssentialFields = []string{
	"gateway_source", "gateway_order_id", "gateway_transaction_id",
	"amount", "status", "transaction_date", "authorization_code", "rrn",
	"payment_method", "response_code", "response_description",
	"is_auth", "is_capture", "is_refund", "is_void",
	"final_rrn", "final_authorization_code",
	"transaction_analysis", "transaction_outcome",
}

// Pipeline is a generated reconciliation pipeline. Each chunk is an
// independently executable statement.
type Pipeline struct {
	Indexes    string
	DropView   string
	CreateView string
	Select     string

	// Fields are the projected view columns, in select order.
	Fields     []string
	Resolution fields.Resolution

	// ViewQuery and Final are the structured forms of CreateView and Select.
	ViewQuery *Query
	Final     *Select
}

// View returns the DROP and CREATE statements as one chunk.
func (p *Pipeline) View() string {
	return p.DropView + "\n\n" + p.CreateView
}

// Statements returns the pipeline as executable statements in order.
func (p *Pipeline) Statements() []string {
	return []string{p.Indexes, p.DropView, p.CreateView, p.Select}
}

// SQL joins the chunks into one script.
func (p *Pipeline) SQL() string {
	return strings.Join([]string{
		"-- Supporting indexes",
		p.Indexes,
		"",
		"-- Reconciliation view",
		p.View(),
		"",
		"-- Report",
		p.Select,
	}, "\n") + "\n"
}

var identRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Generator builds pipelines against the tables named by a registry.
type Generator struct {
	tables map[string]string
	logger *slog.Logger
}

// NewGenerator resolves table names from reg; sources missing from reg use
// their id as table name. reg may be nil.
func NewGenerator(reg schema.Registry, logger *slog.Logger) (*Generator, error) {
	tables := make(map[string]string, len(schema.SourceOrder))
	for _, id := range schema.SourceOrder {
		t := reg.Table(id)
		if !identRegex.MatchString(t) {
			return nil, fmt.Errorf("%w: %q for source %s", ErrInvalidTable, t, id)
		}
		tables[id] = t
	}
	return &Generator{tables: tables, logger: logger.With("component", "query")}, nil
}

// Table returns the table used for source id.
func (g *Generator) Table(id string) string { return g.tables[id] }

// Generate builds the pipeline for opts.
func (g *Generator) Generate(opts Options) (*Pipeline, error) {
	if err := opts.DateFilter.validate(); err != nil {
		return nil, err
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("row limit must not be negative, got %d", opts.Limit)
	}
	bm, err := ParseBankMatch(string(opts.BankMatch))
	if err != nil {
		return nil, err
	}
	opts.BankMatch = bm

	view := g.viewQuery(opts)
	validator := fields.NewValidator(AvailableFields(opts.IncludeReconciliation), fields.Aliases, g.logger)
	resolution := validator.Validate(g.requestedFields(opts))

	final := finalSelect(resolution.Fields, opts)

	p := &Pipeline{
		Indexes:    g.indexBlock(opts.IncludeReconciliation),
		DropView:   "DROP VIEW IF EXISTS " + ViewName + ";",
		CreateView: "CREATE OR REPLACE VIEW " + ViewName + " AS\n" + view.String() + ";",
		Select:     final.String() + ";",
		Fields:     final.Columns(),
		Resolution: resolution,
		ViewQuery:  view,
		Final:      final,
	}

	g.logger.Debug("generated pipeline",
		"reconciliation", opts.IncludeReconciliation,
		"bank_match", opts.BankMatch,
		"success_only", opts.SuccessOnly,
		"fields", len(p.Fields),
		"dropped", len(resolution.Dropped),
	)
	return p, nil
}

func (g *Generator) indexBlock(reconcile bool) string {
	type spec struct {
		table string
		idx   Index
	}
	var specs []spec
	add := func(source string, idx ...Index) {
		for _, i := range idx {
			specs = append(specs, spec{g.tables[source], i})
		}
	}

	add(schema.SourcePortal, Index{"order_id", []string{"order_id"}})
	add(schema.SourceMetabase,
		Index{"portal_order_id", []string{"portal_order_id"}},
		Index{"gateway_ids", []string{"gateway_order_id", "gateway_transaction_id"}},
	)
	for _, gw := range Gateways {
		add(gw.Source, gw.Indexes...)
	}
	if reconcile {
		add(schema.SourceBank,
			Index{"auth_rrn", []string{"authorization_code", "rrn"}},
			Index{"rrn", []string{"rrn"}},
			Index{"auth_code", []string{"authorization_code"}},
		)
	}

	var b strings.Builder
	b.WriteString("DO $$\nBEGIN\n")
	for _, s := range specs {
		name := "idx_" + s.table + "_" + s.idx.Suffix
		fmt.Fprintf(&b,
			"    IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = '%s') THEN CREATE INDEX %s ON %s (%s); END IF;\n",
			name, name, s.table, strings.Join(s.idx.Columns, ", "))
	}
	b.WriteString("END$$;")
	return b.String()
}

func (g *Generator) viewQuery(opts Options) *Query {
	q := &Query{}

	var branches []*Select
	for _, gw := range Gateways {
		branches = append(branches, g.gatewayBranch(gw, opts.DateFilter))
	}
	q.CTEs = append(q.CTEs,
		CTE{Name: StageGatewayAnalysis, Branches: branches},
		CTE{Name: StageRanked, Branches: []*Select{{
			Items: rankedItems(),
			From:  StageGatewayAnalysis + " ga",
		}}},
	)

	analysis := &Select{
		Items: analysisItems(),
		From:  StageRanked + " rt",
		Where: []string{mergedAuthFilter},
	}
	if opts.SuccessOnly {
		analysis.Where = append(analysis.Where, "("+outcome()+") = 'Success'")
	}
	if opts.IncludeReconciliation && opts.BankMatch == BestMatch {
		analysis.Items = append(analysis.Items, Item{Expr: "ROW_NUMBER() OVER ()", As: "gateway_row_id"})
	}
	q.CTEs = append(q.CTEs, CTE{Name: StageAnalysis, Branches: []*Select{analysis}})

	if !opts.IncludeReconciliation {
		q.Main = &Select{Items: []Item{{Expr: "*"}}, From: StageAnalysis}
		return q
	}

	bank := g.tables[schema.SourceBank]
	reconciled := &Select{
		Items: append(append([]Item{{Expr: "ta.*"}}, items(bankColumns, "b")...),
			Item{Expr: matchLabel(Tiers, "ta", "b"), As: "bank_match_type"}),
		From: StageAnalysis + " ta",
		Joins: []Join{{
			Kind:  "LEFT JOIN",
			Table: bank,
			Alias: "b",
			On:    matchJoin(Tiers, "ta", "b"),
			Any:   true,
		}},
	}

	if opts.BankMatch != BestMatch {
		q.Main = reconciled
		return q
	}

	reconciled.Items = append(reconciled.Items, Item{
		Expr: "ROW_NUMBER() OVER (PARTITION BY ta.gateway_row_id ORDER BY " + matchRank(Tiers, "ta", "b") + ", b.ctid)",
		As:   "bank_match_rank",
	})
	q.CTEs = append(q.CTEs, CTE{Name: StageBankCandidates, Branches: []*Select{reconciled}})
	q.Main = &Select{
		Items: []Item{{Expr: "bc.*"}},
		From:  StageBankCandidates + " bc",
		Where: []string{"bc.bank_match_rank = 1"},
	}
	return q
}

func (g *Generator) gatewayBranch(gw Gateway, filter *DateFilter) *Select {
	sel := &Select{
		From: g.tables[gw.Source] + " " + gw.Alias,
		Joins: []Join{
			{Kind: "JOIN", Table: g.tables[schema.SourceMetabase], Alias: "m", On: []string{gw.aggregatorJoin()}},
			{Kind: "JOIN", Table: g.tables[schema.SourcePortal], Alias: "p", On: []string{"m.portal_order_id = p.order_id"}},
		},
	}

	sel.Items = append(sel.Items, gw.unified()...)
	sel.Items = append(sel.Items, items(portalColumns, "p")...)
	sel.Items = append(sel.Items, items(metabaseColumns, "m")...)
	for _, other := range Gateways {
		for _, c := range other.Columns {
			if other.Source == gw.Source {
				sel.Items = append(sel.Items, c.item(gw.Alias))
			} else {
				sel.Items = append(sel.Items, c.null())
			}
		}
	}

	if filter.active() {
		sel.Where = []string{fmt.Sprintf("p.transaction_date::DATE BETWEEN '%s'::DATE AND '%s'::DATE", filter.Start, filter.End)}
	}
	return sel
}

// requestedFields turns per-source selections into view column names and
// adds the essential fields.
func (g *Generator) requestedFields(opts Options) []string {
	set := make(map[string]struct{})
	add := func(f string) { set[f] = struct{}{} }

	keys := make([]string, 0, len(opts.Fields))
	for k := range opts.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	requested := 0
	for _, key := range keys {
		for _, f := range opts.Fields[key] {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			requested++
			switch key {
			case "analysis":
				add(f)
			case schema.SourceBank:
				if opts.IncludeReconciliation {
					add(prefixed("bank_", f))
				}
			case schema.SourcePortal:
				name := prefixed("portal_", f)
				if name == "portal_order_id" {
					name = "portal_order_id_val"
				}
				add(name)
			case schema.SourceMetabase:
				add(prefixed("metabase_", f))
			default:
				if _, ok := LookupGateway(key); ok {
					add(prefixed(key+"_", f))
				} else {
					g.logger.Warn("ignoring fields for unknown source", "source", key, "field", f)
				}
			}
		}
	}

	if requested == 0 {
		for _, f := range fields.Defaults {
			add(f)
		}
	}
	for _, f := range EssentialFields {
		add(f)
	}
	if opts.IncludeReconciliation {
		add("bank_match_type")
	}

	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func prefixed(prefix, f string) string {
	if strings.HasPrefix(f, prefix) {
		return f
	}
	return prefix + f
}

func finalSelect(cols []string, opts Options) *Select {
	sel := &Select{From: ViewName, Limit: opts.Limit}
	if opts.DistinctOrders {
		ordered := []string{"gateway_order_id"}
		for _, c := range cols {
			if c != "gateway_order_id" {
				ordered = append(ordered, c)
			}
		}
		cols = ordered
		sel.DistinctOn = []string{"gateway_order_id"}
		sel.OrderBy = []string{"gateway_order_id"}
	}
	for _, c := range cols {
		sel.Items = append(sel.Items, Item{Expr: c})
	}
	return sel
}

// AvailableFields lists the columns of the reconciliation view.
func AvailableFields(includeReconciliation bool) []string {
	var out []string
	for _, it := range Gateways[0].unified() {
		out = append(out, it.As)
	}
	out = append(out, names(portalColumns)...)
	out = append(out, names(metabaseColumns)...)
	for _, gw := range Gateways {
		out = append(out, names(gw.Columns)...)
	}
	for _, it := range rankedItems()[1:] {
		out = append(out, it.As)
	}
	for _, it := range analysisItems()[1:] {
		out = append(out, it.As)
	}
	if includeReconciliation {
		out = append(out, names(bankColumns)...)
		out = append(out, "bank_match_type")
	}
	return out
}

// ParseFields parses "portal:customer_name,chef_name;bank:rrn" style
// selections. Sources are separated by ';', fields by ','.
func ParseFields(s string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, group := range strings.Split(s, ";") {
		if strings.TrimSpace(group) == "" {
			continue
		}
		src, list, ok := strings.Cut(group, ":")
		src = strings.TrimSpace(src)
		if !ok || src == "" {
			return nil, fmt.Errorf("field selection %q: want source:field[,field...]", group)
		}
		for _, f := range strings.Split(list, ",") {
			if f = strings.TrimSpace(f); f != "" {
				out[src] = append(out[src], f)
			}
		}
	}
	return out, nil
}
