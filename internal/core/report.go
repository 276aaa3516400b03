package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/payrecon/internal/config"
	"github.com/JonMunkholm/payrecon/internal/query"
)

// ReportRequest asks for one reconciliation report. Nil and empty fields
// fall back to the REPORT_* configuration.
type ReportRequest struct {
	// Fields maps a source key to requested fields. FieldSpec is the same
	// thing in "portal:a,b;bank:rrn" form; both may be given.
	Fields    map[string][]string `json:"fields,omitempty"`
	FieldSpec string              `json:"field_spec,omitempty"`

	IncludeReconciliation *bool  `json:"include_reconciliation,omitempty"`
	From                  string `json:"from,omitempty"`
	To                    string `json:"to,omitempty"`
	Limit                 *int   `json:"limit,omitempty"`
	DistinctOrders        *bool  `json:"distinct_orders,omitempty"`
	SuccessOnly           *bool  `json:"success_only,omitempty"`
	BankMatch             string `json:"bank_match,omitempty"`
}

// Options resolves the request against cfg into generator options.
func (r ReportRequest) Options(cfg config.ReportConfig) (query.Options, error) {
	opts := query.DefaultOptions()
	opts.IncludeReconciliation = cfg.IncludeReconciliation
	opts.SuccessOnly = cfg.SuccessOnly
	opts.DistinctOrders = cfg.DistinctOrders
	opts.Limit = cfg.RowLimit

	bm := cfg.BankMatch
	if r.BankMatch != "" {
		bm = r.BankMatch
	}
	match, err := query.ParseBankMatch(bm)
	if err != nil {
		return opts, err
	}
	opts.BankMatch = match

	if r.IncludeReconciliation != nil {
		opts.IncludeReconciliation = *r.IncludeReconciliation
	}
	if r.SuccessOnly != nil {
		opts.SuccessOnly = *r.SuccessOnly
	}
	if r.DistinctOrders != nil {
		opts.DistinctOrders = *r.DistinctOrders
	}
	if r.Limit != nil {
		opts.Limit = *r.Limit
	}

	spec := r.FieldSpec
	if spec == "" && len(r.Fields) == 0 {
		spec = cfg.Fields
	}
	fields, err := query.ParseFields(spec)
	if err != nil {
		return opts, err
	}
	for src, names := range r.Fields {
		key := strings.ToLower(strings.TrimSpace(src))
		fields[key] = append(fields[key], names...)
	}
	if len(fields) > 0 {
		opts.Fields = fields
	}

	switch {
	case r.From != "" && r.To != "":
		opts.DateFilter = &query.DateFilter{Enabled: true, Start: r.From, End: r.To}
	case r.From != "" || r.To != "":
		return opts, fmt.Errorf("%w: from and to must be given together", query.ErrInvalidDateFilter)
	}

	return opts, nil
}

// Lookback returns a request covering the last days days up to and
// including now's date in loc. Zero days means no date filter.
func Lookback(days int, now time.Time, loc *time.Location) ReportRequest {
	if days <= 0 {
		return ReportRequest{}
	}
	end := now.In(loc)
	start := end.AddDate(0, 0, -(days - 1))
	return ReportRequest{
		From: start.Format(query.DateLayout),
		To:   end.Format(query.DateLayout),
	}
}
