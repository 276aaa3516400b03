// Package fields resolves user-requested output columns against the columns
// the reconciliation view actually exposes.
//
// Resolution never fails. A requested name is kept when the view has it,
// rewritten when the alias table knows a replacement the view has, and
// dropped otherwise.
package fields

import (
	"log/slog"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Aliases maps legacy or source-column spellings to view column names.
var Aliases = map[string]string{
	"bank_authorization_code":            "bank_auth_code",
	"bank_payment_online_transaction_id": "bank_payment_id",
	"bank_transaction_amount":            "bank_amount",

	"checkout_v1_payment_online_transaction_id": "checkout_v1_payment_id",
	"checkout_v1_transaction_amount":            "checkout_v1_amount",
	"checkout_v2_payment_online_transaction_id": "checkout_v2_payment_id",
	"checkout_v2_transaction_amount":            "checkout_v2_amount",
	"checkout_v2_payment_method_name":           "checkout_v2_payment_method",
	"checkout_v2_currency_symbol":               "checkout_v2_currency",
	"checkout_v2_action_date_utc_1":             "checkout_v2_transaction_date",

	"payfort_payment_online_transaction_id": "payfort_payment_id",
	"payfort_transaction_amount":            "payfort_amount",

	"tamara_payment_online_transaction_id": "tamara_payment_id",
	"tamara_txn_amount":                    "tamara_amount",
	"tamara_transaction_amount":            "tamara_amount",
	"tamara_txn_created_at_gmt_03_00":      "tamara_transaction_date",
	"tamara_order_created_at_gmt_03_00":    "tamara_order_created_at",
	"tamara_order_id":                      "tamara_portal_order_id",
	"tamara_tamara_txn_reference":          "tamara_txn_reference",

	"portal_order_id":           "portal_order_id_val",
	"portal_transaction_amount": "portal_amount",

	"metabase_transaction_amount": "metabase_amount",
}

// Defaults is the projection used when nothing at all is requested.
var Defaults = []string{"gateway_order_id", "transaction_date", "amount", "status", "gateway_source"}

// hintDistance is the largest edit distance still reported as a likely typo.
const hintDistance = 3

// Resolution is the outcome of validating one request.
type Resolution struct {
	Fields  []string          // resolved view columns, in request order, unique
	Mapped  map[string]string // requested name -> view column, for aliased names
	Dropped []string          // requested names with no view column
}

// Validator resolves names against a fixed set of view columns.
type Validator struct {
	available map[string]struct{}
	columns   []string
	aliases   map[string]string
	logger    *slog.Logger
}

// NewValidator builds a validator for the view columns in available. A nil
// aliases map uses Aliases.
func NewValidator(available []string, aliases map[string]string, logger *slog.Logger) *Validator {
	if aliases == nil {
		aliases = Aliases
	}
	set := make(map[string]struct{}, len(available))
	for _, c := range available {
		set[c] = struct{}{}
	}
	return &Validator{
		available: set,
		columns:   available,
		aliases:   aliases,
		logger:    logger.With("component", "fields"),
	}
}

// Has reports whether the view exposes column.
func (v *Validator) Has(column string) bool {
	_, ok := v.available[column]
	return ok
}

// Resolve maps a single requested name to a view column.
func (v *Validator) Resolve(name string) (string, bool) {
	if v.Has(name) {
		return name, true
	}
	if alias, ok := v.aliases[name]; ok && v.Has(alias) {
		return alias, true
	}
	return "", false
}

// Validate resolves requested. An empty request resolves Defaults instead.
func (v *Validator) Validate(requested []string) Resolution {
	if len(requested) == 0 {
		requested = Defaults
	}

	res := Resolution{Mapped: make(map[string]string)}
	seen := make(map[string]bool, len(requested))

	for _, name := range requested {
		col, ok := v.Resolve(name)
		if !ok {
			res.Dropped = append(res.Dropped, name)
			continue
		}
		if col != name {
			res.Mapped[name] = col
		}
		if seen[col] {
			continue
		}
		seen[col] = true
		res.Fields = append(res.Fields, col)
	}

	for _, name := range res.Dropped {
		attrs := []any{"field", name}
		if near, d := v.nearest(name); near != "" && d <= hintDistance {
			attrs = append(attrs, "did_you_mean", near)
		}
		v.logger.Debug("dropped unknown field", attrs...)
	}
	v.logger.Debug("validated fields",
		"requested", len(requested),
		"resolved", len(res.Fields),
		"mapped", len(res.Mapped),
		"dropped", len(res.Dropped),
		"available", len(v.columns),
	)
	return res
}

// nearest returns the view column closest to name by edit distance.
func (v *Validator) nearest(name string) (string, int) {
	best, bestDist := "", 0
	for _, c := range v.columns {
		d := levenshtein.DistanceForStrings([]rune(name), []rune(c), levenshtein.DefaultOptions)
		if best == "" || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}
