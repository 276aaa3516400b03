package query

import (
	"strings"

	"github.com/JonMunkholm/payrecon/internal/schema"
)

// SQL types used in projections.
const (
	castInt     = "INTEGER"
	castNumeric = "NUMERIC(18,2)"
	castVarchar = "VARCHAR"
	castDate    = "DATE"
	castTime    = "TIME"
	castBool    = "BOOLEAN"
)

// Column projects one source column under an output name. An empty Source
// projects an empty string literal.
type Column struct {
	Source string
	Cast   string
	As     string
}

func (c Column) item(alias string) Item {
	if c.Source == "" {
		return Item{Expr: "''::" + c.Cast, As: c.As}
	}
	return Item{Expr: alias + "." + c.Source + "::" + c.Cast, As: c.As}
}

func (c Column) null() Item {
	return Item{Expr: "NULL::" + c.Cast, As: c.As}
}

// Rule classifies a row into one lifecycle stage by keyword on one column.
// Contains terms match as case-insensitive substrings; Equals terms match
// the whole value, upper-cased when Upper is set. A rule with no terms never
// matches.
type Rule struct {
	Column   string
	Upper    bool
	Contains []string
	Equals   []string
}

func (r Rule) expr(alias string) string {
	col := alias + "." + r.Column
	upper := col
	if r.Upper {
		upper = "UPPER(" + col + ")"
	}

	var terms []string
	for _, k := range r.Contains {
		terms = append(terms, "UPPER("+col+") LIKE '%"+k+"%'")
	}
	for _, k := range r.Equals {
		terms = append(terms, upper+" = '"+k+"'")
	}
	if len(terms) == 0 {
		return "FALSE"
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

// Index is one supporting index on a source table.
type Index struct {
	Suffix  string
	Columns []string
}

// Gateway describes how one settlement feed maps onto the unified row
// shape of the analysis view.
type Gateway struct {
	Source string
	Alias  string

	Amount              string
	Date                string
	AuthCode            string // "" when the feed has no auth codes
	RRN                 string
	PaymentMethod       string
	ResponseCode        string
	ResponseDescription string

	Auth, Capture, Refund, Void Rule

	// JoinOnOrder joins the aggregator on order id as well as transaction id.
	JoinOnOrder bool

	Indexes []Index

	// Columns are the gateway-specific view columns. Other gateways' branches
	// project them as typed nulls.
	Columns []Column
}

var statusAuth = []string{"AUTHORISATION", "AUTHORIZATION"}

func checkoutRules() (auth, capture, refund, void Rule) {
	return Rule{Column: "status", Contains: statusAuth},
		Rule{Column: "status", Contains: []string{"CAPTURE"}},
		Rule{Column: "status", Contains: []string{"REFUND"}},
		Rule{Column: "status", Upper: true, Contains: []string{"VOID"}, Equals: []string{"CANCEL"}}
}

// Gateways lists the settlement feeds in union order.
var Gateways = []Gateway{
	func() Gateway {
		auth, capture, refund, void := checkoutRules()
		return Gateway{
			Source: schema.SourceCheckoutV1, Alias: "c1",
			Amount: "transaction_amount", Date: "transaction_date",
			AuthCode: "authorization_code", RRN: "rrn", PaymentMethod: "payment_method",
			ResponseCode: "response_code", ResponseDescription: "response_description",
			Auth: auth, Capture: capture, Refund: refund, Void: void,
			JoinOnOrder: true,
			Indexes: []Index{
				{"join_keys", []string{"order_id", "payment_online_transaction_id"}},
				{"status_code", []string{"status", "response_code"}},
			},
			Columns: []Column{
				{"transaction_amount", castNumeric, "checkout_v1_amount"},
				{"status", castVarchar, "checkout_v1_status"},
				{"transaction_date", castDate, "checkout_v1_transaction_date"},
				{"payment_online_transaction_id", castVarchar, "checkout_v1_payment_id"},
				{"order_id", castInt, "checkout_v1_order_id"},
				{"authorization_code", castVarchar, "checkout_v1_authorization_code"},
				{"rrn", castVarchar, "checkout_v1_rrn"},
				{"payment_method", castVarchar, "checkout_v1_payment_method"},
				{"issuing_bank", castVarchar, "checkout_v1_issuing_bank"},
				{"response_code", castVarchar, "checkout_v1_response_code"},
				{"response_description", castVarchar, "checkout_v1_response_description"},
				{"processor", castVarchar, "checkout_v1_processor"},
				{"card_wallet_type", castVarchar, "checkout_v1_card_wallet_type"},
				{"currency", castVarchar, "checkout_v1_currency"},
			},
		}
	}(),
	func() Gateway {
		auth, capture, refund, void := checkoutRules()
		return Gateway{
			Source: schema.SourceCheckoutV2, Alias: "c2",
			Amount: "transaction_amount", Date: "action_date_utc_1",
			AuthCode: "authorization_code", RRN: "rrn", PaymentMethod: "payment_method_name",
			ResponseCode: "response_code", ResponseDescription: "response_description",
			Auth: auth, Capture: capture, Refund: refund, Void: void,
			JoinOnOrder: true,
			Indexes: []Index{
				{"join_keys", []string{"order_id", "payment_online_transaction_id"}},
				{"status_code", []string{"status", "response_code"}},
			},
			Columns: []Column{
				{"transaction_amount", castNumeric, "checkout_v2_amount"},
				{"status", castVarchar, "checkout_v2_status"},
				{"action_date_utc_1", castDate, "checkout_v2_transaction_date"},
				{"payment_online_transaction_id", castVarchar, "checkout_v2_payment_id"},
				{"order_id", castInt, "checkout_v2_order_id"},
				{"authorization_code", castVarchar, "checkout_v2_authorization_code"},
				{"rrn", castVarchar, "checkout_v2_rrn"},
				{"payment_method_name", castVarchar, "checkout_v2_payment_method"},
				{"response_code", castVarchar, "checkout_v2_response_code"},
				{"response_description", castVarchar, "checkout_v2_response_description"},
				{"wallet", castVarchar, "checkout_v2_wallet"},
				{"currency_symbol", castVarchar, "checkout_v2_currency"},
				{"co_badged_card", castVarchar, "checkout_v2_co_badged_card"},
			},
		}
	}(),
	{
		Source: schema.SourcePayfort, Alias: "pf",
		Amount: "transaction_amount", Date: "transaction_date",
		AuthCode: "authorization_code", RRN: "rrn", PaymentMethod: "payment_method",
		Auth:        Rule{Column: "status", Contains: []string{"AUTHORIZATION"}},
		Capture:     Rule{Column: "status", Contains: []string{"CAPTURE"}},
		Refund:      Rule{Column: "status", Contains: []string{"REFUND"}},
		Void:        Rule{Column: "status", Upper: true, Contains: []string{"VOID"}, Equals: []string{"CANCEL"}},
		JoinOnOrder: true,
		Indexes: []Index{
			{"join_keys", []string{"order_id", "payment_online_transaction_id"}},
			{"status", []string{"status"}},
		},
		Columns: []Column{
			{"transaction_amount", castNumeric, "payfort_amount"},
			{"status", castVarchar, "payfort_status"},
			{"transaction_date", castDate, "payfort_transaction_date"},
			{"payment_online_transaction_id", castVarchar, "payfort_payment_id"},
			{"order_id", castInt, "payfort_order_id"},
			{"authorization_code", castVarchar, "payfort_authorization_code"},
			{"rrn", castVarchar, "payfort_rrn"},
			{"payment_method", castVarchar, "payfort_payment_method"},
			{"payment_method_type", castVarchar, "payfort_payment_method_type"},
			{"acquirer_name", castVarchar, "payfort_acquirer_name"},
			{"merchant_country", castVarchar, "payfort_merchant_country"},
			{"channel", castVarchar, "payfort_channel"},
			{"mid", castVarchar, "payfort_mid"},
			{"currency", castVarchar, "payfort_currency"},
			{"time", castTime, "payfort_time"},
		},
	},
	{
		Source: schema.SourceTamara, Alias: "t",
		Amount: "txn_amount", Date: "txn_created_at_gmt_03_00",
		RRN: "tamara_txn_reference", PaymentMethod: "payment_method",
		Auth:   Rule{Column: "txn_type", Equals: []string{"AUTHORIZE"}},
		Refund: Rule{Column: "txn_type", Equals: []string{"REFUND"}},
		Void:   Rule{Column: "txn_type", Equals: []string{"CANCEL"}},
		Indexes: []Index{
			{"payment_id", []string{"payment_online_transaction_id"}},
			{"status_type", []string{"status", "txn_type"}},
		},
		Columns: []Column{
			{"txn_amount", castNumeric, "tamara_amount"},
			{"status", castVarchar, "tamara_status"},
			{"txn_created_at_gmt_03_00", castDate, "tamara_transaction_date"},
			{"payment_online_transaction_id", castVarchar, "tamara_payment_id"},
			{"order_id", castInt, "tamara_portal_order_id"},
			{"tamara_txn_reference", castVarchar, "tamara_txn_reference"},
			{"payment_method", castVarchar, "tamara_payment_method"},
			{"customer_name", castVarchar, "tamara_customer_name"},
			{"txn_type", castVarchar, "tamara_txn_type"},
			{"txn_settlement_status", castVarchar, "tamara_txn_settlement_status"},
			{"order_currency", castVarchar, "tamara_order_currency"},
			{"country_code", castVarchar, "tamara_country_code"},
			{"store_name", castVarchar, "tamara_store_name"},
			{"total_amount", castNumeric, "tamara_total_amount"},
			{"order_created_at_gmt_03_00", castDate, "tamara_order_created_at"},
		},
	},
}

// LookupGateway returns the gateway for a source id.
func LookupGateway(source string) (Gateway, bool) {
	for _, g := range Gateways {
		if g.Source == source {
			return g, true
		}
	}
	return Gateway{}, false
}

// unified returns the shared leading columns of a gateway branch.
func (g Gateway) unified() []Item {
	a := g.Alias
	col := func(src, cast, as string) Item { return Column{src, cast, as}.item(a) }
	return []Item{
		{Expr: "'" + g.Source + "'::" + castVarchar, As: "gateway_source"},
		col("order_id", castInt, "gateway_order_id"),
		col("payment_online_transaction_id", castVarchar, "gateway_transaction_id"),
		col(g.Amount, castNumeric, "amount"),
		col("status", castVarchar, "status"),
		col(g.Date, castDate, "transaction_date"),
		col(g.AuthCode, castVarchar, "authorization_code"),
		col(g.RRN, castVarchar, "rrn"),
		col(g.PaymentMethod, castVarchar, "payment_method"),
		col(g.ResponseCode, castVarchar, "response_code"),
		col(g.ResponseDescription, castVarchar, "response_description"),
		{Expr: g.Auth.expr(a) + "::" + castBool, As: "is_auth"},
		{Expr: g.Capture.expr(a) + "::" + castBool, As: "is_capture"},
		{Expr: g.Refund.expr(a) + "::" + castBool, As: "is_refund"},
		{Expr: g.Void.expr(a) + "::" + castBool, As: "is_void"},
	}
}

// aggregatorJoin is the ON clause linking the gateway to the aggregator.
func (g Gateway) aggregatorJoin() string {
	on := g.Alias + ".payment_online_transaction_id = m.gateway_transaction_id"
	if g.JoinOnOrder {
		on = g.Alias + ".order_id = m.gateway_order_id AND " + on
	}
	return on
}

// portalColumns carry portal-side business context into every gateway row.
var portalColumns = []Column{
	{"order_id", castInt, "portal_order_id_val"},
	{"transaction_amount", castNumeric, "portal_amount"},
	{"gateway", castVarchar, "portal_gateway"},
	{"status", castVarchar, "portal_status"},
	{"payment_method", castVarchar, "portal_payment_method"},
	{"transaction_date", castDate, "portal_transaction_date"},
	{"customer_name", castVarchar, "portal_customer_name"},
	{"chef_name", castVarchar, "portal_chef_name"},
	{"chef_total", castNumeric, "portal_chef_total"},
	{"commission_amount", castNumeric, "portal_commission_amount"},
	{"delivery_type", castVarchar, "portal_delivery_type"},
	{"discount_type", castVarchar, "portal_discount_type"},
	{"ispaid", castVarchar, "portal_ispaid"},
	{"transaction_id", castVarchar, "portal_transaction_id"},
	{"wallet_paid_amount", castNumeric, "portal_wallet_paid_amount"},
	{"promo_code_total_discount", castNumeric, "portal_promo_code_total_discount"},
}

var metabaseColumns = []Column{
	{"transaction_amount", castNumeric, "metabase_amount"},
	{"status", castVarchar, "metabase_status"},
	{"gateway", castVarchar, "metabase_gateway"},
	{"portal_order_id", castInt, "metabase_portal_order_id"},
	{"app_version", castVarchar, "metabase_app_version"},
	{"platform", castVarchar, "metabase_platform"},
	{"order_status", castVarchar, "metabase_order_status"},
	{"order_total", castNumeric, "metabase_order_total"},
	{"hyperpay_transaction_id", castVarchar, "metabase_hyperpay_transaction_id"},
	{"success", castVarchar, "metabase_success"},
	{"transactiontype", castVarchar, "metabase_transactiontype"},
}

var bankColumns = []Column{
	{"authorization_code", castVarchar, "bank_auth_code"},
	{"rrn", castVarchar, "bank_rrn"},
	{"transaction_amount", castNumeric, "bank_amount"},
	{"transaction_date", castDate, "bank_transaction_date"},
	{"transaction_type", castVarchar, "bank_transaction_type"},
	{"status", castVarchar, "bank_status"},
	{"bank_name", castVarchar, "bank_bank_name"},
	{"card_type", castVarchar, "bank_card_type"},
	{"cashback_amount", castNumeric, "bank_cashback_amount"},
	{"discount_amount", castNumeric, "bank_discount_amount"},
	{"masked_card", castVarchar, "bank_masked_card"},
	{"merchant_identifier", castVarchar, "bank_merchant_identifier"},
	{"payment_online_transaction_id", castVarchar, "bank_payment_id"},
	{"posting_date", castDate, "bank_posting_date"},
	{"terminal_identifier", castVarchar, "bank_terminal_identifier"},
	{"total_payment_amount", castNumeric, "bank_total_payment_amount"},
	{"transaction_link_url", castVarchar, "bank_transaction_link_url"},
	{"vat_amount", castNumeric, "bank_vat_amount"},
}

func items(cols []Column, alias string) []Item {
	out := make([]Item, len(cols))
	for i, c := range cols {
		out[i] = c.item(alias)
	}
	return out
}

func names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.As
	}
	return out
}
