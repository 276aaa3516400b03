package infer

import (
	"regexp"
	"strings"

	"github.com/JonMunkholm/payrecon/internal/clean"
	"github.com/JonMunkholm/payrecon/internal/schema"
)

// typeOverrides are authoritative: sampled values never change them.
var typeOverrides = map[string]schema.SemanticType{
	"order_id":                 schema.TypeInteger,
	"portal_order_id":          schema.TypeInteger,
	"gateway_order_id":         schema.TypeInteger,
	"rrn":                      schema.TypeString,
	"amount":                   schema.TypeFloat,
	"transaction_amount":       schema.TypeFloat,
	"total":                    schema.TypeFloat,
	"fees":                     schema.TypeFloat,
	"cash":                     schema.TypeFloat,
	"wallet_paid_amount":       schema.TypeFloat,
	"chef_total":               schema.TypeFloat,
	"commission_amount":        schema.TypeFloat,
	"transaction_date":         schema.TypeDate,
	"action_date_utc_1":        schema.TypeDate,
	"txn_created_at_gmt_03_00": schema.TypeDate,
	"posting_date":             schema.TypeDate,
	"time":                     schema.TypeTime,
}

// dateColumns are canonical names, or fragments of them, that always hold
// dates.
var dateColumns = []string{
	"transaction_date", "action_date_utc_1", "txn_created_at_gmt_03_00",
	"posting_date", "order_created_at_gmt_03_00", "delivery_date",
	"settlement_date", "created_at", "updated_at", "payment_date",
	"processing_date", "authorization_date", "capture_date",
}

// orderIDColumns join the sources together and must stay integral.
var orderIDColumns = []string{"order_id", "portal_order_id", "gateway_order_id"}

var (
	cardKeywords   = []string{"card", "cc", "bin", "pan", "masked"}
	amountKeywords = []string{"amount", "total", "fees", "cash"}
	amountNameKeys = []string{"amount", "total", "fee", "cash"}
)

var (
	integerShape = regexp.MustCompile(`^[+-]?\d{1,18}$`)
	floatShape   = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	leadingZero  = regexp.MustCompile(`^[+-]?0\d`)
)

// dateVoteSamples is how many values take part in the date vote.
const dateVoteSamples = 6

// IsDateName reports whether a canonical name denotes a date column.
func IsDateName(name string) bool {
	return strings.Contains(name, "date") || containsAny(name, dateColumns)
}

// GuessType resolves the semantic type of one column from its canonical
// name, its raw header and a sample of its raw values.
//
// Resolution order: override table, date-like name, empty sample, card
// keywords or masked values, amount keywords, numeric shape, date vote,
// string.
func GuessType(name, header string, values []string) schema.SemanticType {
	if t, ok := typeOverrides[name]; ok {
		return t
	}
	if IsDateName(name) {
		return schema.TypeDate
	}

	nonNull := make([]string, 0, len(values))
	for _, v := range values {
		if !clean.IsNull(v) {
			nonNull = append(nonNull, strings.TrimSpace(v))
		}
	}
	if len(nonNull) == 0 {
		return schema.TypeString
	}

	lower := strings.ToLower(header)
	if containsAny(lower, cardKeywords) || looksMasked(nonNull[0]) {
		return schema.TypeString
	}
	if containsAny(lower, amountKeywords) {
		return schema.TypeFloat
	}

	if t, ok := numericType(nonNull); ok {
		return t
	}

	picked := pickSamples(nonNull, dateVoteSamples)
	parsed := 0
	for _, v := range picked {
		if clean.LooksLikeDate(v) {
			parsed++
		}
	}
	if parsed*2 >= len(picked) {
		return schema.TypeDate
	}
	return schema.TypeString
}

// numericType reports integer when every value is integer-shaped and float
// when every value is numeric. Values with a leading zero ("007", "0123")
// are identifiers and disqualify the column.
func numericType(values []string) (schema.SemanticType, bool) {
	allInt := true
	for _, v := range values {
		if leadingZero.MatchString(v) {
			return "", false
		}
		if !integerShape.MatchString(v) {
			allInt = false
			if !floatShape.MatchString(v) {
				return "", false
			}
		}
	}
	if allInt {
		return schema.TypeInteger, true
	}
	return schema.TypeFloat, true
}

// pickSamples returns up to n values spread evenly across values.
func pickSamples(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	out := make([]string, n)
	for i := range out {
		out[i] = values[i*len(values)/n]
	}
	return out
}

func looksMasked(v string) bool {
	return strings.Contains(v, "*") && strings.ContainsAny(v, "0123456789")
}

// enforce applies the name-based rules that hold after all files of a
// source are merged. It reports false when no rule applies.
func enforce(name string) (schema.SemanticType, bool) {
	switch {
	case IsDateName(name):
		return schema.TypeDate, true
	case contains(orderIDColumns, name):
		return schema.TypeInteger, true
	case name == "rrn":
		return schema.TypeString, true
	case containsAny(name, amountNameKeys):
		return schema.TypeFloat, true
	}
	return "", false
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
