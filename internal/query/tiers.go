package query

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount tolerances for bank matching.
var (
	ExactTolerance  = decimal.RequireFromString("0.01")
	ApproxTolerance = decimal.RequireFromString("1.00")
)

// MatchKey is an identifier compared between a gateway row and a bank row.
type MatchKey int

const (
	KeyAuthCode MatchKey = iota
	KeyRRN
	KeySameDay
)

// Tier is one bank-matching predicate. Tiers are ordered tightest first; the
// join and the match label are both generated from this order.
type Tier struct {
	Label     string
	Keys      []MatchKey
	Tolerance decimal.Decimal
}

// Tiers lists the bank-matching tiers, tightest first.
var Tiers = []Tier{
	{"MATCH: Authorization Code + RRN + Amount", []MatchKey{KeyAuthCode, KeyRRN}, ExactTolerance},
	{"MATCH: RRN + Amount", []MatchKey{KeyRRN}, ExactTolerance},
	{"MATCH: Authorization Code + Amount", []MatchKey{KeyAuthCode}, ExactTolerance},
	{"FALLBACK MATCH: Authorization Code + Same Day + Amount", []MatchKey{KeyAuthCode, KeySameDay}, ExactTolerance},
	{"PARTIAL MATCH: RRN + Approx Amount", []MatchKey{KeyRRN}, ApproxTolerance},
	{"PARTIAL MATCH: Authorization Code + Approx Amount", []MatchKey{KeyAuthCode}, ApproxTolerance},
	{"PARTIAL MATCH: Authorization Code + Same Day + Approx Amount", []MatchKey{KeyAuthCode, KeySameDay}, ApproxTolerance},
}

// Predicate renders the tier condition between gateway alias ta and bank
// alias b.
func (t Tier) Predicate(ta, b string) string {
	var terms []string
	for _, k := range t.Keys {
		switch k {
		case KeyAuthCode:
			terms = append(terms,
				b+".authorization_code IS NOT NULL",
				ta+".final_authorization_code = "+b+".authorization_code")
		case KeyRRN:
			terms = append(terms,
				b+".rrn IS NOT NULL",
				ta+".final_rrn = "+b+".rrn")
		case KeySameDay:
			terms = append(terms, b+".transaction_date::DATE = "+ta+".transaction_date::DATE")
		}
	}
	terms = append(terms, "ABS("+ta+".amount::"+castNumeric+" - "+b+".transaction_amount::"+castNumeric+") <= "+t.Tolerance.StringFixed(2))
	return strings.Join(terms, " AND ")
}

// matchLabel renders the CASE naming the tightest tier a row satisfies.
func matchLabel(tiers []Tier, ta, b string) string {
	var sb strings.Builder
	sb.WriteString("CASE")
	for _, t := range tiers {
		sb.WriteString("\n        WHEN " + t.Predicate(ta, b) + " THEN " + quote(t.Label))
	}
	sb.WriteString("\n        ELSE NULL\n    END::" + castVarchar)
	return sb.String()
}

// matchRank renders the CASE giving the 1-based rank of the tightest tier a
// row satisfies, len(tiers)+1 for none.
func matchRank(tiers []Tier, ta, b string) string {
	var sb strings.Builder
	sb.WriteString("CASE")
	for i, t := range tiers {
		sb.WriteString("\n            WHEN " + t.Predicate(ta, b) + " THEN " + strconv.Itoa(i+1))
	}
	sb.WriteString("\n            ELSE " + strconv.Itoa(len(tiers)+1) + "\n        END")
	return sb.String()
}

// matchJoin returns one OR-ed join condition per tier.
func matchJoin(tiers []Tier, ta, b string) []string {
	on := make([]string, len(tiers))
	for i, t := range tiers {
		on[i] = t.Predicate(ta, b)
	}
	return on
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
