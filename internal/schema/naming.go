package schema

import (
	"regexp"
	"strings"
)

var (
	nonWordRegex    = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	underscoreRegex = regexp.MustCompile(`__+`)
)

// Snake converts a raw header to snake_case. A bare "id" becomes
// "source_id" so it never collides with a surrogate key.
func Snake(header string) string {
	s := strings.ToLower(strings.TrimSpace(header))
	s = nonWordRegex.ReplaceAllString(s, "_")
	s = underscoreRegex.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "id" {
		return "source_id"
	}
	return s
}

// headerPattern maps a family of snake_cased headers to one canonical name.
type headerPattern struct {
	re        *regexp.Regexp
	canonical string
}

// Patterns are anchored: the whole snake_cased header must match.
var headerPatterns = []headerPattern{
	{regexp.MustCompile(`^(?:order.*id)$`), "order_id"},
	{regexp.MustCompile(`^(?:payment.*online.*transaction.*id)$`), "payment_online_transaction_id"},
	{regexp.MustCompile(`^(?:reference.*id)$`), "reference_id"},
	{regexp.MustCompile(`^(?:rrn|retrieval.*reference.*)$`), "rrn"},
	{regexp.MustCompile(`^(?:auth(orization)?_?(response_)?code)$`), "authorization_code"},
	{regexp.MustCompile(`^(?:(gross_?)?amount|txn?_?amount)$`), "transaction_amount"},
	{regexp.MustCompile(`^(?:(txn|transaction)_?type|payment_?type)$`), "transaction_type"},
	{regexp.MustCompile(`^(?:(txn|transaction)_?date|posting_?date)$`), "transaction_date"},
	{regexp.MustCompile(`^(?:response.*code)$`), "response_code"},
	{regexp.MustCompile(`^(?:settle(d|ment).*status|captured)$`), "settlement_status"},
}

// CanonicalName resolves a raw header for src: the explicit dictionary
// first, then the generic patterns, then plain snake_case. Headers whose
// snake form is a view or text column of s keep that form.
func (s *Source) CanonicalName(header string) string {
	clean := strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	if canonical, ok := s.Headers[clean]; ok {
		return canonical
	}

	snake := Snake(clean)
	if s.IsViewColumn(snake) || s.IsText(snake) {
		return snake
	}
	for _, p := range headerPatterns {
		if p.re.MatchString(snake) {
			return p.canonical
		}
	}
	return snake
}
