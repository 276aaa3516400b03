// Package clean normalizes raw column values into typed, null-safe values.
//
// Each semantic type has one Cleaner. Cleaners work column-at-a-time so they
// can aggregate diagnostics (unparsed date samples, unmapped boolean values,
// invalid UUID counts) into a single warning per column instead of one log
// line per cell.
//
// # Values
//
// Raw input cells are strings. Cleaned cells are:
//
//	integer  int64
//	float    decimal.Decimal
//	date     time.Time (UTC midnight)
//	time     pgtype.Time
//	boolean  bool
//	uuid     uuid.UUID
//	string   string
//	text     string
//
// and nil for null. Every cleaner accepts its own output type unchanged, so
// cleaning already-clean data is a no-op.
//
// # Nulls
//
// The tokens "", none, null, na, n/a, <na>, nan and nat (case-insensitive,
// surrounding whitespace ignored) are null for every cleaner. A non-null
// value that cannot be converted becomes null; no cleaner ever produces a
// sentinel string for a missing value.
package clean

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/JonMunkholm/payrecon/internal/schema"
)

// ErrUnsupportedValue is returned when a column holds a Go type the cleaner
// cannot interpret. The transformer treats it as a column-level failure.
var ErrUnsupportedValue = errors.New("unsupported value type")

// Options identifies the column being cleaned.
type Options struct {
	Source     string // source id, selects per-source layouts and separators
	ColumnName string // header as it appears in the raw file
	MappedName string // canonical name
}

func (o Options) logAttrs() []any {
	return []any{"source", o.Source, "column", o.ColumnName, "mapped", o.MappedName}
}

// Cleaner converts one column of raw values. The returned slice has the same
// length as values.
type Cleaner interface {
	Clean(values []any, opts Options) ([]any, error)
}

// Registry maps each semantic type to its cleaner. Build one per process
// with NewRegistry and pass it to the transformer.
type Registry struct {
	cleaners map[schema.SemanticType]Cleaner
}

// NewRegistry builds the cleaner set. The catalog supplies per-source date
// layouts and number formats.
func NewRegistry(catalog *schema.Catalog, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "clean")

	str := &StringCleaner{}
	return &Registry{
		cleaners: map[schema.SemanticType]Cleaner{
			schema.TypeInteger: &IntegerCleaner{},
			schema.TypeFloat:   &FloatCleaner{catalog: catalog},
			schema.TypeDate:    &DateCleaner{catalog: catalog, logger: logger},
			schema.TypeTime:    &TimeCleaner{logger: logger},
			schema.TypeBoolean: &BooleanCleaner{logger: logger},
			schema.TypeUUID:    &UUIDCleaner{logger: logger},
			schema.TypeString:  str,
			schema.TypeText:    &TextCleaner{str: str, logger: logger},
		},
	}
}

// For returns the cleaner registered for t.
func (r *Registry) For(t schema.SemanticType) (Cleaner, bool) {
	c, ok := r.cleaners[t]
	return c, ok
}

// Register installs c for t, replacing any existing cleaner.
func (r *Registry) Register(t schema.SemanticType, c Cleaner) {
	r.cleaners[t] = c
}

// Types returns the registered semantic types, sorted.
func (r *Registry) Types() []schema.SemanticType {
	types := make([]schema.SemanticType, 0, len(r.cleaners))
	for t := range r.cleaners {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Clean dispatches values to the cleaner for t.
func (r *Registry) Clean(t schema.SemanticType, values []any, opts Options) ([]any, error) {
	c, ok := r.For(t)
	if !ok {
		return nil, fmt.Errorf("no cleaner for type %q", t)
	}
	return c.Clean(values, opts)
}

var nullTokens = map[string]struct{}{
	"":     {},
	"none": {},
	"null": {},
	"na":   {},
	"n/a":  {},
	"<na>": {},
	"nan":  {},
	"nat":  {},
}

// IsNull reports whether v is nil, a NaN float, or a null token.
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		_, ok := nullTokens[strings.ToLower(strings.TrimSpace(x))]
		return ok
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

// StripControl removes ASCII control characters (0x00-0x1F, 0x7F).
func StripControl(s string) string {
	if strings.IndexFunc(s, isControl) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, s)
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}

// sampleLimit caps the values quoted in a diagnostic warning.
const sampleLimit = 5

// samples collects up to sampleLimit distinct values.
type samples struct {
	seen   map[string]struct{}
	values []string
}

func (s *samples) add(v string) {
	if len(s.values) >= sampleLimit {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.values = append(s.values, v)
}
