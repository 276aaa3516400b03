package clean

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/payrecon/internal/schema"
)

// numericRegex validates a number after cleanup: integers, decimals and
// scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// nonNumericRegex matches everything the float cleaner discards.
var nonNumericRegex = regexp.MustCompile(`[^0-9.\-]`)

// separatorsRegex matches everything but digits, separators and the sign.
var separatorsRegex = regexp.MustCompile(`[^0-9.,\-]`)

var groupSeparators = strings.NewReplacer(".", "", ",", "")

// groupedRegex is a comma-grouped amount: "1,234", "12,345.6", "-1,000.00".
var groupedRegex = regexp.MustCompile(`^-?\d{1,3}(,\d{3})*(\.\d*)?$`)

// amountStyle is how a source writes separators in amounts.
type amountStyle int

const (
	// styleLoose drops every comma.
	styleLoose amountStyle = iota
	// styleDecimalComma reads the last comma as the decimal point when it
	// follows the last dot: "1.234,56".
	styleDecimalComma
	// styleThousandsComma only accepts commas between groups of three
	// digits; anything else ("2,50") is null rather than a merged number.
	styleThousandsComma
)

// IntegerCleaner parses whole numbers into int64. Fractional or
// out-of-range values become null.
type IntegerCleaner struct{}

func (c *IntegerCleaner) Clean(values []any, opts Options) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		n, ok, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opts.MappedName, err)
		}
		if ok {
			out[i] = n
		}
	}
	return out, nil
}

func toInt64(v any) (int64, bool, error) {
	if IsNull(v) {
		return 0, false, nil
	}
	switch x := v.(type) {
	case int64:
		return x, true, nil
	case int:
		return int64(x), true, nil
	case int32:
		return int64(x), true, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || x > math.MaxInt64 || x < math.MinInt64 {
			return 0, false, nil
		}
		return int64(x), true, nil
	case decimal.Decimal:
		if !x.IsInteger() {
			return 0, false, nil
		}
		return decimalToInt64(x)
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(strings.TrimPrefix(s, "+"), 10, 64); err == nil {
			return n, true, nil
		}
		if !numericRegex.MatchString(s) {
			return 0, false, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil || !d.IsInteger() {
			return 0, false, nil
		}
		return decimalToInt64(d)
	}
	return 0, false, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func decimalToInt64(d decimal.Decimal) (int64, bool, error) {
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || d.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, false, nil
	}
	return d.IntPart(), true, nil
}

// FloatCleaner parses amounts into decimal.Decimal. Currency symbols,
// thousands separators and whitespace are discarded; digits, the decimal
// point and the minus sign are kept.
type FloatCleaner struct {
	catalog *schema.Catalog
}

func (c *FloatCleaner) Clean(values []any, opts Options) ([]any, error) {
	style := styleLoose
	if c.catalog != nil {
		if src, ok := c.catalog.Lookup(opts.Source); ok {
			switch {
			case src.DecimalComma:
				style = styleDecimalComma
			case src.ThousandsComma:
				style = styleThousandsComma
			}
		}
	}

	out := make([]any, len(values))
	for i, v := range values {
		d, ok, err := toDecimal(v, style)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opts.MappedName, err)
		}
		if ok {
			out[i] = d
		}
	}
	return out, nil
}

func toDecimal(v any, style amountStyle) (decimal.Decimal, bool, error) {
	if IsNull(v) {
		return decimal.Decimal{}, false, nil
	}
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true, nil
	case int64:
		return decimal.NewFromInt(x), true, nil
	case int:
		return decimal.NewFromInt(int64(x)), true, nil
	case float64:
		if math.IsInf(x, 0) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.NewFromFloat(x), true, nil
	case string:
		s := normalizeAmount(x, style)
		if !numericRegex.MatchString(s) {
			return decimal.Decimal{}, false, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, false, nil
		}
		return d, true, nil
	}
	return decimal.Decimal{}, false, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// normalizeAmount reduces an amount string to [-0-9.] form. Accounting
// negatives "(12.50)" keep their sign. An empty result means the value is
// not an amount under style.
func normalizeAmount(s string, style amountStyle) string {
	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	switch style {
	case styleDecimalComma:
		if i := strings.LastIndex(s, ","); i > strings.LastIndex(s, ".") {
			s = groupSeparators.Replace(s[:i]) + "." + s[i+1:]
		}
	case styleThousandsComma:
		if bare := separatorsRegex.ReplaceAllString(s, ""); strings.Contains(bare, ",") && !groupedRegex.MatchString(bare) {
			return ""
		}
	}

	s = nonNumericRegex.ReplaceAllString(s, "")
	if negative && s != "" && !strings.HasPrefix(s, "-") {
		s = "-" + s
	}
	return s
}
