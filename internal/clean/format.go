package clean

// format.go converts cleaned values for the writers and the loader.
//
// Format renders any cleaned value as text for CSV and Parquet output.
// ToPg turns a cleaned value into something pgx can COPY into the column's
// storage type; values of the wrong shape (for example a raw string left in
// a column whose cleaner failed) become NULL rather than failing the load.

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/payrecon/internal/schema"
)

// DateLayout is the output layout for date values.
const DateLayout = "2006-01-02"

// TimestampLayout is the output layout for processed_at.
const TimestampLayout = "2006-01-02 15:04:05"

// Format renders v as text. Nil renders as "" with ok=true; unknown types
// report ok=false.
func Format(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case decimal.Decimal:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case uuid.UUID:
		return x.String(), true
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(DateLayout), true
		}
		return x.Format(TimestampLayout), true
	case pgtype.Time:
		if !x.Valid {
			return "", true
		}
		return FormatTime(x), true
	case pgtype.Date:
		if !x.Valid {
			return "", true
		}
		return x.Time.Format(DateLayout), true
	}
	return "", false
}

// ToPg converts a cleaned value to a pgx-encodable value for a column of
// type t.
func ToPg(t schema.SemanticType, v any) any {
	if v == nil {
		return nil
	}

	switch t {
	case schema.TypeInteger:
		if n, ok := v.(int64); ok {
			return n
		}
	case schema.TypeFloat:
		if d, ok := v.(decimal.Decimal); ok {
			return ToPgNumeric(d)
		}
	case schema.TypeDate:
		if ts, ok := v.(time.Time); ok {
			return pgtype.Date{Time: ts, Valid: true}
		}
	case schema.TypeTime:
		if tm, ok := v.(pgtype.Time); ok {
			return tm
		}
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
	case schema.TypeUUID:
		if id, ok := v.(uuid.UUID); ok {
			return pgtype.UUID{Bytes: id, Valid: true}
		}
	default:
		if s, ok := Format(v); ok {
			return ToPgText(s)
		}
	}
	return nil
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgNumeric converts a decimal to pgtype.Numeric.
func ToPgNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}
