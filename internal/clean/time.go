package clean

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// excelTimeRegex matches fractional-day time serials such as .5 or 0.75.
var excelTimeRegex = regexp.MustCompile(`^\d*\.\d+$`)

var timeLayouts = []string{"15:04:05", "15:04", "3:04:05 PM", "3:04 PM"}

// TimeCleaner converts values to a time of day.
type TimeCleaner struct {
	logger *slog.Logger
}

func (c *TimeCleaner) Clean(values []any, opts Options) ([]any, error) {
	out := make([]any, len(values))
	var nonNull, unparsed int

	for i, v := range values {
		if IsNull(v) {
			continue
		}
		nonNull++

		switch x := v.(type) {
		case pgtype.Time:
			if x.Valid {
				out[i] = x
			}
		case time.Time:
			out[i] = timeOfDay(x.Hour(), x.Minute(), x.Second())
		case string:
			if t, ok := ParseTime(x); ok {
				out[i] = t
			} else {
				unparsed++
			}
		default:
			return nil, fmt.Errorf("%s: %w: %T", opts.MappedName, ErrUnsupportedValue, v)
		}
	}

	if nonNull > 0 && unparsed*2 > nonNull {
		attrs := append(opts.logAttrs(), "parsed", nonNull-unparsed, "total", nonNull)
		c.logger.Warn("high unparsed rate in time column", attrs...)
	}
	return out, nil
}

// ParseTime parses HH:MM:SS, HH:MM, 12-hour variants and fractional-day
// spreadsheet serials.
func ParseTime(s string) (pgtype.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Time{}, false
	}

	if excelTimeRegex.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return pgtype.Time{}, false
		}
		_, frac := splitFloat(f)
		secs := int(frac * 86400)
		return timeOfDay(secs/3600, secs%3600/60, secs%60), true
	}

	upper := strings.ToUpper(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, upper); err == nil {
			return timeOfDay(t.Hour(), t.Minute(), t.Second()), true
		}
	}
	return pgtype.Time{}, false
}

func splitFloat(f float64) (int64, float64) {
	whole := int64(f)
	return whole, f - float64(whole)
}

func timeOfDay(h, m, s int) pgtype.Time {
	us := (int64(h)*3600 + int64(m)*60 + int64(s)) * 1_000_000
	return pgtype.Time{Microseconds: us, Valid: true}
}

// FormatTime renders t as HH:MM:SS.
func FormatTime(t pgtype.Time) string {
	secs := t.Microseconds / 1_000_000
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}
