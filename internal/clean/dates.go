package clean

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/payrecon/internal/schema"
)

// excelSerialRegex matches spreadsheet serial dates such as 45000 or 45000.5.
var excelSerialRegex = regexp.MustCompile(`^\d+(\.\d*)?$`)

// excelEpoch is day zero of the 1900 date system.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

const (
	// Serials above this are shifted back one day for the phantom 1900-02-29.
	excelLeapBugSerial = 59

	// 9999-12-31; larger digit strings are compact dates, not serials.
	maxExcelSerial = 2958465
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are
// assumed to be in the previous century.
var TwoDigitYearPivot = 20

// genericDateLayouts run after the per-source layouts, day-first before
// month-first.
var genericDateLayouts = []string{
	"2/1/2006",
	"1/2/2006",
	"2006-1-2",
	"2-1-2006",
	"1-2-2006",
	"2006/1/2",
	"2.1.2006",
	"1.2.2006",
	"2 Jan 2006",
	"2-Jan-2006",
	"Jan 2 2006",
	"20060102",
	"2/1/2006 15:04",
	"1/2/2006 15:04",
	"2/1/2006 15:04:05",
	"1/2/2006 15:04:05",
	"2.1.2006 15:04",
	"2.1.2006 15:04:05",
	"2006-1-2 15:04:05",
	"2006/1/2 15:04",
	"2006/1/2 15:04:05",
}

// twoDigitYearLayouts are tried month-first, then day-first, with the
// TwoDigitYearPivot applied.
var twoDigitYearLayouts = []string{
	"1/2/06", "2/1/06", "1-2-06", "2-1-06", "1.2.06", "2.1.06", "2-Jan-06",
}

// DateCleaner converts values to calendar dates. Each value goes through
// null detection, spreadsheet serials, the source's own layouts, the
// generic layouts, two-digit years and finally fuzzy parsing with a
// month-first bias; a value is never reparsed once a stage accepted it.
type DateCleaner struct {
	catalog *schema.Catalog
	logger  *slog.Logger
}

func (c *DateCleaner) Clean(values []any, opts Options) ([]any, error) {
	var sourceLayouts []string
	if c.catalog != nil {
		if src, ok := c.catalog.Lookup(opts.Source); ok {
			sourceLayouts = src.DateLayouts
		}
	}

	out := make([]any, len(values))
	var (
		nonNull  int
		unparsed int
		bad      samples
	)

	for i, v := range values {
		if IsNull(v) {
			continue
		}
		nonNull++

		switch x := v.(type) {
		case time.Time:
			out[i] = dateOnly(x)
			continue
		case pgtype.Date:
			if x.Valid {
				out[i] = dateOnly(x.Time)
			}
			continue
		case string:
			s := strings.TrimSpace(x)
			if t, ok := ParseDate(s, sourceLayouts); ok {
				out[i] = t
				continue
			}
			unparsed++
			bad.add(s)
		default:
			return nil, fmt.Errorf("%s: %w: %T", opts.MappedName, ErrUnsupportedValue, v)
		}
	}

	if nonNull > 0 && unparsed*2 > nonNull {
		attrs := append(opts.logAttrs(),
			"parsed", nonNull-unparsed,
			"total", nonNull,
			"samples", bad.values,
		)
		c.logger.Warn("high unparsed rate in date column", attrs...)
	}
	return out, nil
}

// ParseDate runs the date stages on one trimmed string: spreadsheet serial,
// then sourceLayouts, then the generic layouts, then two-digit years, then
// fuzzy parsing month-first with a day-first retry.
func ParseDate(s string, sourceLayouts []string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}

	if excelSerialRegex.MatchString(s) {
		if t, ok := FromExcelSerial(s); ok {
			return t, true
		}
	}

	for _, layouts := range [][]string{sourceLayouts, genericDateLayouts} {
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return dateOnly(t), true
			}
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return dateOnly(t), true
		}
	}

	return parseFuzzy(s)
}

// Fuzzy results outside this year range are rejected; version strings
// such as "3.2.1" would otherwise come back as year 1.
const (
	minFuzzyYear = 1900
	maxFuzzyYear = 2200
)

// parseFuzzy is the last stage. Bare digit runs are left alone: dateparse
// would read them as unix timestamps.
func parseFuzzy(s string) (time.Time, bool) {
	if allDigits(s) {
		return time.Time{}, false
	}
	for _, monthFirst := range []bool{true, false} {
		t, err := dateparse.ParseIn(s, time.UTC, dateparse.PreferMonthFirst(monthFirst))
		if err != nil {
			continue
		}
		if y := t.Year(); y < minFuzzyYear || y > maxFuzzyYear {
			return time.Time{}, false
		}
		return dateOnly(t), true
	}
	return time.Time{}, false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FromExcelSerial converts a 1900-system serial to its date. Serials above
// 59 are shifted back one day to undo the spreadsheet's phantom
// 1900-02-29; 59 and below are taken as-is.
func FromExcelSerial(s string) (time.Time, bool) {
	days, err := strconv.ParseFloat(s, 64)
	if err != nil || days > maxExcelSerial {
		return time.Time{}, false
	}
	if days > excelLeapBugSerial {
		days--
	}

	whole := math.Floor(days)
	t := excelEpoch.AddDate(0, 0, int(whole))
	t = t.Add(time.Duration((days - whole) * float64(24*time.Hour)))
	return dateOnly(t), true
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LooksLikeDate reports whether s parses under the generic or fuzzy
// stages. Spreadsheet serials are not considered.
func LooksLikeDate(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || (excelSerialRegex.MatchString(s) && len(s) != 8) {
		return false
	}
	_, ok := ParseDate(s, nil)
	return ok
}
