package clean

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	excelFormulaRegex = regexp.MustCompile(`^="(.*)"$`)
	newlineRegex      = regexp.MustCompile(`\r\n|\n\r|\r|\n`)
	whitespaceRegex   = regexp.MustCompile(`\s+`)
)

// StringCleaner trims, folds newlines into spaces, strips control
// characters and unwraps the ="value" spreadsheet export artifact.
type StringCleaner struct{}

func (c *StringCleaner) Clean(values []any, opts Options) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		s, ok, err := toText(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opts.MappedName, err)
		}
		if !ok {
			continue
		}
		if s = CleanString(s); s != "" {
			out[i] = s
		}
	}
	return out, nil
}

// CleanString applies the string rules to a single value.
func CleanString(s string) string {
	if m := excelFormulaRegex.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)
	s = newlineRegex.ReplaceAllString(s, " ")
	return StripControl(s)
}

// toText renders a cleaned or raw value as a string. Nulls report false.
func toText(v any) (string, bool, error) {
	if IsNull(v) {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	s, ok := Format(v)
	if !ok {
		return "", false, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return s, true, nil
}

// mojibake maps Arabic letters that were decoded as Windows-1252 back to
// their original form.
var mojibake = strings.NewReplacer(
	"Ã˜", "ا",
	"Ù†", "ن",
	"Ø¹", "ع",
	"Ø§", "ا",
	"Ù…", "م",
)

// htmlEntities is the fixed set of entities exports leave escaped.
var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
)

// TextCleaner runs the string rules, then repairs mis-decoded Arabic,
// unescapes common HTML entities and collapses whitespace runs.
type TextCleaner struct {
	str    *StringCleaner
	logger *slog.Logger
}

func (c *TextCleaner) Clean(values []any, opts Options) ([]any, error) {
	out, err := c.str.Clean(values, opts)
	if err != nil {
		return nil, err
	}

	repaired := 0
	for i, v := range out {
		s, ok := v.(string)
		if !ok {
			continue
		}
		fixed := mojibake.Replace(s)
		if fixed != s {
			repaired++
		}
		fixed = htmlEntities.Replace(fixed)
		fixed = strings.TrimSpace(whitespaceRegex.ReplaceAllString(fixed, " "))
		if fixed == "" {
			out[i] = nil
			continue
		}
		out[i] = fixed
	}

	if repaired > 0 {
		c.logger.Info("repaired mis-decoded characters", append(opts.logAttrs(), "values", repaired)...)
	}
	return out, nil
}

var (
	trueWords  = map[string]bool{"yes": true, "y": true, "true": true, "t": true, "1": true, "on": true, "completed": true, "success": true}
	falseWords = map[string]bool{"no": true, "n": true, "false": true, "f": true, "0": true, "off": true, "failed": true, "failure": true}
)

// BooleanCleaner maps a fixed yes/no vocabulary to bool. Anything else
// becomes null and is reported once per column with samples.
type BooleanCleaner struct {
	logger *slog.Logger
}

func (c *BooleanCleaner) Clean(values []any, opts Options) ([]any, error) {
	out := make([]any, len(values))
	var (
		unmapped int
		bad      samples
	)

	for i, v := range values {
		if IsNull(v) {
			continue
		}
		switch x := v.(type) {
		case bool:
			out[i] = x
		case int64:
			if x == 0 || x == 1 {
				out[i] = x == 1
			} else {
				unmapped++
				bad.add(fmt.Sprint(x))
			}
		case string:
			w := strings.ToLower(strings.TrimSpace(x))
			switch {
			case trueWords[w]:
				out[i] = true
			case falseWords[w]:
				out[i] = false
			default:
				unmapped++
				bad.add(w)
			}
		default:
			return nil, fmt.Errorf("%s: %w: %T", opts.MappedName, ErrUnsupportedValue, v)
		}
	}

	if unmapped > 0 {
		attrs := append(opts.logAttrs(), "unmapped", unmapped, "samples", bad.values)
		c.logger.Warn("values not mapped to boolean", attrs...)
	}
	return out, nil
}

// UUIDCleaner validates and canonicalizes UUIDs. Invalid values become null
// and only their count is logged.
type UUIDCleaner struct {
	logger *slog.Logger
}

func (c *UUIDCleaner) Clean(values []any, opts Options) ([]any, error) {
	out := make([]any, len(values))
	invalid := 0

	for i, v := range values {
		if IsNull(v) {
			continue
		}
		switch x := v.(type) {
		case uuid.UUID:
			out[i] = x
		case string:
			id, err := uuid.Parse(strings.TrimSpace(x))
			if err != nil {
				invalid++
				continue
			}
			out[i] = id
		default:
			return nil, fmt.Errorf("%s: %w: %T", opts.MappedName, ErrUnsupportedValue, v)
		}
	}

	if invalid > 0 {
		c.logger.Warn("invalid UUIDs in column", append(opts.logAttrs(), "invalid", invalid)...)
	}
	return out, nil
}
