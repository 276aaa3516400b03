package clean

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/payrecon/internal/schema"
)

func testRegistry() *Registry {
	return NewRegistry(schema.DefaultCatalog(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func anys(values ...string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ----------------------------------------------------------------------------
// Cross-cutting Tests
// ----------------------------------------------------------------------------

func TestNullTokensBecomeNull(t *testing.T) {
	reg := testRegistry()
	tokens := anys("", "  ", "None", "NONE", "NaN", "nan", "NULL", "null", "<NA>", "NA", "n/a", "NaT")
	tokens = append(tokens, nil)

	for _, typ := range reg.Types() {
		t.Run(string(typ), func(t *testing.T) {
			got, err := reg.Clean(typ, tokens, Options{Source: schema.SourcePortal, MappedName: "col"})
			if err != nil {
				t.Fatalf("Clean() error = %v", err)
			}
			if len(got) != len(tokens) {
				t.Fatalf("Clean() len = %d, want %d", len(got), len(tokens))
			}
			for i, v := range got {
				if v != nil {
					t.Errorf("Clean(%q) = %#v, want nil", tokens[i], v)
				}
			}
		})
	}
}

func TestCleaningIsIdempotent(t *testing.T) {
	reg := testRegistry()
	raw := map[schema.SemanticType][]any{
		schema.TypeInteger: anys("1001", " 42 ", "7.0", "abc"),
		schema.TypeFloat:   anys("SAR 1,234.50", "-3", "(12.25)", "x"),
		schema.TypeDate:    anys("45000", "14/03/2023", "2023-03-14", "garbage"),
		schema.TypeTime:    anys("13:45:10", "0.5", "1:05 pm"),
		schema.TypeBoolean: anys("Yes", "failed", "maybe"),
		schema.TypeUUID:    anys("6F9619FF-8B86-D011-B42D-00CF4FC964FF", "nope"),
		schema.TypeString:  anys(`="00123"`, " a\nb "),
		schema.TypeText:    anys("Tom &amp; Jerry", "Ø§Ù…"),
	}

	for typ, values := range raw {
		t.Run(string(typ), func(t *testing.T) {
			opts := Options{Source: schema.SourcePortal, MappedName: "col"}
			once, err := reg.Clean(typ, values, opts)
			if err != nil {
				t.Fatalf("first Clean() error = %v", err)
			}
			twice, err := reg.Clean(typ, once, opts)
			if err != nil {
				t.Fatalf("second Clean() error = %v", err)
			}
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("second pass changed values:\n once  = %#v\n twice = %#v", once, twice)
			}
		})
	}
}

func TestUnsupportedValueIsColumnError(t *testing.T) {
	reg := testRegistry()
	values := []any{"1", map[string]int{"a": 1}}

	for _, typ := range reg.Types() {
		t.Run(string(typ), func(t *testing.T) {
			_, err := reg.Clean(typ, values, Options{MappedName: "col"})
			if !errors.Is(err, ErrUnsupportedValue) {
				t.Errorf("Clean() error = %v, want ErrUnsupportedValue", err)
			}
		})
	}
}

func TestUnknownTypeHasNoCleaner(t *testing.T) {
	if _, err := testRegistry().Clean("blob", anys("x"), Options{}); err == nil {
		t.Error("Clean(blob) error = nil, want error")
	}
}

// ----------------------------------------------------------------------------
// Integer Tests
// ----------------------------------------------------------------------------

func TestIntegerCleaner(t *testing.T) {
	tests := []struct {
		input any
		want  any
	}{
		{"1001", int64(1001)},
		{" 42 ", int64(42)},
		{"+7", int64(7)},
		{"-15", int64(-15)},
		{"12.0", int64(12)},
		{"1e3", int64(1000)},
		{"12.5", nil},
		{"1,234", nil},
		{"abc", nil},
		{"99999999999999999999", nil},
		{int64(5), int64(5)},
		{3.0, int64(3)},
		{3.5, nil},
	}

	c := &IntegerCleaner{}
	for _, tt := range tests {
		got, err := c.Clean([]any{tt.input}, Options{})
		if err != nil {
			t.Fatalf("Clean(%v) error = %v", tt.input, err)
		}
		if got[0] != tt.want {
			t.Errorf("Clean(%#v) = %#v, want %#v", tt.input, got[0], tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// Float Tests
// ----------------------------------------------------------------------------

func TestFloatCleaner(t *testing.T) {
	tests := []struct {
		name   string
		source string
		input  string
		want   string // empty means null
	}{
		{"plain", "portal", "123.45", "123.45"},
		{"currency prefix", "portal", "SAR 99.50", "99.5"},
		{"dollar thousands", "portal", "$1,234.56", "1234.56"},
		{"negative", "portal", "-42.10", "-42.1"},
		{"accounting negative", "portal", "(12.25)", "-12.25"},
		{"whitespace", "portal", "  7 ", "7"},
		{"payfort thousands", "payfort", "2,500.00", "2500"},
		{"payfort grouped millions", "payfort", "SAR 1,234,567.5", "1234567.5"},
		{"payfort misplaced comma", "payfort", "2,50", ""},
		{"payfort accounting grouped", "payfort", "(1,000.00)", "-1000"},
		{"portal loose comma", "portal", "2,50", "250"},
		{"tamara decimal comma", "tamara", "1.234,56", "1234.56"},
		{"tamara plain comma", "tamara", "99,5", "99.5"},
		{"tamara dot decimal", "tamara", "99.5", "99.5"},
		{"lone minus", "portal", "-", ""},
		{"two points", "portal", "1.2.3", ""},
		{"letters only", "portal", "abc", ""},
		{"null token", "portal", "N/A", ""},
	}

	c := &FloatCleaner{catalog: schema.DefaultCatalog()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Clean(anys(tt.input), Options{Source: tt.source})
			if err != nil {
				t.Fatalf("Clean() error = %v", err)
			}
			if tt.want == "" {
				if got[0] != nil {
					t.Errorf("Clean(%q) = %v, want nil", tt.input, got[0])
				}
				return
			}
			d, ok := got[0].(decimal.Decimal)
			if !ok {
				t.Fatalf("Clean(%q) = %#v, want decimal", tt.input, got[0])
			}
			if !d.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Clean(%q) = %s, want %s", tt.input, d, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Date Tests
// ----------------------------------------------------------------------------

func TestFromExcelSerial(t *testing.T) {
	tests := []struct {
		serial string
		want   time.Time
	}{
		{"45000", date(2023, time.March, 14)},
		{"45000.75", date(2023, time.March, 14)},
		{"40", date(1900, time.February, 8)},
		{"59", date(1900, time.February, 27)},
		{"61", date(1900, time.February, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.serial, func(t *testing.T) {
			got, ok := FromExcelSerial(tt.serial)
			if !ok {
				t.Fatalf("FromExcelSerial(%s) ok = false", tt.serial)
			}
			if !got.Equal(tt.want) {
				t.Errorf("FromExcelSerial(%s) = %s, want %s", tt.serial, got.Format(DateLayout), tt.want.Format(DateLayout))
			}
		})
	}
}

func TestDateCleaner(t *testing.T) {
	tests := []struct {
		name   string
		source string
		input  string
		want   time.Time // zero means null
	}{
		{"excel serial", "portal", "45000", date(2023, time.March, 14)},
		{"portal day first", "portal", "05/03/2023", date(2023, time.March, 5)},
		{"bank day first dashes", "bank", "05-03-2023", date(2023, time.March, 5)},
		{"checkout month first", "checkout_v1", "03/05/2023", date(2023, time.March, 5)},
		{"checkout_v2 iso time", "checkout_v2", "2023-03-05 10:11:12", date(2023, time.March, 5)},
		{"tamara with time", "tamara", "3/5/2023 10:11", date(2023, time.March, 5)},
		{"generic falls to month first", "", "03/14/2023", date(2023, time.March, 14)},
		{"iso", "", "2023-03-14", date(2023, time.March, 14)},
		{"dotted", "", "14.03.2023", date(2023, time.March, 14)},
		{"month name", "", "14 Mar 2023", date(2023, time.March, 14)},
		{"compact", "", "20230314", date(2023, time.March, 14)},
		{"rfc3339", "", "2023-03-14T08:00:00Z", date(2023, time.March, 14)},
		{"long month", "", "March 14, 2023", date(2023, time.March, 14)},
		{"two digit year", "", "3/14/23", date(2023, time.March, 14)},
		{"portal timestamp day first", "portal", "14/03/2023 10:00", date(2023, time.March, 14)},
		{"portal timestamp seconds", "portal", "14/03/2023 10:00:05", date(2023, time.March, 14)},
		{"garbage", "", "not a date", time.Time{}},
	}

	c := &DateCleaner{catalog: schema.DefaultCatalog(), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Clean(anys(tt.input), Options{Source: tt.source})
			if err != nil {
				t.Fatalf("Clean() error = %v", err)
			}
			if tt.want.IsZero() {
				if got[0] != nil {
					t.Errorf("Clean(%q) = %v, want nil", tt.input, got[0])
				}
				return
			}
			d, ok := got[0].(time.Time)
			if !ok {
				t.Fatalf("Clean(%q) = %#v, want time.Time", tt.input, got[0])
			}
			if !d.Equal(tt.want) {
				t.Errorf("Clean(%q) = %s, want %s", tt.input, d.Format(DateLayout), tt.want.Format(DateLayout))
			}
		})
	}
}

func TestDateCleanerKeepsParsedValues(t *testing.T) {
	c := &DateCleaner{catalog: schema.DefaultCatalog(), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	in := []any{"05/03/2023", "bad", nil, "45000", "worse", "also bad"}

	got, err := c.Clean(in, Options{Source: schema.SourcePortal})
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	if got[0] == nil || got[3] == nil {
		t.Errorf("parsed values lost: %v", got)
	}
	for _, i := range []int{1, 2, 4, 5} {
		if got[i] != nil {
			t.Errorf("got[%d] = %v, want nil", i, got[i])
		}
	}
}

func TestParseDateFallbacks(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time // zero means unparsed
	}{
		{"14/03/2023 10:00", date(2023, time.March, 14)},
		{"3/14/2023 10:00", date(2023, time.March, 14)},
		{"14/3/23", date(2023, time.March, 14)},
		{"2023/03/14 10:00:00", date(2023, time.March, 14)},
		{"14.03.2023 10:00", date(2023, time.March, 14)},
		{"14-Mar-2023", date(2023, time.March, 14)},
		{"Mar 14, 2023 10:00 AM", date(2023, time.March, 14)},
		{"March 14, 2023", date(2023, time.March, 14)},
		{"2023-03-14T23:30:00+03:00", date(2023, time.March, 14)},
		{"1700000000", time.Time{}},
		{"3.2.1", time.Time{}},
		{"not a date", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in, nil)
			if tt.want.IsZero() {
				if ok {
					t.Errorf("ParseDate(%q) = %s, want unparsed", tt.in, got.Format(DateLayout))
				}
				return
			}
			if !ok {
				t.Fatalf("ParseDate(%q) not parsed, want %s", tt.in, tt.want.Format(DateLayout))
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got.Format(DateLayout), tt.want.Format(DateLayout))
			}
		})
	}
}

func TestLooksLikeDate(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"2023-03-14", true},
		{"14/03/2023", true},
		{"20230314", true},
		{"45000", false},
		{"12345", false},
		{"hello", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := LooksLikeDate(tt.in); got != tt.want {
			t.Errorf("LooksLikeDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// Time Tests
// ----------------------------------------------------------------------------

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"13:45:10", "13:45:10", true},
		{"13:45", "13:45:00", true},
		{"1:05:09 PM", "13:05:09", true},
		{"1:05 pm", "13:05:00", true},
		{"12:30 AM", "00:30:00", true},
		{"0.5", "12:00:00", true},
		{".75", "18:00:00", true},
		{"1.25", "06:00:00", true},
		{"25:00", "", false},
		{"noon", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTime(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseTime(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && FormatTime(got) != tt.want {
				t.Errorf("ParseTime(%q) = %s, want %s", tt.in, FormatTime(got), tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// String and Text Tests
// ----------------------------------------------------------------------------

func TestStringCleaner(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"  hello  ", "hello"},
		{`="00123"`, "00123"},
		{"line1\r\nline2\nline3", "line1 line2 line3"},
		{"a\x00b\x1fc\x7f", "abc"},
		{"tab\there", "tabhere"},
		{"   ", nil},
	}

	c := &StringCleaner{}
	for _, tt := range tests {
		got, err := c.Clean(anys(tt.in), Options{})
		if err != nil {
			t.Fatalf("Clean(%q) error = %v", tt.in, err)
		}
		if got[0] != tt.want {
			t.Errorf("Clean(%q) = %#v, want %#v", tt.in, got[0], tt.want)
		}
	}
}

func TestStringCleanerFormatsTypedValues(t *testing.T) {
	c := &StringCleaner{}
	got, err := c.Clean([]any{int64(5), decimal.RequireFromString("1.50"), date(2023, 3, 14)}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := []any{"5", "1.5", "2023-03-14"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Clean() = %#v, want %#v", got, want)
	}
}

func TestTextCleaner(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"&lt;b&gt; &quot;x&quot;", `<b> "x"`},
		{"Ø§Ù…Ù†", "امن"},
		{"multiple    spaces  here", "multiple spaces here"},
		{`="  wrapped  "`, "wrapped"},
	}

	reg := testRegistry()
	for _, tt := range tests {
		got, err := reg.Clean(schema.TypeText, anys(tt.in), Options{})
		if err != nil {
			t.Fatalf("Clean(%q) error = %v", tt.in, err)
		}
		if got[0] != tt.want {
			t.Errorf("Clean(%q) = %#v, want %q", tt.in, got[0], tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// Boolean and UUID Tests
// ----------------------------------------------------------------------------

func TestBooleanCleaner(t *testing.T) {
	in := anys("Yes", "y", "TRUE", "t", "1", "on", "Completed", "SUCCESS",
		"no", "N", "false", "F", "0", "off", "failed", "Failure", "maybe")
	want := []any{true, true, true, true, true, true, true, true,
		false, false, false, false, false, false, false, false, nil}

	got, err := testRegistry().Clean(schema.TypeBoolean, in, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Clean() = %v, want %v", got, want)
	}
}

func TestUUIDCleaner(t *testing.T) {
	in := anys("6F9619FF-8B86-D011-B42D-00CF4FC964FF", "{6f9619ff-8b86-d011-b42d-00cf4fc964ff}", "not-a-uuid")
	got, err := testRegistry().Clean(schema.TypeUUID, in, Options{})
	if err != nil {
		t.Fatal(err)
	}

	want := uuid.MustParse("6f9619ff-8b86-d011-b42d-00cf4fc964ff")
	if got[0] != want || got[1] != want {
		t.Errorf("Clean() = %v, want canonical %s", got[:2], want)
	}
	if got[2] != nil {
		t.Errorf("invalid uuid = %v, want nil", got[2])
	}
}

// ----------------------------------------------------------------------------
// Conversion Tests
// ----------------------------------------------------------------------------

func TestToPg(t *testing.T) {
	if got := ToPg(schema.TypeInteger, "raw"); got != nil {
		t.Errorf("ToPg(integer, string) = %#v, want nil", got)
	}
	if got := ToPg(schema.TypeInteger, int64(3)); got != int64(3) {
		t.Errorf("ToPg(integer, 3) = %#v", got)
	}
	if got, ok := ToPg(schema.TypeDate, date(2023, 3, 14)).(pgtype.Date); !ok || !got.Valid {
		t.Errorf("ToPg(date) = %#v", got)
	}
	if got, ok := ToPg(schema.TypeFloat, decimal.RequireFromString("12.50")).(pgtype.Numeric); !ok || !got.Valid {
		t.Errorf("ToPg(float) = %#v", got)
	}
	if got, ok := ToPg(schema.TypeString, int64(7)).(pgtype.Text); !ok || got.String != "7" {
		t.Errorf("ToPg(string, 7) = %#v", got)
	}
	if got := ToPg(schema.TypeString, nil); got != nil {
		t.Errorf("ToPg(string, nil) = %#v", got)
	}
}
