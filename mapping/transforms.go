package mapping

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ttacon/libphonenumber"
)

// TransformKind enumerates the closed registry of value converters. The wire
// format stays a colon-separated string; ParseTransformation turns it into a
// kind plus typed arguments exactly once per rule.
type TransformKind int

const (
	TransformNone TransformKind = iota
	TransformToString
	TransformToNumber
	TransformToUpperCase
	TransformToLowerCase
	TransformConcat
	TransformMultiply
	TransformSubstring
	TransformReplace
	TransformDefault
	TransformFormatDate
	TransformTrim
	TransformSplit
	TransformNormalizePhone
	TransformUnknown
)

// Transformation is a parsed transformation specifier. Zero value is the
// identity.
type Transformation struct {
	Kind TransformKind
	Name string

	prefix string
	suffix string
	defVal string
	old    string
	new    string
	re     *regexp.Regexp
	sep    string
	index  int
	factor float64
	start  int
	end    int // -1 = to end of string
	region string
}

// ParseTransformation parses "name" / "name:arg1:arg2". Absent, empty and
// "none" specifiers are the identity; unrecognized names parse to
// TransformUnknown, which also applies as identity so configuration typos
// never break a document (callers surface them as warnings).
func ParseTransformation(spec string) Transformation {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "none" {
		return Transformation{Kind: TransformNone, Name: spec}
	}

	parts := strings.Split(spec, ":")
	name := parts[0]
	args := parts[1:]

	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	t := Transformation{Name: name}
	switch name {
	case "toString":
		t.Kind = TransformToString
	case "toNumber":
		t.Kind = TransformToNumber
	case "toUpperCase":
		t.Kind = TransformToUpperCase
	case "toLowerCase":
		t.Kind = TransformToLowerCase
	case "concat":
		t.Kind = TransformConcat
		t.prefix = arg(0)
		t.suffix = arg(1)
	case "multiply":
		t.Kind = TransformMultiply
		t.factor = 1
		if f, err := strconv.ParseFloat(strings.TrimSpace(arg(0)), 64); err == nil {
			t.factor = f
		}
	case "substring":
		t.Kind = TransformSubstring
		t.start, _ = strconv.Atoi(arg(0))
		if t.start < 0 {
			t.start = 0
		}
		t.end = -1
		if e, err := strconv.Atoi(arg(1)); err == nil && len(args) > 1 {
			if e < 0 {
				e = 0
			}
			t.end = e
		}
	case "replace":
		t.Kind = TransformReplace
		t.old = arg(0)
		t.new = arg(1)
		// Pattern is treated as a regular expression; fall back to literal
		// replacement when it does not compile.
		if re, err := regexp.Compile(t.old); err == nil {
			t.re = re
		}
	case "default":
		t.Kind = TransformDefault
		t.defVal = arg(0)
	case "formatDate":
		t.Kind = TransformFormatDate
	case "trim":
		t.Kind = TransformTrim
	case "split":
		t.Kind = TransformSplit
		t.sep = arg(0)
		if t.sep == "" {
			t.sep = ","
		}
		t.index, _ = strconv.Atoi(arg(1))
	case "normalizePhone":
		t.Kind = TransformNormalizePhone
		t.region = strings.ToUpper(strings.TrimSpace(arg(0)))
		if t.region == "" {
			t.region = "US"
		}
	default:
		t.Kind = TransformUnknown
	}
	return t
}

// dateFormats are tried in order by formatDate. Most webhook payloads carry
// RFC3339 or plain date strings.
var dateFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	time.RFC1123Z,
	time.RFC1123,
}

// Apply converts v according to the parsed transformation. Identity for
// TransformNone and TransformUnknown.
func (t Transformation) Apply(v interface{}) interface{} {
	switch t.Kind {
	case TransformToString:
		return asString(v)
	case TransformToNumber:
		return asNumber(v)
	case TransformToUpperCase:
		return strings.ToUpper(asString(v))
	case TransformToLowerCase:
		return strings.ToLower(asString(v))
	case TransformConcat:
		return t.prefix + asString(v) + t.suffix
	case TransformMultiply:
		return asNumber(v) * t.factor
	case TransformSubstring:
		runes := []rune(asString(v))
		start := t.start
		if start > len(runes) {
			start = len(runes)
		}
		end := t.end
		if end < 0 || end > len(runes) {
			end = len(runes)
		}
		if end < start {
			return ""
		}
		return string(runes[start:end])
	case TransformReplace:
		s := asString(v)
		if t.re != nil {
			return t.re.ReplaceAllString(s, t.new)
		}
		return strings.ReplaceAll(s, t.old, t.new)
	case TransformDefault:
		if v == nil || v == "" {
			return t.defVal
		}
		return v
	case TransformFormatDate:
		s, ok := v.(string)
		if !ok {
			return v
		}
		for _, layout := range dateFormats {
			if parsed, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return parsed.Format("2006-01-02")
			}
		}
		return v
	case TransformTrim:
		return strings.TrimSpace(asString(v))
	case TransformSplit:
		parts := strings.Split(asString(v), t.sep)
		if t.index < 0 || t.index >= len(parts) {
			return ""
		}
		return parts[t.index]
	case TransformNormalizePhone:
		s := strings.TrimSpace(asString(v))
		if s == "" {
			return v
		}
		p, err := libphonenumber.Parse(s, t.region)
		if err != nil || !libphonenumber.IsValidNumber(p) {
			return v
		}
		return libphonenumber.Format(p, libphonenumber.E164)
	default:
		return v
	}
}

// asString renders a decoded JSON value the way the accounting API expects:
// null becomes "", numbers drop their float artifacts, composites re-encode
// as JSON.
func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// asNumber parses a decoded JSON value to float64. Null and anything
// non-numeric yield 0.
func asNumber(v interface{}) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// isNumeric reports whether v is a number or a numeric string. The document
// validator accepts both, since upstream transformations are optional.
func isNumeric(v interface{}) bool {
	switch t := v.(type) {
	case float64, float32, int, int64, json.Number:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return err == nil
	default:
		return false
	}
}
