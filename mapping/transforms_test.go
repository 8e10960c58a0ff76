package mapping

import (
	"reflect"
	"testing"
)

func TestParseTransformationKinds(t *testing.T) {
	cases := []struct {
		spec string
		kind TransformKind
	}{
		{"", TransformNone},
		{"none", TransformNone},
		{"toString", TransformToString},
		{"toNumber", TransformToNumber},
		{"toUpperCase", TransformToUpperCase},
		{"toLowerCase", TransformToLowerCase},
		{"concat:a:b", TransformConcat},
		{"multiply:2", TransformMultiply},
		{"substring:0:3", TransformSubstring},
		{"replace:a:b", TransformReplace},
		{"default:N/A", TransformDefault},
		{"formatDate", TransformFormatDate},
		{"trim", TransformTrim},
		{"split:-:1", TransformSplit},
		{"normalizePhone", TransformNormalizePhone},
		{"normalizePhone:GB", TransformNormalizePhone},
		{"frobnicate", TransformUnknown},
		{"ToNumber", TransformUnknown},
	}
	for _, tc := range cases {
		if got := ParseTransformation(tc.spec); got.Kind != tc.kind {
			t.Fatalf("ParseTransformation(%q).Kind = %d, expected %d", tc.spec, got.Kind, tc.kind)
		}
	}
}

func TestTransformApply(t *testing.T) {
	cases := []struct {
		name string
		spec string
		in   interface{}
		want interface{}
	}{
		{"toString nil", "toString", nil, ""},
		{"toString number", "toString", 140.37, "140.37"},
		{"toString integral float", "toString", 140.0, "140"},
		{"toString bool", "toString", true, "true"},
		{"toString string", "toString", "x", "x"},

		{"toNumber nil", "toNumber", nil, 0.0},
		{"toNumber string", "toNumber", "140.37", 140.37},
		{"toNumber garbage", "toNumber", "abc", 0.0},
		{"toNumber number", "toNumber", 5.0, 5.0},
		{"toNumber padded string", "toNumber", " 12.5 ", 12.5},

		{"upper", "toUpperCase", "shopify", "SHOPIFY"},
		{"upper nil", "toUpperCase", nil, ""},
		{"lower", "toLowerCase", "STRIPE", "stripe"},

		{"concat both", "concat:INV-:-US", "1001", "INV-1001-US"},
		{"concat prefix only", "concat:INV-", "1001", "INV-1001"},
		{"concat nil value", "concat:a:b", nil, "ab"},

		{"multiply string input", "multiply:2", "5", 10.0},
		{"multiply garbage", "multiply:2", "abc", 0.0},
		{"multiply default factor", "multiply", 3.0, 3.0},
		{"multiply bad factor", "multiply:x", 3.0, 3.0},
		{"multiply fraction", "multiply:0.5", 9.0, 4.5},

		{"substring range", "substring:0:3", "shopify", "sho"},
		{"substring open end", "substring:4", "shopify", "ify"},
		{"substring clamp end", "substring:0:99", "abc", "abc"},
		{"substring start past end", "substring:9:12", "abc", ""},
		{"substring inverted", "substring:3:1", "abcdef", ""},

		{"replace literal", "replace:-:_", "a-b-c", "a_b_c"},
		{"replace regex", "replace:[0-9]+:N", "order 123 of 456", "order N of N"},
		{"replace bad regex literal fallback", "replace:[:(", "a[b[c", "a(b(c"},

		{"default on nil", "default:N/A", nil, "N/A"},
		{"default on empty", "default:N/A", "", "N/A"},
		{"default pass through", "default:N/A", "x", "x"},
		{"default zero passes", "default:N/A", 0.0, 0.0},

		{"formatDate rfc3339", "formatDate", "2026-03-15T10:30:00Z", "2026-03-15"},
		{"formatDate date only", "formatDate", "2026-03-15", "2026-03-15"},
		{"formatDate datetime", "formatDate", "2026-03-15 10:30:00", "2026-03-15"},
		{"formatDate slash", "formatDate", "2026/03/15", "2026-03-15"},
		{"formatDate unparsable", "formatDate", "not a date", "not a date"},
		{"formatDate non-string", "formatDate", 42.0, 42.0},

		{"trim", "trim", "  hello  ", "hello"},
		{"trim nil", "trim", nil, ""},

		{"split default", "split", "a,b,c", "a"},
		{"split delim index", "split:-:1", "a-b-c", "b"},
		{"split out of range", "split:,:9", "a,b", ""},

		{"normalizePhone us", "normalizePhone", "(650) 253-0000", "+16502530000"},
		{"normalizePhone region", "normalizePhone:GB", "020 7946 0958", "+442079460958"},
		{"normalizePhone already e164", "normalizePhone", "+16502530000", "+16502530000"},
		{"normalizePhone invalid passthrough", "normalizePhone", "123", "123"},
		{"normalizePhone garbage passthrough", "normalizePhone", "not-a-phone", "not-a-phone"},
		{"normalizePhone nil passthrough", "normalizePhone", nil, nil},

		{"none identity", "none", 42.0, 42.0},
		{"empty identity", "", "x", "x"},
		{"unknown identity", "frobnicate:3", "x", "x"},
	}
	for _, tc := range cases {
		got := ParseTransformation(tc.spec).Apply(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: ParseTransformation(%q).Apply(%#v) = %#v, expected %#v",
				tc.name, tc.spec, tc.in, got, tc.want)
		}
	}
}
