package mapping

import (
	"reflect"
	"testing"
)

func TestGetResolvesNestedPaths(t *testing.T) {
	doc := map[string]interface{}{
		"customer": map[string]interface{}{
			"id":    "C1",
			"email": "c1@example.com",
		},
		"items": []interface{}{
			map[string]interface{}{"price": 9.99, "sku": "A-1"},
			map[string]interface{}{"price": 15.0},
		},
		"total":  "140.37",
		"paidAt": nil,
	}

	cases := []struct {
		path  string
		want  interface{}
		found bool
	}{
		{"customer.id", "C1", true},
		{"$.customer.id", "C1", true},
		{"customer.email", "c1@example.com", true},
		{"items[0].price", 9.99, true},
		{"items[1].price", 15.0, true},
		{"total", "140.37", true},
		{"paidAt", nil, true},
		{"customer.phone", nil, false},
		{"items[2]", nil, false},
		{"items[0].missing", nil, false},
		{"total.nested", nil, false},
		{"customer[0]", nil, false},
		{"items.price", nil, false},
		{"", nil, false},
		{"items[x]", nil, false},
	}
	for _, tc := range cases {
		got, found := Get(doc, tc.path)
		if found != tc.found {
			t.Fatalf("Get(%q) found=%v, expected %v", tc.path, found, tc.found)
		}
		if found && !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Get(%q) = %#v, expected %#v", tc.path, got, tc.want)
		}
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	cases := []struct {
		path  string
		value interface{}
	}{
		{"a", "x"},
		{"a.b.c", 1.5},
		{"items[0]", "first"},
		{"items[2].price", 9.99},
		{"$.customer.id", "C1"},
		{"Line[0].SalesItemLineDetail.ItemRef.value", "1"},
		{"Line[1].Amount", 140.37},
		{"BillAddr.Line1", "1 Main St"},
	}
	for _, tc := range cases {
		doc := map[string]interface{}{}
		if err := Set(doc, tc.path, tc.value); err != nil {
			t.Fatalf("Set(%q) error: %v", tc.path, err)
		}
		got, found := Get(doc, tc.path)
		if !found {
			t.Fatalf("Get(%q) after Set: not found", tc.path)
		}
		if !reflect.DeepEqual(got, tc.value) {
			t.Fatalf("Get(%q) after Set = %#v, expected %#v", tc.path, got, tc.value)
		}
	}
}

func TestSetExtendsArraysWithNils(t *testing.T) {
	doc := map[string]interface{}{}
	if err := Set(doc, "Line[2].Amount", 5.0); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	lines, ok := doc["Line"].([]interface{})
	if !ok {
		t.Fatalf("Line is %T, expected array", doc["Line"])
	}
	if len(lines) != 3 {
		t.Fatalf("len(Line) = %d, expected 3", len(lines))
	}
	if lines[0] != nil || lines[1] != nil {
		t.Fatalf("expected nil padding, got %#v", lines[:2])
	}
}

func TestSetKeepsSiblingValues(t *testing.T) {
	doc := map[string]interface{}{}
	if err := Set(doc, "Line[0].Amount", 140.37); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := Set(doc, "Line[0].Description", "Order 1001"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if got, _ := Get(doc, "Line[0].Amount"); got != 140.37 {
		t.Fatalf("Amount clobbered: %#v", got)
	}
	if got, _ := Get(doc, "Line[0].Description"); got != "Order 1001" {
		t.Fatalf("Description missing: %#v", got)
	}
}

func TestSetReplacesConflictingContainers(t *testing.T) {
	doc := map[string]interface{}{"a": "scalar"}
	if err := Set(doc, "a.b", 1.0); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if got, _ := Get(doc, "a.b"); got != 1.0 {
		t.Fatalf("a.b = %#v, expected 1", got)
	}

	doc2 := map[string]interface{}{"a": map[string]interface{}{"keep": true}}
	if err := Set(doc2, "a[0]", "x"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if _, ok := doc2["a"].([]interface{}); !ok {
		t.Fatalf("a is %T, expected array after index write", doc2["a"])
	}
}

func TestSetRejectsMalformedPaths(t *testing.T) {
	for _, path := range []string{"", "a..b", "a[", "a[x]", "a[-1]", "[0].a"} {
		doc := map[string]interface{}{}
		if err := Set(doc, path, 1); err == nil {
			t.Fatalf("Set(%q) expected error", path)
		}
	}
}

func TestGetDoesNotMutateSource(t *testing.T) {
	doc := map[string]interface{}{"a": map[string]interface{}{"b": 1.0}}
	Get(doc, "a.b.c.d")
	Get(doc, "x.y")
	inner := doc["a"].(map[string]interface{})
	if len(doc) != 1 || len(inner) != 1 {
		t.Fatalf("Get mutated the document: %#v", doc)
	}
}
