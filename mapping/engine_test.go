package mapping

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func exampleMapping() *EffectiveMapping {
	return &EffectiveMapping{
		TenantID: "t1",
		SourceID: "src1",
		FieldMappings: []FieldMapping{
			{TargetField: "CustomerRef.value", SourceField: "customer.id", IsRequired: true},
			{TargetField: "Line[0].Amount", SourceField: "total", Transformation: "toNumber"},
			{TargetField: "Line[0].SalesItemLineDetail.ItemRef.value", StaticValue: "1"},
		},
	}
}

func examplePayload() map[string]interface{} {
	return map[string]interface{}{
		"customer": map[string]interface{}{"id": "C1"},
		"total":    "140.37",
	}
}

func TestTransformExampleScenario(t *testing.T) {
	result := Transform(examplePayload(), exampleMapping())

	if !result.Success {
		t.Fatalf("Success = false, errors: %v", result.ValidationErrors)
	}
	if len(result.ValidationErrors) != 0 || len(result.Warnings) != 0 {
		t.Fatalf("unexpected errors %v / warnings %v", result.ValidationErrors, result.Warnings)
	}

	want := map[string]interface{}{
		"CustomerRef": map[string]interface{}{"value": "C1"},
		"Line": []interface{}{
			map[string]interface{}{
				"Amount":     140.37,
				"DetailType": "SalesItemLineDetail",
				"SalesItemLineDetail": map[string]interface{}{
					"ItemRef": map[string]interface{}{"value": "1"},
				},
			},
		},
	}
	if !reflect.DeepEqual(result.Document, want) {
		t.Fatalf("document = %#v\nwant %#v", result.Document, want)
	}
}

func TestTransformDeterministic(t *testing.T) {
	em := exampleMapping()
	em.StaticValues = map[string]interface{}{
		"CurrencyRef.value": "USD",
		"PrivateNote":       "imported",
		"BillEmail.Address": "ops@example.com",
	}

	first := Transform(examplePayload(), em)
	second := Transform(examplePayload(), em)

	a, err := json.Marshal(first.Document)
	if err != nil {
		t.Fatalf("marshal first: %v", err)
	}
	b, err := json.Marshal(second.Document)
	if err != nil {
		t.Fatalf("marshal second: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("documents differ between runs:\n%s\n%s", a, b)
	}
	if first.Success != second.Success {
		t.Fatal("success flag differs between runs")
	}
}

func TestTransformDoesNotMutateInputs(t *testing.T) {
	payload := examplePayload()
	em := exampleMapping()
	em.StaticValues = map[string]interface{}{
		"ShipAddr": map[string]interface{}{"City": "Austin"},
	}

	payloadBefore, _ := json.Marshal(payload)
	staticsBefore, _ := json.Marshal(em.StaticValues)

	result := Transform(payload, em)

	// Reaching into the produced document must not touch the inputs.
	result.Document["CustomerRef"].(map[string]interface{})["value"] = "tampered"
	result.Document["Line"].([]interface{})[0].(map[string]interface{})["Amount"] = -1.0
	result.Document["ShipAddr"].(map[string]interface{})["City"] = "tampered"

	payloadAfter, _ := json.Marshal(payload)
	staticsAfter, _ := json.Marshal(em.StaticValues)
	if string(payloadBefore) != string(payloadAfter) {
		t.Fatalf("payload mutated: %s -> %s", payloadBefore, payloadAfter)
	}
	if string(staticsBefore) != string(staticsAfter) {
		t.Fatalf("static values mutated: %s -> %s", staticsBefore, staticsAfter)
	}
}

func TestTransformStaticValueWinsOverSourceField(t *testing.T) {
	em := &EffectiveMapping{
		FieldMappings: []FieldMapping{
			{TargetField: "DocNumber", SourceField: "order_number", StaticValue: "FIXED-1"},
		},
	}
	result := Transform(map[string]interface{}{"order_number": "A100"}, em)
	if got := result.Document["DocNumber"]; got != "FIXED-1" {
		t.Fatalf("DocNumber = %v, expected static value to win", got)
	}
}

func TestTransformRequiredFieldWarning(t *testing.T) {
	em := &EffectiveMapping{
		FieldMappings: []FieldMapping{
			{TargetField: "CustomerRef.value", SourceField: "customer.id", IsRequired: true},
			{TargetField: "DocNumber", SourceField: "order_number"},
		},
	}
	result := Transform(map[string]interface{}{}, em)

	warn := "required field CustomerRef.value: source path customer.id not found in payload"
	if !containsString(result.Warnings, warn) {
		t.Fatalf("warnings = %v, expected %q", result.Warnings, warn)
	}
	// The optional miss is silent and neither key is written.
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %v, expected exactly one", result.Warnings)
	}
	if _, ok := result.Document["DocNumber"]; ok {
		t.Fatal("unresolved optional field must not write a key")
	}
	if _, ok := result.Document["CustomerRef"]; ok {
		t.Fatal("unresolved required field must not write a key")
	}
	if result.Success {
		t.Fatal("document without required fields must fail validation")
	}
}

func TestTransformUnknownTransformationWarning(t *testing.T) {
	em := exampleMapping()
	em.FieldMappings = append(em.FieldMappings, FieldMapping{
		TargetField:    "DocNumber",
		SourceField:    "total",
		Transformation: "frobnicate",
	})
	result := Transform(examplePayload(), em)

	warn := `field DocNumber: unknown transformation "frobnicate" applied as identity`
	if !containsString(result.Warnings, warn) {
		t.Fatalf("warnings = %v, expected %q", result.Warnings, warn)
	}
	if got := result.Document["DocNumber"]; got != "140.37" {
		t.Fatalf("DocNumber = %v, expected identity pass-through", got)
	}
	if !result.Success {
		t.Fatalf("warnings must not fail the transform, errors: %v", result.ValidationErrors)
	}
}

func TestTransformStaticValuesOverrideRuleOutput(t *testing.T) {
	em := exampleMapping()
	em.FieldMappings = append(em.FieldMappings, FieldMapping{
		TargetField: "PrivateNote", SourceField: "note",
	})
	em.StaticValues = map[string]interface{}{"PrivateNote": "channel import"}

	payload := examplePayload()
	payload["note"] = "from payload"
	result := Transform(payload, em)
	if got := result.Document["PrivateNote"]; got != "channel import" {
		t.Fatalf("PrivateNote = %v, expected static override", got)
	}
}

func TestTransformDetailTypeDefaulting(t *testing.T) {
	em := &EffectiveMapping{
		FieldMappings: []FieldMapping{
			{TargetField: "CustomerRef.value", StaticValue: "C9"},
			{TargetField: "Line[0].Amount", StaticValue: 10.0},
			{TargetField: "Line[0].SalesItemLineDetail.ItemRef.value", StaticValue: "1"},
			{TargetField: "Line[1].Amount", StaticValue: 5.0},
			{TargetField: "Line[1].DetailType", StaticValue: "DescriptionOnly"},
			{TargetField: "Line[1].SalesItemLineDetail.ItemRef.value", StaticValue: "2"},
		},
	}
	result := Transform(map[string]interface{}{}, em)

	lines := result.Document["Line"].([]interface{})
	if got := lines[0].(map[string]interface{})["DetailType"]; got != "SalesItemLineDetail" {
		t.Fatalf("Line[0].DetailType = %v, expected default", got)
	}
	if got := lines[1].(map[string]interface{})["DetailType"]; got != "DescriptionOnly" {
		t.Fatalf("Line[1].DetailType = %v, explicit value must be kept", got)
	}
}

func TestTransformValidation(t *testing.T) {
	tests := []struct {
		name     string
		rules    []FieldMapping
		payload  map[string]interface{}
		wantErrs []string
	}{
		{
			name: "missing customer and lines",
			rules: []FieldMapping{
				{TargetField: "DocNumber", StaticValue: "A1"},
			},
			payload: map[string]interface{}{},
			wantErrs: []string{
				"CustomerRef.value is missing or empty",
				"Line must contain at least one line item",
			},
		},
		{
			name: "empty customer ref value",
			rules: []FieldMapping{
				{TargetField: "CustomerRef.value", SourceField: "customer.id"},
				{TargetField: "Line[0].Amount", StaticValue: 10.0},
				{TargetField: "Line[0].SalesItemLineDetail.ItemRef.value", StaticValue: "1"},
			},
			payload:  map[string]interface{}{"customer": map[string]interface{}{"id": ""}},
			wantErrs: []string{"CustomerRef.value is missing or empty"},
		},
		{
			name: "non numeric amount",
			rules: []FieldMapping{
				{TargetField: "CustomerRef.value", StaticValue: "C1"},
				{TargetField: "Line[0].Amount", StaticValue: "abc"},
				{TargetField: "Line[0].SalesItemLineDetail.ItemRef.value", StaticValue: "1"},
			},
			payload:  map[string]interface{}{},
			wantErrs: []string{"Line[0].Amount is not a valid number"},
		},
		{
			name: "numeric string amount accepted",
			rules: []FieldMapping{
				{TargetField: "CustomerRef.value", StaticValue: "C1"},
				{TargetField: "Line[0].Amount", StaticValue: "140.37"},
				{TargetField: "Line[0].SalesItemLineDetail.ItemRef.value", StaticValue: "1"},
			},
			payload:  map[string]interface{}{},
			wantErrs: []string{},
		},
		{
			name: "missing amount and item ref",
			rules: []FieldMapping{
				{TargetField: "CustomerRef.value", StaticValue: "C1"},
				{TargetField: "Line[0].Description", StaticValue: "widget"},
			},
			payload: map[string]interface{}{},
			wantErrs: []string{
				"Line[0].Amount is missing",
				"Line[0].SalesItemLineDetail.ItemRef.value is missing",
			},
		},
		{
			name: "scalar line entry",
			rules: []FieldMapping{
				{TargetField: "CustomerRef.value", StaticValue: "C1"},
				{TargetField: "Line[0]", StaticValue: "not an object"},
			},
			payload:  map[string]interface{}{},
			wantErrs: []string{"Line[0] is not an object"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			em := &EffectiveMapping{FieldMappings: tc.rules}
			result := Transform(tc.payload, em)
			if !reflect.DeepEqual(result.ValidationErrors, tc.wantErrs) {
				t.Fatalf("errors = %v, expected %v", result.ValidationErrors, tc.wantErrs)
			}
			if result.Success != (len(tc.wantErrs) == 0) {
				t.Fatalf("success = %v with errors %v", result.Success, result.ValidationErrors)
			}
		})
	}
}

func TestTransformNilMapping(t *testing.T) {
	result := Transform(examplePayload(), nil)
	if result.Success {
		t.Fatal("nil mapping must not succeed")
	}
	if !containsString(result.ValidationErrors, "no effective mapping") {
		t.Fatalf("errors = %v", result.ValidationErrors)
	}
	if result.Document == nil || len(result.Document) != 0 {
		t.Fatalf("document = %v, expected empty", result.Document)
	}
}

func TestTransformBadTargetPathWarns(t *testing.T) {
	em := exampleMapping()
	em.FieldMappings = append(em.FieldMappings, FieldMapping{
		TargetField: "[0].Amount", StaticValue: 1.0,
	})
	result := Transform(examplePayload(), em)

	found := false
	for _, w := range result.Warnings {
		if strings.HasPrefix(w, "field [0].Amount: ") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, expected a write failure for [0].Amount", result.Warnings)
	}
	if !result.Success {
		t.Fatalf("one bad rule must not sink the document, errors: %v", result.ValidationErrors)
	}
}

func TestTransformRuleOrderLastWriteWins(t *testing.T) {
	em := &EffectiveMapping{
		FieldMappings: []FieldMapping{
			{TargetField: "CustomerRef.value", StaticValue: "first"},
			{TargetField: "CustomerRef.value", StaticValue: "second"},
			{TargetField: "Line[0].Amount", StaticValue: 1.0},
			{TargetField: "Line[0].SalesItemLineDetail.ItemRef.value", StaticValue: "1"},
		},
	}
	result := Transform(map[string]interface{}{}, em)
	if v, _ := Get(result.Document, "CustomerRef.value"); v != "second" {
		t.Fatalf("CustomerRef.value = %v, expected later rule to win", v)
	}
}
