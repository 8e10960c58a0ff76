package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateMappingRules(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name: "full rule passes",
			raw:  `[{"targetField":"CustomerRef.value","sourceField":"customer.id","transformation":"toString","isRequired":true,"lookupType":"customer"}]`,
		},
		{
			name: "static-only rule passes",
			raw:  `[{"targetField":"PrivateNote","staticValue":"Imported"}]`,
		},
		{
			name: "parameterized transformation passes",
			raw:  `[{"targetField":"Line[0].Amount","sourceField":"amount_due","transformation":"multiply:0.01"}]`,
		},
		{
			name: "empty column passes",
			raw:  "",
		},
		{
			name: "null column passes",
			raw:  "null",
		},
		{
			name:    "malformed json",
			raw:     `[{"targetField":`,
			wantErr: "field mappings",
		},
		{
			name:    "missing target field",
			raw:     `[{"sourceField":"customer.id"}]`,
			wantErr: "targetField is required",
		},
		{
			name:    "neither source nor static",
			raw:     `[{"targetField":"DocNumber"}]`,
			wantErr: "sourceField or staticValue is required",
		},
		{
			name:    "unknown transformation",
			raw:     `[{"targetField":"DocNumber","sourceField":"number","transformation":"frobnicate"}]`,
			wantErr: `unknown transformation "frobnicate"`,
		},
		{
			name:    "unknown lookup type",
			raw:     `[{"targetField":"CustomerRef.value","sourceField":"customer.id","lookupType":"warehouse"}]`,
			wantErr: `unknown lookupType "warehouse"`,
		},
	}
	for _, tc := range cases {
		err := validateMappingRules(json.RawMessage(tc.raw))
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tc.name, err)
			}
			continue
		}
		if err == nil {
			t.Fatalf("%s: expected error containing %q, got nil", tc.name, tc.wantErr)
		}
		if !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: error %q does not contain %q", tc.name, err.Error(), tc.wantErr)
		}
	}
}

func TestDecodeFieldMappingsEmpty(t *testing.T) {
	rules, err := decodeFieldMappings(nil)
	if err != nil {
		t.Fatalf("decodeFieldMappings(nil): %v", err)
	}
	if rules != nil {
		t.Fatalf("expected nil rules for an empty column, got %v", rules)
	}
}

func TestDecodeStaticValues(t *testing.T) {
	statics, err := decodeStaticValues(json.RawMessage(`{"PrivateNote":"Imported","Line[0].DetailType":"SalesItemLineDetail"}`))
	if err != nil {
		t.Fatalf("decodeStaticValues: %v", err)
	}
	if len(statics) != 2 {
		t.Fatalf("expected 2 static values, got %d", len(statics))
	}
	if statics["PrivateNote"] != "Imported" {
		t.Fatalf("unexpected PrivateNote: %v", statics["PrivateNote"])
	}

	if _, err := decodeStaticValues(json.RawMessage(`[1,2]`)); err == nil {
		t.Fatalf("expected error for a non-object static values column")
	}

	statics, err = decodeStaticValues(nil)
	if err != nil || statics != nil {
		t.Fatalf("expected (nil, nil) for an empty column, got (%v, %v)", statics, err)
	}
}
