package adminapi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/shopspring/decimal"
)

func TestDocumentTotal(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"numeric total", `{"TotalAmt": 123.45}`, "123.45"},
		{"string total", `{"TotalAmt": "67.89"}`, "67.89"},
		{"integer total", `{"TotalAmt": 200}`, "200"},
		{"total wins over lines", `{"TotalAmt": 50, "Line": [{"Amount": 1}]}`, "50"},
		{"line sum fallback", `{"Line": [{"Amount": 100.25}, {"Amount": "24.75"}]}`, "125"},
		{"line sum skips bad amounts", `{"Line": [{"Amount": 10}, {"Amount": "lots"}, "junk"]}`, "10"},
		{"no total no lines", `{"DocNumber": "INV-1"}`, "0"},
		{"unparseable string", `{"TotalAmt": "lots"}`, "0"},
		{"boolean total", `{"TotalAmt": true}`, "0"},
		{"empty document", ``, "0"},
		{"invalid json", `{nope`, "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want, err := decimal.NewFromString(tc.want)
			if err != nil {
				t.Fatalf("bad expectation %q: %v", tc.want, err)
			}
			got := documentTotal(json.RawMessage(tc.doc))
			if !got.Equal(want) {
				t.Fatalf("documentTotal(%q) = %s, want %s", tc.doc, got, want)
			}
		})
	}
}

func TestBuildInvoiceSyncWorkbook(t *testing.T) {
	delivered := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	externalId := "QB-1001"
	records := []*models.InvoiceSyncRecord{
		{
			ID:                1,
			EventId:           "ev-1",
			SourceId:          "src-1",
			Success:           true,
			DeliveryStatus:    models.DeliveryStatusDelivered,
			DeliveryAttempts:  1,
			ExternalInvoiceId: &externalId,
			DeliveredAt:       &delivered,
			Document:          json.RawMessage(`{"TotalAmt": 10.5}`),
			CreatedAt:         delivered,
		},
		{
			ID:             2,
			EventId:        "ev-2",
			SourceId:       "src-1",
			Success:        false,
			DeliveryStatus: models.DeliveryStatusSkipped,
			Document:       json.RawMessage(`{"TotalAmt": "4.5"}`),
			CreatedAt:      delivered,
		},
	}

	f := buildInvoiceSyncWorkbook(records)

	cell := func(ref string) string {
		v, err := f.GetCellValue("Sheet1", ref)
		if err != nil {
			t.Fatalf("GetCellValue(%s): %v", ref, err)
		}
		return v
	}

	if got := cell("A1"); got != "ID" {
		t.Fatalf("header A1 = %q, want ID", got)
	}
	if got := cell("H1"); got != "Total Amount" {
		t.Fatalf("header H1 = %q, want Total Amount", got)
	}

	if got := cell("B2"); got != "ev-1" {
		t.Fatalf("B2 = %q, want ev-1", got)
	}
	if got := cell("E2"); got != string(models.DeliveryStatusDelivered) {
		t.Fatalf("E2 = %q, want %s", got, models.DeliveryStatusDelivered)
	}
	if got := cell("G2"); got != "QB-1001" {
		t.Fatalf("G2 = %q, want QB-1001", got)
	}
	if got := cell("H2"); got != "10.5" {
		t.Fatalf("H2 = %q, want 10.5", got)
	}
	if got := cell("H3"); got != "4.5" {
		t.Fatalf("H3 = %q, want 4.5", got)
	}

	// Empty optional cells stay empty instead of rendering zero values.
	if got := cell("G3"); got != "" {
		t.Fatalf("G3 = %q, want empty", got)
	}
	if got := cell("I3"); got != "" {
		t.Fatalf("I3 = %q, want empty", got)
	}

	if got := cell("G4"); got != "Total" {
		t.Fatalf("summary label G4 = %q, want Total", got)
	}
	if got := cell("H4"); got != "15" {
		t.Fatalf("summary total H4 = %q, want 15", got)
	}
}
