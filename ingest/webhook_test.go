package ingest

import (
	"strings"
	"testing"
)

func TestDeriveEventType(t *testing.T) {
	tests := []struct {
		name   string
		header string
		body   string
		want   string
	}{
		{
			name:   "header wins over body",
			header: "order.created",
			body:   `{"type":"charge.succeeded"}`,
			want:   "order.created",
		},
		{
			name:   "header is trimmed",
			header: "  invoice.paid  ",
			body:   `{}`,
			want:   "invoice.paid",
		},
		{
			name: "stripe style type field",
			body: `{"type":"charge.succeeded","id":"evt_1"}`,
			want: "charge.succeeded",
		},
		{
			name: "event_type field",
			body: `{"event_type":"PAYMENT.SALE.COMPLETED"}`,
			want: "PAYMENT.SALE.COMPLETED",
		},
		{
			name: "shopify style topic field",
			body: `{"topic":"orders/create"}`,
			want: "orders/create",
		},
		{
			name: "generic event field",
			body: `{"event":"ping"}`,
			want: "ping",
		},
		{
			name: "type takes precedence over event_type",
			body: `{"type":"a","event_type":"b"}`,
			want: "a",
		},
		{
			name: "non-string type falls through to the next key",
			body: `{"type":42,"event_type":"refund.issued"}`,
			want: "refund.issued",
		},
		{
			name: "blank type falls through to the next key",
			body: `{"type":"  ","event":"noop"}`,
			want: "noop",
		},
		{
			name: "no recognized key",
			body: `{"id":"evt_1","amount":100}`,
			want: "",
		},
		{
			name: "non-object payload",
			body: `[1,2,3]`,
			want: "",
		},
		{
			name: "invalid json",
			body: `{"type":`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveEventType(tt.header, []byte(tt.body))
			if got != tt.want {
				t.Fatalf("deriveEventType(%q, %s) = %q, want %q", tt.header, tt.body, got, tt.want)
			}
		})
	}
}

func TestDeriveEventTypeTruncatesLongLabels(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := deriveEventType(long, nil)
	if len(got) != 100 {
		t.Fatalf("expected label capped at 100 chars, got %d", len(got))
	}
	if got != long[:100] {
		t.Fatalf("expected prefix of the original label")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want int64
	}{
		{name: "default", env: "", want: 1 << 20},
		{name: "override", env: "2048", want: 2048},
		{name: "junk falls back to default", env: "lots", want: 1 << 20},
		{name: "zero falls back to default", env: "0", want: 1 << 20},
		{name: "negative falls back to default", env: "-1", want: 1 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WEBHOOK_MAX_BODY_BYTES", tt.env)
			if got := maxBodyBytes(); got != tt.want {
				t.Fatalf("maxBodyBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}
