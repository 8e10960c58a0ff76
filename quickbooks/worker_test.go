package quickbooks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/models"
)

func TestDeliveryBackoffDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{3, 8 * time.Minute},
		{6, time.Hour},
		{20, time.Hour},
	}
	for _, tc := range cases {
		if got := deliveryBackoff(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestDeliveryMaxAttemptsFromEnv(t *testing.T) {
	t.Setenv("QBO_DELIVERY_MAX_ATTEMPTS", "")
	if got := deliveryMaxAttempts(); got != 8 {
		t.Fatalf("expected default 8, got %d", got)
	}

	t.Setenv("QBO_DELIVERY_MAX_ATTEMPTS", "3")
	if got := deliveryMaxAttempts(); got != 3 {
		t.Fatalf("expected 3 from env, got %d", got)
	}

	t.Setenv("QBO_DELIVERY_MAX_ATTEMPTS", "not-a-number")
	if got := deliveryMaxAttempts(); got != 8 {
		t.Fatalf("expected default 8 for junk env, got %d", got)
	}
}

func TestRefreshErrRetryable(t *testing.T) {
	if refreshErrRetryable(&apiError{StatusCode: http.StatusBadRequest}) {
		t.Fatal("4xx refresh failures are permanent (revoked grant)")
	}
	if !refreshErrRetryable(&apiError{StatusCode: http.StatusTooManyRequests}) {
		t.Fatal("429 refresh failures are retryable")
	}
	if !refreshErrRetryable(&apiError{StatusCode: http.StatusBadGateway}) {
		t.Fatal("5xx refresh failures are retryable")
	}
	if !refreshErrRetryable(context.DeadlineExceeded) {
		t.Fatal("transport failures are retryable")
	}
}

func TestMissingRefErrorMessageNamesTheRef(t *testing.T) {
	err := &missingRefError{RefType: models.EntityRefTypeCustomer, ExternalId: "cus_123"}
	msg := err.Error()
	if !strings.Contains(msg, "customer") || !strings.Contains(msg, "cus_123") {
		t.Fatalf("message should name ref type and external id, got %q", msg)
	}
}

// Documents without lookup refs must pass through the translator untouched;
// none of these shapes reach the entity-ref directory.
func TestTranslateDocumentRefsPassThrough(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"no refs at all", `{"DocNumber":"INV-1","TotalAmt":25.5}`},
		{"customer ref without value", `{"CustomerRef":{"name":"Acme"}}`},
		{"customer ref with empty value", `{"CustomerRef":{"value":""}}`},
		{"lines without detail", `{"Line":[{"Amount":10,"DetailType":"SalesItemLineDetail"}]}`},
		{"line detail without item ref", `{"Line":[{"SalesItemLineDetail":{"Qty":2}}]}`},
		{"non-object line entries", `{"Line":["garbage",42]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := translateDocumentRefs(context.Background(), "tenant-1", json.RawMessage(tc.doc))
			if err != nil {
				t.Fatalf("translate: %v", err)
			}

			var want, got map[string]interface{}
			if err := json.Unmarshal([]byte(tc.doc), &want); err != nil {
				t.Fatalf("unmarshal input: %v", err)
			}
			if err := json.Unmarshal(out, &got); err != nil {
				t.Fatalf("unmarshal output: %v", err)
			}
			if len(got) != len(want) {
				t.Fatalf("document shape changed: %s -> %s", tc.doc, string(out))
			}
		})
	}
}

func TestTranslateDocumentRefsRejectsNonObject(t *testing.T) {
	if _, err := translateDocumentRefs(context.Background(), "tenant-1", json.RawMessage(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for non-object document")
	}
}
