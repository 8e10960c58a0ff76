package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/models"
)

func TestDispatchTopicRouting(t *testing.T) {
	t.Setenv("PUBSUB_TRANSFORM_TOPIC", "transform-jobs")
	t.Setenv("PUBSUB_DELIVERY_TOPIC", "delivery-jobs")
	t.Setenv("PUBSUB_CONFIG_TOPIC", "config-changes")

	tests := []struct {
		refType models.OutboxReferenceType
		want    string
	}{
		{models.OutboxReferenceTypeEvent, "transform-jobs"},
		{models.OutboxReferenceTypeSyncRecord, "delivery-jobs"},
		{models.OutboxReferenceTypeConfig, "config-changes"},
	}
	for _, tt := range tests {
		got, err := dispatchTopic(tt.refType)
		if err != nil {
			t.Fatalf("dispatchTopic(%q) returned error: %v", tt.refType, err)
		}
		if got != tt.want {
			t.Fatalf("dispatchTopic(%q) = %q, want %q", tt.refType, got, tt.want)
		}
	}
}

func TestDispatchTopicUnknownReferenceType(t *testing.T) {
	if _, err := dispatchTopic(models.OutboxReferenceType("XX")); err == nil {
		t.Fatalf("expected error for unknown reference type")
	}
}

func TestDispatchTopicMissingEnvNamesTheVariable(t *testing.T) {
	t.Setenv("PUBSUB_DELIVERY_TOPIC", "")

	_, err := dispatchTopic(models.OutboxReferenceTypeSyncRecord)
	if err == nil {
		t.Fatalf("expected error when topic env is unset")
	}
	if !strings.Contains(err.Error(), "PUBSUB_DELIVERY_TOPIC") {
		t.Fatalf("error should name the missing variable, got %q", err.Error())
	}
}

func TestNewOutboxDispatcherDefaults(t *testing.T) {
	d := NewOutboxDispatcher(nil, nil)
	if d.DispatcherID == "" {
		t.Fatalf("expected a dispatcher id")
	}
	if d.BatchSize != 50 || d.MaxAttempts != 20 {
		t.Fatalf("unexpected claim defaults: batch=%d attempts=%d", d.BatchSize, d.MaxAttempts)
	}
	if d.LockTimeout != 30*time.Second {
		t.Fatalf("unexpected lock timeout %s", d.LockTimeout)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d := NewOutboxDispatcher(nil, nil)
	d.PollInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not stop after context cancel")
	}
}
