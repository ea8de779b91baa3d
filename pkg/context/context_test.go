package context

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestWithTransactionID(t *testing.T) {
	ctx := WithTransactionID(context.Background(), "tx_fixed")
	if got := TransactionID(ctx); got != "tx_fixed" {
		t.Errorf("TransactionID() = %q, want %q", got, "tx_fixed")
	}

	generated := TransactionID(WithTransactionID(context.Background(), ""))
	if !strings.HasPrefix(generated, "tx_") {
		t.Errorf("expected generated id with tx_ prefix, got %q", generated)
	}
}

func TestTransactionID_Absent(t *testing.T) {
	if got := TransactionID(context.Background()); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
}

func TestFields(t *testing.T) {
	ctx := Begin(context.Background(), "tx_1")
	ctx = WithStage(ctx, "invoking")
	ctx = WithStartTime(ctx, time.Now().Add(-time.Second))

	fields := Fields(ctx)
	if fields["transaction"] != "tx_1" {
		t.Errorf("unexpected transaction field: %v", fields["transaction"])
	}
	if fields["stage"] != "invoking" {
		t.Errorf("unexpected stage field: %v", fields["stage"])
	}
	if ms, ok := fields["elapsed_ms"].(int64); !ok || ms < 1000 {
		t.Errorf("unexpected elapsed field: %v", fields["elapsed_ms"])
	}

	if len(Fields(context.Background())) != 0 {
		t.Error("expected no fields for a bare context")
	}
}
