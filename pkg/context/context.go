// Package context carries compile transaction metadata through context.Context
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Using unexported struct pointers prevents key collisions.
var (
	transactionIDKey = &struct{}{}
	stageKey         = &struct{}{}
	startTimeKey     = &struct{}{}
)

// WithTransactionID adds a transaction ID to the context, generating one when empty
func WithTransactionID(parent context.Context, id string) context.Context {
	if id == "" {
		id = NewTransactionID()
	}
	return context.WithValue(parent, transactionIDKey, id)
}

// TransactionID retrieves the transaction ID from context, or "" when absent
func TransactionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(transactionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithStage records the coordinator state the work runs under
func WithStage(parent context.Context, stage string) context.Context {
	return context.WithValue(parent, stageKey, stage)
}

// Stage retrieves the coordinator state from context, or "" when absent
func Stage(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(stageKey).(string); ok {
		return s
	}
	return ""
}

// WithStartTime adds the transaction start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// Elapsed returns the time since the start time in context, zero when absent
func Elapsed(ctx context.Context) time.Duration {
	if ctx == nil {
		return 0
	}
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return time.Since(t)
	}
	return 0
}

// NewTransactionID creates a new unique transaction ID
func NewTransactionID() string {
	return "tx_" + uuid.New().String()
}

// Begin annotates a context for a new transaction
func Begin(parent context.Context, id string) context.Context {
	ctx := WithTransactionID(parent, id)
	return WithStartTime(ctx, time.Now())
}

// Fields returns the transaction fields present in ctx for structured logging
func Fields(ctx context.Context) map[string]interface{} {
	fields := make(map[string]interface{})
	if id := TransactionID(ctx); id != "" {
		fields["transaction"] = id
	}
	if stage := Stage(ctx); stage != "" {
		fields["stage"] = stage
	}
	if elapsed := Elapsed(ctx); elapsed > 0 {
		fields["elapsed_ms"] = elapsed.Milliseconds()
	}
	return fields
}
