package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// contextKey is a private type so tracing values cannot collide with
// other packages' context values.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	startTimeKey contextKey = "start_time"
)

// RequestInfo carries correlation data for one request or dispatch cycle.
type RequestInfo struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id"`
	StartTime time.Time `json:"start_time"`
}

// NewRequestID generates a unique request ID.
func NewRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("req_%s", hex.EncodeToString(bytes))
}

// NewTraceID generates a 128-bit trace ID in hex, matching the W3C
// trace-id width so logs correlate with exported spans.
func NewTraceID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("trace_%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// WithRequest stamps a context with fresh correlation IDs and the
// current time.
func WithRequest(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, NewRequestID())
	ctx = context.WithValue(ctx, traceIDKey, NewTraceID())
	return context.WithValue(ctx, startTimeKey, time.Now())
}

// WithRequestID sets an externally supplied request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithTraceID sets an externally supplied trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// RequestID extracts the request ID from context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// TraceID extracts the trace ID from context.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// StartTime extracts the request start time from context.
func StartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// Info extracts all correlation data from context.
func Info(ctx context.Context) *RequestInfo {
	return &RequestInfo{
		RequestID: RequestID(ctx),
		TraceID:   TraceID(ctx),
		StartTime: StartTime(ctx),
	}
}

// Duration reports elapsed time since the context's start time.
func Duration(ctx context.Context) time.Duration {
	start := StartTime(ctx)
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}
