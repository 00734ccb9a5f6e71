package libtracker

import (
	"context"
	"fmt"
	"math/rand/v2"
)

type contextKey string

var (
	ContextKeyRequestID = contextKey("request_id")
	ContextKeyTraceID   = contextKey("trace_id")
	ContextKeySpanID    = contextKey("span_id")
)

// CopyTrackingValues carries the tracking ids of src over to dst. Used when
// work outlives the request that started it, like a background poll.
func CopyTrackingValues(src context.Context, dst context.Context) context.Context {
	for _, key := range []contextKey{ContextKeyRequestID, ContextKeyTraceID, ContextKeySpanID} {
		if v := src.Value(key); v != nil {
			dst = context.WithValue(dst, key, v)
		}
	}
	return dst
}

// WithNewRequestID stamps a random request id with the given prefix into ctx
// unless one is present already.
func WithNewRequestID(ctx context.Context, prefix string) context.Context {
	if stringValue(ctx, ContextKeyRequestID) != "" {
		return ctx
	}
	return context.WithValue(ctx, ContextKeyRequestID, fmt.Sprintf("%s-%016x", prefix, rand.Uint64()))
}

// RequestID returns the request id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	return stringValue(ctx, ContextKeyRequestID)
}

func stringValue(ctx context.Context, key contextKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}
