package apiframework

import (
	"context"
	"net/http"
	"strings"

	"github.com/contenox/chatsync/libtracker"
	"github.com/google/uuid"
)

// RequestIDMiddleware propagates X-Request-ID, generating one when absent,
// and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), libtracker.ContextKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TracingMiddleware takes trace and span ids from a W3C traceparent header
// ("00-<trace>-<span>-<flags>") or makes new ones.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var traceID, spanID string
		if parts := strings.Split(r.Header.Get("traceparent"), "-"); len(parts) == 4 {
			traceID, spanID = parts[1], parts[2]
		}
		if traceID == "" {
			traceID = strings.ReplaceAll(uuid.NewString(), "-", "")
			spanID = traceID[:16]
		}
		ctx := context.WithValue(r.Context(), libtracker.ContextKeyTraceID, traceID)
		ctx = context.WithValue(ctx, libtracker.ContextKeySpanID, spanID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
