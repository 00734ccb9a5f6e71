// Package libtracker reports the start, outcome and duration of operations.
package libtracker

import (
	"context"
	"log/slog"
	"time"
)

// ActivityTracker starts tracking an operation on a subject. The returned
// functions report a failure, report a state change of the subject identified
// by id, and end the operation. end must be called exactly once.
type ActivityTracker interface {
	Start(ctx context.Context, operation string, subject string, kvArgs ...any) (reportErr func(err error), reportChange func(id string, data any), end func())
}

type logTracker struct {
	logger *slog.Logger
}

// NewLogActivityTracker writes one structured record per reported event.
func NewLogActivityTracker(logger *slog.Logger) ActivityTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &logTracker{logger: logger}
}

func (t *logTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	started := time.Now()
	attrs := append([]any{
		"operation", operation,
		"subject", subject,
		"request_id", stringValue(ctx, ContextKeyRequestID),
		"trace_id", stringValue(ctx, ContextKeyTraceID),
	}, kvArgs...)
	logger := t.logger.With(attrs...)

	reportErr := func(err error) {
		if err == nil {
			return
		}
		logger.ErrorContext(ctx, "operation failed", "error", err)
	}
	reportChange := func(id string, data any) {
		logger.InfoContext(ctx, "state changed", "id", id, "data", data)
	}
	end := func() {
		logger.DebugContext(ctx, "operation finished", "duration", time.Since(started))
	}
	return reportErr, reportChange, end
}

// ChainedTracker fans every call out to all trackers in order.
type ChainedTracker []ActivityTracker

func (c ChainedTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	errFns := make([]func(error), 0, len(c))
	changeFns := make([]func(string, any), 0, len(c))
	endFns := make([]func(), 0, len(c))
	for _, tracker := range c {
		reportErr, reportChange, end := tracker.Start(ctx, operation, subject, kvArgs...)
		errFns = append(errFns, reportErr)
		changeFns = append(changeFns, reportChange)
		endFns = append(endFns, end)
	}
	return func(err error) {
			for _, f := range errFns {
				f(err)
			}
		}, func(id string, data any) {
			for _, f := range changeFns {
				f(id, data)
			}
		}, func() {
			for i := len(endFns) - 1; i >= 0; i-- {
				endFns[i]()
			}
		}
}

// NoopTracker discards everything.
type NoopTracker struct{}

func (NoopTracker) Start(context.Context, string, string, ...any) (func(error), func(string, any), func()) {
	return func(error) {}, func(string, any) {}, func() {}
}

var (
	_ ActivityTracker = ChainedTracker(nil)
	_ ActivityTracker = NoopTracker{}
)
