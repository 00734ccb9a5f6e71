package libtracker_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/contenox/chatsync/libtracker"
	"github.com/stretchr/testify/require"
)

func TestUnit_LogActivityTracker(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tracker := libtracker.NewLogActivityTracker(logger)

	ctx := libtracker.WithNewRequestID(context.Background(), "test")
	reportErr, reportChange, end := tracker.Start(ctx, "append", "message", "roomID", "a_b")
	reportErr(errors.New("store down"))
	reportChange("m1", map[string]any{"text": "hi"})
	end()

	out := buf.String()
	require.Contains(t, out, `"operation":"append"`)
	require.Contains(t, out, `"roomID":"a_b"`)
	require.Contains(t, out, `"error":"store down"`)
	require.Contains(t, out, `"operation finished"`)
	require.Contains(t, out, libtracker.RequestID(ctx))
}

func TestUnit_ChainedTracker_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	chain := libtracker.ChainedTracker{
		libtracker.NewLogActivityTracker(slog.New(slog.NewTextHandler(&a, nil))),
		libtracker.NewLogActivityTracker(slog.New(slog.NewTextHandler(&b, nil))),
		libtracker.NoopTracker{},
	}
	reportErr, _, end := chain.Start(context.Background(), "list", "room")
	reportErr(errors.New("nope"))
	end()

	require.Contains(t, a.String(), "nope")
	require.Contains(t, b.String(), "nope")
}

func TestUnit_WithNewRequestID_KeepsExisting(t *testing.T) {
	ctx := libtracker.WithNewRequestID(context.Background(), "cli")
	id := libtracker.RequestID(ctx)
	require.NotEmpty(t, id)
	require.Equal(t, id, libtracker.RequestID(libtracker.WithNewRequestID(ctx, "cli")))

	copied := libtracker.CopyTrackingValues(ctx, context.Background())
	require.Equal(t, id, libtracker.RequestID(copied))
}
