package messageservice

import (
	"context"

	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/libtracker"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Append(ctx context.Context, roomID, senderID, text string) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(ctx, "append", "message", "room_id", roomID, "sender_id", senderID)
	defer endFn()

	err := d.service.Append(ctx, roomID, senderID, text)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(roomID, len(text))
	}
	return err
}

func (d *activityTrackerDecorator) Snapshot(ctx context.Context, roomID string, limit int) ([]*chatstore.Message, error) {
	reportErrFn, _, endFn := d.tracker.Start(ctx, "list", "message", "room_id", roomID, "limit", limit)
	defer endFn()

	msgs, err := d.service.Snapshot(ctx, roomID, limit)
	if err != nil {
		reportErrFn(err)
	}
	return msgs, err
}

// WithActivityTracker wraps a Service with activity tracking.
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}

var _ Service = (*activityTrackerDecorator)(nil)
