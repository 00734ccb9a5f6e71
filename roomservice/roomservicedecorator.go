package roomservice

import (
	"context"

	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/libtracker"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) CreateOrGetRoom(ctx context.Context, a, b chatstore.Participant, contextID *int64) (string, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(ctx, "upsert", "room", "participant_a", a.ID, "participant_b", b.ID)
	defer endFn()

	id, err := d.service.CreateOrGetRoom(ctx, a, b, contextID)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(id, nil)
	}
	return id, err
}

func (d *activityTrackerDecorator) ListRoomsForParticipant(ctx context.Context, participantID string) ([]*chatstore.Room, error) {
	reportErrFn, _, endFn := d.tracker.Start(ctx, "list", "room", "participant", participantID)
	defer endFn()

	rooms, err := d.service.ListRoomsForParticipant(ctx, participantID)
	if err != nil {
		reportErrFn(err)
	}
	return rooms, err
}

func (d *activityTrackerDecorator) GetRoom(ctx context.Context, roomID string) (*chatstore.Room, error) {
	reportErrFn, _, endFn := d.tracker.Start(ctx, "read", "room", "room_id", roomID)
	defer endFn()

	room, err := d.service.GetRoom(ctx, roomID)
	if err != nil {
		reportErrFn(err)
	}
	return room, err
}

// WithActivityTracker wraps a Service with activity tracking.
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}

var _ Service = (*activityTrackerDecorator)(nil)
