// Package roomindex is the read path behind a room list: each room of a user
// together with the participant on the other side.
package roomindex

import (
	"context"
	"errors"

	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/roomservice"
)

// Lister is satisfied by roomservice.Service.
type Lister interface {
	ListRoomsForParticipant(ctx context.Context, participantID string) ([]*chatstore.Room, error)
}

type Entry struct {
	Room *chatstore.Room
	// OtherID is the participant that is not self.
	OtherID string
	// Other is OtherID's snapshot; only ID is set when the room has none.
	Other chatstore.Participant
}

// Title is what a room list shows for the entry.
func (e Entry) Title() string {
	if name := e.Other.DisplayName(); name != "" {
		return name
	}
	return e.OtherID
}

type Index struct {
	rooms Lister
}

func New(rooms Lister) *Index {
	return &Index{rooms: rooms}
}

// List returns self's rooms, most recently active first. When the directory
// is unavailable it returns an empty list along with the error so callers can
// show an empty view.
func (i *Index) List(ctx context.Context, self string) ([]Entry, error) {
	rooms, err := i.rooms.ListRoomsForParticipant(ctx, self)
	if errors.Is(err, roomservice.ErrDirectoryUnavailable) {
		return []Entry{}, err
	}
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rooms))
	for _, room := range rooms {
		other := Other(room, self)
		snapshot, ok := room.Participants[other]
		if !ok {
			snapshot = chatstore.Participant{ID: other}
		}
		entries = append(entries, Entry{Room: room, OtherID: other, Other: snapshot})
	}
	return entries, nil
}

// Other returns the first participant id that is not self, or "" if there
// is none.
func Other(room *chatstore.Room, self string) string {
	for _, id := range room.ParticipantIDs {
		if id != self {
			return id
		}
	}
	return ""
}
