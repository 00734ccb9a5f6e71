package chatstore

import (
	"context"
	_ "embed"
	"errors"
	"time"
)

//go:embed schema.sql
var Schema string

//go:embed schema_sqlite.sql
var SchemaSQLite string

var (
	ErrNotFound        = errors.New("chatstore: not found")
	ErrVersionConflict = errors.New("chatstore: concurrent room update, retry")
	ErrInvalidRoom     = errors.New("chatstore: invalid room")
	ErrInvalidMessage  = errors.New("chatstore: invalid message")
	ErrInvalidLimit    = errors.New("chatstore: invalid limit")
)

// MaxListLimit bounds ListMessages.
const MaxListLimit = 1000

// Participant is a snapshot of a user record taken when the room was created.
// It is never refreshed from the user store.
type Participant struct {
	ID       string `json:"id"`
	UserName string `json:"userName,omitempty"`
	Name     string `json:"name,omitempty"`
	Surname  string `json:"surname,omitempty"`
	Email    string `json:"email,omitempty"`
}

// DisplayName is the user name, falling back to the email address.
func (p Participant) DisplayName() string {
	if p.UserName != "" {
		return p.UserName
	}
	return p.Email
}

// Room is the metadata document of a two-party conversation. ID is derived
// from the sorted participant ids and the optional context id.
type Room struct {
	ID             string                 `json:"id"`
	ParticipantIDs []string               `json:"participantIds"`
	Participants   map[string]Participant `json:"participants"`
	ContextID      *int64                 `json:"contextId,omitempty"`
	// LastMessage and UpdatedAt trail the message log; they are written after
	// the append and may briefly lag behind it.
	LastMessage string `json:"lastMessage"`
	UpdatedAt   int64  `json:"updatedAt"`
	Version     int64  `json:"version"`
}

// HasParticipant reports whether id is one of the two participants.
func (r *Room) HasParticipant(id string) bool {
	for _, p := range r.ParticipantIDs {
		if p == id {
			return true
		}
	}
	return false
}

// Message is an immutable log entry. ID and CreatedAt are assigned by the
// store; CreatedAtMillis is the writer's wall clock and the ordering key.
type Message struct {
	ID              string    `json:"id"`
	RoomID          string    `json:"roomId"`
	SenderID        string    `json:"senderId"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"createdAt"`
	CreatedAtMillis int64     `json:"createdAtMillis"`
}

// Store is the document store behind rooms and their message logs. Messages
// can only be appended and read.
type Store interface {
	// UpsertRoom creates the room or merges room into the existing document.
	// Fields already present are never overwritten; missing participant
	// snapshot fields are filled in. Returns the stored document.
	UpsertRoom(ctx context.Context, room *Room) (*Room, error)
	GetRoom(ctx context.Context, id string) (*Room, error)
	// ListRoomsByParticipant returns every room whose participants include
	// participantID, ordered by room id.
	ListRoomsByParticipant(ctx context.Context, participantID string) ([]*Room, error)
	UpdateRoomSummary(ctx context.Context, roomID string, lastMessage string, updatedAt int64) error

	// AppendMessage assigns ID (when empty) and CreatedAt and stores msg.
	AppendMessage(ctx context.Context, msg *Message) error
	// ListMessages returns the newest limit messages of the room in ascending
	// order of CreatedAtMillis.
	ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)
}
