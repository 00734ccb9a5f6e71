// Package messageservice appends to and reads the per-room message log.
package messageservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/libbus"
)

var (
	ErrEmptyText      = errors.New("messageservice: message text is empty")
	ErrEmptySender    = errors.New("messageservice: sender id is empty")
	ErrRoomNotFound   = errors.New("messageservice: room not found")
	ErrNotParticipant = errors.New("messageservice: sender is not a participant of the room")
	ErrAppendFailed   = errors.New("messageservice: append failed")
)

// SessionEnsurer is satisfied by *session.Bridge.
type SessionEnsurer interface {
	EnsureSession(ctx context.Context) error
}

// RoomEvent is published on RoomSubject after every append.
type RoomEvent struct {
	RoomID          string `json:"roomId"`
	MessageID       string `json:"messageId"`
	SenderID        string `json:"senderId"`
	CreatedAtMillis int64  `json:"createdAtMillis"`
}

var subjectReplacer = strings.NewReplacer(" ", "-", "*", "-", ">", "-", "\t", "-")

// RoomSubject is the bus subject carrying RoomEvents of roomID.
func RoomSubject(roomID string) string {
	return "chat.room." + subjectReplacer.Replace(roomID)
}

type Service interface {
	// Append stores text from senderID in an existing room and then updates
	// the room summary. The summary write is best effort.
	Append(ctx context.Context, roomID, senderID, text string) error
	// Snapshot returns the newest limit messages, oldest first.
	Snapshot(ctx context.Context, roomID string, limit int) ([]*chatstore.Message, error)
}

type service struct {
	store   chatstore.Store
	session SessionEnsurer
	bus     libbus.Messenger
	now     func() time.Time
}

// New returns the message log service. bus may be nil.
func New(store chatstore.Store, session SessionEnsurer, bus libbus.Messenger) Service {
	return &service{
		store:   store,
		session: session,
		bus:     bus,
		now:     time.Now,
	}
}

func (s *service) Append(ctx context.Context, roomID, senderID, text string) error {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return ErrEmptyText
	case senderID == "":
		return ErrEmptySender
	case roomID == "":
		return ErrRoomNotFound
	}
	if err := s.session.EnsureSession(ctx); err != nil {
		return fmt.Errorf("append to %s: %w", roomID, err)
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, chatstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}
	if !room.HasParticipant(senderID) {
		return fmt.Errorf("%w: %s in %s", ErrNotParticipant, senderID, roomID)
	}

	msg := &chatstore.Message{
		RoomID:          roomID,
		SenderID:        senderID,
		Text:            text,
		CreatedAtMillis: s.now().UnixMilli(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, chatstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
		}
		return fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}

	// The message is stored; a stale summary heals on the next append.
	if err := s.store.UpdateRoomSummary(ctx, roomID, text, msg.CreatedAtMillis); err != nil {
		slog.WarnContext(ctx, "room summary not updated", "room", roomID, "message", msg.ID, "error", err)
	}
	s.notify(ctx, msg)
	return nil
}

func (s *service) notify(ctx context.Context, msg *chatstore.Message) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(RoomEvent{
		RoomID:          msg.RoomID,
		MessageID:       msg.ID,
		SenderID:        msg.SenderID,
		CreatedAtMillis: msg.CreatedAtMillis,
	})
	if err != nil {
		slog.WarnContext(ctx, "encoding room event", "room", msg.RoomID, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, RoomSubject(msg.RoomID), payload); err != nil {
		slog.DebugContext(ctx, "room event not published", "room", msg.RoomID, "error", err)
	}
}

func (s *service) Snapshot(ctx context.Context, roomID string, limit int) ([]*chatstore.Message, error) {
	if roomID == "" {
		return nil, ErrRoomNotFound
	}
	return s.store.ListMessages(ctx, roomID, limit)
}
