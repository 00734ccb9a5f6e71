// Package roomservice derives canonical room ids and keeps one room per
// participant pair and context.
package roomservice

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/contenox/chatsync/chatstore"
)

var (
	ErrInvalidParticipants  = errors.New("roomservice: participants must be two distinct non-empty ids")
	ErrDirectoryUnavailable = errors.New("roomservice: room directory unavailable")
)

// SessionEnsurer is satisfied by *session.Bridge.
type SessionEnsurer interface {
	EnsureSession(ctx context.Context) error
}

type Service interface {
	// CreateOrGetRoom returns the id of the room shared by a and b under
	// contextID, creating it when needed. Argument order does not matter.
	CreateOrGetRoom(ctx context.Context, a, b chatstore.Participant, contextID *int64) (string, error)
	// ListRoomsForParticipant returns the rooms of participantID, most
	// recently active first.
	ListRoomsForParticipant(ctx context.Context, participantID string) ([]*chatstore.Room, error)
	GetRoom(ctx context.Context, roomID string) (*chatstore.Room, error)
}

type service struct {
	store   chatstore.Store
	session SessionEnsurer
	now     func() time.Time
}

func New(store chatstore.Store, session SessionEnsurer) Service {
	return &service{
		store:   store,
		session: session,
		now:     time.Now,
	}
}

// CanonicalRoomID joins the sorted ids, and the context id when given, with
// underscores. A zero context id counts as no context.
func CanonicalRoomID(a, b string, contextID *int64) (string, error) {
	if a == "" || b == "" || a == b {
		return "", ErrInvalidParticipants
	}
	if b < a {
		a, b = b, a
	}
	id := a + "_" + b
	if contextID != nil && *contextID != 0 {
		id += "_" + strconv.FormatInt(*contextID, 10)
	}
	return id, nil
}

func (s *service) CreateOrGetRoom(ctx context.Context, a, b chatstore.Participant, contextID *int64) (string, error) {
	id, err := CanonicalRoomID(a.ID, b.ID, contextID)
	if err != nil {
		return "", err
	}
	if err := s.session.EnsureSession(ctx); err != nil {
		return "", fmt.Errorf("create room %s: %w", id, err)
	}
	if b.ID < a.ID {
		a, b = b, a
	}
	if contextID != nil && *contextID == 0 {
		contextID = nil
	}

	room := &chatstore.Room{
		ID:             id,
		ParticipantIDs: []string{a.ID, b.ID},
		Participants: map[string]chatstore.Participant{
			a.ID: a,
			b.ID: b,
		},
		ContextID: contextID,
		UpdatedAt: s.now().UnixMilli(),
	}
	if _, err := s.store.UpsertRoom(ctx, room); err != nil {
		if errors.Is(err, chatstore.ErrInvalidRoom) || errors.Is(err, chatstore.ErrVersionConflict) {
			return "", fmt.Errorf("create room %s: %w", id, err)
		}
		return "", fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	return id, nil
}

func (s *service) ListRoomsForParticipant(ctx context.Context, participantID string) ([]*chatstore.Room, error) {
	if participantID == "" {
		return nil, ErrInvalidParticipants
	}
	if err := s.session.EnsureSession(ctx); err != nil {
		slog.WarnContext(ctx, "listing rooms without session", "participant", participantID, "error", err)
	}
	rooms, err := s.store.ListRoomsByParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	// stable: equal timestamps keep the store's id order
	slices.SortStableFunc(rooms, func(x, y *chatstore.Room) int {
		return cmp.Compare(y.UpdatedAt, x.UpdatedAt)
	})
	return rooms, nil
}

func (s *service) GetRoom(ctx context.Context, roomID string) (*chatstore.Room, error) {
	if err := s.session.EnsureSession(ctx); err != nil {
		slog.WarnContext(ctx, "reading room without session", "room", roomID, "error", err)
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, chatstore.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	return room, nil
}
