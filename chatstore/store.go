package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"dario.cat/mergo"
	libdb "github.com/contenox/chatsync/libdbexec"
	"github.com/google/uuid"
)

// maxMergeAttempts bounds the compare-and-set loop in UpsertRoom.
const maxMergeAttempts = 5

type store struct {
	Exec libdb.Exec
}

// New returns a Store running its statements on exec.
func New(exec libdb.Exec) Store {
	return &store{Exec: exec}
}

func (s *store) UpsertRoom(ctx context.Context, room *Room) (*Room, error) {
	if err := validateRoom(room); err != nil {
		return nil, err
	}
	participants, err := json.Marshal(room.Participants)
	if err != nil {
		return nil, fmt.Errorf("failed to encode participants: %w", err)
	}

	result, err := s.Exec.ExecContext(ctx, `
		INSERT INTO chat_rooms
		(id, participant_a, participant_b, participants, context_id, last_message, updated_at, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
		ON CONFLICT (id) DO NOTHING`,
		room.ID,
		room.ParticipantIDs[0],
		room.ParticipantIDs[1],
		string(participants),
		room.ContextID,
		room.LastMessage,
		room.UpdatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert room: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 1 {
		stored := cloneRoom(room)
		stored.Version = 1
		return stored, nil
	}

	// The room exists; fill in what it lacks without touching what it has.
	for range maxMergeAttempts {
		existing, err := s.GetRoom(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(existing.ParticipantIDs, room.ParticipantIDs) {
			return nil, fmt.Errorf("%w: id %q belongs to participants %v", ErrInvalidRoom, room.ID, existing.ParticipantIDs)
		}
		merged, changed, err := mergeRoom(existing, room)
		if err != nil {
			return nil, err
		}
		if !changed {
			return existing, nil
		}
		encoded, err := json.Marshal(merged.Participants)
		if err != nil {
			return nil, fmt.Errorf("failed to encode participants: %w", err)
		}
		result, err := s.Exec.ExecContext(ctx, `
			UPDATE chat_rooms
			SET participants = $2, context_id = $3, version = version + 1
			WHERE id = $1 AND version = $4`,
			room.ID,
			string(encoded),
			merged.ContextID,
			existing.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to merge room: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 1 {
			merged.Version = existing.Version + 1
			return merged, nil
		}
	}
	return nil, fmt.Errorf("%w: room %s", ErrVersionConflict, room.ID)
}

// mergeRoom fills the gaps of existing from incoming. existing always wins.
func mergeRoom(existing, incoming *Room) (*Room, bool, error) {
	merged := cloneRoom(existing)
	changed := false
	if merged.ContextID == nil && incoming.ContextID != nil {
		v := *incoming.ContextID
		merged.ContextID = &v
		changed = true
	}
	for id, snapshot := range incoming.Participants {
		current, ok := merged.Participants[id]
		if !ok {
			merged.Participants[id] = snapshot
			changed = true
			continue
		}
		before := current
		if err := mergo.Merge(&current, snapshot); err != nil {
			return nil, false, fmt.Errorf("failed to merge participant %s: %w", id, err)
		}
		if current != before {
			merged.Participants[id] = current
			changed = true
		}
	}
	return merged, changed, nil
}

func (s *store) GetRoom(ctx context.Context, id string) (*Room, error) {
	room, err := scanRoom(s.Exec.QueryRowContext(ctx, `
		SELECT id, participant_a, participant_b, participants, context_id, last_message, updated_at, version
		FROM chat_rooms
		WHERE id = $1`,
		id,
	))
	if errors.Is(err, libdb.ErrNotFound) {
		return nil, fmt.Errorf("%w: room %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

func (s *store) ListRoomsByParticipant(ctx context.Context, participantID string) ([]*Room, error) {
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT id, participant_a, participant_b, participants, context_id, last_message, updated_at, version
		FROM chat_rooms
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY id ASC`,
		participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	rooms := []*Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rooms, nil
}

func (s *store) UpdateRoomSummary(ctx context.Context, roomID string, lastMessage string, updatedAt int64) error {
	result, err := s.Exec.ExecContext(ctx, `
		UPDATE chat_rooms
		SET last_message = $2, updated_at = $3, version = version + 1
		WHERE id = $1`,
		roomID,
		lastMessage,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update room summary: %w", err)
	}
	return checkRowsAffected(result)
}

func (s *store) AppendMessage(ctx context.Context, msg *Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now().UTC()

	_, err := s.Exec.ExecContext(ctx, `
		INSERT INTO chat_messages (id, room_id, sender_id, text, created_at, created_at_millis)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID,
		msg.RoomID,
		msg.SenderID,
		msg.Text,
		msg.CreatedAt,
		msg.CreatedAtMillis,
	)
	if errors.Is(err, libdb.ErrForeignKeyViolation) {
		return fmt.Errorf("%w: room %s: %w", ErrNotFound, msg.RoomID, err)
	}
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *store) ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	if limit < 1 || limit > MaxListLimit {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidLimit, limit, MaxListLimit)
	}
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT id, room_id, sender_id, text, created_at, created_at_millis
		FROM (
			SELECT id, room_id, sender_id, text, created_at, created_at_millis
			FROM chat_messages
			WHERE room_id = $1
			ORDER BY created_at_millis DESC, created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at_millis ASC, created_at ASC, id ASC`,
		roomID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs := []*Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Text, &msg.CreatedAt, &msg.CreatedAtMillis); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return msgs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (*Room, error) {
	var (
		room         Room
		a, b         string
		participants string
		contextID    sql.NullInt64
	)
	if err := row.Scan(&room.ID, &a, &b, &participants, &contextID, &room.LastMessage, &room.UpdatedAt, &room.Version); err != nil {
		return nil, err
	}
	room.ParticipantIDs = []string{a, b}
	if err := json.Unmarshal([]byte(participants), &room.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants of room %s: %w", room.ID, err)
	}
	if room.Participants == nil {
		room.Participants = map[string]Participant{}
	}
	if contextID.Valid {
		v := contextID.Int64
		room.ContextID = &v
	}
	return &room, nil
}

func validateRoom(room *Room) error {
	switch {
	case room == nil:
		return fmt.Errorf("%w: nil room", ErrInvalidRoom)
	case room.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRoom)
	case len(room.ParticipantIDs) != 2:
		return fmt.Errorf("%w: need exactly two participants, got %d", ErrInvalidRoom, len(room.ParticipantIDs))
	case room.ParticipantIDs[0] == "" || room.ParticipantIDs[1] == "":
		return fmt.Errorf("%w: empty participant id", ErrInvalidRoom)
	case room.ParticipantIDs[0] >= room.ParticipantIDs[1]:
		return fmt.Errorf("%w: participant ids must be distinct and sorted", ErrInvalidRoom)
	}
	for id, p := range room.Participants {
		if !room.HasParticipant(id) {
			return fmt.Errorf("%w: snapshot for non-participant %s", ErrInvalidRoom, id)
		}
		if p.ID != "" && p.ID != id {
			return fmt.Errorf("%w: snapshot key %s holds participant %s", ErrInvalidRoom, id, p.ID)
		}
	}
	return nil
}

func validateMessage(msg *Message) error {
	switch {
	case msg == nil:
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	case msg.RoomID == "":
		return fmt.Errorf("%w: empty room id", ErrInvalidMessage)
	case msg.SenderID == "":
		return fmt.Errorf("%w: empty sender id", ErrInvalidMessage)
	case msg.Text == "":
		return fmt.Errorf("%w: empty text", ErrInvalidMessage)
	case msg.CreatedAtMillis <= 0:
		return fmt.Errorf("%w: createdAtMillis must be set", ErrInvalidMessage)
	}
	return nil
}

func cloneRoom(r *Room) *Room {
	cp := *r
	cp.ParticipantIDs = slices.Clone(r.ParticipantIDs)
	cp.Participants = maps.Clone(r.Participants)
	if cp.Participants == nil {
		cp.Participants = map[string]Participant{}
	}
	if r.ContextID != nil {
		v := *r.ContextID
		cp.ContextID = &v
	}
	return &cp
}

func checkRowsAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
