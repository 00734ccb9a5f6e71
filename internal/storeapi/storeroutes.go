package storeapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	serverops "github.com/contenox/chatsync/apiframework"
	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/internal/metrics"
	"github.com/contenox/chatsync/libauth"
	"github.com/contenox/chatsync/libbus"
	"github.com/contenox/chatsync/messageservice"
	"github.com/contenox/chatsync/roomservice"
)

// DefaultMessageLimit is used when a message listing names no limit.
const DefaultMessageLimit = 200

// AddStoreRoutes serves the room and message collections. Every route needs a
// scoped token accepted by verifier; callers only see rooms they belong to.
// bus may be nil.
func AddStoreRoutes(mux *http.ServeMux, store chatstore.Store, bus libbus.Messenger, verifier serverops.TokenVerifier) {
	s := &storeManager{store: store, bus: bus}
	guard := func(h http.HandlerFunc) http.Handler { return serverops.RequireIdentity(verifier, h) }

	mux.Handle("PUT /rooms/{id}", guard(s.upsertRoom))
	mux.Handle("GET /rooms/{id}", guard(s.getRoom))
	mux.Handle("GET /rooms", guard(s.listRooms))
	mux.Handle("PATCH /rooms/{id}/summary", guard(s.updateSummary))
	mux.Handle("POST /rooms/{id}/messages", guard(s.appendMessage))
	mux.Handle("GET /rooms/{id}/messages", guard(s.listMessages))
}

type storeManager struct {
	store chatstore.Store
	bus   libbus.Messenger
}

type summaryRequest struct {
	LastMessage string `json:"lastMessage" example:"see you tomorrow"`
	UpdatedAt   int64  `json:"updatedAt" example:"1718000000000"`
}

// Creates the room or merges the request into the existing one.
//
// Fields already stored are kept; only missing participant details are filled
// in. The caller must be one of the participants and the id must be the
// canonical id of the participant pair and context.
func (s *storeManager) upsertRoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := serverops.GetPathParam(r, "id", "The canonical room id.")
	caller, err := libauth.IdentityFrom(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	room, err := serverops.Decode[chatstore.Room](r) // @request chatstore.Room
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	if room.ID != id {
		_ = serverops.Error(w, r, serverops.BadPathValue("id", "room id does not match path"), serverops.UpdateOperation)
		return
	}
	if len(room.ParticipantIDs) != 2 {
		_ = serverops.Error(w, r, chatstore.ErrInvalidRoom, serverops.UpdateOperation)
		return
	}
	canonical, err := roomservice.CanonicalRoomID(room.ParticipantIDs[0], room.ParticipantIDs[1], room.ContextID)
	if err != nil || canonical != id {
		_ = serverops.Error(w, r, serverops.NewAPIError(chatstore.ErrInvalidRoom, "room id is not canonical for its participants", "id"), serverops.UpdateOperation)
		return
	}
	if !room.HasParticipant(caller) {
		_ = serverops.Error(w, r, serverops.Forbidden("caller is not a participant"), serverops.UpdateOperation)
		return
	}

	stored, err := s.store.UpsertRoom(ctx, &room)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	metrics.RoomsUpserted.Inc()
	_ = serverops.Encode(w, r, http.StatusOK, stored) // @response chatstore.Room
}

// Returns a room the caller participates in.
func (s *storeManager) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.member(r)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}
	_ = serverops.Encode(w, r, http.StatusOK, room) // @response chatstore.Room
}

// Lists the rooms of a participant ordered by id.
//
// Only the caller's own rooms can be listed.
func (s *storeManager) listRooms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	participant := serverops.GetQueryParam(r, "participant", "", "The participant whose rooms to list.")
	if participant == "" {
		_ = serverops.Error(w, r, serverops.MissingParameter("participant"), serverops.ListOperation)
		return
	}
	caller, err := libauth.IdentityFrom(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}
	if participant != caller {
		_ = serverops.Error(w, r, serverops.Forbidden("rooms of other participants are not listed"), serverops.ListOperation)
		return
	}

	rooms, err := s.store.ListRoomsByParticipant(ctx, participant)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}
	_ = serverops.Encode(w, r, http.StatusOK, rooms) // @response []chatstore.Room
}

// Sets the last message preview and activity time of a room.
func (s *storeManager) updateSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	room, err := s.member(r)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	req, err := serverops.Decode[summaryRequest](r) // @request storeapi.summaryRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	if err := s.store.UpdateRoomSummary(ctx, room.ID, req.LastMessage, req.UpdatedAt); err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Appends a message to a room.
//
// The server assigns id and createdAt. The sender must be the caller.
func (s *storeManager) appendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	room, err := s.member(r)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}
	msg, err := serverops.Decode[chatstore.Message](r) // @request chatstore.Message
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}
	caller, _ := libauth.IdentityFrom(ctx)
	if msg.SenderID != caller {
		_ = serverops.Error(w, r, serverops.Forbidden("sender must be the caller"), serverops.CreateOperation)
		return
	}
	msg.ID = ""
	msg.RoomID = room.ID

	if err := s.store.AppendMessage(ctx, &msg); err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}
	metrics.MessagesAppended.Inc()
	s.publish(ctx, &msg)
	_ = serverops.Encode(w, r, http.StatusCreated, msg) // @response chatstore.Message
}

// Lists the newest messages of a room, oldest first.
func (s *storeManager) listMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	room, err := s.member(r)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}
	limit, err := serverops.GetIntQueryParam(r, "limit", DefaultMessageLimit, 1, chatstore.MaxListLimit, "The number of most recent messages to return.")
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}
	msgs, err := s.store.ListMessages(ctx, room.ID, limit)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}
	_ = serverops.Encode(w, r, http.StatusOK, msgs) // @response []chatstore.Message
}

// member loads the room named in the path and checks that the caller is one
// of its participants.
func (s *storeManager) member(r *http.Request) (*chatstore.Room, error) {
	ctx := r.Context()
	caller, err := libauth.IdentityFrom(ctx)
	if err != nil {
		return nil, err
	}
	id := serverops.GetPathParam(r, "id", "The canonical room id.")
	if id == "" {
		return nil, serverops.BadPathValue("id")
	}
	room, err := s.store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(caller) {
		return nil, serverops.Forbidden("caller is not a participant")
	}
	return room, nil
}

func (s *storeManager) publish(ctx context.Context, msg *chatstore.Message) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(messageservice.RoomEvent{
		RoomID:          msg.RoomID,
		MessageID:       msg.ID,
		SenderID:        msg.SenderID,
		CreatedAtMillis: msg.CreatedAtMillis,
	})
	if err == nil {
		err = s.bus.Publish(context.WithoutCancel(ctx), messageservice.RoomSubject(msg.RoomID), payload)
	}
	if err != nil && !errors.Is(err, libbus.ErrConnectionClosed) {
		slog.WarnContext(ctx, "room event not published", "room", msg.RoomID, "error", err)
	}
}
