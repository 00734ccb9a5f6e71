// Package chatsdk talks to a chatstore server over HTTP.
package chatsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/contenox/chatsync/apiframework"
	"github.com/contenox/chatsync/chatstore"
)

// HTTPStore implements chatstore.Store against the store API and
// session.Signer for the scoped bearer token it sends.
type HTTPStore struct {
	client  *http.Client
	baseURL string

	mu    sync.RWMutex
	token string
}

// NewHTTPStore creates a store client. Requests are unauthenticated until
// SignIn is called.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// SignIn sets the scoped token used for every following request.
func (s *HTTPStore) SignIn(_ context.Context, scopedToken string) error {
	if scopedToken == "" {
		return errors.New("chatsdk: empty token")
	}
	s.mu.Lock()
	s.token = scopedToken
	s.mu.Unlock()
	return nil
}

func (s *HTTPStore) bearer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

type summaryRequest struct {
	LastMessage string `json:"lastMessage"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func (s *HTTPStore) UpsertRoom(ctx context.Context, room *chatstore.Room) (*chatstore.Room, error) {
	var stored chatstore.Room
	err := s.do(ctx, http.MethodPut, "/rooms/"+url.PathEscape(room.ID), room, http.StatusOK, &stored)
	if err != nil {
		return nil, translate(err, chatstore.ErrInvalidRoom)
	}
	return &stored, nil
}

func (s *HTTPStore) GetRoom(ctx context.Context, id string) (*chatstore.Room, error) {
	var room chatstore.Room
	if err := s.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(id), nil, http.StatusOK, &room); err != nil {
		return nil, translate(err, chatstore.ErrInvalidRoom)
	}
	return &room, nil
}

func (s *HTTPStore) ListRoomsByParticipant(ctx context.Context, participantID string) ([]*chatstore.Room, error) {
	rooms := []*chatstore.Room{}
	path := "/rooms?participant=" + url.QueryEscape(participantID)
	if err := s.do(ctx, http.MethodGet, path, nil, http.StatusOK, &rooms); err != nil {
		return nil, translate(err, chatstore.ErrInvalidRoom)
	}
	return rooms, nil
}

func (s *HTTPStore) UpdateRoomSummary(ctx context.Context, roomID string, lastMessage string, updatedAt int64) error {
	body := summaryRequest{LastMessage: lastMessage, UpdatedAt: updatedAt}
	path := "/rooms/" + url.PathEscape(roomID) + "/summary"
	if err := s.do(ctx, http.MethodPatch, path, body, http.StatusNoContent, nil); err != nil {
		return translate(err, chatstore.ErrInvalidRoom)
	}
	return nil
}

func (s *HTTPStore) AppendMessage(ctx context.Context, msg *chatstore.Message) error {
	path := "/rooms/" + url.PathEscape(msg.RoomID) + "/messages"
	var stored chatstore.Message
	if err := s.do(ctx, http.MethodPost, path, msg, http.StatusCreated, &stored); err != nil {
		return translate(err, chatstore.ErrInvalidMessage)
	}
	*msg = stored
	return nil
}

func (s *HTTPStore) ListMessages(ctx context.Context, roomID string, limit int) ([]*chatstore.Message, error) {
	msgs := []*chatstore.Message{}
	path := "/rooms/" + url.PathEscape(roomID) + "/messages?limit=" + strconv.Itoa(limit)
	if err := s.do(ctx, http.MethodGet, path, nil, http.StatusOK, &msgs); err != nil {
		return nil, translate(err, chatstore.ErrInvalidLimit)
	}
	return msgs, nil
}

// Version reports the server build.
func (s *HTTPStore) Version(ctx context.Context) (apiframework.AboutServer, error) {
	var about apiframework.AboutServer
	err := s.do(ctx, http.MethodGet, "/version", nil, http.StatusOK, &about)
	return about, err
}

func (s *HTTPStore) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := s.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return apiframework.HandleAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// translate restores the store sentinels the services branch on. invalid is
// the sentinel for rejected input on this route.
func translate(err error, invalid error) error {
	switch {
	case errors.Is(err, apiframework.ErrNotFound):
		return fmt.Errorf("%w: %w", chatstore.ErrNotFound, err)
	case errors.Is(err, apiframework.ErrConflict):
		return fmt.Errorf("%w: %w", chatstore.ErrVersionConflict, err)
	case errors.Is(err, apiframework.ErrUnprocessableEntity),
		errors.Is(err, apiframework.ErrBadRequest),
		errors.Is(err, apiframework.ErrBadQueryValue):
		return fmt.Errorf("%w: %w", invalid, err)
	}
	return err
}

var _ chatstore.Store = (*HTTPStore)(nil)
