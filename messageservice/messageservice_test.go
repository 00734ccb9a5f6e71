package messageservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/libbus"
	libdb "github.com/contenox/chatsync/libdbexec"
	"github.com/contenox/chatsync/libtracker"
	"github.com/contenox/chatsync/messageservice"
	"github.com/contenox/chatsync/session"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	err error
}

func (f *fakeSession) EnsureSession(context.Context) error { return f.err }

type spyStore struct {
	chatstore.Store
	appends    atomic.Int32
	summaryErr error
}

func (s *spyStore) AppendMessage(ctx context.Context, msg *chatstore.Message) error {
	s.appends.Add(1)
	return s.Store.AppendMessage(ctx, msg)
}

func (s *spyStore) UpdateRoomSummary(ctx context.Context, roomID, last string, at int64) error {
	if s.summaryErr != nil {
		return s.summaryErr
	}
	return s.Store.UpdateRoomSummary(ctx, roomID, last, at)
}

func setup(t *testing.T, sess *fakeSession, bus libbus.Messenger) (context.Context, messageservice.Service, *spyStore) {
	t.Helper()
	ctx := context.TODO()
	db, err := libdb.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "messages.db"), chatstore.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	store := &spyStore{Store: chatstore.New(db.WithoutTransaction())}
	_, err = store.UpsertRoom(ctx, &chatstore.Room{ID: "u1_u2_42", ParticipantIDs: []string{"u1", "u2"}})
	require.NoError(t, err)

	svc := messageservice.WithActivityTracker(messageservice.New(store, sess, bus), libtracker.NoopTracker{})
	return ctx, svc, store
}

func TestUnit_Append_UpdatesSummaryAndSnapshot(t *testing.T) {
	ctx, svc, store := setup(t, &fakeSession{}, nil)

	before := time.Now().UnixMilli()
	require.NoError(t, svc.Append(ctx, "u1_u2_42", "u1", "hi"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, svc.Append(ctx, "u1_u2_42", "u2", "  hello  "))

	msgs, err := svc.Snapshot(ctx, "u1_u2_42", 200)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Text)
	require.Equal(t, "u1", msgs[0].SenderID)
	require.Equal(t, "hello", msgs[1].Text)
	require.GreaterOrEqual(t, msgs[0].CreatedAtMillis, before)
	require.LessOrEqual(t, msgs[0].CreatedAtMillis, msgs[1].CreatedAtMillis)

	room, err := store.GetRoom(ctx, "u1_u2_42")
	require.NoError(t, err)
	require.Equal(t, "hello", room.LastMessage)
	require.Equal(t, msgs[1].CreatedAtMillis, room.UpdatedAt)
}

func TestUnit_Append_Validation(t *testing.T) {
	ctx, svc, store := setup(t, &fakeSession{}, nil)

	require.ErrorIs(t, svc.Append(ctx, "u1_u2_42", "u1", "   "), messageservice.ErrEmptyText)
	require.ErrorIs(t, svc.Append(ctx, "u1_u2_42", "", "hi"), messageservice.ErrEmptySender)
	require.ErrorIs(t, svc.Append(ctx, "", "u1", "hi"), messageservice.ErrRoomNotFound)
	require.ErrorIs(t, svc.Append(ctx, "u1_u3", "u1", "hi"), messageservice.ErrRoomNotFound)
	require.ErrorIs(t, svc.Append(ctx, "u1_u2_42", "u3", "hi"), messageservice.ErrNotParticipant)
	require.Zero(t, store.appends.Load())
}

func TestUnit_Append_RejectedWithoutSession(t *testing.T) {
	ctx, svc, store := setup(t, &fakeSession{err: session.ErrNoPrimaryToken}, nil)

	err := svc.Append(ctx, "u1_u2_42", "u1", "hi")
	require.ErrorIs(t, err, session.ErrNoPrimaryToken)
	require.Zero(t, store.appends.Load())

	msgs, err := svc.Snapshot(ctx, "u1_u2_42", 200)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestUnit_Append_SummaryFailureIsNotFatal(t *testing.T) {
	ctx, svc, store := setup(t, &fakeSession{}, nil)
	store.summaryErr = errors.New("summary write timed out")

	require.NoError(t, svc.Append(ctx, "u1_u2_42", "u1", "hi"))

	msgs, err := svc.Snapshot(ctx, "u1_u2_42", 200)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	room, err := store.GetRoom(ctx, "u1_u2_42")
	require.NoError(t, err)
	require.Empty(t, room.LastMessage)
}

func TestUnit_Append_PublishesRoomEvent(t *testing.T) {
	bus := libbus.NewInMem()
	t.Cleanup(func() { _ = bus.Close() })
	ctx, svc, _ := setup(t, &fakeSession{}, bus)

	events := make(chan []byte, 1)
	sub, err := bus.Stream(ctx, messageservice.RoomSubject("u1_u2_42"), events)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, svc.Append(ctx, "u1_u2_42", "u2", "ping"))

	select {
	case raw := <-events:
		var ev messageservice.RoomEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		require.Equal(t, "u1_u2_42", ev.RoomID)
		require.Equal(t, "u2", ev.SenderID)
		require.NotEmpty(t, ev.MessageID)
	case <-time.After(time.Second):
		t.Fatal("no room event published")
	}
}

func TestUnit_RoomSubject(t *testing.T) {
	require.Equal(t, "chat.room.u1_u2_42", messageservice.RoomSubject("u1_u2_42"))
	require.Equal(t, "chat.room.a-b_c", messageservice.RoomSubject("a*b_c"))
}
