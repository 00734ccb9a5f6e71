package roomservice_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/contenox/chatsync/chatstore"
	libdb "github.com/contenox/chatsync/libdbexec"
	"github.com/contenox/chatsync/libtracker"
	"github.com/contenox/chatsync/roomservice"
	"github.com/contenox/chatsync/session"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	err error
}

func (f fakeSession) EnsureSession(context.Context) error { return f.err }

type countingStore struct {
	chatstore.Store
	upserts atomic.Int32
	failing error
}

func (c *countingStore) UpsertRoom(ctx context.Context, room *chatstore.Room) (*chatstore.Room, error) {
	c.upserts.Add(1)
	return c.Store.UpsertRoom(ctx, room)
}

func (c *countingStore) ListRoomsByParticipant(ctx context.Context, id string) ([]*chatstore.Room, error) {
	if c.failing != nil {
		return nil, c.failing
	}
	return c.Store.ListRoomsByParticipant(ctx, id)
}

func setup(t *testing.T, sess roomservice.SessionEnsurer) (context.Context, roomservice.Service, *countingStore) {
	t.Helper()
	ctx := context.TODO()
	db, err := libdb.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "rooms.db"), chatstore.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	store := &countingStore{Store: chatstore.New(db.WithoutTransaction())}
	svc := roomservice.WithActivityTracker(roomservice.New(store, sess), libtracker.NoopTracker{})
	return ctx, svc, store
}

func ptr(v int64) *int64 { return &v }

func TestUnit_CanonicalRoomID(t *testing.T) {
	id, err := roomservice.CanonicalRoomID("u2", "u1", ptr(42))
	require.NoError(t, err)
	require.Equal(t, "u1_u2_42", id)

	id, err = roomservice.CanonicalRoomID("u1", "u2", ptr(42))
	require.NoError(t, err)
	require.Equal(t, "u1_u2_42", id)

	id, err = roomservice.CanonicalRoomID("bob", "alice", nil)
	require.NoError(t, err)
	require.Equal(t, "alice_bob", id)

	id, err = roomservice.CanonicalRoomID("u2", "u1", ptr(0))
	require.NoError(t, err)
	require.Equal(t, "u1_u2", id)

	_, err = roomservice.CanonicalRoomID("u1", "u1", nil)
	require.ErrorIs(t, err, roomservice.ErrInvalidParticipants)
	_, err = roomservice.CanonicalRoomID("", "u1", nil)
	require.ErrorIs(t, err, roomservice.ErrInvalidParticipants)
}

func TestUnit_CreateOrGetRoom_Commutative(t *testing.T) {
	ctx, svc, _ := setup(t, fakeSession{})
	u1 := chatstore.Participant{ID: "u1", UserName: "one"}
	u2 := chatstore.Participant{ID: "u2", Email: "two@example.com"}

	first, err := svc.CreateOrGetRoom(ctx, u1, u2, ptr(42))
	require.NoError(t, err)
	second, err := svc.CreateOrGetRoom(ctx, u2, u1, ptr(42))
	require.NoError(t, err)
	require.Equal(t, "u1_u2_42", first)
	require.Equal(t, first, second)

	room, err := svc.GetRoom(ctx, first)
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2"}, room.ParticipantIDs)
	require.Equal(t, "one", room.Participants["u1"].UserName)
	require.Equal(t, "two@example.com", room.Participants["u2"].Email)
	require.Equal(t, int64(42), *room.ContextID)
	require.Empty(t, room.LastMessage)
}

func TestUnit_CreateOrGetRoom_ZeroContextIsPlainPair(t *testing.T) {
	ctx, svc, _ := setup(t, fakeSession{})
	u1 := chatstore.Participant{ID: "u1"}
	u2 := chatstore.Participant{ID: "u2"}

	withZero, err := svc.CreateOrGetRoom(ctx, u1, u2, ptr(0))
	require.NoError(t, err)
	plain, err := svc.CreateOrGetRoom(ctx, u2, u1, nil)
	require.NoError(t, err)
	require.Equal(t, "u1_u2", withZero)
	require.Equal(t, plain, withZero)

	room, err := svc.GetRoom(ctx, withZero)
	require.NoError(t, err)
	require.Nil(t, room.ContextID)
}

func TestUnit_CreateOrGetRoom_ConcurrentCreatorsConverge(t *testing.T) {
	ctx, svc, _ := setup(t, fakeSession{})
	u1 := chatstore.Participant{ID: "u1"}
	u2 := chatstore.Participant{ID: "u2"}

	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := u1, u2
			if i%2 == 1 {
				a, b = b, a
			}
			id, err := svc.CreateOrGetRoom(ctx, a, b, nil)
			if err != nil {
				ids <- "error: " + err.Error()
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	for id := range ids {
		require.Equal(t, "u1_u2", id)
	}

	rooms, err := svc.ListRoomsForParticipant(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
}

func TestUnit_CreateOrGetRoom_RejectedWithoutSession(t *testing.T) {
	ctx, svc, store := setup(t, fakeSession{err: session.ErrNoPrimaryToken})

	_, err := svc.CreateOrGetRoom(ctx, chatstore.Participant{ID: "u1"}, chatstore.Participant{ID: "u2"}, nil)
	require.ErrorIs(t, err, session.ErrNoPrimaryToken)
	require.Zero(t, store.upserts.Load())

	_, err = svc.CreateOrGetRoom(ctx, chatstore.Participant{ID: "u1"}, chatstore.Participant{ID: "u1"}, nil)
	require.ErrorIs(t, err, roomservice.ErrInvalidParticipants)
}

func TestUnit_CreateOrGetRoom_IDCollision(t *testing.T) {
	ctx, svc, _ := setup(t, fakeSession{})

	_, err := svc.CreateOrGetRoom(ctx, chatstore.Participant{ID: "u1"}, chatstore.Participant{ID: "u2"}, ptr(42))
	require.NoError(t, err)
	_, err = svc.CreateOrGetRoom(ctx, chatstore.Participant{ID: "u1"}, chatstore.Participant{ID: "u2_42"}, nil)
	require.ErrorIs(t, err, chatstore.ErrInvalidRoom)
}

func TestUnit_ListRoomsForParticipant_RecencyOrder(t *testing.T) {
	ctx, svc, store := setup(t, fakeSession{err: session.ErrNoPrimaryToken})

	for _, r := range []*chatstore.Room{
		{ID: "a_b", ParticipantIDs: []string{"a", "b"}, UpdatedAt: 100},
		{ID: "a_c", ParticipantIDs: []string{"a", "c"}, UpdatedAt: 300},
		{ID: "a_d", ParticipantIDs: []string{"a", "d"}, UpdatedAt: 100},
		{ID: "a_e", ParticipantIDs: []string{"a", "e"}, UpdatedAt: 200},
	} {
		_, err := store.Store.UpsertRoom(ctx, r)
		require.NoError(t, err)
	}

	// a missing session does not block reads
	rooms, err := svc.ListRoomsForParticipant(ctx, "a")
	require.NoError(t, err)
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"a_c", "a_e", "a_b", "a_d"}, ids)
}

func TestUnit_ListRoomsForParticipant_StoreDown(t *testing.T) {
	ctx, svc, store := setup(t, fakeSession{})
	store.failing = errors.New("connection refused")

	_, err := svc.ListRoomsForParticipant(ctx, "a")
	require.ErrorIs(t, err, roomservice.ErrDirectoryUnavailable)
}
