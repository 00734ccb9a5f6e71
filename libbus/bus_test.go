package libbus_test

import (
	"context"
	"testing"
	"time"

	libbus "github.com/contenox/chatsync/libbus"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// exercise runs the shared contract against any Messenger.
func exercise(t *testing.T, bus libbus.Messenger) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("stream receives published message", func(t *testing.T) {
		ch := make(chan []byte, 1)
		sub, err := bus.Stream(ctx, "chat.room.a_b", ch)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		require.Eventually(t, func() bool {
			require.NoError(t, bus.Publish(ctx, "chat.room.a_b", []byte("ping")))
			select {
			case got := <-ch:
				require.Equal(t, []byte("ping"), got)
				return true
			case <-time.After(50 * time.Millisecond):
				return false
			}
		}, 3*time.Second, 10*time.Millisecond)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		ch := make(chan []byte, 1)
		sub, err := bus.Stream(ctx, "chat.room.c_d", ch)
		require.NoError(t, err)
		require.NoError(t, sub.Unsubscribe())

		require.NoError(t, bus.Publish(ctx, "chat.room.c_d", []byte("late")))
		select {
		case <-ch:
			t.Fatal("received message after unsubscribe")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("cancelled context is rejected", func(t *testing.T) {
		cctx, ccancel := context.WithCancel(context.Background())
		ccancel()
		require.ErrorIs(t, bus.Publish(cctx, "x", nil), context.Canceled)
		_, err := bus.Stream(cctx, "x", make(chan []byte))
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("closed messenger", func(t *testing.T) {
		require.NoError(t, bus.Close())
		require.ErrorIs(t, bus.Publish(ctx, "x", nil), libbus.ErrConnectionClosed)
		_, err := bus.Stream(ctx, "x", make(chan []byte))
		require.ErrorIs(t, err, libbus.ErrConnectionClosed)
	})
}

func TestUnit_InMem(t *testing.T) {
	exercise(t, libbus.NewInMem())
}

func TestUnit_InMem_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := libbus.NewInMem()
	ch := make(chan []byte) // unbuffered, never read
	_, err := bus.Stream(context.Background(), "s", ch)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- bus.Publish(context.Background(), "s", []byte("x")) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestUnit_InMem_ContextCancelUnsubscribes(t *testing.T) {
	bus := libbus.NewInMem()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan []byte, 1)
	_, err := bus.Stream(ctx, "s", ch)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		require.NoError(t, bus.Publish(context.Background(), "s", []byte("x")))
		select {
		case <-ch:
			return false
		default:
			return true
		}
	}, time.Second, 10*time.Millisecond)
}

func TestSystem_NATS(t *testing.T) {
	bus, cleanup, err := libbus.NewTestPubSub()
	defer cleanup()
	require.NoError(t, err)
	exercise(t, bus)
}

func TestSystem_NATSContainerAcceptsClients(t *testing.T) {
	url, container, cleanup, err := libbus.SetupNatsInstance(context.Background())
	defer cleanup()
	require.NoError(t, err)
	require.True(t, container.IsRunning())

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()
	require.NoError(t, nc.Publish("chat.room.x", []byte("hello")))
}
