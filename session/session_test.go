package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/contenox/chatsync/libauth"
	"github.com/contenox/chatsync/libkvstore"
	"github.com/contenox/chatsync/session"
	"github.com/stretchr/testify/require"
)

type recordingSigner struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (s *recordingSigner) SignIn(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *recordingSigner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// exchangeServer verifies primary tokens with primary and answers with
// scoped tokens minted by scoped.
func exchangeServer(t *testing.T, primary, scoped *libauth.Authority, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(delay)
		if r.Method != http.MethodPost || r.URL.Path != session.ExchangePath {
			http.NotFound(w, r)
			return
		}
		token := r.Header.Get("Authorization")
		if len(token) < 7 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		claims, err := primary.Verify(token[len("Bearer "):])
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		minted, _, err := scoped.Mint(claims.Identity())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"` + minted + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func authorities(t *testing.T) (*libauth.Authority, *libauth.Authority) {
	t.Helper()
	primary, err := libauth.New(libauth.Config{Secret: []byte("primary"), TTL: time.Hour})
	require.NoError(t, err)
	scoped, err := libauth.New(libauth.Config{Secret: []byte("scoped"), TTL: time.Hour})
	require.NoError(t, err)
	return primary, scoped
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestUnit_EnsureSession_NoPrimaryToken(t *testing.T) {
	signer := &recordingSigner{}
	bridge := session.New(session.StaticTokenSource(""), session.NewHTTPExchanger("http://127.0.0.1:1", nil), signer, nil)

	require.False(t, isClosed(bridge.Ready()))
	err := bridge.EnsureSession(context.Background())
	require.ErrorIs(t, err, session.ErrNoPrimaryToken)
	require.True(t, isClosed(bridge.Ready()))
	require.Zero(t, signer.count())

	_, ok := bridge.Credential()
	require.False(t, ok)
}

func TestUnit_EnsureSession_ExchangesOnce(t *testing.T) {
	primary, scoped := authorities(t)
	srv, calls := exchangeServer(t, primary, scoped, 0)
	token, _, err := primary.Mint("u1")
	require.NoError(t, err)

	signer := &recordingSigner{}
	bridge := session.New(session.StaticTokenSource(token), session.NewHTTPExchanger(srv.URL, srv.Client()), signer, nil)

	ctx := context.Background()
	require.NoError(t, bridge.EnsureSession(ctx))
	require.NoError(t, bridge.EnsureSession(ctx))
	require.NoError(t, bridge.WaitReady(ctx))

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1, signer.count())

	cred, ok := bridge.Credential()
	require.True(t, ok)
	require.Equal(t, "u1", cred.Subject)
	require.Equal(t, "u1", bridge.Subject())
	require.False(t, cred.ExpiresAt.IsZero())

	claims, err := scoped.Verify(cred.Token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
}

func TestUnit_EnsureSession_ConcurrentCallersShareExchange(t *testing.T) {
	primary, scoped := authorities(t)
	srv, calls := exchangeServer(t, primary, scoped, 100*time.Millisecond)
	token, _, err := primary.Mint("u1")
	require.NoError(t, err)

	bridge := session.New(session.StaticTokenSource(token), session.NewHTTPExchanger(srv.URL, srv.Client()), &recordingSigner{}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- bridge.EnsureSession(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), calls.Load())
}

func TestUnit_EnsureSession_PrimaryTokenChange(t *testing.T) {
	primary, scoped := authorities(t)
	srv, calls := exchangeServer(t, primary, scoped, 0)
	path := filepath.Join(t.TempDir(), "token")
	source := session.FileTokenSource{Path: path}
	ctx := context.Background()

	bridge := session.New(source, session.NewHTTPExchanger(srv.URL, srv.Client()), &recordingSigner{}, nil)

	first, _, err := primary.Mint("u1")
	require.NoError(t, err)
	require.NoError(t, source.SetPrimaryToken(ctx, first))
	require.NoError(t, bridge.EnsureSession(ctx))
	require.Equal(t, "u1", bridge.Subject())

	second, _, err := primary.Mint("u2")
	require.NoError(t, err)
	require.NoError(t, source.SetPrimaryToken(ctx, second))
	require.NoError(t, bridge.EnsureSession(ctx))
	require.Equal(t, "u2", bridge.Subject())
	require.Equal(t, int32(2), calls.Load())
}

func TestUnit_EnsureSession_RenewsExpiredCredential(t *testing.T) {
	primary, scoped := authorities(t)
	srv, calls := exchangeServer(t, primary, scoped, 0)
	token, _, err := primary.Mint("u1")
	require.NoError(t, err)

	now := time.Now()
	bridge := session.New(session.StaticTokenSource(token), session.NewHTTPExchanger(srv.URL, srv.Client()), &recordingSigner{}, nil).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, bridge.EnsureSession(ctx))
	now = now.Add(2 * time.Hour)
	require.NoError(t, bridge.EnsureSession(ctx))
	require.Equal(t, int32(2), calls.Load())
}

func TestUnit_EnsureSession_ExchangeFailure(t *testing.T) {
	primary, scoped := authorities(t)
	srv, _ := exchangeServer(t, primary, scoped, 0)

	signer := &recordingSigner{}
	bridge := session.New(session.StaticTokenSource("not-a-jwt"), session.NewHTTPExchanger(srv.URL, srv.Client()), signer, nil)

	err := bridge.EnsureSession(context.Background())
	require.ErrorIs(t, err, session.ErrExchangeFailed)
	var exErr *session.ExchangeError
	require.ErrorAs(t, err, &exErr)
	require.Contains(t, exErr.Cause.Error(), "401")

	require.False(t, isClosed(bridge.Ready()))
	require.Zero(t, signer.count())
}

func TestUnit_EnsureSession_SignInFailure(t *testing.T) {
	primary, scoped := authorities(t)
	srv, _ := exchangeServer(t, primary, scoped, 0)
	token, _, err := primary.Mint("u1")
	require.NoError(t, err)

	signErr := errors.New("store offline")
	bridge := session.New(session.StaticTokenSource(token), session.NewHTTPExchanger(srv.URL, srv.Client()), &recordingSigner{err: signErr}, nil)

	err = bridge.EnsureSession(context.Background())
	require.ErrorIs(t, err, session.ErrExchangeFailed)
	require.ErrorIs(t, err, signErr)
	_, ok := bridge.Credential()
	require.False(t, ok)
}

func TestUnit_WaitReady_RespectsContext(t *testing.T) {
	bridge := session.New(session.StaticTokenSource("x"), session.NewHTTPExchanger("http://127.0.0.1:1", nil), &recordingSigner{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, bridge.WaitReady(ctx), context.DeadlineExceeded)
}

func TestUnit_TokenSources(t *testing.T) {
	ctx := context.Background()

	t.Setenv("CHATSYNC_TEST_TOKEN", "  env-token \n")
	got, err := session.EnvTokenSource{Var: "CHATSYNC_TEST_TOKEN"}.PrimaryToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "env-token", got)

	_, err = session.EnvTokenSource{Var: "CHATSYNC_TEST_TOKEN_UNSET"}.PrimaryToken(ctx)
	require.ErrorIs(t, err, session.ErrNoPrimaryToken)

	file := session.FileTokenSource{Path: filepath.Join(t.TempDir(), "nested", "token")}
	_, err = file.PrimaryToken(ctx)
	require.ErrorIs(t, err, session.ErrNoPrimaryToken)
	require.NoError(t, file.SetPrimaryToken(ctx, "file-token"))
	got, err = file.PrimaryToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "file-token", got)
}

func TestSystem_KVTokenSource(t *testing.T) {
	ctx := context.Background()
	addr, _, cleanup, err := libkvstore.SetupLocalValkeyInstance(ctx)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	kv, err := libkvstore.NewManager(libkvstore.Config{KVAddr: addr}, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(kv.Close)

	source := session.KVTokenSource{KV: kv, Key: "chatsync:primary:u1"}
	_, err = source.PrimaryToken(ctx)
	require.ErrorIs(t, err, session.ErrNoPrimaryToken)

	require.NoError(t, source.SetPrimaryToken(ctx, "kv-token"))
	got, err := source.PrimaryToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "kv-token", got)
}
