// client.go builds the chat stack for one CLI invocation.
package chatcli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/contenox/chatsync/chatsdk"
	"github.com/contenox/chatsync/libbus"
	"github.com/contenox/chatsync/libkvstore"
	"github.com/contenox/chatsync/libtracker"
	"github.com/contenox/chatsync/session"
	"github.com/contenox/chatsync/syncpoller"
	"github.com/spf13/cobra"
)

var errSignedOut = errors.New("not signed in: run 'chat token set <token>' first")

// env is what every subcommand works with.
type env struct {
	opts    options
	tokens  session.TokenSource
	client  *chatsdk.Client
	cleanup []func()
}

func (e *env) close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
}

// resolve loads config and merges it with the flags of cmd.
func resolve(cmd *cobra.Command) (options, error) {
	cfg, configPath, err := loadLocalConfig()
	if err != nil {
		return options{}, fmt.Errorf("failed to load config: %w", err)
	}
	return resolveOptions(cmd.Root().PersistentFlags(), cfg, configDirFor(configPath))
}

// openTokens opens the configured token source. The returned cleanup is never nil.
func openTokens(opts options) (session.TokenSource, func(), error) {
	switch opts.TokenSource {
	case "static":
		return session.StaticTokenSource(opts.Token), func() {}, nil
	case "env":
		return session.EnvTokenSource{Var: opts.TokenEnv}, func() {}, nil
	case "kv":
		kv, err := libkvstore.NewManager(libkvstore.Config{KVAddr: opts.KVAddr, KVPassword: opts.KVPassword}, 5*time.Second)
		if err != nil {
			return nil, func() {}, err
		}
		return session.KVTokenSource{KV: kv, Key: opts.KVKey}, kv.Close, nil
	default:
		return session.FileTokenSource{Path: opts.TokenFile}, func() {}, nil
	}
}

// openEnv wires a chatsdk client. With connect set the server version is
// checked; token commands skip it.
func openEnv(ctx context.Context, cmd *cobra.Command, connect bool) (*env, error) {
	opts, err := resolve(cmd)
	if err != nil {
		return nil, err
	}
	e := &env{opts: opts}
	tokens, closeTokens, err := openTokens(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open token source: %w", err)
	}
	e.tokens = tokens
	e.cleanup = append(e.cleanup, closeTokens)
	if !connect {
		return e, nil
	}

	var bus libbus.Messenger
	if opts.NATSURL != "" {
		bus, err = libbus.NewPubSub(ctx, &libbus.Config{NATSURL: opts.NATSURL})
		if err != nil {
			slog.Warn("room events unavailable, polling only", "error", err)
			bus = nil
		} else {
			e.cleanup = append(e.cleanup, func() { _ = bus.Close() })
		}
	}

	var tracker libtracker.ActivityTracker = libtracker.NoopTracker{}
	if opts.Tracing {
		tracker = libtracker.NewLogActivityTracker(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	}

	client, err := chatsdk.NewClient(ctx, chatsdk.Config{
		StoreURL: opts.StoreURL,
		AuthURL:  opts.AuthURL,
		Tokens:   tokens,
		Poll: syncpoller.Config{
			Interval: opts.PollInterval,
			Window:   opts.PollWindow,
		},
		Bus:     bus,
		Tracker: tracker,
	}, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		e.close()
		return nil, err
	}
	e.client = client
	return e, nil
}

// self signs in and returns the acting user id: --user when given, else the
// subject of the scoped token.
func (e *env) self(ctx context.Context) (string, error) {
	if err := e.client.Session.EnsureSession(ctx); err != nil {
		if errors.Is(err, session.ErrNoPrimaryToken) {
			return "", errSignedOut
		}
		return "", err
	}
	if e.opts.UserID != "" {
		return e.opts.UserID, nil
	}
	if sub := e.client.Session.Subject(); sub != "" {
		return sub, nil
	}
	return "", errors.New("user id unknown: pass --user")
}
