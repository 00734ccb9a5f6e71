package chatsdk

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/contenox/chatsync/apiframework"
	"github.com/contenox/chatsync/libbus"
	"github.com/contenox/chatsync/libtracker"
	"github.com/contenox/chatsync/messageservice"
	"github.com/contenox/chatsync/roomindex"
	"github.com/contenox/chatsync/roomservice"
	"github.com/contenox/chatsync/session"
	"github.com/contenox/chatsync/syncpoller"
)

// Client bundles the chat components for one signed-in user, backed by a
// remote store.
type Client struct {
	Store    *HTTPStore
	Session  *session.Bridge
	Rooms    roomservice.Service
	Messages messageservice.Service
	Poller   *syncpoller.Poller
	Index    *roomindex.Index
}

type Config struct {
	// StoreURL is the chatstore server.
	StoreURL string
	// AuthURL serves the token exchange; defaults to StoreURL.
	AuthURL string
	Tokens  session.TokenSource
	Poll    syncpoller.Config
	// Bus is optional and only useful when it reaches the writers of the
	// rooms being polled.
	Bus     libbus.Messenger
	Tracker libtracker.ActivityTracker
}

// NewClient checks that the server runs the same version as this SDK and
// wires the components.
func NewClient(ctx context.Context, config Config, httpClient *http.Client) (*Client, error) {
	store := NewHTTPStore(config.StoreURL, httpClient)
	about, err := store.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to validate server version: %w", err)
	}
	sdkVersion := apiframework.GetVersion()
	if about.Version != "unknown" && !strings.Contains(about.Version, "dev") && about.Version != sdkVersion {
		return nil, fmt.Errorf("version mismatch: server=%q, sdk=%q (must be identical)", about.Version, sdkVersion)
	}
	return newClient(store, config, httpClient), nil
}

func newClient(store *HTTPStore, config Config, httpClient *http.Client) *Client {
	tracker := config.Tracker
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	authURL := config.AuthURL
	if authURL == "" {
		authURL = config.StoreURL
	}
	bridge := session.New(config.Tokens, session.NewHTTPExchanger(authURL, httpClient), store, tracker)
	rooms := roomservice.WithActivityTracker(roomservice.New(store, bridge), tracker)
	messages := messageservice.WithActivityTracker(messageservice.New(store, bridge, config.Bus), tracker)
	return &Client{
		Store:    store,
		Session:  bridge,
		Rooms:    rooms,
		Messages: messages,
		Poller:   syncpoller.New(messages, bridge, config.Bus, config.Poll),
		Index:    roomindex.New(rooms),
	}
}
