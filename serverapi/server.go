package serverapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/contenox/chatsync/apiframework"
	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/internal/authapi"
	"github.com/contenox/chatsync/internal/metrics"
	"github.com/contenox/chatsync/internal/storeapi"
	"github.com/contenox/chatsync/libauth"
	libbus "github.com/contenox/chatsync/libbus"
	libdb "github.com/contenox/chatsync/libdbexec"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

const (
	scopedIssuer   = "chatsync"
	scopedAudience = "chatsync-store"
)

// New registers all routes on mux.
func New(
	ctx context.Context,
	mux *http.ServeMux,
	nodeInstanceID string,
	config *Config,
	dbInstance libdb.DBManager,
	pubsub libbus.Messenger,
) (func() error, error) {
	cleanup := func() error { return nil }

	primary, err := libauth.New(libauth.Config{
		Secret: []byte(config.PrimaryTokenSecret),
		Issuer: config.PrimaryTokenIssuer,
		Leeway: 30 * time.Second,
	})
	if err != nil {
		return cleanup, fmt.Errorf("primary token authority: %w", err)
	}
	ttl, err := config.scopedTTL()
	if err != nil {
		return cleanup, err
	}
	scoped, err := libauth.New(libauth.Config{
		Secret:   []byte(config.ScopedTokenSecret),
		Issuer:   scopedIssuer,
		Audience: scopedAudience,
		TTL:      ttl,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		return cleanup, fmt.Errorf("scoped token authority: %w", err)
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		_ = apiframework.Error(w, r, apiframework.ErrNotFound, apiframework.ListOperation)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		// OK
	})
	version := apiframework.GetVersion()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		_ = apiframework.Encode(w, r, http.StatusOK, apiframework.AboutServer{Version: version, NodeInstanceID: nodeInstanceID})
	})

	mux.Handle("GET /metrics", metrics.Handler())

	store := chatstore.New(dbInstance.WithoutTransaction())
	authapi.AddAuthRoutes(mux, primary, scoped)
	storeapi.AddStoreRoutes(mux, store, pubsub, scoped)

	slog.InfoContext(ctx, "routes registered", "node", nodeInstanceID, "scoped_ttl", ttl)
	return cleanup, nil
}

// Handler wraps the API with metrics, request ids, tracing and CORS.
func Handler(api http.Handler, config *Config) http.Handler {
	api = metrics.Middleware(api)
	api = apiframework.RequestIDMiddleware(api)
	api = apiframework.TracingMiddleware(api)
	return cors.Handler(cors.Options{
		AllowedOrigins:   config.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "traceparent"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})(api)
}

type Config struct {
	DatabaseURL        string `json:"database_url"`
	SQLitePath         string `json:"sqlite_path"`
	Port               string `json:"port"`
	Addr               string `json:"addr"`
	NATSURL            string `json:"nats_url"`
	NATSUser           string `json:"nats_user"`
	NATSPassword       string `json:"nats_password"`
	PrimaryTokenSecret string `json:"primary_token_secret"`
	PrimaryTokenIssuer string `json:"primary_token_issuer"`
	ScopedTokenSecret  string `json:"scoped_token_secret"`
	ScopedTokenTTL     string `json:"scoped_token_ttl"`
	CORSOrigins        string `json:"cors_origins"`
}

func (c *Config) scopedTTL() (time.Duration, error) {
	if c.ScopedTokenTTL == "" {
		return time.Hour, nil
	}
	ttl, err := time.ParseDuration(c.ScopedTokenTTL)
	if err != nil || ttl <= 0 {
		return 0, fmt.Errorf("invalid SCOPED_TOKEN_TTL %q", c.ScopedTokenTTL)
	}
	return ttl, nil
}

func (c *Config) corsOrigins() []string {
	if c.CORSOrigins == "" {
		return []string{"http://localhost:5173"}
	}
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// LoadConfig fills cfg from the environment, after loading a .env file when
// one exists. Keys are matched case-insensitively against the json tags.
func LoadConfig[T any](cfg *T) error {
	if cfg == nil {
		return fmt.Errorf("config pointer is nil")
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	config := map[string]string{}
	for _, kvPair := range os.Environ() {
		ar := strings.SplitN(kvPair, "=", 2)
		if len(ar) < 2 {
			continue
		}
		config[strings.ToLower(ar[0])] = ar[1]
	}

	b, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal env vars: %w", err)
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal into config struct: %w", err)
	}
	return nil
}
