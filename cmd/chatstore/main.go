package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contenox/chatsync/chatstore"
	libbus "github.com/contenox/chatsync/libbus"
	libdb "github.com/contenox/chatsync/libdbexec"
	libroutine "github.com/contenox/chatsync/libroutine"
	"github.com/contenox/chatsync/serverapi"
	"github.com/google/uuid"
)

var nodeInstanceID = "NODE-Instance-UNSET-dev"

func initDatabase(ctx context.Context, cfg *serverapi.Config) (libdb.DBManager, error) {
	if cfg.DatabaseURL == "" {
		path := cfg.SQLitePath
		if path == "" {
			path = "chatsync.db"
		}
		slog.Info("DATABASE_URL not set, using sqlite", "path", path)
		dbInstance, err := libdb.NewSQLiteDBManager(ctx, path, chatstore.SchemaSQLite)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		return dbInstance, nil
	}
	var dbInstance libdb.DBManager
	err := libroutine.NewRoutine(10, time.Minute).ExecuteWithRetry(ctx, time.Second, 3, func(ctx context.Context) error {
		var err error
		dbInstance, err = libdb.NewPostgresDBManager(ctx, cfg.DatabaseURL, chatstore.Schema)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return dbInstance, nil
}

func initPubSub(ctx context.Context, cfg *serverapi.Config) (libbus.Messenger, error) {
	if cfg.NATSURL == "" {
		slog.Info("NATS_URL not set, room events stay in process")
		return libbus.NewInMem(), nil
	}
	ps, err := libbus.NewPubSub(ctx, &libbus.Config{
		NATSURL:      cfg.NATSURL,
		NATSPassword: cfg.NATSPassword,
		NATSUser:     cfg.NATSUser,
	})
	if err != nil {
		return nil, err
	}
	return ps, nil
}

func main() {
	nodeInstanceID = uuid.NewString()[0:8]
	config := &serverapi.Config{}
	if err := serverapi.LoadConfig(config); err != nil {
		log.Fatalf("%s: failed to load configuration: %v", nodeInstanceID, err)
	}
	if config.Port == "" {
		config.Port = "8080"
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanups := []func() error{func() error {
		slog.Info("cleaning up", "node", nodeInstanceID)
		return nil
	}}
	defer func() {
		for _, cleanup := range cleanups {
			if err := cleanup(); err != nil {
				log.Printf("%s cleanup failed: %v", nodeInstanceID, err)
			}
		}
	}()

	dbInstance, err := initDatabase(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing database failed: %v", nodeInstanceID, err)
	}
	cleanups = append(cleanups, dbInstance.Close)

	ps, err := initPubSub(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing PubSub failed: %v", nodeInstanceID, err)
	}
	cleanups = append(cleanups, ps.Close)

	internalMux := http.NewServeMux()
	cleanup, err := serverapi.New(ctx, internalMux, nodeInstanceID, config, dbInstance, ps)
	cleanups = append(cleanups, cleanup)
	if err != nil {
		log.Fatalf("%s initializing API handler failed: %v", nodeInstanceID, err)
	}

	srv := &http.Server{
		Addr:              config.Addr + ":" + config.Port,
		Handler:           serverapi.Handler(internalMux, config),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("%s starting server on %s", nodeInstanceID, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("%s server failed: %v", nodeInstanceID, err)
	}
}
