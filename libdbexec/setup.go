package libdbexec

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupLocalInstance starts a throwaway Postgres container and returns its
// connection string. Intended for integration tests; cleanup terminates the
// container.
func SetupLocalInstance(ctx context.Context, dbName, dbUser, dbPassword string) (string, testcontainers.Container, func(), error) {
	cleanup := func() {}

	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return "", nil, cleanup, fmt.Errorf("start postgres container: %w", err)
	}
	cleanup = func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			panic(err)
		}
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", nil, cleanup, fmt.Errorf("postgres connection string: %w", err)
	}
	return connStr, container, cleanup, nil
}
