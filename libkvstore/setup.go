package libkvstore

import (
	"context"
	"fmt"
	"net/url"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/valkey"
)

// SetupLocalValkeyInstance starts a valkey container for integration tests and
// returns its host:port address.
func SetupLocalValkeyInstance(ctx context.Context) (string, testcontainers.Container, func(), error) {
	cleanup := func() {}
	container, err := valkey.Run(ctx, "docker.io/valkey/valkey:7.2.5")
	if err != nil {
		return "", nil, cleanup, fmt.Errorf("start valkey container: %w", err)
	}
	cleanup = func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			panic(err)
		}
	}
	conn, err := container.ConnectionString(ctx)
	if err != nil {
		return "", nil, cleanup, err
	}
	u, err := url.Parse(conn)
	if err != nil {
		return "", nil, cleanup, fmt.Errorf("parse valkey connection string: %w", err)
	}
	return u.Host, container, cleanup, nil
}
