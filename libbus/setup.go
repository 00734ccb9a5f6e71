package libbus

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
)

// SetupNatsInstance starts a NATS container for integration tests.
func SetupNatsInstance(ctx context.Context) (string, testcontainers.Container, func(), error) {
	cleanup := func() {}
	container, err := tcnats.Run(ctx, "nats:2.10-alpine")
	if err != nil {
		return "", nil, cleanup, fmt.Errorf("start nats container: %w", err)
	}
	cleanup = func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			panic(err)
		}
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		return "", nil, cleanup, fmt.Errorf("nats connection string: %w", err)
	}
	return url, container, cleanup, nil
}

// NewTestPubSub returns a Messenger connected to a fresh NATS container.
func NewTestPubSub() (Messenger, func(), error) {
	ctx := context.Background()
	url, _, cleanup, err := SetupNatsInstance(ctx)
	if err != nil {
		return nil, cleanup, err
	}
	bus, err := NewPubSub(ctx, &Config{NATSURL: url})
	if err != nil {
		return nil, cleanup, err
	}
	return bus, func() {
		_ = bus.Close()
		cleanup()
	}, nil
}
