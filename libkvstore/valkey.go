// Package libkvstore is a small key/value layer over valkey.
package libkvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

var ErrNotFound = errors.New("libkvstore: key not found")

type Config struct {
	KVAddr     string `json:"kv_addr"`
	KVPassword string `json:"kv_password"`
}

// KVManager owns the client; executors are cheap handles onto it.
type KVManager interface {
	Executor(ctx context.Context) (KVExecutor, error)
	Close()
}

type KVExecutor interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	SetWithTTL(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

type manager struct {
	client valkey.Client
}

// NewManager dials the server in cfg; timeout bounds connection writes.
func NewManager(cfg Config, timeout time.Duration) (KVManager, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{cfg.KVAddr},
		Password:         cfg.KVPassword,
		ConnWriteTimeout: timeout,
		DisableCache:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("libkvstore: connect %s: %w", cfg.KVAddr, err)
	}
	return &manager{client: client}, nil
}

func (m *manager) Executor(ctx context.Context) (KVExecutor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &executor{client: m.client}, nil
}

func (m *manager) Close() {
	m.client.Close()
}

type executor struct {
	client valkey.Client
}

func (e *executor) Get(ctx context.Context, key string) (json.RawMessage, error) {
	b, err := e.client.Do(ctx, e.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("libkvstore: get %q: %w", key, err)
	}
	return json.RawMessage(b), nil
}

func (e *executor) Set(ctx context.Context, key string, value json.RawMessage) error {
	cmd := e.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()
	if err := e.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("libkvstore: set %q: %w", key, err)
	}
	return nil
}

func (e *executor) SetWithTTL(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	cmd := e.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Px(ttl).Build()
	if err := e.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("libkvstore: set %q with ttl: %w", key, err)
	}
	return nil
}

func (e *executor) Delete(ctx context.Context, key string) error {
	if err := e.client.Do(ctx, e.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("libkvstore: delete %q: %w", key, err)
	}
	return nil
}

func (e *executor) Exists(ctx context.Context, key string) (bool, error) {
	n, err := e.client.Do(ctx, e.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("libkvstore: exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (e *executor) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := e.client.Do(ctx, e.client.B().Keys().Pattern(pattern).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("libkvstore: keys %q: %w", pattern, err)
	}
	return keys, nil
}
