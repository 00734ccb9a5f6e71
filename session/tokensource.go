package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/contenox/chatsync/libkvstore"
)

// TokenSource yields the primary token of the signed-in user. It returns
// ErrNoPrimaryToken when there is none.
type TokenSource interface {
	PrimaryToken(ctx context.Context) (string, error)
}

// TokenStore is a TokenSource that can also be written.
type TokenStore interface {
	TokenSource
	SetPrimaryToken(ctx context.Context, token string) error
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

func (s StaticTokenSource) PrimaryToken(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoPrimaryToken
	}
	return string(s), nil
}

// EnvTokenSource reads the token from an environment variable on every call.
type EnvTokenSource struct {
	Var string
}

func (s EnvTokenSource) PrimaryToken(context.Context) (string, error) {
	token := strings.TrimSpace(os.Getenv(s.Var))
	if token == "" {
		return "", ErrNoPrimaryToken
	}
	return token, nil
}

// FileTokenSource keeps the token in a file.
type FileTokenSource struct {
	Path string
}

func (s FileTokenSource) PrimaryToken(context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoPrimaryToken
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoPrimaryToken
	}
	return token, nil
}

func (s FileTokenSource) SetPrimaryToken(_ context.Context, token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(s.Path, []byte(strings.TrimSpace(token)+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// KVTokenSource keeps the token as a JSON string under Key.
type KVTokenSource struct {
	KV  libkvstore.KVManager
	Key string
}

func (s KVTokenSource) PrimaryToken(ctx context.Context) (string, error) {
	exec, err := s.KV.Executor(ctx)
	if err != nil {
		return "", err
	}
	raw, err := exec.Get(ctx, s.Key)
	if errors.Is(err, libkvstore.ErrNotFound) {
		return "", ErrNoPrimaryToken
	}
	if err != nil {
		return "", err
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", fmt.Errorf("decode token at %q: %w", s.Key, err)
	}
	if token == "" {
		return "", ErrNoPrimaryToken
	}
	return token, nil
}

func (s KVTokenSource) SetPrimaryToken(ctx context.Context, token string) error {
	exec, err := s.KV.Executor(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(strings.TrimSpace(token))
	if err != nil {
		return err
	}
	return exec.Set(ctx, s.Key, raw)
}

var (
	_ TokenSource = StaticTokenSource("")
	_ TokenSource = EnvTokenSource{}
	_ TokenStore  = FileTokenSource{}
	_ TokenStore  = KVTokenSource{}
)
