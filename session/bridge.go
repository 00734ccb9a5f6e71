// Package session bridges a primary identity token into a scoped credential
// accepted by the chat store.
//
// A Bridge is an explicit session: it holds at most one credential, derived
// from the primary token it last saw. Callers invoke EnsureSession before
// touching the store; the call is free when the credential is still good.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/contenox/chatsync/libtracker"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoPrimaryToken means there is no signed-in user. Read-only flows may
	// continue without a session.
	ErrNoPrimaryToken = errors.New("session: no primary token")
	// ErrExchangeFailed is matched by every *ExchangeError.
	ErrExchangeFailed = errors.New("session: token exchange failed")
)

// ExchangeError carries the reason an exchange or sign-in failed.
type ExchangeError struct {
	Cause error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrExchangeFailed, e.Cause)
}

func (e *ExchangeError) Unwrap() []error {
	return []error{ErrExchangeFailed, e.Cause}
}

// Credential is a scoped token issued for one primary token.
type Credential struct {
	Token     string
	Subject   string
	ExpiresAt time.Time // zero when the issuer did not say

	fingerprint string
}

// Exchanger trades a primary token for a scoped credential.
type Exchanger interface {
	Exchange(ctx context.Context, primaryToken string) (Credential, error)
}

// Signer installs a scoped token into a store client.
type Signer interface {
	SignIn(ctx context.Context, scopedToken string) error
}

// expirySkew renews credentials slightly before they lapse.
const expirySkew = 30 * time.Second

type Bridge struct {
	source    TokenSource
	exchanger Exchanger
	signer    Signer
	tracker   libtracker.ActivityTracker
	now       func() time.Time

	flight singleflight.Group

	mu   sync.RWMutex
	cred *Credential

	readyOnce sync.Once
	ready     chan struct{}
}

// New returns a Bridge without a credential. tracker may be nil.
func New(source TokenSource, exchanger Exchanger, signer Signer, tracker libtracker.ActivityTracker) *Bridge {
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &Bridge{
		source:    source,
		exchanger: exchanger,
		signer:    signer,
		tracker:   tracker,
		now:       time.Now,
		ready:     make(chan struct{}),
	}
}

// WithClock replaces the clock used for expiry checks.
func (b *Bridge) WithClock(now func() time.Time) *Bridge {
	b.now = now
	return b
}

// EnsureSession makes sure a credential for the current primary token is
// signed in. It returns nil without an exchange when the cached credential
// matches the primary token and has not expired. Concurrent callers share a
// single exchange.
func (b *Bridge) EnsureSession(ctx context.Context) error {
	primary, err := b.source.PrimaryToken(ctx)
	if errors.Is(err, ErrNoPrimaryToken) {
		b.settle()
		return err
	}
	if err != nil {
		return fmt.Errorf("session: reading primary token: %w", err)
	}

	fp := fingerprint(primary)
	if b.valid(fp) {
		return nil
	}

	// The exchange outlives any single caller so the others still get it.
	ch := b.flight.DoChan(fp, func() (any, error) {
		return nil, b.exchange(context.WithoutCancel(ctx), primary, fp)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (b *Bridge) exchange(ctx context.Context, primary, fp string) (err error) {
	reportErr, reportChange, end := b.tracker.Start(ctx, "exchange", "session")
	defer end()
	defer func() { reportErr(err) }()

	if b.valid(fp) {
		return nil
	}
	cred, err := b.exchanger.Exchange(ctx, primary)
	if err != nil {
		return &ExchangeError{Cause: err}
	}
	if err := b.signer.SignIn(ctx, cred.Token); err != nil {
		return &ExchangeError{Cause: fmt.Errorf("sign in: %w", err)}
	}
	cred.fingerprint = fp

	b.mu.Lock()
	b.cred = &cred
	b.mu.Unlock()

	reportChange(cred.Subject, map[string]any{"expires_at": cred.ExpiresAt})
	b.settle()
	return nil
}

func (b *Bridge) valid(fp string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cred == nil || b.cred.fingerprint != fp {
		return false
	}
	return b.cred.ExpiresAt.IsZero() || b.now().Add(expirySkew).Before(b.cred.ExpiresAt)
}

func (b *Bridge) settle() {
	b.readyOnce.Do(func() { close(b.ready) })
}

// Ready is closed once the auth state has settled: after the first
// successful sign-in, or once it is known that no primary token exists.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// WaitReady blocks until Ready is closed or ctx is done.
func (b *Bridge) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Credential returns a copy of the current credential, if any.
func (b *Bridge) Credential() (Credential, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cred == nil {
		return Credential{}, false
	}
	return *b.cred, true
}

// Subject is the user id of the current credential, or "".
func (b *Bridge) Subject() string {
	cred, _ := b.Credential()
	return cred.Subject
}

func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
