// Package libauth verifies primary bearer tokens and mints the short lived,
// store scoped tokens they are exchanged for.
package libauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNotAuthorized           = errors.New("libauth: not authorized")
	ErrTokenExpired            = errors.New("libauth: token expired")
	ErrIssuedAtMissing         = errors.New("libauth: issued-at claim missing")
	ErrIssuedAtInFuture        = errors.New("libauth: issued-at claim in the future")
	ErrIdentityMissing         = errors.New("libauth: identity missing")
	ErrInvalidTokenClaims      = errors.New("libauth: invalid token claims")
	ErrTokenMissing            = errors.New("libauth: token missing")
	ErrUnexpectedSigningMethod = errors.New("libauth: unexpected signing method")
	ErrTokenParsingFailed      = errors.New("libauth: token parsing failed")
	ErrTokenSigningFailed      = errors.New("libauth: token signing failed")
	ErrMissingSecret           = errors.New("libauth: signing secret is empty")
)

// Claims accepts the subject either as "sub" or as the "nameid" claim some
// identity providers emit instead.
type Claims struct {
	jwt.RegisteredClaims
	NameID string `json:"nameid,omitempty"`
}

// Identity is the user id the token speaks for.
func (c *Claims) Identity() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.NameID
}

type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	// TTL of minted tokens.
	TTL    time.Duration
	Leeway time.Duration
}

// Authority signs and verifies HS256 tokens for one issuer/audience pair.
type Authority struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) (*Authority, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Authority{cfg: cfg, now: time.Now}, nil
}

// WithClock replaces the time source; used by tests.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	cp := *a
	cp.now = now
	return &cp
}

// Mint signs a token for subject valid for the configured TTL.
func (a *Authority) Mint(subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, ErrIdentityMissing
	}
	now := a.now()
	expires := now.Add(a.cfg.TTL)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrTokenSigningFailed, err)
	}
	return signed, expires, nil
}

// Verify parses token and checks signature, time claims, issuer, audience and
// identity. Every failure maps onto one of the package errors.
func (a *Authority) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithIssuedAt(),
		jwt.WithLeeway(a.cfg.Leeway),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedSigningMethod, t.Header["alg"])
		}
		return a.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, translate(err)
	}
	if claims.IssuedAt == nil {
		return nil, ErrIssuedAtMissing
	}
	if claims.Identity() == "" {
		return nil, ErrIdentityMissing
	}
	return claims, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, ErrUnexpectedSigningMethod):
		return ErrUnexpectedSigningMethod
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrIssuedAtInFuture
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %w", ErrInvalidTokenClaims, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrTokenParsingFailed, err)
	}
	return fmt.Errorf("%w: %w", ErrTokenParsingFailed, err)
}

type identityKey struct{}

// WithIdentity stores a verified user id in ctx.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the verified user id in ctx, or ErrNotAuthorized.
func IdentityFrom(ctx context.Context) (string, error) {
	id, _ := ctx.Value(identityKey{}).(string)
	if id == "" {
		return "", ErrNotAuthorized
	}
	return id, nil
}
