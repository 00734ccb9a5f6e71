package libauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/contenox/chatsync/libauth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newAuthority(t *testing.T, audience string) *libauth.Authority {
	t.Helper()
	a, err := libauth.New(libauth.Config{
		Secret:   []byte("test-secret"),
		Issuer:   "chatsync",
		Audience: audience,
		TTL:      time.Minute,
	})
	require.NoError(t, err)
	return a
}

func TestUnit_Authority_MintAndVerify(t *testing.T) {
	a := newAuthority(t, "chat-store")

	token, expires, err := a.Mint("u1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Minute), expires, 2*time.Second)

	claims, err := a.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Identity())
}

func TestUnit_Authority_RejectsExpired(t *testing.T) {
	a := newAuthority(t, "")
	past := a.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	token, _, err := past.Mint("u1")
	require.NoError(t, err)

	_, err = a.Verify(token)
	require.ErrorIs(t, err, libauth.ErrTokenExpired)
}

func TestUnit_Authority_RejectsFutureIssuedAt(t *testing.T) {
	a := newAuthority(t, "")
	future := a.WithClock(func() time.Time { return time.Now().Add(time.Hour) })
	token, _, err := future.Mint("u1")
	require.NoError(t, err)

	_, err = a.Verify(token)
	require.ErrorIs(t, err, libauth.ErrIssuedAtInFuture)
}

func TestUnit_Authority_RejectsForeignSecret(t *testing.T) {
	other, err := libauth.New(libauth.Config{Secret: []byte("other"), Issuer: "chatsync"})
	require.NoError(t, err)
	token, _, err := other.Mint("u1")
	require.NoError(t, err)

	_, err = newAuthority(t, "").Verify(token)
	require.ErrorIs(t, err, libauth.ErrNotAuthorized)
}

func TestUnit_Authority_RejectsWrongAudience(t *testing.T) {
	token, _, err := newAuthority(t, "primary").Mint("u1")
	require.NoError(t, err)

	_, err = newAuthority(t, "chat-store").Verify(token)
	require.ErrorIs(t, err, libauth.ErrInvalidTokenClaims)
}

func TestUnit_Authority_RejectsOtherAlgorithms(t *testing.T) {
	claims := jwt.RegisteredClaims{Subject: "u1", Issuer: "chatsync", IssuedAt: jwt.NewNumericDate(time.Now())}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = newAuthority(t, "").Verify(token)
	require.ErrorIs(t, err, libauth.ErrUnexpectedSigningMethod)
}

func TestUnit_Authority_AcceptsNameIDClaim(t *testing.T) {
	claims := libauth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "chatsync", IssuedAt: jwt.NewNumericDate(time.Now())},
		NameID:           "u7",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	got, err := newAuthority(t, "").Verify(token)
	require.NoError(t, err)
	require.Equal(t, "u7", got.Identity())
}

func TestUnit_Authority_MissingClaims(t *testing.T) {
	a := newAuthority(t, "")

	_, err := a.Verify("")
	require.ErrorIs(t, err, libauth.ErrTokenMissing)

	_, err = a.Verify("not-a-jwt")
	require.ErrorIs(t, err, libauth.ErrTokenParsingFailed)

	noIAT, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "chatsync"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = a.Verify(noIAT)
	require.ErrorIs(t, err, libauth.ErrIssuedAtMissing)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "chatsync", IssuedAt: jwt.NewNumericDate(time.Now())}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = a.Verify(noSub)
	require.ErrorIs(t, err, libauth.ErrIdentityMissing)

	_, _, err = a.Mint("")
	require.ErrorIs(t, err, libauth.ErrIdentityMissing)
}

func TestUnit_IdentityContext(t *testing.T) {
	_, err := libauth.IdentityFrom(context.Background())
	require.ErrorIs(t, err, libauth.ErrNotAuthorized)

	id, err := libauth.IdentityFrom(libauth.WithIdentity(context.Background(), "u1"))
	require.NoError(t, err)
	require.Equal(t, "u1", id)
}
