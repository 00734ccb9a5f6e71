package apiframework

import (
	"net/http"
	"strings"

	"github.com/contenox/chatsync/libauth"
)

// TokenVerifier is satisfied by *libauth.Authority.
type TokenVerifier interface {
	Verify(token string) (*libauth.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", libauth.ErrTokenMissing
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", libauth.ErrTokenMissing
	}
	return strings.TrimSpace(token), nil
}

// RequireIdentity rejects requests without a valid bearer token and stores the
// token's identity in the request context for libauth.IdentityFrom.
func RequireIdentity(verifier TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r)
		if err != nil {
			_ = Error(w, r, err, AuthorizeOperation)
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			_ = Error(w, r, err, AuthorizeOperation)
			return
		}
		next.ServeHTTP(w, r.WithContext(libauth.WithIdentity(r.Context(), claims.Identity())))
	})
}
