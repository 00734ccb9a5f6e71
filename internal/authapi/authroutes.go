package authapi

import (
	"net/http"
	"time"

	serverops "github.com/contenox/chatsync/apiframework"
	"github.com/contenox/chatsync/internal/metrics"
	"github.com/contenox/chatsync/session"
)

// Minter is satisfied by *libauth.Authority.
type Minter interface {
	Mint(subject string) (string, time.Time, error)
}

// AddAuthRoutes serves the exchange of a primary bearer token, verified by
// primary, for a store scoped token minted by scoped.
func AddAuthRoutes(mux *http.ServeMux, primary serverops.TokenVerifier, scoped Minter) {
	a := &authManager{primary: primary, scoped: scoped}
	mux.HandleFunc("POST "+session.ExchangePath, a.exchange)
}

type authManager struct {
	primary serverops.TokenVerifier
	scoped  Minter
}

type tokenResponse struct {
	Token     string    `json:"token" example:"eyJhbGciOiJIUzI1NiIs..."`
	ExpiresAt time.Time `json:"expiresAt" example:"2024-01-01T00:00:00Z"`
}

// Exchanges the caller's primary token for a chat store token.
//
// The user id is taken from the "sub" claim, or "nameid" when sub is absent.
// Missing or invalid tokens are answered with 401.
func (a *authManager) exchange(w http.ResponseWriter, r *http.Request) {
	token, err := serverops.BearerToken(r)
	if err != nil {
		metrics.TokenExchanges.WithLabelValues("rejected").Inc()
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}
	claims, err := a.primary.Verify(token)
	if err != nil {
		metrics.TokenExchanges.WithLabelValues("rejected").Inc()
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}
	scoped, expires, err := a.scoped.Mint(claims.Identity())
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}
	metrics.TokenExchanges.WithLabelValues("ok").Inc()
	_ = serverops.Encode(w, r, http.StatusOK, tokenResponse{Token: scoped, ExpiresAt: expires}) // @response authapi.tokenResponse
}
