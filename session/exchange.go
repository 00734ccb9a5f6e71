package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contenox/chatsync/libauth"
	"github.com/golang-jwt/jwt/v5"
)

// ExchangePath is the route of the scoped-token endpoint.
const ExchangePath = "/auth/firebase/custom-token"

// HTTPExchanger calls the exchange endpoint of the primary backend.
type HTTPExchanger struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExchanger targets baseURL. A nil client means a 10s-timeout default.
func NewHTTPExchanger(baseURL string, client *http.Client) *HTTPExchanger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPExchanger{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type exchangeResponse struct {
	Token string `json:"token"`
}

// Exchange posts the primary token as a bearer and reads {"token": ...}.
// Any non-2xx status is a failure; its body is ignored.
func (e *HTTPExchanger) Exchange(ctx context.Context, primaryToken string) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+ExchangePath, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+primaryToken)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Credential{}, fmt.Errorf("exchange endpoint returned %s", resp.Status)
	}
	var body exchangeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return Credential{}, fmt.Errorf("decode response: %w", err)
	}
	if body.Token == "" {
		return Credential{}, fmt.Errorf("exchange endpoint returned no token")
	}
	return credentialFromToken(body.Token), nil
}

// credentialFromToken reads subject and expiry from a JWT without checking
// its signature; the store verifies it. Opaque tokens carry neither.
func credentialFromToken(token string) Credential {
	cred := Credential{Token: token}
	var claims libauth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return cred
	}
	cred.Subject = claims.Identity()
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	return cred
}
