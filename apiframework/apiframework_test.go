package apiframework_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/contenox/chatsync/apiframework"
	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/libauth"
	libdb "github.com/contenox/chatsync/libdbexec"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, err error, op apiframework.Operation) (int, error) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rooms/x", nil)
	require.NoError(t, apiframework.Error(rec, req, err, op))
	return rec.Code, apiframework.HandleAPIError(rec.Result())
}

func TestUnit_Error_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		op     apiframework.Operation
		status int
		is     error
	}{
		{"store not found", fmt.Errorf("get room: %w", chatstore.ErrNotFound), apiframework.GetOperation, http.StatusNotFound, apiframework.ErrNotFound},
		{"db not found", libdb.ErrNotFound, apiframework.GetOperation, http.StatusNotFound, apiframework.ErrNotFound},
		{"missing room on append", libdb.ErrForeignKeyViolation, apiframework.CreateOperation, http.StatusNotFound, apiframework.ErrNotFound},
		{"version conflict", chatstore.ErrVersionConflict, apiframework.UpdateOperation, http.StatusConflict, apiframework.ErrConflict},
		{"invalid room", chatstore.ErrInvalidRoom, apiframework.CreateOperation, http.StatusUnprocessableEntity, apiframework.ErrUnprocessableEntity},
		{"expired token", libauth.ErrTokenExpired, apiframework.AuthorizeOperation, http.StatusUnauthorized, apiframework.ErrUnauthorized},
		{"forbidden", apiframework.Forbidden("not a participant"), apiframework.GetOperation, http.StatusForbidden, apiframework.ErrForbidden},
		{"bad path", apiframework.BadPathValue("id"), apiframework.GetOperation, http.StatusBadRequest, apiframework.ErrBadPathValue},
		{"unknown on read", errors.New("connection reset"), apiframework.ListOperation, http.StatusInternalServerError, apiframework.ErrInternalServerError},
		{"unknown on write", errors.New("weird"), apiframework.CreateOperation, http.StatusUnprocessableEntity, apiframework.ErrUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, err := roundTrip(t, tc.err, tc.op)
			require.Equal(t, tc.status, status)
			require.ErrorIs(t, err, tc.is)
		})
	}
}

func TestUnit_Error_HidesInternalMessages(t *testing.T) {
	_, err := roundTrip(t, errors.New("pq: password authentication failed"), apiframework.ServerOperation)
	require.NotContains(t, err.Error(), "password")

	var apiErr *apiframework.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode())
}

func TestUnit_Decode(t *testing.T) {
	type body struct {
		Text string `json:"text"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"hi"}`))
	got, err := apiframework.Decode[body](req)
	require.NoError(t, err)
	require.Equal(t, "hi", got.Text)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	_, err = apiframework.Decode[body](req)
	require.ErrorIs(t, err, apiframework.ErrEmptyRequestBody)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	_, err = apiframework.Decode[body](req)
	require.ErrorIs(t, err, apiframework.ErrBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("text=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = apiframework.Decode[body](req)
	require.ErrorIs(t, err, apiframework.ErrUnsupportedMediaType)
}

func TestUnit_GetIntQueryParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=50", nil)
	n, err := apiframework.GetIntQueryParam(req, "limit", 200, 1, 500, "")
	require.NoError(t, err)
	require.Equal(t, 50, n)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	n, err = apiframework.GetIntQueryParam(req, "limit", 200, 1, 500, "")
	require.NoError(t, err)
	require.Equal(t, 200, n)

	req = httptest.NewRequest(http.MethodGet, "/?limit=0", nil)
	_, err = apiframework.GetIntQueryParam(req, "limit", 200, 1, 500, "")
	require.ErrorIs(t, err, apiframework.ErrBadQueryValue)
}

func TestUnit_RequireIdentity(t *testing.T) {
	authority, err := libauth.New(libauth.Config{Secret: []byte("s"), TTL: time.Minute})
	require.NoError(t, err)

	handler := apiframework.RequireIdentity(authority, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := libauth.IdentityFrom(r.Context())
		require.NoError(t, err)
		_, _ = w.Write([]byte(id))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := authority.Mint("u1")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u1", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
