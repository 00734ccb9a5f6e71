package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionSrc = `package session

const ExchangePath = "/auth/exchange"
`

const routesSrc = `package roomapi

import (
	"net/http"

	serverops "example.com/apiframework"
	"example.com/session"
)

func AddRoomRoutes(mux *http.ServeMux, verifier serverops.TokenVerifier) {
	s := &manager{}
	guard := func(h http.HandlerFunc) http.Handler { return serverops.RequireIdentity(verifier, h) }
	mux.Handle("PUT /rooms/{id}", guard(s.upsert))
	mux.HandleFunc("POST "+session.ExchangePath, s.exchange)
}

type manager struct{}

type Room struct {
	ID      string   ` + "`json:\"id\" example:\"alice_bob\"`" + `
	Members []string ` + "`json:\"members\"`" + `
	Topic   *Topic   ` + "`json:\"topic,omitempty\"`" + `
	secret  string
}

type Topic struct {
	Name string ` + "`json:\"name\"`" + `
}

type token struct {
	Token string ` + "`json:\"token\"`" + `
}

// Creates or merges a room.
func (s *manager) upsert(w http.ResponseWriter, r *http.Request) {
	_ = serverops.GetPathParam(r, "id", "The room id.")
	room, _ := serverops.Decode[Room](r) // @request roomapi.Room
	_ = serverops.Encode(w, r, http.StatusOK, room) // @response roomapi.Room
}

func (s *manager) exchange(w http.ResponseWriter, r *http.Request) {
	_ = serverops.Encode(w, r, http.StatusOK, token{}) // @response roomapi.token
}
`

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for path, src := range map[string]string{
		"session/exchange.go":    sessionSrc,
		"roomapi/routes.go":      routesSrc,
		"tools/ignored/skip.go":  "package broken(",
		"roomapi/routes_test.go": "package roomapi\n\nfunc AddTestRoutes() {}\n",
	} {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(src), 0o644))
	}
	return dir
}

func TestUnit_Build_RoutesAndSchemas(t *testing.T) {
	p, err := parseProject(writeProject(t))
	require.NoError(t, err)
	require.Len(t, p.files["roomapi"], 1)

	spec := build(p)

	rooms := spec.Paths.Find("/rooms/{id}")
	require.NotNil(t, rooms)
	require.NotNil(t, rooms.Put)
	assert.Equal(t, "Creates or merges a room.", rooms.Put.Summary)
	require.Len(t, rooms.Parameters, 1)
	assert.Equal(t, "id", rooms.Parameters[0].Value.Name)
	assert.Equal(t, "The room id.", rooms.Parameters[0].Value.Description)
	require.NotNil(t, rooms.Put.RequestBody)
	assert.Equal(t, "#/components/schemas/roomapi_Room",
		rooms.Put.RequestBody.Value.Content.Get("application/json").Schema.Ref)
	assert.NotNil(t, rooms.Put.Responses.Status(200))

	exchange := spec.Paths.Find("/auth/exchange")
	require.NotNil(t, exchange)
	assert.NotNil(t, exchange.Post)

	room := spec.Components.Schemas["roomapi_Room"]
	require.NotNil(t, room)
	assert.Contains(t, room.Value.Properties, "id")
	assert.Contains(t, room.Value.Properties, "members")
	assert.Contains(t, room.Value.Properties, "topic")
	assert.NotContains(t, room.Value.Properties, "secret")
	assert.Equal(t, []string{"id", "members"}, room.Value.Required)
	assert.Equal(t, "alice_bob", room.Value.Properties["id"].Value.Example)
	assert.Equal(t, "#/components/schemas/roomapi_Topic", room.Value.Properties["topic"].Ref)
	assert.Contains(t, spec.Components.Schemas, "roomapi_Topic")
	assert.Contains(t, spec.Components.Schemas, "roomapi_token")
	assert.Contains(t, spec.Components.Schemas, "ErrorResponse")
}

func TestUnit_Write_EmitsJSONAndYAML(t *testing.T) {
	p, err := parseProject(writeProject(t))
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "docs")

	require.NoError(t, write(build(p), out))

	for _, name := range []string{"openapi.json", "openapi.yaml"} {
		data, err := os.ReadFile(filepath.Join(out, name))
		require.NoError(t, err)
		assert.Contains(t, string(data), "/rooms/{id}")
	}
}
