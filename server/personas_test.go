package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePersonaDefaults(t *testing.T) {
	srv := newTestServer(t)

	p := createTestPersona(t, srv, CreatePersonaRequest{Name: "scout"})
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "default", p.ProjectID)
	assert.Equal(t, "scout", p.Name)
	assert.True(t, p.Enabled)
	assert.Equal(t, 1, p.MaxConcurrent)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestCreatePersonaRequiresName(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/personas", CreatePersonaRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePersonaDisabled(t *testing.T) {
	srv := newTestServer(t)

	enabled := false
	p := createTestPersona(t, srv, CreatePersonaRequest{Name: "benched", Enabled: &enabled})
	assert.False(t, p.Enabled)
}

func TestGetPersona(t *testing.T) {
	srv := newTestServer(t)
	created := createTestPersona(t, srv, CreatePersonaRequest{
		Name:         "researcher",
		SystemPrompt: "You dig through archives.",
	})

	w := doJSON(t, srv, http.MethodGet, "/api/personas/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var p PersonaResponse
	decodeJSON(t, w, &p)
	assert.Equal(t, created.ID, p.ID)
	assert.Equal(t, "You dig through archives.", p.SystemPrompt)
}

func TestGetPersonaNotFound(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/personas/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdatePersonaPartial(t *testing.T) {
	srv := newTestServer(t)
	created := createTestPersona(t, srv, CreatePersonaRequest{
		Name:        "editor",
		Description: "first draft",
	})

	desc := "second draft"
	budget := 5.0
	w := doJSON(t, srv, http.MethodPut, "/api/personas/"+created.ID, UpdatePersonaRequest{
		Description:    &desc,
		BudgetDailyUSD: &budget,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var p PersonaResponse
	decodeJSON(t, w, &p)
	assert.Equal(t, "editor", p.Name, "untouched fields survive")
	assert.Equal(t, "second draft", p.Description)
	assert.Equal(t, 5.0, p.BudgetDailyUSD)
}

func TestUpdatePersonaEmptyName(t *testing.T) {
	srv := newTestServer(t)
	created := createTestPersona(t, srv, CreatePersonaRequest{Name: "named"})

	empty := ""
	w := doJSON(t, srv, http.MethodPut, "/api/personas/"+created.ID, UpdatePersonaRequest{Name: &empty})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdatePersonaNotFound(t *testing.T) {
	srv := newTestServer(t)
	desc := "nope"
	w := doJSON(t, srv, http.MethodPut, "/api/personas/ghost", UpdatePersonaRequest{Description: &desc})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeletePersona(t *testing.T) {
	srv := newTestServer(t)
	created := createTestPersona(t, srv, CreatePersonaRequest{Name: "ephemeral"})

	w := doJSON(t, srv, http.MethodDelete, "/api/personas/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/personas/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/api/personas/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPersonasByProject(t *testing.T) {
	srv := newTestServer(t)
	createTestPersona(t, srv, CreatePersonaRequest{Name: "alpha-1", ProjectID: "alpha"})
	createTestPersona(t, srv, CreatePersonaRequest{Name: "alpha-2", ProjectID: "alpha"})
	createTestPersona(t, srv, CreatePersonaRequest{Name: "beta-1", ProjectID: "beta"})

	w := doJSON(t, srv, http.MethodGet, "/api/personas?projectId=alpha", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list ListPersonasResponse
	decodeJSON(t, w, &list)
	assert.Equal(t, 2, list.Count)

	w = doJSON(t, srv, http.MethodGet, "/api/personas", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &list)
	assert.Equal(t, 3, list.Count)
}

func TestPersonaModelProfileRedaction(t *testing.T) {
	srv := newTestServer(t)
	created := createTestPersona(t, srv, CreatePersonaRequest{
		Name:         "proxied",
		ModelProfile: json.RawMessage(`{"provider":"openrouter","model":"gpt-4.1","authToken":"sk-or-verysecret"}`),
	})

	assert.NotContains(t, string(created.ModelProfile), "sk-or-verysecret")

	w := doJSON(t, srv, http.MethodGet, "/api/personas/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-or-verysecret")

	var p PersonaResponse
	decodeJSON(t, w, &p)
	var profile map[string]any
	require.NoError(t, json.Unmarshal(p.ModelProfile, &profile))
	assert.Equal(t, "openrouter", profile["provider"])
	assert.NotContains(t, profile, "authToken")

	w = doJSON(t, srv, http.MethodGet, "/api/personas", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-or-verysecret")
}

func TestUnknownPersonaSubresource(t *testing.T) {
	srv := newTestServer(t)
	created := createTestPersona(t, srv, CreatePersonaRequest{Name: "plain"})

	w := doJSON(t, srv, http.MethodGet, "/api/personas/"+created.ID+"/sessions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
