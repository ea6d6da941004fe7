package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestTool(t *testing.T, srv *Server, name string) ToolResponse {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/tools", CreateToolRequest{
		Name:        name,
		Description: "a test tool",
		Schema:      json.RawMessage(`{"type":"object"}`),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tool ToolResponse
	decodeJSON(t, w, &tool)
	return tool
}

func TestCreateTool(t *testing.T) {
	srv := newTestServer(t)

	tool := createTestTool(t, srv, "web_search")
	assert.NotEmpty(t, tool.ID)
	assert.Equal(t, "web_search", tool.Name)
	assert.JSONEq(t, `{"type":"object"}`, string(tool.Schema))
}

func TestCreateToolRequiresName(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/tools", CreateToolRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateToolDuplicateName(t *testing.T) {
	srv := newTestServer(t)
	createTestTool(t, srv, "calendar")

	w := doJSON(t, srv, http.MethodPost, "/api/tools", CreateToolRequest{Name: "calendar"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestToolLifecycle(t *testing.T) {
	srv := newTestServer(t)
	tool := createTestTool(t, srv, "jira")

	w := doJSON(t, srv, http.MethodGet, "/api/tools/"+tool.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list ListToolsResponse
	decodeJSON(t, w, &list)
	assert.Equal(t, 1, list.Count)

	w = doJSON(t, srv, http.MethodDelete, "/api/tools/"+tool.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/tools/"+tool.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAttachAndDetachTool(t *testing.T) {
	srv := newTestServer(t)
	persona := createTestPersona(t, srv, CreatePersonaRequest{Name: "tooluser"})
	tool := createTestTool(t, srv, "github_issues")

	attachPath := "/api/personas/" + persona.ID + "/tools"
	w := doJSON(t, srv, http.MethodPost, attachPath, AttachToolRequest{ToolID: tool.ID})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	// Attaching twice is a no-op.
	w = doJSON(t, srv, http.MethodPost, attachPath, AttachToolRequest{ToolID: tool.ID})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, attachPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list ListToolsResponse
	decodeJSON(t, w, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, tool.ID, list.Tools[0].ID)

	w = doJSON(t, srv, http.MethodDelete, attachPath+"/"+tool.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodDelete, attachPath+"/"+tool.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "second detach finds nothing")
}

func TestAttachToolValidation(t *testing.T) {
	srv := newTestServer(t)
	persona := createTestPersona(t, srv, CreatePersonaRequest{Name: "lonely"})

	w := doJSON(t, srv, http.MethodPost, "/api/personas/"+persona.ID+"/tools", AttachToolRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/personas/"+persona.ID+"/tools", AttachToolRequest{ToolID: "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/personas/ghost/tools", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
