package server

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	troupetest "github.com/troupelabs/troupe/internal/testing"
	"github.com/troupelabs/troupe/secrets"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithConfig(t, Config{}, nil)
}

func newTestServerWithKey(t *testing.T) *Server {
	t.Helper()
	key, err := secrets.NewMasterKey("test-passphrase")
	require.NoError(t, err)
	return newTestServerWithConfig(t, Config{}, key)
}

func newTestServerWithConfig(t *testing.T, cfg Config, key *secrets.MasterKey) *Server {
	t.Helper()
	conn := troupetest.CreateTestDB(t)
	return newTestServerOn(t, cfg, conn, key)
}

func newTestServerOn(t *testing.T, cfg Config, conn *sql.DB, key *secrets.MasterKey) *Server {
	t.Helper()
	if cfg.Pool.WorkerToken == "" {
		cfg.Pool.WorkerToken = "test-token"
	}
	srv, err := New(cfg, conn, key, zap.NewNop().Sugar())
	require.NoError(t, err)
	return srv
}

// doJSON drives a request through the full route table so middleware and
// path dispatch are exercised the same way a client would.
func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func newRawRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, strings.NewReader(body))
}

func serveRaw(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	return w
}

func createTestPersona(t *testing.T, srv *Server, req CreatePersonaRequest) PersonaResponse {
	t.Helper()
	if req.Name == "" {
		req.Name = "test-persona"
	}
	w := doJSON(t, srv, http.MethodPost, "/api/personas", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p PersonaResponse
	decodeJSON(t, w, &p)
	return p
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health map[string]any
	decodeJSON(t, w, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "starting", health["state"])
	assert.Contains(t, health, "version")
	assert.Contains(t, health, "commit")
	assert.EqualValues(t, 0, health["workers"])
	assert.EqualValues(t, 0, health["queue_depth"])
}

func TestHandleHealthDegraded(t *testing.T) {
	conn := troupetest.CreateTestDB(t)
	srv := newTestServerOn(t, Config{}, conn, nil)
	require.NoError(t, conn.Close())

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health map[string]any
	decodeJSON(t, w, &health)
	assert.Equal(t, "degraded", health["status"])
}

func TestHandleHealthAliased(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleStatus(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResponse
	decodeJSON(t, w, &status)
	assert.Equal(t, "starting", status.State)
	assert.Equal(t, 0, status.WorkerCount)
	assert.Empty(t, status.Workers)
	assert.Equal(t, 0, status.QueueDepth)
	assert.Equal(t, 0, status.InFlight)
	assert.False(t, status.Bus.Enabled)
	assert.False(t, status.Token.Installed)
}

func TestAPIKeyMiddleware(t *testing.T) {
	sum := sha256.Sum256([]byte("sekrit"))
	srv := newTestServerWithConfig(t, Config{APIKeyHash: hex.EncodeToString(sum[:])}, nil)
	mux := srv.routes()

	// Health stays open.
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Missing key.
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong key.
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct key.
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-API-Key", "sekrit")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyDisabledWhenUnset(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.routes()

	req := httptest.NewRequest(http.MethodOptions, "/api/personas", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSDevMode(t *testing.T) {
	srv := newTestServerWithConfig(t, Config{DevMode: true}, nil)
	mux := srv.routes()

	req := httptest.NewRequest(http.MethodOptions, "/api/personas", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRestrictedOrigin(t *testing.T) {
	srv := newTestServerWithConfig(t, Config{AllowedOrigins: []string{"https://console.example.com"}}, nil)
	mux := srv.routes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleBudget(t *testing.T) {
	srv := newTestServer(t)
	p := createTestPersona(t, srv, CreatePersonaRequest{
		Name:           "budgeted",
		BudgetDailyUSD: 10,
	})

	w := doJSON(t, srv, http.MethodGet, "/api/budget/"+p.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]any
	decodeJSON(t, w, &status)
	assert.Equal(t, p.ID, status["personaId"])
	assert.EqualValues(t, 10, status["dailyLimitUsd"])
	assert.Equal(t, false, status["dailyExceeded"])
}

func TestHandleBudgetNotFound(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/budget/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
