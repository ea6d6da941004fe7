package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupelabs/troupe/token"
)

func TestOAuthStatusEmpty(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/oauth/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status token.Status
	decodeJSON(t, w, &status)
	assert.False(t, status.Installed)
}

func TestInstallToken(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/oauth/token", InstallTokenRequest{
		AccessToken: "at-secret-material",
		ExpiresIn:   3600,
		Scopes:      []string{"user:inference"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "at-secret-material", "token material stays in memory")

	var status token.Status
	decodeJSON(t, w, &status)
	assert.True(t, status.Installed)
	assert.Equal(t, []string{"user:inference"}, status.Scopes)
	require.NotNil(t, status.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *status.ExpiresAt, time.Minute)
}

func TestInstallTokenExplicitExpiry(t *testing.T) {
	srv := newTestServer(t)
	expires := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)

	w := doJSON(t, srv, http.MethodPost, "/api/oauth/token", InstallTokenRequest{
		AccessToken: "at-abc",
		ExpiresAt:   &expires,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var status token.Status
	decodeJSON(t, w, &status)
	require.NotNil(t, status.ExpiresAt)
	assert.True(t, status.ExpiresAt.Equal(expires))
}

func TestInstallTokenRequiresAccessToken(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/oauth/token", InstallTokenRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearToken(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/oauth/token", InstallTokenRequest{AccessToken: "at-xyz"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/api/oauth/token", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/oauth/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status token.Status
	decodeJSON(t, w, &status)
	assert.False(t, status.Installed)
}
