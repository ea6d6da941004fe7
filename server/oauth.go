package server

import (
	"net/http"
	"time"

	"github.com/troupelabs/troupe/token"
)

// HandleOAuthToken serves POST and DELETE /api/oauth/token. Token material
// stays in the provider's memory; responses and logs carry metadata only.
func (s *Server) HandleOAuthToken(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleInstallToken(w, r)

	case http.MethodDelete:
		s.tokens.Clear()
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleOAuthStatus serves GET /api/oauth/status.
func (s *Server) HandleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.tokens.Status())
}

func (s *Server) handleInstallToken(w http.ResponseWriter, r *http.Request) {
	var req InstallTokenRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	var expiresAt time.Time
	switch {
	case req.ExpiresAt != nil:
		expiresAt = req.ExpiresAt.UTC()
	case req.ExpiresIn > 0:
		expiresAt = time.Now().UTC().Add(time.Duration(req.ExpiresIn) * time.Second)
	}

	err := s.tokens.Install(token.Tuple{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    expiresAt,
		Scopes:       req.Scopes,
	})
	if err != nil {
		handleError(w, s.log, err, "failed to install token")
		return
	}

	writeJSON(w, http.StatusOK, s.tokens.Status())
}
