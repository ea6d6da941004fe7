package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// routes builds the CRUD API mux. Every route passes through CORS; all but
// the health probes also pass the API key gate.
func (s *Server) routes() *http.ServeMux {
	open := func(h http.HandlerFunc) http.HandlerFunc {
		return s.corsMiddleware(h)
	}
	api := func(h http.HandlerFunc) http.HandlerFunc {
		return s.corsMiddleware(s.requireAPIKey(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", open(s.HandleHealth))
	mux.HandleFunc("/api/health", open(s.HandleHealth))
	mux.HandleFunc("/api/status", api(s.HandleStatus))
	mux.HandleFunc("/api/execute", api(s.HandleExecute))          // Submit (POST)
	mux.HandleFunc("/api/executions", api(s.HandleExecutions))    // List (GET), submit (POST)
	mux.HandleFunc("/api/executions/", api(s.HandleExecution))    // Get (GET), cancel (POST /cancel)
	mux.HandleFunc("/api/personas", api(s.HandlePersonas))        // List/create (GET/POST)
	mux.HandleFunc("/api/personas/", api(s.HandlePersona))        // CRUD plus /tools and /credentials subresources
	mux.HandleFunc("/api/tools", api(s.HandleTools))              // List/create (GET/POST)
	mux.HandleFunc("/api/tools/", api(s.HandleTool))              // Get/delete (GET/DELETE)
	mux.HandleFunc("/api/subscriptions", api(s.HandleSubscriptions))
	mux.HandleFunc("/api/subscriptions/", api(s.HandleSubscription))
	mux.HandleFunc("/api/triggers", api(s.HandleTriggers))
	mux.HandleFunc("/api/triggers/", api(s.HandleTrigger))
	mux.HandleFunc("/api/events", api(s.HandleEvents)) // List (GET), inject (POST)
	mux.HandleFunc("/api/events/", api(s.HandleEvent))
	mux.HandleFunc("/api/oauth/token", api(s.HandleOAuthToken)) // Install (POST), clear (DELETE)
	mux.HandleFunc("/api/oauth/status", api(s.HandleOAuthStatus))
	mux.HandleFunc("/api/budget/", api(s.HandleBudget))
	return mux
}

// workerRoutes serves the worker WebSocket endpoint on its own port. The
// pool's token check is the gate; the API key never applies here.
func (s *Server) workerRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.workers.ServeWS)
	return mux
}

// corsMiddleware adds CORS headers using the configured allowed origins and
// answers preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if s.cfg.DevMode {
			w.Header().Set("Access-Control-Allow-Methods", "*")
			w.Header().Set("Access-Control-Allow-Headers", "*")
		} else {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// originAllowed prefix-matches against the configured origins so any port
// on an allowed host passes. No configured origins means localhost only.
func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost")
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// requireAPIKey compares the SHA-256 of X-API-Key against the configured
// hash. With no hash configured the gate is disabled.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.APIKeyHash == "" {
		return next
	}
	want := []byte(strings.ToLower(s.cfg.APIKeyHash))
	return func(w http.ResponseWriter, r *http.Request) {
		sum := sha256.Sum256([]byte(r.Header.Get("X-API-Key")))
		got := []byte(hex.EncodeToString(sum[:]))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}
