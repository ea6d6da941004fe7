package server

import (
	"net/http"
	"strconv"

	"github.com/troupelabs/troupe/dispatch"
	"github.com/troupelabs/troupe/store"
)

// HandleExecute serves POST /api/execute, the direct submission endpoint.
func (s *Server) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.submitExecution(w, r)
}

// HandleExecutions serves the execution collection:
// GET lists, POST submits (same semantics as /api/execute).
func (s *Server) HandleExecutions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListExecutions(w, r)
	case http.MethodPost:
		s.submitExecution(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleExecution serves a single execution:
// GET /api/executions/{id} and POST /api/executions/{id}/cancel.
func (s *Server) HandleExecution(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/executions/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "execution id required")
		return
	}
	id := parts[0]

	if len(parts) >= 2 && parts[1] == "cancel" {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		s.handleCancelExecution(w, r, id)
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	exec, err := s.disp.Execution(id)
	if err != nil {
		handleError(w, s.log, err, "failed to get execution")
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) submitExecution(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	id, err := s.disp.Submit(&dispatch.Request{
		PersonaID: req.PersonaID,
		ProjectID: req.ProjectID,
		Prompt:    req.Prompt,
		InputData: req.InputData,
		TimeoutMs: req.TimeoutMs,
	})
	if err != nil {
		handleError(w, s.log, err, "failed to submit execution")
		return
	}

	writeJSON(w, http.StatusAccepted, ExecuteResponse{
		ExecutionID: id,
		Status:      store.ExecStatusQueued,
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	rows, err := s.stores.Executions.List(q.Get("personaId"), q.Get("status"), limit)
	if err != nil {
		writeWrappedError(w, s.log, err, "failed to list executions", http.StatusInternalServerError)
		return
	}

	execs := make([]*dispatch.Execution, 0, len(rows))
	for _, row := range rows {
		execs = append(execs, dispatch.FromRow(row))
	}

	writeJSON(w, http.StatusOK, ListExecutionsResponse{
		Executions: execs,
		Count:      len(execs),
	})
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request, id string) {
	// Resolve first so an unknown id is a 404, not a silent no-op.
	if _, err := s.disp.Execution(id); err != nil {
		handleError(w, s.log, err, "failed to cancel execution")
		return
	}

	requested := s.disp.Cancel(id)
	s.log.Infow("Execution cancel requested",
		"execution_id", shortID(id),
		"delivered", requested,
	)

	writeJSON(w, http.StatusOK, CancelResponse{
		ExecutionID:     id,
		CancelRequested: requested,
	})
}
