package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/troupelabs/troupe/store"
)

// HandleTools serves the tool collection: GET lists, POST creates.
func (s *Server) HandleTools(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTools(w, r)
	case http.MethodPost:
		s.handleCreateTool(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleTool serves GET and DELETE /api/tools/{id}.
func (s *Server) HandleTool(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/tools/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "tool id required")
		return
	}
	id := parts[0]

	switch r.Method {
	case http.MethodGet:
		tool, err := s.stores.Tools.Get(id)
		if err != nil {
			handleError(w, s.log, err, "failed to get tool")
			return
		}
		writeJSON(w, http.StatusOK, toToolResponse(tool))

	case http.MethodDelete:
		if err := s.stores.Tools.Delete(id); err != nil {
			handleError(w, s.log, err, "failed to delete tool")
			return
		}
		s.log.Infow("Tool deleted", "tool_id", id)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.stores.Tools.List()
	if err != nil {
		writeWrappedError(w, s.log, err, "failed to list tools", http.StatusInternalServerError)
		return
	}

	resp := ListToolsResponse{
		Tools: make([]ToolResponse, 0, len(tools)),
		Count: len(tools),
	}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, toToolResponse(t))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	var req CreateToolRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	tool := &store.ToolDefinition{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Usage:       req.Usage,
		Schema:      string(req.Schema),
	}

	if err := s.stores.Tools.Create(tool); err != nil {
		handleError(w, s.log, err, "failed to create tool")
		return
	}

	s.log.Infow("Tool created", "tool_id", tool.ID, "name", tool.Name)
	writeJSON(w, http.StatusCreated, toToolResponse(tool))
}
