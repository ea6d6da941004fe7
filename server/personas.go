package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/troupelabs/troupe/errors"
	"github.com/troupelabs/troupe/store"
)

// HandlePersonas serves the persona collection: GET lists, POST creates.
func (s *Server) HandlePersonas(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListPersonas(w, r)
	case http.MethodPost:
		s.handleCreatePersona(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandlePersona serves a single persona and its subresources:
// GET/PUT/DELETE /api/personas/{id}, plus /tools and /credentials below it.
func (s *Server) HandlePersona(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/personas/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "persona id required")
		return
	}
	id := parts[0]

	if len(parts) >= 2 && parts[1] != "" {
		switch parts[1] {
		case "tools":
			s.handlePersonaTools(w, r, id, parts[2:])
		case "credentials":
			s.handlePersonaCredentials(w, r, id, parts[2:])
		default:
			writeError(w, http.StatusNotFound, "unknown persona subresource")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetPersona(w, r, id)
	case http.MethodPut:
		s.handleUpdatePersona(w, r, id)
	case http.MethodDelete:
		s.handleDeletePersona(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := s.stores.Personas.List(r.URL.Query().Get("projectId"))
	if err != nil {
		writeWrappedError(w, s.log, err, "failed to list personas", http.StatusInternalServerError)
		return
	}

	resp := ListPersonasResponse{
		Personas: make([]PersonaResponse, 0, len(personas)),
		Count:    len(personas),
	}
	for _, p := range personas {
		resp.Personas = append(resp.Personas, toPersonaResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonaRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	projectID := req.ProjectID
	if projectID == "" {
		projectID = "default"
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	p := &store.Persona{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		UserID:           req.UserID,
		Name:             req.Name,
		Description:      req.Description,
		SystemPrompt:     req.SystemPrompt,
		StructuredPrompt: string(req.StructuredPrompt),
		ModelProfile:     string(req.ModelProfile),
		MaxConcurrent:    req.MaxConcurrent,
		TimeoutMs:        req.TimeoutMs,
		BudgetDailyUSD:   req.BudgetDailyUSD,
		BudgetMonthlyUSD: req.BudgetMonthlyUSD,
		Enabled:          enabled,
	}

	if err := s.stores.Personas.Create(p); err != nil {
		writeWrappedError(w, s.log, err, "failed to create persona", http.StatusInternalServerError)
		return
	}

	s.log.Infow("Persona created",
		"persona_id", p.ID,
		"name", p.Name,
		"project_id", p.ProjectID,
	)

	writeJSON(w, http.StatusCreated, toPersonaResponse(p))
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request, id string) {
	p, err := s.stores.Personas.Get(id)
	if err != nil {
		handleError(w, s.log, err, "failed to get persona")
		return
	}
	writeJSON(w, http.StatusOK, toPersonaResponse(p))
}

func (s *Server) handleUpdatePersona(w http.ResponseWriter, r *http.Request, id string) {
	var req UpdatePersonaRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	p, err := s.stores.Personas.Get(id)
	if err != nil {
		handleError(w, s.log, err, "failed to update persona")
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.SystemPrompt != nil {
		p.SystemPrompt = *req.SystemPrompt
	}
	if req.StructuredPrompt != nil {
		p.StructuredPrompt = string(*req.StructuredPrompt)
	}
	if req.ModelProfile != nil {
		p.ModelProfile = string(*req.ModelProfile)
	}
	if req.MaxConcurrent != nil {
		p.MaxConcurrent = *req.MaxConcurrent
	}
	if req.TimeoutMs != nil {
		p.TimeoutMs = *req.TimeoutMs
	}
	if req.BudgetDailyUSD != nil {
		p.BudgetDailyUSD = *req.BudgetDailyUSD
	}
	if req.BudgetMonthlyUSD != nil {
		p.BudgetMonthlyUSD = *req.BudgetMonthlyUSD
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}

	if err := s.stores.Personas.Update(p); err != nil {
		handleError(w, s.log, err, "failed to update persona")
		return
	}

	// Re-read for the stamped updated_at.
	updated, err := s.stores.Personas.Get(id)
	if err != nil {
		handleError(w, s.log, err, "failed to get persona")
		return
	}

	s.log.Infow("Persona updated", "persona_id", id)
	writeJSON(w, http.StatusOK, toPersonaResponse(updated))
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.stores.Personas.Delete(id); err != nil {
		handleError(w, s.log, err, "failed to delete persona")
		return
	}

	s.log.Infow("Persona deleted", "persona_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handlePersonaTools serves /api/personas/{id}/tools and
// /api/personas/{id}/tools/{toolId}.
func (s *Server) handlePersonaTools(w http.ResponseWriter, r *http.Request, personaID string, rest []string) {
	if _, err := s.stores.Personas.Get(personaID); err != nil {
		handleError(w, s.log, err, "failed to resolve persona")
		return
	}

	if len(rest) > 0 && rest[0] != "" {
		if !requireMethod(w, r, http.MethodDelete) {
			return
		}
		if err := s.stores.Tools.Detach(personaID, rest[0]); err != nil {
			handleError(w, s.log, err, "failed to detach tool")
			return
		}
		s.log.Infow("Tool detached", "persona_id", personaID, "tool_id", rest[0])
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.Method {
	case http.MethodGet:
		tools, err := s.stores.Tools.ListForPersona(personaID)
		if err != nil {
			writeWrappedError(w, s.log, err, "failed to list persona tools", http.StatusInternalServerError)
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

	case http.MethodPost:
		var req AttachToolRequest
		if err := readJSON(w, r, &req); err != nil {
			return
		}
		if req.ToolID == "" {
			writeError(w, http.StatusBadRequest, "toolId required")
			return
		}
		if _, err := s.stores.Tools.Get(req.ToolID); err != nil {
			handleError(w, s.log, err, "failed to attach tool")
			return
		}
		if err := s.stores.Tools.Attach(personaID, req.ToolID); err != nil {
			writeWrappedError(w, s.log, err, "failed to attach tool", http.StatusInternalServerError)
			return
		}
		s.log.Infow("Tool attached", "persona_id", personaID, "tool_id", req.ToolID)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handlePersonaCredentials serves /api/personas/{id}/credentials and
// /api/personas/{id}/credentials/{connector}. Stored material is write-only:
// listings return connector names, never values.
func (s *Server) handlePersonaCredentials(w http.ResponseWriter, r *http.Request, personaID string, rest []string) {
	if _, err := s.stores.Personas.Get(personaID); err != nil {
		handleError(w, s.log, err, "failed to resolve persona")
		return
	}

	if len(rest) > 0 && rest[0] != "" {
		if !requireMethod(w, r, http.MethodDelete) {
			return
		}
		if err := s.stores.Credentials.Delete(personaID, rest[0]); err != nil {
			handleError(w, s.log, err, "failed to delete credential")
			return
		}
		s.log.Infow("Credential deleted", "persona_id", personaID, "connector", rest[0])
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.Method {
	case http.MethodGet:
		connectors, err := s.stores.Credentials.ListConnectors(personaID)
		if err != nil {
			writeWrappedError(w, s.log, err, "failed to list credentials", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, ListConnectorsResponse{
			Connectors: connectors,
			Count:      len(connectors),
		})

	case http.MethodPost:
		s.handleCreateCredential(w, r, personaID)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request, personaID string) {
	if s.masterKey == nil {
		writeError(w, http.StatusServiceUnavailable, "credential encryption not configured")
		return
	}

	var req CreateCredentialRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Connector == "" {
		writeError(w, http.StatusBadRequest, "connector required")
		return
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "value required")
		return
	}

	plaintext, err := credentialPlaintext(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sealed, err := s.masterKey.Encrypt(plaintext)
	if err != nil {
		writeWrappedError(w, s.log, err, "failed to encrypt credential", http.StatusInternalServerError)
		return
	}

	cred := &store.Credential{
		ID:         uuid.NewString(),
		PersonaID:  personaID,
		Connector:  req.Connector,
		Ciphertext: sealed.Ciphertext,
		IV:         sealed.IV,
		AuthTag:    sealed.AuthTag,
	}
	if err := s.stores.Credentials.Put(cred); err != nil {
		writeWrappedError(w, s.log, err, "failed to store credential", http.StatusInternalServerError)
		return
	}

	s.log.Infow("Credential stored", "persona_id", personaID, "connector", req.Connector)
	writeJSON(w, http.StatusCreated, CredentialResponse{
		ID:        cred.ID,
		PersonaID: personaID,
		Connector: req.Connector,
		CreatedAt: cred.CreatedAt,
	})
}

// credentialPlaintext normalizes a submitted value. Objects of string fields
// are stored as compact JSON so materialization can expand them per field;
// bare strings are stored unquoted.
func credentialPlaintext(value json.RawMessage) ([]byte, error) {
	var fields map[string]string
	if err := json.Unmarshal(value, &fields); err == nil {
		if len(fields) == 0 {
			return nil, errors.New("credential object is empty")
		}
		return json.Marshal(fields)
	}

	var single string
	if err := json.Unmarshal(value, &single); err == nil {
		if single == "" {
			return nil, errors.New("credential string is empty")
		}
		return []byte(single), nil
	}

	return nil, errors.New("value must be a string or an object of string fields")
}
