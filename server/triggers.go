package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/troupelabs/troupe/store"
)

// HandleTriggers serves the trigger collection: GET lists, POST creates.
func (s *Server) HandleTriggers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTriggers(w, r)
	case http.MethodPost:
		s.handleCreateTrigger(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleTrigger serves GET, PUT and DELETE /api/triggers/{id}.
// PUT toggles the enabled flag only.
func (s *Server) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/triggers/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "trigger id required")
		return
	}
	id := parts[0]

	switch r.Method {
	case http.MethodGet:
		trigger, err := s.stores.Triggers.Get(id)
		if err != nil {
			handleError(w, s.log, err, "failed to get trigger")
			return
		}
		writeJSON(w, http.StatusOK, toTriggerResponse(trigger))

	case http.MethodPut:
		var req UpdateTriggerRequest
		if err := readJSON(w, r, &req); err != nil {
			return
		}
		if req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "enabled required")
			return
		}
		if err := s.stores.Triggers.SetEnabled(id, *req.Enabled); err != nil {
			handleError(w, s.log, err, "failed to update trigger")
			return
		}
		trigger, err := s.stores.Triggers.Get(id)
		if err != nil {
			handleError(w, s.log, err, "failed to get trigger")
			return
		}
		s.log.Infow("Trigger updated", "trigger_id", id, "enabled", *req.Enabled)
		writeJSON(w, http.StatusOK, toTriggerResponse(trigger))

	case http.MethodDelete:
		if err := s.stores.Triggers.Delete(id); err != nil {
			handleError(w, s.log, err, "failed to delete trigger")
			return
		}
		s.log.Infow("Trigger deleted", "trigger_id", id)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := s.stores.Triggers.List(r.URL.Query().Get("personaId"))
	if err != nil {
		writeWrappedError(w, s.log, err, "failed to list triggers", http.StatusInternalServerError)
		return
	}

	resp := ListTriggersResponse{
		Triggers: make([]TriggerResponse, 0, len(triggers)),
		Count:    len(triggers),
	}
	for _, t := range triggers {
		resp.Triggers = append(resp.Triggers, toTriggerResponse(t))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req CreateTriggerRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if req.PersonaID == "" {
		writeError(w, http.StatusBadRequest, "personaId required")
		return
	}
	switch req.TriggerType {
	case "", store.TriggerTypeManual, store.TriggerTypeSchedule,
		store.TriggerTypePolling, store.TriggerTypeWebhook, store.TriggerTypeChain:
	default:
		writeError(w, http.StatusBadRequest, "unknown trigger type: "+req.TriggerType)
		return
	}

	persona, err := s.stores.Personas.Get(req.PersonaID)
	if err != nil {
		handleError(w, s.log, err, "failed to resolve persona")
		return
	}

	projectID := req.ProjectID
	if projectID == "" {
		projectID = persona.ProjectID
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	trigger := &store.Trigger{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		PersonaID:   req.PersonaID,
		TriggerType: req.TriggerType,
		Config:      string(req.Config),
		Enabled:     enabled,
		UseCaseID:   req.UseCaseID,
	}

	if err := s.stores.Triggers.Create(trigger); err != nil {
		writeWrappedError(w, s.log, err, "failed to create trigger", http.StatusInternalServerError)
		return
	}

	s.log.Infow("Trigger created",
		"trigger_id", trigger.ID,
		"persona_id", trigger.PersonaID,
		"trigger_type", trigger.TriggerType,
	)

	writeJSON(w, http.StatusCreated, toTriggerResponse(trigger))
}
