package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/troupelabs/troupe/store"
)

// HandleEvents serves the event collection: GET lists, POST injects an
// event and runs it through the processor before responding.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListEvents(w, r)
	case http.MethodPost:
		s.handleInjectEvent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleEvent serves GET /api/events/{id}.
func (s *Server) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	parts := extractPathParts(r.URL.Path, "/api/events/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "event id required")
		return
	}

	event, err := s.stores.Events.Get(parts[0])
	if err != nil {
		handleError(w, s.log, err, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, toEventResponse(event))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 100
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	events, err := s.stores.Events.List(q.Get("projectId"), limit)
	if err != nil {
		writeWrappedError(w, s.log, err, "failed to list events", http.StatusInternalServerError)
		return
	}

	resp := ListEventsResponse{
		Events: make([]EventResponse, 0, len(events)),
		Count:  len(events),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, toEventResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInjectEvent(w http.ResponseWriter, r *http.Request) {
	var req InjectEventRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "eventType required")
		return
	}

	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = store.EventSourceAPI
	}
	projectID := req.ProjectID
	if projectID == "" {
		projectID = "default"
	}

	event := &store.Event{
		ID:              uuid.NewString(),
		EventType:       req.EventType,
		SourceType:      sourceType,
		SourceID:        req.SourceID,
		TargetPersonaID: req.TargetPersonaID,
		UseCaseID:       req.UseCaseID,
		ProjectID:       projectID,
		Payload:         string(req.Payload),
	}

	if err := s.stores.Events.Create(event); err != nil {
		writeWrappedError(w, s.log, err, "failed to create event", http.StatusInternalServerError)
		return
	}

	// Process synchronously so the response carries the routed status
	// instead of a pending placeholder.
	if err := s.processor.Drain(r.Context()); err != nil {
		s.log.Warnw("Event processing after injection failed", "event_id", event.ID, "error", err)
	}

	refreshed, err := s.stores.Events.Get(event.ID)
	if err != nil {
		handleError(w, s.log, err, "failed to get event")
		return
	}

	s.log.Infow("Event injected",
		"event_id", event.ID,
		"event_type", event.EventType,
		"status", refreshed.Status,
	)

	writeJSON(w, http.StatusCreated, toEventResponse(refreshed))
}
