package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/troupelabs/troupe/store"
)

// HandleSubscriptions serves the subscription collection:
// GET lists, POST creates.
func (s *Server) HandleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSubscriptions(w, r)
	case http.MethodPost:
		s.handleCreateSubscription(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleSubscription serves GET, PUT and DELETE /api/subscriptions/{id}.
// PUT toggles the enabled flag only.
func (s *Server) HandleSubscription(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/subscriptions/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "subscription id required")
		return
	}
	id := parts[0]

	switch r.Method {
	case http.MethodGet:
		sub, err := s.stores.Subscriptions.Get(id)
		if err != nil {
			handleError(w, s.log, err, "failed to get subscription")
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))

	case http.MethodPut:
		var req UpdateSubscriptionRequest
		if err := readJSON(w, r, &req); err != nil {
			return
		}
		if req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "enabled required")
			return
		}
		if err := s.stores.Subscriptions.SetEnabled(id, *req.Enabled); err != nil {
			handleError(w, s.log, err, "failed to update subscription")
			return
		}
		sub, err := s.stores.Subscriptions.Get(id)
		if err != nil {
			handleError(w, s.log, err, "failed to get subscription")
			return
		}
		s.log.Infow("Subscription updated", "subscription_id", id, "enabled", *req.Enabled)
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))

	case http.MethodDelete:
		if err := s.stores.Subscriptions.Delete(id); err != nil {
			handleError(w, s.log, err, "failed to delete subscription")
			return
		}
		s.log.Infow("Subscription deleted", "subscription_id", id)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.stores.Subscriptions.List(r.URL.Query().Get("projectId"))
	if err != nil {
		writeWrappedError(w, s.log, err, "failed to list subscriptions", http.StatusInternalServerError)
		return
	}

	resp := ListSubscriptionsResponse{
		Subscriptions: make([]SubscriptionResponse, 0, len(subs)),
		Count:         len(subs),
	}
	for _, sub := range subs {
		resp.Subscriptions = append(resp.Subscriptions, toSubscriptionResponse(sub))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "eventType required")
		return
	}
	if req.TargetPersonaID == "" {
		writeError(w, http.StatusBadRequest, "targetPersonaId required")
		return
	}
	if _, err := s.stores.Personas.Get(req.TargetPersonaID); err != nil {
		handleError(w, s.log, err, "failed to resolve target persona")
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

	sub := &store.Subscription{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		EventType:       req.EventType,
		TargetPersonaID: req.TargetPersonaID,
		SourceFilter:    req.SourceFilter,
		Enabled:         enabled,
	}

	if err := s.stores.Subscriptions.Create(sub); err != nil {
		writeWrappedError(w, s.log, err, "failed to create subscription", http.StatusInternalServerError)
		return
	}

	s.log.Infow("Subscription created",
		"subscription_id", sub.ID,
		"event_type", sub.EventType,
		"target_persona_id", sub.TargetPersonaID,
	)

	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}
