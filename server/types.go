package server

import (
	"encoding/json"
	"time"

	"github.com/troupelabs/troupe/dispatch"
	"github.com/troupelabs/troupe/pool"
	"github.com/troupelabs/troupe/store"
	"github.com/troupelabs/troupe/token"
)

// ExecuteRequest submits work. Prompt may be empty when personaId is set;
// the persona's assembled prompt is used instead.
type ExecuteRequest struct {
	PersonaID string         `json:"personaId,omitempty"`
	ProjectID string         `json:"projectId,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	InputData map[string]any `json:"inputData,omitempty"`
	TimeoutMs int64          `json:"timeoutMs,omitempty"`
}

// ExecuteResponse acknowledges a submission.
type ExecuteResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
}

// CancelResponse reports whether the cancel request reached the worker.
type CancelResponse struct {
	ExecutionID     string `json:"executionId"`
	CancelRequested bool   `json:"cancelRequested"`
}

// ListExecutionsResponse wraps an execution listing.
type ListExecutionsResponse struct {
	Executions []*dispatch.Execution `json:"executions"`
	Count      int                   `json:"count"`
}

// CreatePersonaRequest creates a persona. Enabled defaults to true.
type CreatePersonaRequest struct {
	ProjectID        string          `json:"projectId,omitempty"`
	UserID           string          `json:"userId,omitempty"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	SystemPrompt     string          `json:"systemPrompt,omitempty"`
	StructuredPrompt json.RawMessage `json:"structuredPrompt,omitempty"`
	ModelProfile     json.RawMessage `json:"modelProfile,omitempty"`
	MaxConcurrent    int             `json:"maxConcurrent,omitempty"`
	TimeoutMs        int64           `json:"timeoutMs,omitempty"`
	BudgetDailyUSD   float64         `json:"budgetDailyUsd,omitempty"`
	BudgetMonthlyUSD float64         `json:"budgetMonthlyUsd,omitempty"`
	Enabled          *bool           `json:"enabled,omitempty"`
}

// UpdatePersonaRequest patches a persona; nil fields are left untouched.
type UpdatePersonaRequest struct {
	Name             *string          `json:"name,omitempty"`
	Description      *string          `json:"description,omitempty"`
	SystemPrompt     *string          `json:"systemPrompt,omitempty"`
	StructuredPrompt *json.RawMessage `json:"structuredPrompt,omitempty"`
	ModelProfile     *json.RawMessage `json:"modelProfile,omitempty"`
	MaxConcurrent    *int             `json:"maxConcurrent,omitempty"`
	TimeoutMs        *int64           `json:"timeoutMs,omitempty"`
	BudgetDailyUSD   *float64         `json:"budgetDailyUsd,omitempty"`
	BudgetMonthlyUSD *float64         `json:"budgetMonthlyUsd,omitempty"`
	Enabled          *bool            `json:"enabled,omitempty"`
}

// PersonaResponse is the read shape of a persona. The model profile is
// served with its auth token removed.
type PersonaResponse struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"projectId"`
	UserID           string          `json:"userId,omitempty"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	SystemPrompt     string          `json:"systemPrompt,omitempty"`
	StructuredPrompt json.RawMessage `json:"structuredPrompt,omitempty"`
	ModelProfile     json.RawMessage `json:"modelProfile,omitempty"`
	MaxConcurrent    int             `json:"maxConcurrent"`
	TimeoutMs        int64           `json:"timeoutMs,omitempty"`
	BudgetDailyUSD   float64         `json:"budgetDailyUsd,omitempty"`
	BudgetMonthlyUSD float64         `json:"budgetMonthlyUsd,omitempty"`
	Enabled          bool            `json:"enabled"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// ListPersonasResponse wraps a persona listing.
type ListPersonasResponse struct {
	Personas []PersonaResponse `json:"personas"`
	Count    int               `json:"count"`
}

// CreateToolRequest defines a tool. Names are unique.
type CreateToolRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Usage       string          `json:"usage,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ToolResponse is the read shape of a tool definition.
type ToolResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Usage       string          `json:"usage,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ListToolsResponse wraps a tool listing.
type ListToolsResponse struct {
	Tools []ToolResponse `json:"tools"`
	Count int            `json:"count"`
}

// AttachToolRequest attaches an existing tool to a persona.
type AttachToolRequest struct {
	ToolID string `json:"toolId"`
}

// CreateCredentialRequest stores a connector secret. Value is either a flat
// JSON object of string fields or a single string; it is encrypted before
// it touches the database and never appears in any response.
type CreateCredentialRequest struct {
	Connector string          `json:"connector"`
	Value     json.RawMessage `json:"value"`
}

// CredentialResponse acknowledges a stored credential without its material.
type CredentialResponse struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"personaId"`
	Connector string    `json:"connector"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListConnectorsResponse lists the connector names configured for a
// persona. Names only; stored material is never served.
type ListConnectorsResponse struct {
	Connectors []string `json:"connectors"`
	Count      int      `json:"count"`
}

// CreateSubscriptionRequest routes an event type to a persona.
type CreateSubscriptionRequest struct {
	ProjectID       string `json:"projectId,omitempty"`
	EventType       string `json:"eventType"`
	TargetPersonaID string `json:"targetPersonaId"`
	SourceFilter    string `json:"sourceFilter,omitempty"`
	Enabled         *bool  `json:"enabled,omitempty"`
}

// UpdateSubscriptionRequest toggles a subscription.
type UpdateSubscriptionRequest struct {
	Enabled *bool `json:"enabled"`
}

// SubscriptionResponse is the read shape of a subscription.
type SubscriptionResponse struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	EventType       string    `json:"eventType"`
	TargetPersonaID string    `json:"targetPersonaId"`
	SourceFilter    string    `json:"sourceFilter,omitempty"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ListSubscriptionsResponse wraps a subscription listing.
type ListSubscriptionsResponse struct {
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
	Count         int                    `json:"count"`
}

// CreateTriggerRequest creates a periodic trigger for a persona.
type CreateTriggerRequest struct {
	ProjectID   string          `json:"projectId,omitempty"`
	PersonaID   string          `json:"personaId"`
	TriggerType string          `json:"triggerType,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
	UseCaseID   string          `json:"useCaseId,omitempty"`
}

// UpdateTriggerRequest toggles a trigger.
type UpdateTriggerRequest struct {
	Enabled *bool `json:"enabled"`
}

// TriggerResponse is the read shape of a trigger.
type TriggerResponse struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"projectId"`
	PersonaID       string          `json:"personaId"`
	TriggerType     string          `json:"triggerType"`
	Config          json.RawMessage `json:"config,omitempty"`
	Enabled         bool            `json:"enabled"`
	UseCaseID       string          `json:"useCaseId,omitempty"`
	LastTriggeredAt *time.Time      `json:"lastTriggeredAt,omitempty"`
	NextTriggerAt   *time.Time      `json:"nextTriggerAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// ListTriggersResponse wraps a trigger listing.
type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
	Count    int               `json:"count"`
}

// InjectEventRequest writes an event into the processing pipeline.
type InjectEventRequest struct {
	EventType       string          `json:"eventType"`
	SourceType      string          `json:"sourceType,omitempty"`
	SourceID        string          `json:"sourceId,omitempty"`
	TargetPersonaID string          `json:"targetPersonaId,omitempty"`
	UseCaseID       string          `json:"useCaseId,omitempty"`
	ProjectID       string          `json:"projectId,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// EventResponse is the read shape of an event.
type EventResponse struct {
	ID              string          `json:"id"`
	EventType       string          `json:"eventType"`
	SourceType      string          `json:"sourceType,omitempty"`
	SourceID        string          `json:"sourceId,omitempty"`
	TargetPersonaID string          `json:"targetPersonaId,omitempty"`
	UseCaseID       string          `json:"useCaseId,omitempty"`
	ProjectID       string          `json:"projectId"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Status          string          `json:"status"`
	StatusMessage   string          `json:"statusMessage,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"`
}

// ListEventsResponse wraps an event listing.
type ListEventsResponse struct {
	Events []EventResponse `json:"events"`
	Count  int             `json:"count"`
}

// InstallTokenRequest installs an OAuth token tuple. Expiry is taken from
// expiresAt when set, otherwise computed from expiresIn seconds.
type InstallTokenRequest struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	ExpiresIn    int64      `json:"expiresIn,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
}

// StatusResponse is the orchestrator-wide status view.
type StatusResponse struct {
	State       string            `json:"state"`
	Workers     []pool.WorkerInfo `json:"workers"`
	WorkerCount int               `json:"workerCount"`
	QueueDepth  int               `json:"queueDepth"`
	InFlight    int               `json:"inFlight"`
	Bus         BusStatus         `json:"bus"`
	Token       token.Status      `json:"token"`
	System      SystemStatus      `json:"system"`
}

// BusStatus reports the bus wiring.
type BusStatus struct {
	Enabled bool `json:"enabled"`
}

// SystemStatus carries host memory readings.
type SystemStatus struct {
	MemoryUsedGB  float64 `json:"memoryUsedGb"`
	MemoryTotalGB float64 `json:"memoryTotalGb"`
	MemoryPercent float64 `json:"memoryPercent"`
}

func toPersonaResponse(p *store.Persona) PersonaResponse {
	return PersonaResponse{
		ID:               p.ID,
		ProjectID:        p.ProjectID,
		UserID:           p.UserID,
		Name:             p.Name,
		Description:      p.Description,
		SystemPrompt:     p.SystemPrompt,
		StructuredPrompt: rawOrString(p.StructuredPrompt),
		ModelProfile:     redactModelProfile(p.ModelProfile),
		MaxConcurrent:    p.MaxConcurrent,
		TimeoutMs:        p.TimeoutMs,
		BudgetDailyUSD:   p.BudgetDailyUSD,
		BudgetMonthlyUSD: p.BudgetMonthlyUSD,
		Enabled:          p.Enabled,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// redactModelProfile strips the auth token before a profile is served.
func redactModelProfile(raw string) json.RawMessage {
	if raw == "" {
		return nil
	}
	var profile map[string]any
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return rawOrString(raw)
	}
	delete(profile, "authToken")
	out, err := json.Marshal(profile)
	if err != nil {
		return nil
	}
	return out
}

func toToolResponse(t *store.ToolDefinition) ToolResponse {
	return ToolResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Usage:       t.Usage,
		Schema:      rawOrString(t.Schema),
		CreatedAt:   t.CreatedAt,
	}
}

func toSubscriptionResponse(sub *store.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:              sub.ID,
		ProjectID:       sub.ProjectID,
		EventType:       sub.EventType,
		TargetPersonaID: sub.TargetPersonaID,
		SourceFilter:    sub.SourceFilter,
		Enabled:         sub.Enabled,
		CreatedAt:       sub.CreatedAt,
	}
}

func toTriggerResponse(t *store.Trigger) TriggerResponse {
	return TriggerResponse{
		ID:              t.ID,
		ProjectID:       t.ProjectID,
		PersonaID:       t.PersonaID,
		TriggerType:     t.TriggerType,
		Config:          rawOrString(t.Config),
		Enabled:         t.Enabled,
		UseCaseID:       t.UseCaseID,
		LastTriggeredAt: t.LastTriggeredAt,
		NextTriggerAt:   t.NextTriggerAt,
		CreatedAt:       t.CreatedAt,
	}
}

func toEventResponse(e *store.Event) EventResponse {
	return EventResponse{
		ID:              e.ID,
		EventType:       e.EventType,
		SourceType:      e.SourceType,
		SourceID:        e.SourceID,
		TargetPersonaID: e.TargetPersonaID,
		UseCaseID:       e.UseCaseID,
		ProjectID:       e.ProjectID,
		Payload:         rawOrString(e.Payload),
		Status:          e.Status,
		StatusMessage:   e.StatusMessage,
		CreatedAt:       e.CreatedAt,
		ProcessedAt:     e.ProcessedAt,
	}
}
