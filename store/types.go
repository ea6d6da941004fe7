// Package store persists orchestrator state in SQLite: personas and their
// attachments, the event and trigger pipelines, and execution history.
//
// Timestamps are stored as RFC3339 UTC text. JSON-valued columns
// (structured prompts, model profiles, payloads, trigger config) are kept
// as raw strings and interpreted by callers.
package store

import (
	"encoding/json"
	"time"
)

// Event statuses. Events move pending -> processing -> terminal.
const (
	EventStatusPending    = "pending"
	EventStatusProcessing = "processing"
	EventStatusDelivered  = "delivered" // every subscription match produced an execution
	EventStatusPartial    = "partial"   // some matches produced executions
	EventStatusFailed     = "failed"    // no match produced an execution
	EventStatusSkipped    = "skipped"   // no matching subscriptions
)

// Execution statuses.
const (
	ExecStatusQueued    = "queued"
	ExecStatusRunning   = "running"
	ExecStatusCompleted = "completed"
	ExecStatusFailed    = "failed"
	ExecStatusCancelled = "cancelled"
)

// Execution sources.
const (
	ExecSourceAPI     = "api"
	ExecSourceEvent   = "event"
	ExecSourceTrigger = "trigger"
	ExecSourceBus     = "bus"
)

// Event source types.
const (
	EventSourceTrigger = "trigger"
	EventSourceAPI     = "api"
)

// Trigger types. Polling triggers are owned by an external poller; the
// scheduler recognizes and skips them.
const (
	TriggerTypeManual   = "manual"
	TriggerTypeSchedule = "schedule"
	TriggerTypePolling  = "polling"
	TriggerTypeWebhook  = "webhook"
	TriggerTypeChain    = "chain"
)

// Persona is an executable agent identity scoped to a project.
type Persona struct {
	ID               string
	ProjectID        string
	UserID           string
	Name             string
	Description      string
	SystemPrompt     string
	StructuredPrompt string // JSON; empty when unset
	ModelProfile     string // JSON; empty when unset
	MaxConcurrent    int
	TimeoutMs        int64 // 0 means the dispatcher default
	BudgetDailyUSD   float64
	BudgetMonthlyUSD float64
	Enabled          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ModelProfile is the parsed form of Persona.ModelProfile.
type ModelProfile struct {
	Provider  string `json:"provider"`
	BaseURL   string `json:"baseUrl,omitempty"`
	Model     string `json:"model,omitempty"`
	AuthToken string `json:"authToken,omitempty"`
}

// ParsedModelProfile returns the persona's model profile, or nil when unset
// or unparseable.
func (p *Persona) ParsedModelProfile() *ModelProfile {
	if p.ModelProfile == "" {
		return nil
	}
	var profile ModelProfile
	if err := json.Unmarshal([]byte(p.ModelProfile), &profile); err != nil {
		return nil
	}
	if profile.Provider == "" {
		return nil
	}
	return &profile
}

// ToolDefinition describes a tool a persona may be granted.
type ToolDefinition struct {
	ID          string
	Name        string
	Description string
	Usage       string
	Schema      string // JSON schema; empty when unset
	CreatedAt   time.Time
}

// Credential is an encrypted connector secret attached to a persona.
// Ciphertext, IV and AuthTag are base64; plaintext exists only in memory
// after materialization.
type Credential struct {
	ID         string
	PersonaID  string
	Connector  string
	Ciphertext string
	IV         string
	AuthTag    string
	CreatedAt  time.Time
}

// Event is a unit of work for the event processor.
type Event struct {
	ID              string
	EventType       string
	SourceType      string // e.g. "trigger", "api"; empty when unknown
	SourceID        string // empty when the event has no source
	TargetPersonaID string // narrows matching to one persona when set
	UseCaseID       string
	ProjectID       string
	Payload         string // JSON; empty when absent
	Status          string
	StatusMessage   string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// Subscription routes events of a type to a persona, optionally narrowed
// by a source filter (exact, or prefix with a trailing '*').
type Subscription struct {
	ID              string
	ProjectID       string
	EventType       string
	TargetPersonaID string
	SourceFilter    string // empty means match any source
	Enabled         bool
	CreatedAt       time.Time
}

// Trigger periodically emits an event on behalf of a persona.
type Trigger struct {
	ID              string
	ProjectID       string
	PersonaID       string
	TriggerType     string
	Config          string // JSON; empty when unset
	Enabled         bool
	UseCaseID       string
	LastTriggeredAt *time.Time
	NextTriggerAt   *time.Time
	CreatedAt       time.Time
}

// TriggerConfig is the parsed form of Trigger.Config.
type TriggerConfig struct {
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Cron            string          `json:"cron,omitempty"`
	IntervalSeconds int             `json:"interval_seconds,omitempty"`
}

// ParsedConfig decodes the trigger's config JSON. An empty config yields a
// zero-valued TriggerConfig so callers can apply their own defaults.
func (t *Trigger) ParsedConfig() (*TriggerConfig, error) {
	var cfg TriggerConfig
	if t.Config == "" {
		return &cfg, nil
	}
	if err := json.Unmarshal([]byte(t.Config), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Execution is one run of a persona (or raw prompt) on a worker.
type Execution struct {
	ID           string
	PersonaID    string
	ProjectID    string
	Status       string
	Source       string
	Prompt       string
	Output       string
	ErrorMessage string
	ExitCode     *int
	DurationMs   *int64
	SessionID    string
	TotalCostUSD *float64
	WorkerID     string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}
