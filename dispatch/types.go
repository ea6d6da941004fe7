package dispatch

import (
	"time"

	"github.com/troupelabs/troupe/store"
)

const (
	// DefaultTimeoutMs bounds an execution when neither the request nor the
	// persona specifies a timeout.
	DefaultTimeoutMs int64 = 300000

	// DefaultMaxOutputBytes caps collected output per execution. The worker
	// enforces the same cap on its side; the dispatcher keeps the head.
	DefaultMaxOutputBytes int64 = 10 * 1024 * 1024

	// DefaultRetain is how long terminal executions stay in the in-flight
	// table before the sweeper drops them. Reads fall through to the store.
	DefaultRetain = 10 * time.Minute

	// StderrPrefix marks error-stream chunks in the merged output.
	StderrPrefix = "[STDERR] "

	// WorkerDisconnectedMessage is the fixed failure message for executions
	// orphaned by a vanished worker. Consumers match on it.
	WorkerDisconnectedMessage = "Worker disconnected"
)

// Request is a submission for execution. Prompt may be empty when PersonaID
// is set; the persona's assembled prompt is used instead.
type Request struct {
	ExecutionID string
	PersonaID   string
	ProjectID   string
	Prompt      string
	InputData   map[string]any
	TimeoutMs   int64
	Source      string
}

type queuedRequest struct {
	req        *Request
	enqueuedAt time.Time
}

// Execution is the dispatcher's view of one execution: the live in-flight
// record while it runs, a projection of the store row afterwards. Output is
// the ordered chunk list; store-backed views carry a single merged chunk.
type Execution struct {
	ExecutionID  string     `json:"executionId"`
	PersonaID    string     `json:"personaId,omitempty"`
	ProjectID    string     `json:"projectId,omitempty"`
	WorkerID     string     `json:"workerId,omitempty"`
	Source       string     `json:"source,omitempty"`
	Status       string     `json:"status"`
	Output       []string   `json:"output"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ExitCode     *int       `json:"exitCode,omitempty"`
	DurationMs   *int64     `json:"durationMs,omitempty"`
	SessionID    string     `json:"sessionId,omitempty"`
	TotalCostUSD *float64   `json:"totalCostUsd,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`

	outputBytes int64
	truncated   bool
	terminalAt  time.Time
}

// snapshot copies the execution so callers never share the live buffer.
func (e *Execution) snapshot() *Execution {
	dup := *e
	dup.Output = make([]string, len(e.Output))
	copy(dup.Output, e.Output)
	return &dup
}

// FromRow projects a store row into the dispatcher's view.
func FromRow(row *store.Execution) *Execution {
	e := &Execution{
		ExecutionID:  row.ID,
		PersonaID:    row.PersonaID,
		ProjectID:    row.ProjectID,
		WorkerID:     row.WorkerID,
		Source:       row.Source,
		Status:       row.Status,
		Output:       []string{},
		ErrorMessage: row.ErrorMessage,
		ExitCode:     row.ExitCode,
		DurationMs:   row.DurationMs,
		SessionID:    row.SessionID,
		TotalCostUSD: row.TotalCostUSD,
		CreatedAt:    row.CreatedAt,
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
	}
	if row.Output != "" {
		e.Output = []string{row.Output}
	}
	return e
}
