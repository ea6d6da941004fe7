// Package bus fans orchestrator activity out to an opaque message bus and
// accepts execution requests from it. Produce is fire-and-forget: failures
// are logged and never reach the caller, so a broken bus degrades to loss
// of external fan-out and nothing else.
package bus

import (
	"context"
	"encoding/json"
)

// Topics used by the orchestrator.
const (
	// TopicExec carries inbound execution requests.
	TopicExec = "persona.exec.v1"

	// TopicOutput carries execution output chunks.
	TopicOutput = "persona.output.v1"

	// TopicLifecycle carries execution completion and failure records.
	TopicLifecycle = "persona.lifecycle.v1"

	// TopicEvents carries worker-emitted persona events.
	TopicEvents = "persona.events.v1"

	// TopicDLQ receives exec requests that could not be decoded.
	TopicDLQ = "persona.dlq.v1"
)

// Handler consumes one message. The key is the producer's partition key,
// empty when none was set.
type Handler func(ctx context.Context, key string, value []byte)

// Bus is the orchestrator's view of the message bus.
type Bus interface {
	// Produce marshals value as JSON and publishes it. Best-effort.
	Produce(topic, key string, value any)

	// Subscribe routes every message on topic through h until ctx ends.
	Subscribe(ctx context.Context, topic string, h Handler) error

	Close() error
}

// OutputRecord is published on TopicOutput, one per chunk.
type OutputRecord struct {
	ExecutionID string `json:"executionId"`
	Chunk       string `json:"chunk"`
	Timestamp   int64  `json:"timestamp"`
}

// LifecycleRecord is published on TopicLifecycle at terminal transitions.
type LifecycleRecord struct {
	ExecutionID  string   `json:"executionId"`
	PersonaID    string   `json:"personaId,omitempty"`
	Status       string   `json:"status"`
	ExitCode     *int     `json:"exitCode,omitempty"`
	DurationMs   *int64   `json:"durationMs,omitempty"`
	SessionID    string   `json:"sessionId,omitempty"`
	TotalCostUSD *float64 `json:"totalCostUsd,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}

// PersonaEventRecord is published on TopicEvents for worker-emitted events.
type PersonaEventRecord struct {
	ExecutionID string          `json:"executionId"`
	WorkerID    string          `json:"workerId"`
	EventType   string          `json:"eventType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

// ExecRequest is the inbound shape consumed from TopicExec.
type ExecRequest struct {
	PersonaID string          `json:"personaId,omitempty"`
	ProjectID string          `json:"projectId,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	InputData json.RawMessage `json:"inputData,omitempty"`
}

// DLQRecord is published on TopicDLQ for messages that could not be used,
// carrying the original payload for replay.
type DLQRecord struct {
	Topic     string          `json:"topic"`
	Key       string          `json:"key,omitempty"`
	Error     string          `json:"error"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
