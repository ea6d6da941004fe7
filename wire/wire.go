// Package wire defines the frames exchanged between the orchestrator and
// execution workers.
//
// Frames are JSON objects discriminated by a "type" field, one frame per
// WebSocket text message. Field names are camelCase and timestamps are Unix
// milliseconds, matching what workers emit.
package wire

import (
	"encoding/json"

	"github.com/troupelabs/troupe/errors"
)

// Type identifies the kind of protocol frame.
type Type string

const (
	// Worker -> orchestrator frames
	TypeHello     Type = "hello"     // Registration: identity, version, capabilities
	TypeReady     Type = "ready"     // Worker is idle and can take an assignment
	TypeStdout    Type = "stdout"    // Output chunk from the running execution
	TypeStderr    Type = "stderr"    // Error-stream chunk from the running execution
	TypeEvent     Type = "event"     // Domain event emitted by the persona mid-run
	TypeComplete  Type = "complete"  // Terminal result for an execution
	TypeHeartbeat Type = "heartbeat" // Liveness signal (also sent orchestrator -> worker)

	// Orchestrator -> worker frames
	TypeAck      Type = "ack"      // Registration accepted, carries session token
	TypeAssign   Type = "assign"   // Hand an execution to the worker
	TypeCancel   Type = "cancel"   // Abort the named execution
	TypeShutdown Type = "shutdown" // Fleet-wide drain with grace period
)

// ErrUnknownType is returned by Decode for an unrecognized type tag.
// The wrapped message names the offending tag.
var ErrUnknownType = errors.New("unknown message type")

// Message is implemented by every frame.
type Message interface {
	MessageType() Type
}

// Hello registers a worker. First frame on every connection.
type Hello struct {
	Type         Type     `json:"type"`
	WorkerID     string   `json:"workerId"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities,omitempty"`
}

func (*Hello) MessageType() Type { return TypeHello }

// Ready signals the worker is idle and can accept work.
type Ready struct {
	Type     Type   `json:"type"`
	WorkerID string `json:"workerId"`
}

func (*Ready) MessageType() Type { return TypeReady }

// Stdout carries an output chunk from a running execution.
type Stdout struct {
	Type        Type   `json:"type"`
	ExecutionID string `json:"executionId"`
	Chunk       string `json:"chunk"`
	Timestamp   int64  `json:"timestamp"`
}

func (*Stdout) MessageType() Type { return TypeStdout }

// Stderr carries an error-stream chunk from a running execution.
type Stderr struct {
	Type        Type   `json:"type"`
	ExecutionID string `json:"executionId"`
	Chunk       string `json:"chunk"`
	Timestamp   int64  `json:"timestamp"`
}

func (*Stderr) MessageType() Type { return TypeStderr }

// Event is a domain event emitted by the persona during an execution.
// Payload is passed through opaque; the orchestrator never interprets it.
type Event struct {
	Type        Type            `json:"type"`
	ExecutionID string          `json:"executionId"`
	EventType   string          `json:"eventType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

func (*Event) MessageType() Type { return TypeEvent }

// Complete reports the terminal result of an execution.
type Complete struct {
	Type         Type    `json:"type"`
	ExecutionID  string  `json:"executionId"`
	Status       string  `json:"status"`
	ExitCode     int     `json:"exitCode"`
	DurationMs   int64   `json:"durationMs"`
	SessionID    string  `json:"sessionId,omitempty"`
	TotalCostUSD float64 `json:"totalCostUsd,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

func (*Complete) MessageType() Type { return TypeComplete }

// Heartbeat is a liveness signal. Workers include their ID; the
// orchestrator's copies carry only the timestamp.
type Heartbeat struct {
	Type      Type   `json:"type"`
	WorkerID  string `json:"workerId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (*Heartbeat) MessageType() Type { return TypeHeartbeat }

// Ack confirms registration and hands the worker its session token.
type Ack struct {
	Type         Type   `json:"type"`
	WorkerID     string `json:"workerId"`
	SessionToken string `json:"sessionToken"`
}

func (*Ack) MessageType() Type { return TypeAck }

// Assign hands an execution to a worker. Env holds the fully materialized
// environment for the worker's CLI invocation.
type Assign struct {
	Type           Type              `json:"type"`
	ExecutionID    string            `json:"executionId"`
	Prompt         string            `json:"prompt"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutMs      int64             `json:"timeoutMs"`
	MaxOutputBytes int64             `json:"maxOutputBytes"`
	PersonaID      string            `json:"personaId,omitempty"`
	ProjectID      string            `json:"projectId,omitempty"`
}

func (*Assign) MessageType() Type { return TypeAssign }

// Cancel aborts the named execution on the worker.
type Cancel struct {
	Type        Type   `json:"type"`
	ExecutionID string `json:"executionId"`
}

func (*Cancel) MessageType() Type { return TypeCancel }

// Shutdown drains the fleet. Workers finish or abandon work within the
// grace period and disconnect.
type Shutdown struct {
	Type          Type   `json:"type"`
	GracePeriodMs int64  `json:"gracePeriodMs"`
	Reason        string `json:"reason,omitempty"`
}

func (*Shutdown) MessageType() Type { return TypeShutdown }

// header is used to probe the discriminator before decoding the full frame.
type header struct {
	Type Type `json:"type"`
}

// Decode parses a raw frame into its concrete message type.
func Decode(data []byte) (Message, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}

	var msg Message
	switch h.Type {
	case TypeHello:
		msg = &Hello{}
	case TypeReady:
		msg = &Ready{}
	case TypeStdout:
		msg = &Stdout{}
	case TypeStderr:
		msg = &Stderr{}
	case TypeEvent:
		msg = &Event{}
	case TypeComplete:
		msg = &Complete{}
	case TypeHeartbeat:
		msg = &Heartbeat{}
	case TypeAck:
		msg = &Ack{}
	case TypeAssign:
		msg = &Assign{}
	case TypeCancel:
		msg = &Cancel{}
	case TypeShutdown:
		msg = &Shutdown{}
	default:
		return nil, errors.Wrapf(ErrUnknownType, "%q", string(h.Type))
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errors.Wrapf(err, "decode %s frame", h.Type)
	}
	return msg, nil
}

// Encode serializes a frame, stamping the type tag so callers can use
// struct literals without setting Type themselves.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Hello:
		m.Type = TypeHello
	case *Ready:
		m.Type = TypeReady
	case *Stdout:
		m.Type = TypeStdout
	case *Stderr:
		m.Type = TypeStderr
	case *Event:
		m.Type = TypeEvent
	case *Complete:
		m.Type = TypeComplete
	case *Heartbeat:
		m.Type = TypeHeartbeat
	case *Ack:
		m.Type = TypeAck
	case *Assign:
		m.Type = TypeAssign
	case *Cancel:
		m.Type = TypeCancel
	case *Shutdown:
		m.Type = TypeShutdown
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s frame", msg.MessageType())
	}
	return data, nil
}
