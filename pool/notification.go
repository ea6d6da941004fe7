package pool

import (
	"encoding/json"
	"time"

	"github.com/troupelabs/troupe/wire"
)

// Kind discriminates pool notifications.
type Kind string

const (
	// KindWorkerConnected fires after a hello is accepted.
	KindWorkerConnected Kind = "worker-connected"

	// KindWorkerReady fires when a worker reports itself idle.
	KindWorkerReady Kind = "worker-ready"

	// KindStdout and KindStderr carry output chunks verbatim.
	KindStdout Kind = "stdout"
	KindStderr Kind = "stderr"

	// KindPersonaEvent carries a worker-emitted domain event.
	KindPersonaEvent Kind = "persona-event"

	// KindComplete carries the terminal report for an execution.
	KindComplete Kind = "complete"

	// KindWorkerDisconnected fires on any session teardown. ExecutionID is
	// set when the worker went away mid-execution.
	KindWorkerDisconnected Kind = "worker-disconnected"
)

// Notification is what the pool publishes to its subscribers. Fields beyond
// Kind and WorkerID are populated per kind.
type Notification struct {
	Kind        Kind
	WorkerID    string
	ExecutionID string
	Chunk       string
	EventType   string
	Payload     json.RawMessage
	Timestamp   time.Time
	Complete    *wire.Complete
}
