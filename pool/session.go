package pool

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is a worker session's lifecycle phase.
type State string

const (
	// StateConnecting covers the window between upgrade and an accepted hello.
	StateConnecting State = "connecting"

	// StateIdle means the worker can take an assignment.
	StateIdle State = "idle"

	// StateExecuting means the worker owns exactly one execution.
	StateExecuting State = "executing"

	// StateDisconnected is terminal; the session has left the registry.
	StateDisconnected State = "disconnected"
)

// session is one live worker connection. The transport fields are owned by
// the read/write pumps; the registry fields are guarded by the pool mutex.
type session struct {
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string

	// Guarded by Pool.mu.
	workerID           string
	state              State
	currentExecutionID string
	version            string
	capabilities       []string
	connectedAt        time.Time
	lastHeartbeat      time.Time
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn:  conn,
		send:  make(chan []byte, 64),
		done:  make(chan struct{}),
		state: StateConnecting,
	}
}

// enqueue hands a frame to the write pump. False when the session is going
// away or its write queue is full.
func (s *session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// shutdown asks the write pump to drain, send a close frame with the given
// code, and tear the connection down. Safe to call more than once; the
// first caller's code wins.
func (s *session) shutdown(code int, text string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeText = text
		close(s.done)
	})
}
