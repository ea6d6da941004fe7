// Package pool maintains the registry of live persona workers.
//
// Workers dial in over WebSocket, authenticate with a shared token in the
// query string, and introduce themselves with a hello frame. The pool owns
// the handshake, heartbeat supervision, and single-execution bookkeeping
// per worker; everything it observes is published as Notifications so the
// dispatcher never touches a connection directly.
package pool

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troupelabs/troupe/errors"
	"github.com/troupelabs/troupe/pubsub"
	"github.com/troupelabs/troupe/wire"
)

const (
	// DefaultHelloTimeout bounds the wait between upgrade and hello.
	DefaultHelloTimeout = 10 * time.Second

	// DefaultHeartbeatInterval is how often the orchestrator pings workers.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultHeartbeatTimeout evicts a worker that has sent nothing at all
	// for this long. Any inbound frame counts, not just heartbeats.
	DefaultHeartbeatTimeout = 90 * time.Second

	writeTimeout  = 10 * time.Second
	maxFrameBytes = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Workers are CLI processes, not browsers; the token is the gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config carries the pool's tunables. Zero durations take the defaults.
type Config struct {
	// WorkerToken is the shared secret workers present as ?token=.
	WorkerToken string

	// MinWorkerVersion rejects hellos below this semver when set.
	MinWorkerVersion string

	// SessionSecret signs per-session tokens returned in the ack. When
	// empty the token degrades to a random opaque string.
	SessionSecret string

	HelloTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// WorkerInfo is a point-in-time view of one registered worker.
type WorkerInfo struct {
	WorkerID           string    `json:"workerId"`
	State              State     `json:"state"`
	CurrentExecutionID string    `json:"currentExecutionId,omitempty"`
	Version            string    `json:"version,omitempty"`
	Capabilities       []string  `json:"capabilities,omitempty"`
	ConnectedAt        time.Time `json:"connectedAt"`
	LastHeartbeat      time.Time `json:"lastHeartbeat"`
}

// Pool tracks every connected worker and brokers frames between the
// transport and the rest of the orchestrator.
type Pool struct {
	cfg        Config
	minVersion *semver.Constraints
	log        *zap.SugaredLogger

	notifications *pubsub.Broker[Notification]

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

// NewPool validates the config and returns an empty pool.
func NewPool(cfg Config, log *zap.SugaredLogger) (*Pool, error) {
	if cfg.WorkerToken == "" {
		return nil, errors.New("worker token must not be empty")
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = DefaultHelloTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}

	var minVersion *semver.Constraints
	if cfg.MinWorkerVersion != "" {
		c, err := semver.NewConstraint(">= " + strings.TrimPrefix(cfg.MinWorkerVersion, "v"))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid minimum worker version %q", cfg.MinWorkerVersion)
		}
		minVersion = c
	}

	return &Pool{
		cfg:           cfg,
		minVersion:    minVersion,
		log:           log,
		notifications: pubsub.NewBrokerWithBuffer[Notification](1024),
		sessions:      make(map[string]*session),
	}, nil
}

// Subscribe returns a channel of pool notifications. The channel closes
// when ctx is done or the pool shuts down.
func (p *Pool) Subscribe(ctx context.Context) <-chan Notification {
	return p.notifications.Subscribe(ctx)
}

// ServeWS upgrades a worker connection and runs its session until it drops.
func (p *Pool) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warnw("Worker upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	token := r.URL.Query().Get("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(p.cfg.WorkerToken)) != 1 {
		p.log.Warnw("Worker rejected: invalid token", "remote", r.RemoteAddr)
		closeWith(conn, websocket.ClosePolicyViolation, "invalid worker token")
		return
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		closeWith(conn, websocket.CloseGoingAway, "orchestrator shutting down")
		return
	}

	sess := newSession(conn)
	go p.writePump(sess)
	p.readLoop(sess)
}

// Assign atomically hands an execution to an idle worker. Returns false
// without side effects when the worker is missing, busy, or unreachable.
func (p *Pool) Assign(workerID string, assign *wire.Assign) bool {
	data, err := wire.Encode(assign)
	if err != nil {
		p.log.Errorw("Failed to encode assignment", "execution_id", assign.ExecutionID, "error", err)
		return false
	}

	p.mu.Lock()
	sess, ok := p.sessions[workerID]
	if !ok || sess.state != StateIdle {
		p.mu.Unlock()
		return false
	}
	sess.state = StateExecuting
	sess.currentExecutionID = assign.ExecutionID
	p.mu.Unlock()

	if !sess.enqueue(data) {
		p.mu.Lock()
		if p.sessions[workerID] == sess {
			sess.state = StateIdle
			sess.currentExecutionID = ""
		}
		p.mu.Unlock()
		return false
	}
	return true
}

// Send encodes a frame for one worker. Fire and forget.
func (p *Pool) Send(workerID string, msg wire.Message) bool {
	data, err := wire.Encode(msg)
	if err != nil {
		p.log.Errorw("Failed to encode frame", "type", msg.MessageType(), "error", err)
		return false
	}
	p.mu.RLock()
	sess, ok := p.sessions[workerID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return sess.enqueue(data)
}

// IdleWorker picks any idle worker, or false when none is free.
func (p *Pool) IdleWorker() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for id, sess := range p.sessions {
		if sess.state == StateIdle {
			return id, true
		}
	}
	return "", false
}

// Worker reports one worker's current view, if registered.
func (p *Pool) Worker(workerID string) (WorkerInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.sessions[workerID]
	if !ok {
		return WorkerInfo{}, false
	}
	return infoLocked(sess), true
}

// Snapshot lists all registered workers sorted by ID.
func (p *Pool) Snapshot() []WorkerInfo {
	p.mu.RLock()
	infos := make([]WorkerInfo, 0, len(p.sessions))
	for _, sess := range p.sessions {
		infos = append(infos, infoLocked(sess))
	}
	p.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].WorkerID < infos[j].WorkerID })
	return infos
}

func infoLocked(sess *session) WorkerInfo {
	caps := make([]string, len(sess.capabilities))
	copy(caps, sess.capabilities)
	return WorkerInfo{
		WorkerID:           sess.workerID,
		State:              sess.state,
		CurrentExecutionID: sess.currentExecutionID,
		Version:            sess.version,
		Capabilities:       caps,
		ConnectedAt:        sess.connectedAt,
		LastHeartbeat:      sess.lastHeartbeat,
	}
}

// Shutdown broadcasts a shutdown frame to every worker, closes all
// connections with "going away", and stops accepting new ones.
func (p *Pool) Shutdown(reason string, grace time.Duration) {
	data, err := wire.Encode(&wire.Shutdown{GracePeriodMs: grace.Milliseconds(), Reason: reason})
	if err != nil {
		p.log.Errorw("Failed to encode shutdown frame", "error", err)
	}

	p.mu.Lock()
	p.closed = true
	sessions := make([]*session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		sessions = append(sessions, sess)
	}
	p.sessions = make(map[string]*session)
	p.mu.Unlock()

	for _, sess := range sessions {
		if data != nil {
			sess.enqueue(data)
		}
		sess.shutdown(websocket.CloseGoingAway, "orchestrator shutting down")
	}
	p.notifications.Close()
	p.log.Infow("Worker pool shut down", "workers", len(sessions))
}

// readLoop drives the handshake and then relays inbound frames until the
// connection drops.
func (p *Pool) readLoop(sess *session) {
	defer p.disconnect(sess)

	sess.conn.SetReadLimit(maxFrameBytes)
	_ = sess.conn.SetReadDeadline(time.Now().Add(p.cfg.HelloTimeout))

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			sess.shutdown(websocket.ClosePolicyViolation, "hello timeout")
			return
		}
		msg, err := wire.Decode(data)
		if err != nil {
			p.log.Warnw("Dropping unparseable pre-hello frame", "error", err)
			continue
		}
		hello, ok := msg.(*wire.Hello)
		if !ok {
			p.log.Debugw("Dropping frame before hello", "type", msg.MessageType())
			continue
		}
		if !p.register(sess, hello) {
			return
		}
		break
	}

	// Liveness is the write pump's job from here on.
	_ = sess.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		p.touch(sess)

		msg, err := wire.Decode(data)
		if err != nil {
			p.log.Warnw("Dropping unparseable frame", "worker_id", sess.workerID, "error", err)
			continue
		}
		p.handleFrame(sess, msg)
	}
}

// register validates the hello, evicts any prior session for the same
// worker ID, and installs the new one as idle.
func (p *Pool) register(sess *session, hello *wire.Hello) bool {
	if hello.WorkerID == "" {
		sess.shutdown(websocket.ClosePolicyViolation, "hello missing workerId")
		return false
	}
	if p.minVersion != nil {
		v, err := semver.NewVersion(strings.TrimPrefix(hello.Version, "v"))
		if err != nil || !p.minVersion.Check(v) {
			p.log.Warnw("Worker rejected: unsupported version",
				"worker_id", hello.WorkerID, "version", hello.Version, "minimum", p.cfg.MinWorkerVersion)
			sess.shutdown(websocket.ClosePolicyViolation, "unsupported worker version")
			return false
		}
	}

	sessionToken, err := mintSessionToken(p.cfg.SessionSecret, hello.WorkerID)
	if err != nil {
		p.log.Errorw("Failed to mint session token", "worker_id", hello.WorkerID, "error", err)
		sess.shutdown(websocket.CloseInternalServerErr, "session setup failed")
		return false
	}
	ack, err := wire.Encode(&wire.Ack{WorkerID: hello.WorkerID, SessionToken: sessionToken})
	if err != nil {
		p.log.Errorw("Failed to encode ack", "worker_id", hello.WorkerID, "error", err)
		sess.shutdown(websocket.CloseInternalServerErr, "session setup failed")
		return false
	}

	now := time.Now()
	var evictedExecutionID string
	evicted := false

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sess.shutdown(websocket.CloseGoingAway, "orchestrator shutting down")
		return false
	}
	if prior, ok := p.sessions[hello.WorkerID]; ok {
		evictedExecutionID = prior.currentExecutionID
		evicted = true
		prior.state = StateDisconnected
		prior.currentExecutionID = ""
		delete(p.sessions, hello.WorkerID)
		prior.shutdown(websocket.CloseGoingAway, "replaced by a newer session")
	}
	sess.workerID = hello.WorkerID
	sess.version = hello.Version
	sess.capabilities = hello.Capabilities
	sess.state = StateIdle
	sess.connectedAt = now
	sess.lastHeartbeat = now
	p.sessions[hello.WorkerID] = sess
	p.mu.Unlock()

	if evicted {
		p.log.Warnw("Evicting stale session for reconnecting worker",
			"worker_id", hello.WorkerID, "orphaned_execution_id", evictedExecutionID)
		p.notifications.Publish(Notification{
			Kind:        KindWorkerDisconnected,
			WorkerID:    hello.WorkerID,
			ExecutionID: evictedExecutionID,
			Timestamp:   now,
		})
	}

	sess.enqueue(ack)
	p.log.Infow("Worker connected",
		"worker_id", hello.WorkerID, "version", hello.Version, "capabilities", len(hello.Capabilities))
	p.notifications.Publish(Notification{
		Kind:      KindWorkerConnected,
		WorkerID:  hello.WorkerID,
		Timestamp: now,
	})
	return true
}

func (p *Pool) handleFrame(sess *session, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Heartbeat:
		// touch already recorded it

	case *wire.Ready:
		p.handleReady(sess)

	case *wire.Stdout:
		p.notifications.Publish(Notification{
			Kind:        KindStdout,
			WorkerID:    sess.workerID,
			ExecutionID: m.ExecutionID,
			Chunk:       m.Chunk,
			Timestamp:   time.Now(),
		})

	case *wire.Stderr:
		p.notifications.Publish(Notification{
			Kind:        KindStderr,
			WorkerID:    sess.workerID,
			ExecutionID: m.ExecutionID,
			Chunk:       m.Chunk,
			Timestamp:   time.Now(),
		})

	case *wire.Event:
		p.notifications.Publish(Notification{
			Kind:        KindPersonaEvent,
			WorkerID:    sess.workerID,
			ExecutionID: m.ExecutionID,
			EventType:   m.EventType,
			Payload:     m.Payload,
			Timestamp:   time.Now(),
		})

	case *wire.Complete:
		p.handleComplete(sess, m)

	case *wire.Hello:
		p.log.Warnw("Dropping duplicate hello", "worker_id", sess.workerID)

	default:
		p.log.Warnw("Dropping unexpected frame", "worker_id", sess.workerID, "type", msg.MessageType())
	}
}

func (p *Pool) handleReady(sess *session) {
	p.mu.Lock()
	transitioned := false
	executionID := sess.currentExecutionID
	if sess.state != StateExecuting {
		sess.state = StateIdle
		sess.currentExecutionID = ""
		transitioned = true
	}
	p.mu.Unlock()

	if !transitioned {
		p.log.Warnw("Ignoring ready from executing worker",
			"worker_id", sess.workerID, "execution_id", executionID)
		return
	}
	p.notifications.Publish(Notification{
		Kind:      KindWorkerReady,
		WorkerID:  sess.workerID,
		Timestamp: time.Now(),
	})
}

// handleComplete is the authoritative end of an execution from the pool's
// side: the worker goes idle no matter what status it reported.
func (p *Pool) handleComplete(sess *session, m *wire.Complete) {
	p.mu.Lock()
	if sess.currentExecutionID != "" && sess.currentExecutionID != m.ExecutionID {
		p.log.Warnw("Complete frame for unexpected execution",
			"worker_id", sess.workerID, "expected", sess.currentExecutionID, "got", m.ExecutionID)
	}
	sess.state = StateIdle
	sess.currentExecutionID = ""
	p.mu.Unlock()

	p.notifications.Publish(Notification{
		Kind:        KindComplete,
		WorkerID:    sess.workerID,
		ExecutionID: m.ExecutionID,
		Complete:    m,
		Timestamp:   time.Now(),
	})
}

// disconnect finalizes a dropped session. Pointer equality against the
// registry keeps an evicted session from masking its replacement.
func (p *Pool) disconnect(sess *session) {
	sess.shutdown(websocket.CloseGoingAway, "session ended")

	p.mu.Lock()
	if sess.workerID == "" {
		p.mu.Unlock()
		return
	}
	if current, ok := p.sessions[sess.workerID]; !ok || current != sess {
		p.mu.Unlock()
		return
	}
	executionID := sess.currentExecutionID
	sess.state = StateDisconnected
	sess.currentExecutionID = ""
	delete(p.sessions, sess.workerID)
	p.mu.Unlock()

	p.log.Infow("Worker disconnected", "worker_id", sess.workerID, "in_flight_execution", executionID != "")
	p.notifications.Publish(Notification{
		Kind:        KindWorkerDisconnected,
		WorkerID:    sess.workerID,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
	})
}

// writePump owns all writes: queued frames, periodic heartbeats, the
// liveness check, and the final close frame.
func (p *Pool) writePump(sess *session) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = sess.conn.Close()
	}()

	for {
		select {
		case data := <-sess.send:
			if !writeFrame(sess.conn, data) {
				return
			}

		case <-ticker.C:
			if workerID, expired := p.heartbeatExpired(sess); expired {
				p.log.Warnw("Worker heartbeat timeout", "worker_id", workerID)
				writeClose(sess.conn, websocket.CloseGoingAway, "heartbeat timeout")
				return
			}
			data, err := wire.Encode(&wire.Heartbeat{Timestamp: time.Now().UnixMilli()})
			if err != nil {
				p.log.Errorw("Failed to encode heartbeat", "error", err)
				continue
			}
			if !writeFrame(sess.conn, data) {
				return
			}

		case <-sess.done:
			// Flush anything already queued, then say goodbye.
			for {
				select {
				case data := <-sess.send:
					if !writeFrame(sess.conn, data) {
						return
					}
				default:
					writeClose(sess.conn, sess.closeCode, sess.closeText)
					return
				}
			}
		}
	}
}

func (p *Pool) touch(sess *session) {
	p.mu.Lock()
	sess.lastHeartbeat = time.Now()
	p.mu.Unlock()
}

func (p *Pool) heartbeatExpired(sess *session) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if sess.state == StateConnecting {
		// Hello deadline covers this phase.
		return "", false
	}
	return sess.workerID, time.Since(sess.lastHeartbeat) > p.cfg.HeartbeatTimeout
}

func writeFrame(conn *websocket.Conn, data []byte) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}

func writeClose(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

func closeWith(conn *websocket.Conn, code int, text string) {
	writeClose(conn, code, text)
	_ = conn.Close()
}
