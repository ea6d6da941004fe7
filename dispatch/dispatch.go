// Package dispatch owns the execution lifecycle between submission and the
// terminal frame: a FIFO queue of pending requests, the in-flight table,
// and the pairing of queued work with idle workers. It consumes pool
// notifications and never touches a connection directly.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/troupelabs/troupe/budget"
	"github.com/troupelabs/troupe/bus"
	"github.com/troupelabs/troupe/errors"
	"github.com/troupelabs/troupe/pool"
	"github.com/troupelabs/troupe/secrets"
	"github.com/troupelabs/troupe/store"
	"github.com/troupelabs/troupe/wire"
)

// WorkerPool is the slice of the worker pool the dispatcher drives.
// *pool.Pool satisfies it.
type WorkerPool interface {
	Assign(workerID string, assign *wire.Assign) bool
	Send(workerID string, msg wire.Message) bool
	IdleWorker() (string, bool)
	Subscribe(ctx context.Context) <-chan pool.Notification
}

// TokenSource yields the bearer token injected into worker environments.
// *token.Provider satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config carries the dispatcher's tunables. Zero values take the defaults.
type Config struct {
	// StaticToken is the fallback bearer when no token provider is
	// configured or the provider cannot produce a token.
	StaticToken string

	DefaultTimeoutMs int64
	MaxOutputBytes   int64
	Retain           time.Duration
}

// Dispatcher pairs queued requests with idle workers and tracks every
// execution from assignment to its terminal frame.
type Dispatcher struct {
	cfg      Config
	workers  WorkerPool
	stores   *store.Stores
	tokens   TokenSource
	creds    *secrets.Materializer
	eventBus bus.Bus
	budget   *budget.Tracker
	log      *zap.SugaredLogger

	mu     sync.Mutex
	queue  []*queuedRequest
	active map[string]*Execution

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher wires a dispatcher. tokens may be nil when only a static
// token is configured.
func NewDispatcher(cfg Config, workers WorkerPool, stores *store.Stores, tokens TokenSource,
	creds *secrets.Materializer, eventBus bus.Bus, tracker *budget.Tracker, log *zap.SugaredLogger) *Dispatcher {
	if cfg.DefaultTimeoutMs <= 0 {
		cfg.DefaultTimeoutMs = DefaultTimeoutMs
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	return &Dispatcher{
		cfg:      cfg,
		workers:  workers,
		stores:   stores,
		tokens:   tokens,
		creds:    creds,
		eventBus: eventBus,
		budget:   tracker,
		log:      log,
		active:   make(map[string]*Execution),
	}
}

// Start recovers orphaned rows from a previous run, subscribes to the pool
// and the exec topic, and launches the retention sweeper.
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	recovered, err := d.stores.Executions.FailOrphaned(WorkerDisconnectedMessage)
	if err != nil {
		d.log.Warnw("Failed to recover orphaned executions", "error", err)
	} else if recovered > 0 {
		d.log.Infow("Failed orphaned executions from previous run", "count", recovered)
	}

	if err := d.eventBus.Subscribe(ctx, bus.TopicExec, d.handleExecRequest); err != nil {
		return errors.Wrap(err, "subscribe to exec topic")
	}

	notifications := d.workers.Subscribe(ctx)
	d.wg.Add(2)
	go d.consumeNotifications(notifications)
	go d.sweepLoop(ctx)

	d.log.Infow("Dispatcher started",
		"default_timeout_ms", d.cfg.DefaultTimeoutMs, "retain", d.cfg.Retain)
	return nil
}

// Stop ends the background loops and waits for them to drain. Queued
// requests stay in memory only; their rows are recovered on next start.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.log.Infow("Dispatcher stopped")
}

// Submit queues a request and immediately tries to place it. Returns the
// execution ID, minted when the request carries none.
func (d *Dispatcher) Submit(req *Request) (string, error) {
	if req == nil || (req.Prompt == "" && req.PersonaID == "") {
		return "", errors.Wrap(errors.ErrInvalidRequest, "prompt or personaId required")
	}
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	if req.Source == "" {
		req.Source = store.ExecSourceAPI
	}

	// Durable record first, best-effort: a dead store must not block dispatch.
	if err := d.stores.Executions.Create(&store.Execution{
		ID:        req.ExecutionID,
		PersonaID: req.PersonaID,
		ProjectID: req.ProjectID,
		Source:    req.Source,
		Prompt:    req.Prompt,
	}); err != nil {
		d.log.Warnw("Failed to persist queued execution", "execution_id", req.ExecutionID, "error", err)
	}

	d.mu.Lock()
	d.queue = append(d.queue, &queuedRequest{req: req, enqueuedAt: time.Now()})
	depth := len(d.queue)
	d.mu.Unlock()

	d.log.Infow("Execution submitted",
		"execution_id", req.ExecutionID, "persona_id", req.PersonaID,
		"source", req.Source, "queue_depth", depth)

	d.processQueue()
	return req.ExecutionID, nil
}

// processQueue pairs the head of the queue with an idle worker until the
// queue is empty, no worker is free, or a dispatch fails. Safe to call from
// anywhere; duplicate invocations degrade to no-ops.
func (d *Dispatcher) processQueue() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		workerID, ok := d.workers.IdleWorker()
		if !ok {
			d.mu.Unlock()
			return
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		if !d.dispatchToWorker(workerID, item) {
			return
		}
	}
}

// dispatchToWorker prepares and assigns one request. Returns false when the
// dispatch cycle should stop (the request was re-queued at the front).
func (d *Dispatcher) dispatchToWorker(workerID string, item *queuedRequest) bool {
	req := item.req

	ctx, cancelPrep := context.WithTimeout(context.Background(), 30*time.Second)
	prep, err := d.prepare(ctx, req)
	cancelPrep()
	if err != nil {
		if errors.Is(err, errors.ErrNoToken) {
			d.log.Warnw("No access token available; holding queue", "execution_id", req.ExecutionID)
			d.requeueFront(item)
			return false
		}
		// Unusable request (persona vanished, store error): fail it and keep
		// the queue moving.
		d.log.Errorw("Dispatch preparation failed",
			"execution_id", req.ExecutionID, "persona_id", req.PersonaID, "error", err)
		d.failBeforeDispatch(req, err.Error())
		return true
	}

	now := time.Now()
	exec := &Execution{
		ExecutionID: req.ExecutionID,
		PersonaID:   req.PersonaID,
		ProjectID:   req.ProjectID,
		WorkerID:    workerID,
		Source:      req.Source,
		Status:      store.ExecStatusRunning,
		Output:      []string{},
		CreatedAt:   item.enqueuedAt,
		StartedAt:   &now,
	}
	d.mu.Lock()
	d.active[req.ExecutionID] = exec
	d.mu.Unlock()

	if err := d.stores.Executions.MarkRunning(req.ExecutionID, workerID); err != nil {
		d.log.Warnw("Failed to mark execution running", "execution_id", req.ExecutionID, "error", err)
	}

	assign := &wire.Assign{
		ExecutionID:    req.ExecutionID,
		Prompt:         prep.prompt,
		Env:            prep.env,
		TimeoutMs:      prep.timeoutMs,
		MaxOutputBytes: d.cfg.MaxOutputBytes,
		PersonaID:      req.PersonaID,
		ProjectID:      req.ProjectID,
	}
	if !d.workers.Assign(workerID, assign) {
		d.mu.Lock()
		delete(d.active, req.ExecutionID)
		d.mu.Unlock()
		if err := d.stores.Executions.RevertQueued(req.ExecutionID); err != nil {
			d.log.Warnw("Failed to revert execution to queued", "execution_id", req.ExecutionID, "error", err)
		}
		d.log.Warnw("Assignment refused; re-queuing",
			"execution_id", req.ExecutionID, "worker_id", workerID)
		d.requeueFront(item)
		return false
	}

	d.log.Infow("Execution dispatched",
		"execution_id", req.ExecutionID, "worker_id", workerID,
		"persona_id", req.PersonaID, "timeout_ms", prep.timeoutMs)
	return true
}

func (d *Dispatcher) requeueFront(item *queuedRequest) {
	d.mu.Lock()
	d.queue = append([]*queuedRequest{item}, d.queue...)
	d.mu.Unlock()
}

// failBeforeDispatch finalizes a request that never reached a worker.
func (d *Dispatcher) failBeforeDispatch(req *Request, message string) {
	if err := d.stores.Executions.Finalize(req.ExecutionID, store.FinalizeParams{
		Status:       store.ExecStatusFailed,
		ErrorMessage: message,
	}); err != nil {
		d.log.Warnw("Failed to finalize undispatchable execution", "execution_id", req.ExecutionID, "error", err)
	}
	d.eventBus.Produce(bus.TopicLifecycle, req.ExecutionID, bus.LifecycleRecord{
		ExecutionID:  req.ExecutionID,
		PersonaID:    req.PersonaID,
		Status:       store.ExecStatusFailed,
		ErrorMessage: message,
		Timestamp:    time.Now().UnixMilli(),
	})
}

// Cancel asks the owning worker to abort a running execution. Advisory: the
// terminal state arrives with the worker's complete frame.
func (d *Dispatcher) Cancel(executionID string) bool {
	d.mu.Lock()
	exec, ok := d.active[executionID]
	var workerID string
	if ok && exec.Status == store.ExecStatusRunning {
		workerID = exec.WorkerID
	} else {
		ok = false
	}
	d.mu.Unlock()
	if !ok {
		return false
	}

	sent := d.workers.Send(workerID, &wire.Cancel{ExecutionID: executionID})
	d.log.Infow("Cancellation requested",
		"execution_id", executionID, "worker_id", workerID, "delivered", sent)
	return sent
}

// Execution returns the in-flight view when present, otherwise the store
// row. The row is the durable record; in-flight entries are a cache.
func (d *Dispatcher) Execution(executionID string) (*Execution, error) {
	d.mu.Lock()
	if exec, ok := d.active[executionID]; ok {
		view := exec.snapshot()
		d.mu.Unlock()
		return view, nil
	}
	d.mu.Unlock()

	row, err := d.stores.Executions.Get(executionID)
	if err != nil {
		return nil, err
	}
	return FromRow(row), nil
}

// QueueDepth reports the number of requests waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// ActiveCount reports in-flight entries, terminal-but-retained included.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.Retain)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if swept := d.sweep(now); swept > 0 {
				d.log.Debugw("Swept retained executions", "count", swept)
			}
		}
	}
}

// sweep drops terminal in-flight entries older than the retention window.
func (d *Dispatcher) sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	swept := 0
	for id, exec := range d.active {
		if exec.terminalAt.IsZero() {
			continue
		}
		if now.Sub(exec.terminalAt) >= d.cfg.Retain {
			delete(d.active, id)
			swept++
		}
	}
	return swept
}
