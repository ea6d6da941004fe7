package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/troupelabs/troupe/bus"
	"github.com/troupelabs/troupe/internal/util"
	"github.com/troupelabs/troupe/pool"
	"github.com/troupelabs/troupe/store"
)

func (d *Dispatcher) consumeNotifications(ch <-chan pool.Notification) {
	defer d.wg.Done()
	for n := range ch {
		d.handleNotification(n)
	}
}

func (d *Dispatcher) handleNotification(n pool.Notification) {
	// A handler panic must not kill the consumer loop.
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("Panic in notification handler",
				"kind", n.Kind, "execution_id", n.ExecutionID, "panic", r)
		}
	}()

	switch n.Kind {
	case pool.KindWorkerConnected, pool.KindWorkerReady:
		d.processQueue()

	case pool.KindStdout:
		d.appendOutput(n, false)

	case pool.KindStderr:
		d.appendOutput(n, true)

	case pool.KindPersonaEvent:
		d.eventBus.Produce(bus.TopicEvents, n.ExecutionID, bus.PersonaEventRecord{
			ExecutionID: n.ExecutionID,
			WorkerID:    n.WorkerID,
			EventType:   n.EventType,
			Payload:     n.Payload,
			Timestamp:   n.Timestamp.UnixMilli(),
		})

	case pool.KindComplete:
		d.handleComplete(n)

	case pool.KindWorkerDisconnected:
		d.handleWorkerDisconnected(n)
	}
}

// appendOutput merges a chunk into the in-flight buffer, persists it, and
// fans it out. Chunks beyond the output cap are dropped; the head is kept.
func (d *Dispatcher) appendOutput(n pool.Notification, stderr bool) {
	chunk := n.Chunk
	if chunk == "" {
		return
	}
	if stderr {
		chunk = StderrPrefix + chunk
	}

	d.mu.Lock()
	if exec, ok := d.active[n.ExecutionID]; ok {
		room := d.cfg.MaxOutputBytes - exec.outputBytes
		if room <= 0 {
			first := !exec.truncated
			exec.truncated = true
			d.mu.Unlock()
			if first {
				d.log.Warnw("Execution output cap reached; dropping further chunks",
					"execution_id", n.ExecutionID, "cap_bytes", d.cfg.MaxOutputBytes)
			}
			return
		}
		if int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		exec.Output = append(exec.Output, chunk)
		exec.outputBytes += int64(len(chunk))
	}
	d.mu.Unlock()

	if err := d.stores.Executions.AppendOutput(n.ExecutionID, chunk); err != nil {
		d.log.Warnw("Failed to persist output chunk", "execution_id", n.ExecutionID, "error", err)
	}
	d.eventBus.Produce(bus.TopicOutput, n.ExecutionID, bus.OutputRecord{
		ExecutionID: n.ExecutionID,
		Chunk:       chunk,
		Timestamp:   n.Timestamp.UnixMilli(),
	})
}

// handleComplete records the worker-reported terminal state. Statuses other
// than completed/cancelled collapse to failed.
func (d *Dispatcher) handleComplete(n pool.Notification) {
	c := n.Complete
	if c == nil {
		return
	}

	status := store.ExecStatusFailed
	switch c.Status {
	case store.ExecStatusCompleted:
		status = store.ExecStatusCompleted
	case store.ExecStatusCancelled:
		status = store.ExecStatusCancelled
	}

	now := time.Now()
	var personaID string
	d.mu.Lock()
	if exec, ok := d.active[n.ExecutionID]; ok {
		exec.Status = status
		exec.ErrorMessage = c.ErrorMessage
		exec.ExitCode = util.Ptr(c.ExitCode)
		exec.DurationMs = util.Ptr(c.DurationMs)
		exec.SessionID = c.SessionID
		exec.TotalCostUSD = util.Ptr(c.TotalCostUSD)
		exec.CompletedAt = &now
		exec.terminalAt = now
		personaID = exec.PersonaID
	}
	d.mu.Unlock()

	if err := d.stores.Executions.Finalize(n.ExecutionID, store.FinalizeParams{
		Status:       status,
		ErrorMessage: c.ErrorMessage,
		ExitCode:     util.Ptr(c.ExitCode),
		DurationMs:   util.Ptr(c.DurationMs),
		SessionID:    c.SessionID,
		TotalCostUSD: util.Ptr(c.TotalCostUSD),
	}); err != nil {
		d.log.Warnw("Failed to finalize execution", "execution_id", n.ExecutionID, "error", err)
	}

	if personaID != "" {
		d.budget.Record(personaID, c.TotalCostUSD)
	}

	d.eventBus.Produce(bus.TopicLifecycle, n.ExecutionID, bus.LifecycleRecord{
		ExecutionID:  n.ExecutionID,
		PersonaID:    personaID,
		Status:       status,
		ExitCode:     util.Ptr(c.ExitCode),
		DurationMs:   util.Ptr(c.DurationMs),
		SessionID:    c.SessionID,
		TotalCostUSD: util.Ptr(c.TotalCostUSD),
		ErrorMessage: c.ErrorMessage,
		Timestamp:    now.UnixMilli(),
	})

	d.log.Infow("Execution finished",
		"execution_id", n.ExecutionID, "status", status,
		"exit_code", c.ExitCode, "duration_ms", c.DurationMs)

	d.processQueue()
}

// handleWorkerDisconnected fails the execution a vanished worker was
// holding. No automatic retry: the output stream is not resumable.
func (d *Dispatcher) handleWorkerDisconnected(n pool.Notification) {
	if n.ExecutionID == "" {
		return
	}

	now := time.Now()
	orphaned := false
	var personaID string
	d.mu.Lock()
	if exec, ok := d.active[n.ExecutionID]; ok && exec.Status == store.ExecStatusRunning {
		exec.Status = store.ExecStatusFailed
		exec.ErrorMessage = WorkerDisconnectedMessage
		exec.DurationMs = util.Ptr(int64(0))
		exec.CompletedAt = &now
		exec.terminalAt = now
		personaID = exec.PersonaID
		orphaned = true
	}
	d.mu.Unlock()
	if !orphaned {
		return
	}

	if err := d.stores.Executions.Finalize(n.ExecutionID, store.FinalizeParams{
		Status:       store.ExecStatusFailed,
		ErrorMessage: WorkerDisconnectedMessage,
		DurationMs:   util.Ptr(int64(0)),
	}); err != nil {
		d.log.Warnw("Failed to finalize orphaned execution", "execution_id", n.ExecutionID, "error", err)
	}

	d.eventBus.Produce(bus.TopicLifecycle, n.ExecutionID, bus.LifecycleRecord{
		ExecutionID:  n.ExecutionID,
		PersonaID:    personaID,
		Status:       store.ExecStatusFailed,
		DurationMs:   util.Ptr(int64(0)),
		ErrorMessage: WorkerDisconnectedMessage,
		Timestamp:    now.UnixMilli(),
	})
	d.log.Warnw("Worker disconnected mid-execution",
		"execution_id", n.ExecutionID, "worker_id", n.WorkerID)
}

// handleExecRequest consumes submissions from the exec topic. Anything that
// cannot become a valid request lands on the DLQ with its payload intact.
func (d *Dispatcher) handleExecRequest(_ context.Context, key string, value []byte) {
	reject := func(reason string) {
		d.log.Warnw("Rejecting exec request from bus", "key", key, "reason", reason)
		// Payloads that are not valid JSON ride along as a JSON string so the
		// DLQ record itself stays marshalable.
		payload := json.RawMessage(value)
		if !json.Valid(value) {
			payload, _ = json.Marshal(string(value))
		}
		d.eventBus.Produce(bus.TopicDLQ, key, bus.DLQRecord{
			Topic:     bus.TopicExec,
			Key:       key,
			Error:     reason,
			Payload:   payload,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	var req bus.ExecRequest
	if err := json.Unmarshal(value, &req); err != nil {
		reject(err.Error())
		return
	}
	if req.Prompt == "" && req.PersonaID == "" {
		reject("prompt or personaId required")
		return
	}
	var input map[string]any
	if len(req.InputData) > 0 {
		if err := json.Unmarshal(req.InputData, &input); err != nil {
			reject("inputData: " + err.Error())
			return
		}
	}

	if _, err := d.Submit(&Request{
		PersonaID: req.PersonaID,
		ProjectID: req.ProjectID,
		Prompt:    req.Prompt,
		InputData: input,
		Source:    store.ExecSourceBus,
	}); err != nil {
		reject(err.Error())
	}
}
