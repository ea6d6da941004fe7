package schedule

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/troupelabs/troupe/dispatch"
	"github.com/troupelabs/troupe/errors"
	"github.com/troupelabs/troupe/prompt"
	"github.com/troupelabs/troupe/store"
)

// ProcessorConfig tunes the event processor loop.
type ProcessorConfig struct {
	Tick  time.Duration // drain cadence; DefaultEventTick when zero
	Batch int           // pending events per tick; DefaultEventBatch when zero
}

// EventProcessor drains pending events, matches them against subscriptions
// and submits an execution per match that clears the persona's concurrency
// gate. The pending -> processing transition is the claim: overlapping ticks
// or a second instance can never double-deliver one event.
type EventProcessor struct {
	cfg    ProcessorConfig
	stores *store.Stores
	submit Submitter
	log    *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventProcessor creates the processor. Zero config fields fall back to
// package defaults.
func NewEventProcessor(cfg ProcessorConfig, stores *store.Stores, submit Submitter, log *zap.SugaredLogger) *EventProcessor {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultEventTick
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultEventBatch
	}
	return &EventProcessor{cfg: cfg, stores: stores, submit: submit, log: log}
}

// Start begins the tick loop.
func (p *EventProcessor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
	p.log.Infow("Event processor started", "tick", p.cfg.Tick, "batch", p.cfg.Batch)
}

// Stop halts the loop and waits for an in-progress tick to finish.
func (p *EventProcessor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Infow("Event processor stopped")
}

func (p *EventProcessor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Drain(ctx); err != nil {
				p.log.Warnw("Event tick error", "error", err)
			}
		}
	}
}

// Drain claims and processes one batch of pending events immediately,
// outside the ticker cadence. Safe to call concurrently with the loop; the
// processing claim keeps double delivery out.
func (p *EventProcessor) Drain(ctx context.Context) error {
	events, err := p.stores.Events.ListPending(p.cfg.Batch)
	if err != nil {
		return errors.Wrap(err, "list pending events")
	}
	for _, event := range events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.processEvent(event)
	}
	return nil
}

// processEvent runs one event to a terminal status. Panics are contained so
// a poisoned event cannot stop the loop.
func (p *EventProcessor) processEvent(event *store.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("Panic processing event", "event_id", event.ID, "panic", r)
		}
	}()

	claimed, err := p.stores.Events.MarkProcessing(event.ID)
	if err != nil {
		p.log.Errorw("Failed to claim event", "event_id", event.ID, "error", err)
		return
	}
	if !claimed {
		// Another processor won the race.
		return
	}

	projectID := event.ProjectID
	if projectID == DefaultProjectID {
		projectID = ""
	}
	subs, err := p.stores.Subscriptions.Matching(projectID, event.EventType)
	if err != nil {
		p.log.Errorw("Subscription lookup failed", "event_id", event.ID, "error", err)
		p.setStatus(event.ID, store.EventStatusFailed, "subscription lookup failed")
		return
	}

	matches := MatchEvent(event, subs)
	if len(matches) == 0 {
		p.setStatus(event.ID, store.EventStatusSkipped, "")
		p.log.Debugw("Event matched no subscriptions",
			"event_id", event.ID, "event_type", event.EventType)
		return
	}

	inputData := eventInputData(event)
	delivered, failed := 0, 0
	for _, sub := range matches {
		if p.deliver(event, sub, inputData) {
			delivered++
		} else {
			failed++
		}
	}

	status := store.EventStatusDelivered
	message := ""
	switch {
	case failed == 0:
	case delivered > 0:
		status = store.EventStatusPartial
	default:
		status = store.EventStatusFailed
		message = AllMatchesFailedMessage
	}
	p.setStatus(event.ID, status, message)
	p.log.Infow("Event processed", "event_id", event.ID, "event_type", event.EventType,
		"status", status, "delivered", delivered, "failed", failed)
}

// deliver submits one matched subscription. Returns false when the match
// could not produce an execution; capacity misses land here too.
func (p *EventProcessor) deliver(event *store.Event, sub *store.Subscription, inputData map[string]any) bool {
	persona, err := p.stores.Personas.Get(sub.TargetPersonaID)
	if err != nil {
		p.log.Warnw("Subscription targets a missing persona",
			"subscription_id", sub.ID, "persona_id", sub.TargetPersonaID,
			"event_id", event.ID, "error", err)
		return false
	}
	if !persona.Enabled {
		p.log.Warnw("Subscription targets a disabled persona",
			"subscription_id", sub.ID, "persona_id", persona.ID, "event_id", event.ID)
		return false
	}

	running, err := p.stores.Executions.CountRunning(persona.ID)
	if err != nil {
		p.log.Errorw("Failed to count running executions",
			"persona_id", persona.ID, "error", err)
		return false
	}
	if running >= persona.MaxConcurrent {
		p.log.Infow("Persona at capacity; match not delivered",
			"persona_id", persona.ID, "running", running,
			"max_concurrent", persona.MaxConcurrent, "event_id", event.ID)
		return false
	}

	executionID, err := p.submit.Submit(&dispatch.Request{
		PersonaID: persona.ID,
		ProjectID: event.ProjectID,
		InputData: inputData,
		Source:    store.ExecSourceEvent,
	})
	if err != nil {
		p.log.Errorw("Failed to submit matched execution",
			"persona_id", persona.ID, "event_id", event.ID, "error", err)
		return false
	}
	p.log.Debugw("Event match submitted", "event_id", event.ID,
		"subscription_id", sub.ID, "execution_id", executionID)
	return true
}

func (p *EventProcessor) setStatus(id, status, message string) {
	if err := p.stores.Events.SetStatus(id, status, message); err != nil {
		p.log.Errorw("Failed to set event status",
			"event_id", id, "status", status, "error", err)
	}
}

// MatchEvent filters subscriptions down to those the event satisfies:
// enabled, same event type, the target persona honored when the event names
// one, and the source filter honored when the subscription carries one. A
// filter only ever matches events that have a sourceId; "foo*" is a prefix
// match and a bare "*" accepts any non-empty source. Pure; result order
// follows the input.
func MatchEvent(event *store.Event, subs []*store.Subscription) []*store.Subscription {
	var matched []*store.Subscription
	for _, sub := range subs {
		if !sub.Enabled || sub.EventType != event.EventType {
			continue
		}
		if event.TargetPersonaID != "" && sub.TargetPersonaID != event.TargetPersonaID {
			continue
		}
		if sub.SourceFilter != "" && !sourceMatches(sub.SourceFilter, event.SourceID) {
			continue
		}
		matched = append(matched, sub)
	}
	return matched
}

func sourceMatches(filter, sourceID string) bool {
	if sourceID == "" {
		return false
	}
	if prefix, ok := strings.CutSuffix(filter, "*"); ok {
		return strings.HasPrefix(sourceID, prefix)
	}
	return filter == sourceID
}

// eventInputData turns the event payload into the execution's input data. A
// JSON object passes through; anything else rides under "raw". The event's
// use case travels along unless the payload already set one.
func eventInputData(event *store.Event) map[string]any {
	var input map[string]any
	if event.Payload != "" {
		if err := json.Unmarshal([]byte(event.Payload), &input); err != nil {
			input = map[string]any{"raw": event.Payload}
		}
	}
	if event.UseCaseID != "" {
		if input == nil {
			input = make(map[string]any, 1)
		}
		if _, ok := input[prompt.UseCaseKey]; !ok {
			input[prompt.UseCaseKey] = event.UseCaseID
		}
	}
	return input
}
