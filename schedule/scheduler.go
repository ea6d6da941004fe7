package schedule

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/troupelabs/troupe/errors"
	"github.com/troupelabs/troupe/store"
)

// SchedulerConfig tunes the trigger scheduler loop.
type SchedulerConfig struct {
	Tick time.Duration // evaluation cadence; DefaultTriggerTick when zero
}

// TriggerScheduler fires due triggers: each firing appends one pending event
// for the event processor and advances the trigger's next fire time. Polling
// triggers are skipped; an external poller owns those.
type TriggerScheduler struct {
	cfg    SchedulerConfig
	stores *store.Stores
	log    *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTriggerScheduler creates the scheduler. A zero tick falls back to
// DefaultTriggerTick.
func NewTriggerScheduler(cfg SchedulerConfig, stores *store.Stores, log *zap.SugaredLogger) *TriggerScheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTriggerTick
	}
	return &TriggerScheduler{cfg: cfg, stores: stores, log: log}
}

// Start begins the tick loop.
func (s *TriggerScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	s.log.Infow("Trigger scheduler started", "tick", s.cfg.Tick)
}

// Stop halts the loop and waits for an in-progress tick to finish.
func (s *TriggerScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Infow("Trigger scheduler stopped")
}

func (s *TriggerScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tickTime := <-ticker.C:
			if err := s.Evaluate(ctx, tickTime); err != nil {
				s.log.Warnw("Trigger tick error", "error", err)
			}
		}
	}
}

// Evaluate fires every trigger due as of now. The loop calls it each tick;
// it can also be called directly for an immediate evaluation.
func (s *TriggerScheduler) Evaluate(ctx context.Context, now time.Time) error {
	due, err := s.stores.Triggers.Due(now)
	if err != nil {
		return errors.Wrap(err, "list due triggers")
	}
	for _, trigger := range due {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if trigger.TriggerType == store.TriggerTypePolling {
			continue
		}
		if err := s.fire(trigger, now); err != nil {
			s.log.Errorw("Failed to fire trigger", "trigger_id", trigger.ID, "error", err)
			continue
		}
	}
	return nil
}

// fire appends the trigger's event and advances its schedule. When the event
// cannot be written the timings stay untouched, so the next tick retries.
func (s *TriggerScheduler) fire(trigger *store.Trigger, now time.Time) error {
	cfg, err := trigger.ParsedConfig()
	if err != nil {
		// A corrupt config must not wedge the schedule: fire with defaults
		// and keep the cadence via the fallback interval.
		s.log.Warnw("Trigger config is not valid JSON; using defaults",
			"trigger_id", trigger.ID, "error", err)
		cfg = &store.TriggerConfig{}
	}

	eventType := cfg.EventType
	if eventType == "" {
		eventType = DefaultTriggerEventType
	}

	projectID := trigger.ProjectID
	if persona, err := s.stores.Personas.Get(trigger.PersonaID); err == nil {
		projectID = persona.ProjectID
	} else {
		s.log.Warnw("Trigger persona not found; keeping trigger project",
			"trigger_id", trigger.ID, "persona_id", trigger.PersonaID, "error", err)
	}

	event := &store.Event{
		ID:              uuid.NewString(),
		EventType:       eventType,
		SourceType:      store.EventSourceTrigger,
		SourceID:        trigger.ID,
		TargetPersonaID: trigger.PersonaID,
		UseCaseID:       trigger.UseCaseID,
		ProjectID:       projectID,
		Payload:         string(cfg.Payload),
	}
	if err := s.stores.Events.Create(event); err != nil {
		return errors.Wrapf(err, "create event for trigger %s", trigger.ID)
	}

	next := now.Add(s.interval(trigger, cfg))
	if err := s.stores.Triggers.UpdateTimings(trigger.ID, now, next); err != nil {
		return errors.Wrapf(err, "update timings for trigger %s", trigger.ID)
	}

	s.log.Infow("Trigger fired", "trigger_id", trigger.ID, "event_id", event.ID,
		"event_type", eventType, "next_trigger_at", next.Format(time.RFC3339))
	return nil
}

// interval computes the gap to the next firing: a schedule expression first,
// then interval_seconds, then an hour.
func (s *TriggerScheduler) interval(trigger *store.Trigger, cfg *store.TriggerConfig) time.Duration {
	if trigger.TriggerType == store.TriggerTypeSchedule && cfg.Cron != "" {
		if d, ok := ParseEvery(cfg.Cron); ok {
			return d
		}
		s.log.Warnw("Unrecognized schedule expression",
			"trigger_id", trigger.ID, "cron", cfg.Cron)
	}
	if cfg.IntervalSeconds >= 1 {
		return time.Duration(cfg.IntervalSeconds) * time.Second
	}
	return time.Hour
}

// everyPattern is the only schedule syntax: "every N<unit>", one space,
// no gap before the unit.
var everyPattern = regexp.MustCompile(`(?i)^every (\d+)([smhd])$`)

// ParseEvery parses an "every N<unit>" schedule expression where the unit is
// one of s, m, h or d (case-insensitive). Reports false for anything else,
// including zero counts.
func ParseEvery(expr string) (time.Duration, bool) {
	m := everyPattern.FindStringSubmatch(expr)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "s":
		return time.Duration(n) * time.Second, true
	case "m":
		return time.Duration(n) * time.Minute, true
	case "h":
		return time.Duration(n) * time.Hour, true
	default:
		return time.Duration(n) * 24 * time.Hour, true
	}
}
