package schedule_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupelabs/troupe/dispatch"
	"github.com/troupelabs/troupe/errors"
	troupetest "github.com/troupelabs/troupe/internal/testing"
	"github.com/troupelabs/troupe/logger"
	"github.com/troupelabs/troupe/prompt"
	"github.com/troupelabs/troupe/schedule"
	"github.com/troupelabs/troupe/store"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []*dispatch.Request
	err  error
}

func (f *fakeSubmitter) Submit(req *dispatch.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.reqs = append(f.reqs, req)
	return fmt.Sprintf("exec-%d", len(f.reqs)), nil
}

func (f *fakeSubmitter) requests() []*dispatch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*dispatch.Request(nil), f.reqs...)
}

func newProcessor(t *testing.T) (*schedule.EventProcessor, *store.Stores, *fakeSubmitter) {
	t.Helper()
	db := troupetest.CreateTestDB(t)
	stores := store.New(db)
	sub := &fakeSubmitter{}
	p := schedule.NewEventProcessor(schedule.ProcessorConfig{}, stores, sub, logger.Logger)
	return p, stores, sub
}

func seedPersona(t *testing.T, stores *store.Stores, id, projectID string) {
	t.Helper()
	require.NoError(t, stores.Personas.Create(&store.Persona{
		ID: id, ProjectID: projectID, Name: id, Enabled: true,
	}))
}

func TestEventProcessor_DeliversMatchedEvent(t *testing.T) {
	p, stores, sub := newProcessor(t)
	seedPersona(t, stores, "per-1", "proj-a")
	require.NoError(t, stores.Subscriptions.Create(&store.Subscription{
		ID: "sub-1", ProjectID: "proj-a", EventType: "task.created",
		TargetPersonaID: "per-1", Enabled: true,
	}))
	require.NoError(t, stores.Events.Create(&store.Event{
		ID: "evt-1", EventType: "task.created", ProjectID: "proj-a",
		Payload: `{"task":"write docs"}`, UseCaseID: "uc-7",
	}))

	require.NoError(t, p.Drain(context.Background()))

	reqs := sub.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "per-1", reqs[0].PersonaID)
	assert.Equal(t, "proj-a", reqs[0].ProjectID)
	assert.Equal(t, store.ExecSourceEvent, reqs[0].Source)
	assert.Equal(t, "write docs", reqs[0].InputData["task"])
	assert.Equal(t, "uc-7", reqs[0].InputData[prompt.UseCaseKey])

	evt, err := stores.Events.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, store.EventStatusDelivered, evt.Status)
	require.NotNil(t, evt.ProcessedAt)

	// A second drain finds nothing pending.
	require.NoError(t, p.Drain(context.Background()))
	assert.Len(t, sub.requests(), 1)
}

func TestEventProcessor_SkipsWhenNothingMatches(t *testing.T) {
	p, stores, sub := newProcessor(t)
	require.NoError(t, stores.Events.Create(&store.Event{
		ID: "evt-1", EventType: "task.created", ProjectID: "proj-a",
	}))

	require.NoError(t, p.Drain(context.Background()))

	assert.Empty(t, sub.requests())
	evt, err := stores.Events.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, store.EventStatusSkipped, evt.Status)
	require.NotNil(t, evt.ProcessedAt)
}

func TestEventProcessor_TargetPersonaNarrows(t *testing.T) {
	p, stores, sub := newProcessor(t)
	seedPersona(t, stores, "per-1", "proj-a")
	seedPersona(t, stores, "per-2", "proj-a")
	for i, persona := range []string{"per-1", "per-2"} {
		require.NoError(t, stores.Subscriptions.Create(&store.Subscription{
			ID: fmt.Sprintf("sub-%d", i+1), ProjectID: "proj-a",
			EventType: "task.created", TargetPersonaID: persona, Enabled: true,
		}))
	}
	require.NoError(t, stores.Events.Create(&store.Event{
		ID: "evt-1", EventType: "task.created", ProjectID: "proj-a",
		TargetPersonaID: "per-2",
	}))

	require.NoError(t, p.Drain(context.Background()))

	reqs := sub.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "per-2", reqs[0].PersonaID)
}

func TestEventProcessor_SourceFilterNarrows(t *testing.T) {
	p, stores, sub := newProcessor(t)
	seedPersona(t, stores, "per-1", "proj-a")
	seedPersona(t, stores, "per-2", "proj-a")
	require.NoError(t, stores.Subscriptions.Create(&store.Subscription{
		ID: "sub-1", ProjectID: "proj-a", EventType: "task.created",
		TargetPersonaID: "per-1", SourceFilter: "svc-*", Enabled: true,
	}))
	require.NoError(t, stores.Subscriptions.Create(&store.Subscription{
		ID: "sub-2", ProjectID: "proj-a", EventType: "task.created",
		TargetPersonaID: "per-2", SourceFilter: "other", Enabled: true,
	}))
	require.NoError(t, stores.Events.Create(&store.Event{
		ID: "evt-1", EventType: "task.created", ProjectID: "proj-a",
		SourceID: "svc-9",
	}))

	require.NoError(t, p.Drain(context.Background()))

	// The non-matching filter is not a failure; the event is fully delivered.
	reqs := sub.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "per-1", reqs[0].PersonaID)

	evt, err := stores.Events.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, store.EventStatusDelivered, evt.Status)
}

func TestEventProcessor_ConcurrencyGate(t *testing.T) {
	p, stores, sub := newProcessor(t)
	seedPersona(t, stores, "per-1", "proj-a") // maxConcurrent defaults to 1
	require.NoError(t, stores.Subscriptions.Create(&store.Subscription{
		ID: "sub-1", ProjectID: "proj-a", EventType: "task.created",
		TargetPersonaID: "per-1", Enabled: true,
	}))
	require.NoError(t, stores.Executions.Create(&store.Execution{ID: "exec-busy", PersonaID: "per-1"}))
	require.NoError(t, stores.Executions.MarkRunning("exec-busy", "w1"))
	require.NoError(t, stores.Events.Create(&store.Event{
		ID: "evt-1", EventType: "task.created", ProjectID: "proj-a",
	}))

	require.NoError(t, p.Drain(context.Background()))

	assert.Empty(t, sub.requests())
	evt, err := stores.Events.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, store.EventStatusFailed, evt.Status)
	assert.Equal(t, schedule.AllMatchesFailedMessage, evt.StatusMessage)
}

func TestEventProcessor_PartialDelivery(t *testing.T) {
	p, stores, sub := newProcessor(t)
	seedPersona(t, stores, "per-ok", "proj-a")
	require.NoError(t, stores.Personas.Create(&store.Persona{
		ID: "per-off", ProjectID: "proj-a", Name: "per-off", Enabled: false,
	}))
	for _, tc := range []struct{ id, persona string }{
		{"sub-1", "per-ok"}, {"sub-2", "per-off"},
	} {
		require.NoError(t, stores.Subscriptions.Create(&store.Subscription{
			ID: tc.id, ProjectID: "proj-a", EventType: "task.created",
			TargetPersonaID: tc.persona, Enabled: true,
		}))
	}
	require.NoError(t, stores.Events.Create(&store.Event{
		ID: "evt-1", EventType: "task.created", ProjectID: "proj-a",
	}))

	require.NoError(t, p.Drain(context.Background()))

	require.Len(t, sub.requests(), 1)
	evt, err := stores.Events.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, store.EventStatusPartial, evt.Status)
}

func TestEventProcessor_SubmitErrorFailsEvent(t *testing.T) {
	p, stores, sub := newProcessor(t)
	sub.err = errors.New("queue unavailable")
	seedPersona(t, stores, "per-1", "proj-a")
	require.NoError(t, stores.Subscriptions.Create(&store.Subscription{
		ID: "sub-1", ProjectID: "proj-a", EventType: "task.created",
		TargetPersonaID: "per-1", Enabled: true,
	}))
	require.NoError(t, stores.Events.Create(&store.Event{
		ID: "evt-1", EventType: "task.created", ProjectID: "proj-a",
	}))

	require.NoError(t, p.Drain(context.Background()))

	evt, err := stores.Events.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, store.EventStatusFailed, evt.Status)
	assert.Equal(t, schedule.AllMatchesFailedMessage, evt.StatusMessage)
}

func TestEventProcessor_RawPayloadFallback(t *testing.T) {
	p, stores, sub := newProcessor(t)
	seedPersona(t, stores, "per-1", "proj-a")
	require.NoError(t, stores.Subscriptions.Create(&store.Subscription{
		ID: "sub-1", ProjectID: "proj-a", EventType: "note.added",
		TargetPersonaID: "per-1", Enabled: true,
	}))
	require.NoError(t, stores.Events.Create(&store.Event{
		ID: "evt-1", EventType: "note.added", ProjectID: "proj-a",
		Payload: "not a json object",
	}))

	require.NoError(t, p.Drain(context.Background()))

	reqs := sub.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]any{"raw": "not a json object"}, reqs[0].InputData)
}

func TestEventProcessor_DefaultProjectFansOut(t *testing.T) {
	p, stores, sub := newProcessor(t)
	seedPersona(t, stores, "per-b", "proj-b")
	require.NoError(t, stores.Subscriptions.Create(&store.Subscription{
		ID: "sub-1", ProjectID: "proj-b", EventType: "broadcast",
		TargetPersonaID: "per-b", Enabled: true,
	}))
	require.NoError(t, stores.Events.Create(&store.Event{
		ID: "evt-1", EventType: "broadcast", ProjectID: schedule.DefaultProjectID,
	}))

	require.NoError(t, p.Drain(context.Background()))

	reqs := sub.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "per-b", reqs[0].PersonaID)
}

func TestEventProcessor_RunLoopDrains(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	stores := store.New(db)
	sub := &fakeSubmitter{}
	p := schedule.NewEventProcessor(
		schedule.ProcessorConfig{Tick: 20 * time.Millisecond}, stores, sub, logger.Logger)

	seedPersona(t, stores, "per-1", "proj-a")
	require.NoError(t, stores.Subscriptions.Create(&store.Subscription{
		ID: "sub-1", ProjectID: "proj-a", EventType: "task.created",
		TargetPersonaID: "per-1", Enabled: true,
	}))
	require.NoError(t, stores.Events.Create(&store.Event{
		ID: "evt-1", EventType: "task.created", ProjectID: "proj-a",
	}))

	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return len(sub.requests()) == 1 },
		2*time.Second, 10*time.Millisecond, "loop should pick the event up")
}

func TestMatchEvent(t *testing.T) {
	subs := []*store.Subscription{
		{ID: "plain", EventType: "task.created", TargetPersonaID: "per-1", Enabled: true},
		{ID: "exact", EventType: "task.created", TargetPersonaID: "per-2", SourceFilter: "svc-a", Enabled: true},
		{ID: "prefix", EventType: "task.created", TargetPersonaID: "per-3", SourceFilter: "svc-*", Enabled: true},
		{ID: "star", EventType: "task.created", TargetPersonaID: "per-4", SourceFilter: "*", Enabled: true},
		{ID: "off", EventType: "task.created", TargetPersonaID: "per-5", Enabled: false},
		{ID: "other-type", EventType: "task.deleted", TargetPersonaID: "per-6", Enabled: true},
	}

	cases := []struct {
		name  string
		event *store.Event
		want  []string
	}{
		{
			name:  "no source only matches filterless",
			event: &store.Event{EventType: "task.created"},
			want:  []string{"plain"},
		},
		{
			name:  "exact source",
			event: &store.Event{EventType: "task.created", SourceID: "svc-a"},
			want:  []string{"plain", "exact", "prefix", "star"},
		},
		{
			name:  "prefix source",
			event: &store.Event{EventType: "task.created", SourceID: "svc-b"},
			want:  []string{"plain", "prefix", "star"},
		},
		{
			name:  "unrelated source",
			event: &store.Event{EventType: "task.created", SourceID: "cron-1"},
			want:  []string{"plain", "star"},
		},
		{
			name:  "target persona narrows",
			event: &store.Event{EventType: "task.created", SourceID: "svc-a", TargetPersonaID: "per-3"},
			want:  []string{"prefix"},
		},
		{
			name:  "unknown type",
			event: &store.Event{EventType: "task.archived"},
			want:  nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			matched := schedule.MatchEvent(tc.event, subs)
			ids := make([]string, 0, len(matched))
			for _, m := range matched {
				ids = append(ids, m.ID)
			}
			if tc.want == nil {
				assert.Empty(t, ids)
				return
			}
			assert.Equal(t, tc.want, ids, "match order follows subscription order")
		})
	}
}
