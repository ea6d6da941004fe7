// Package schedule runs the periodic engines: the event processor turns
// pending events into executions by matching them against subscriptions,
// and the trigger scheduler turns due triggers into pending events. Both
// run a plain ticker loop; per-item failures are logged and never stop a
// tick.
package schedule

import (
	"time"

	"github.com/troupelabs/troupe/dispatch"
)

const (
	// DefaultEventTick is how often pending events are drained.
	DefaultEventTick = 2 * time.Second

	// DefaultTriggerTick is how often due triggers are evaluated.
	DefaultTriggerTick = 5 * time.Second

	// DefaultEventBatch caps how many pending events one tick claims.
	DefaultEventBatch = 50

	// DefaultProjectID marks events that fan out to subscriptions in every
	// project instead of just their own.
	DefaultProjectID = "default"

	// DefaultTriggerEventType is used when a trigger's config names no
	// event_type.
	DefaultTriggerEventType = "trigger_fired"

	// AllMatchesFailedMessage is the status message for an event whose every
	// subscription match failed to produce an execution.
	AllMatchesFailedMessage = "All subscription matches failed"
)

// Submitter queues execution requests. *dispatch.Dispatcher satisfies it.
type Submitter interface {
	Submit(req *dispatch.Request) (string, error)
}
