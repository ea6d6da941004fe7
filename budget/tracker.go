// Package budget tracks per-persona spend over sliding 24-hour and 30-day
// windows, derived from finalized execution costs. The tracker records and
// reports; nothing is gated on it.
package budget

import (
	"time"

	"go.uber.org/zap"

	"github.com/troupelabs/troupe/errors"
	"github.com/troupelabs/troupe/store"
)

// Sliding windows rather than calendar boundaries, so a burst at midnight
// cannot reset the meter.
const (
	dailyWindow   = 24 * time.Hour
	monthlyWindow = 30 * 24 * time.Hour
)

// Status is one persona's spend against its configured limits.
// A zero limit means unlimited.
type Status struct {
	PersonaID       string  `json:"personaId"`
	DailySpendUSD   float64 `json:"dailySpendUsd"`
	DailyLimitUSD   float64 `json:"dailyLimitUsd"`
	DailyExceeded   bool    `json:"dailyExceeded"`
	MonthlySpendUSD float64 `json:"monthlySpendUsd"`
	MonthlyLimitUSD float64 `json:"monthlyLimitUsd"`
	MonthlyExceeded bool    `json:"monthlyExceeded"`
}

// Tracker answers spend queries from the executions table.
type Tracker struct {
	personas   *store.PersonaStore
	executions *store.ExecutionStore
	log        *zap.SugaredLogger
}

// NewTracker creates a tracker over the given stores.
func NewTracker(stores *store.Stores, log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		personas:   stores.Personas,
		executions: stores.Executions,
		log:        log,
	}
}

// Status reports a persona's current spend against its limits.
func (t *Tracker) Status(personaID string) (*Status, error) {
	persona, err := t.personas.Get(personaID)
	if err != nil {
		return nil, errors.Wrap(err, "budget status")
	}

	now := time.Now()
	daily, err := t.executions.CostSince(personaID, now.Add(-dailyWindow))
	if err != nil {
		return nil, errors.Wrap(err, "daily spend")
	}
	monthly, err := t.executions.CostSince(personaID, now.Add(-monthlyWindow))
	if err != nil {
		return nil, errors.Wrap(err, "monthly spend")
	}

	return &Status{
		PersonaID:       personaID,
		DailySpendUSD:   daily,
		DailyLimitUSD:   persona.BudgetDailyUSD,
		DailyExceeded:   persona.BudgetDailyUSD > 0 && daily > persona.BudgetDailyUSD,
		MonthlySpendUSD: monthly,
		MonthlyLimitUSD: persona.BudgetMonthlyUSD,
		MonthlyExceeded: persona.BudgetMonthlyUSD > 0 && monthly > persona.BudgetMonthlyUSD,
	}, nil
}

// Record is called once per finalized execution with its reported cost.
// It only warns on a crossed limit; execution is never blocked.
func (t *Tracker) Record(personaID string, costUSD float64) {
	if personaID == "" || costUSD <= 0 {
		return
	}
	status, err := t.Status(personaID)
	if err != nil {
		t.log.Warnw("Failed to compute budget status", "persona_id", personaID, "error", err)
		return
	}
	if status.DailyExceeded {
		t.log.Warnw("Persona exceeded daily budget",
			"persona_id", personaID, "spend_usd", status.DailySpendUSD, "limit_usd", status.DailyLimitUSD)
	}
	if status.MonthlyExceeded {
		t.log.Warnw("Persona exceeded monthly budget",
			"persona_id", personaID, "spend_usd", status.MonthlySpendUSD, "limit_usd", status.MonthlyLimitUSD)
	}
}
