package budget_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupelabs/troupe/budget"
	"github.com/troupelabs/troupe/errors"
	troupetest "github.com/troupelabs/troupe/internal/testing"
	"github.com/troupelabs/troupe/internal/util"
	"github.com/troupelabs/troupe/logger"
	"github.com/troupelabs/troupe/store"
)

func seedSpend(t *testing.T, stores *store.Stores, personaID string, costs ...float64) {
	t.Helper()
	for i, cost := range costs {
		id := personaID + "-exec-" + string(rune('a'+i))
		require.NoError(t, stores.Executions.Create(&store.Execution{ID: id, PersonaID: personaID}))
		require.NoError(t, stores.Executions.Finalize(id, store.FinalizeParams{
			Status:       store.ExecStatusCompleted,
			TotalCostUSD: util.Ptr(cost),
		}))
	}
}

func TestTracker_StatusSumsSpend(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	stores := store.New(db)
	tracker := budget.NewTracker(stores, logger.Logger)

	require.NoError(t, stores.Personas.Create(&store.Persona{
		ID:               "per-1",
		ProjectID:        "proj-1",
		Name:             "Billing Bot",
		BudgetDailyUSD:   1.00,
		BudgetMonthlyUSD: 10.00,
	}))
	seedSpend(t, stores, "per-1", 0.40, 0.35)

	status, err := tracker.Status("per-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, status.DailySpendUSD, 1e-9)
	assert.InDelta(t, 0.75, status.MonthlySpendUSD, 1e-9)
	assert.Equal(t, 1.00, status.DailyLimitUSD)
	assert.False(t, status.DailyExceeded)
	assert.False(t, status.MonthlyExceeded)
}

func TestTracker_StatusFlagsExceededLimits(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	stores := store.New(db)
	tracker := budget.NewTracker(stores, logger.Logger)

	require.NoError(t, stores.Personas.Create(&store.Persona{
		ID:             "per-1",
		ProjectID:      "proj-1",
		Name:           "Spender",
		BudgetDailyUSD: 0.50,
	}))
	seedSpend(t, stores, "per-1", 0.60)

	status, err := tracker.Status("per-1")
	require.NoError(t, err)
	assert.True(t, status.DailyExceeded)
	assert.False(t, status.MonthlyExceeded, "zero monthly limit means unlimited")

	// Record must never return an error or block; it only warns.
	tracker.Record("per-1", 0.60)
}

func TestTracker_StatusUnknownPersona(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	tracker := budget.NewTracker(store.New(db), logger.Logger)

	_, err := tracker.Status("ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTracker_RecordIgnoresZeroCost(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	tracker := budget.NewTracker(store.New(db), logger.Logger)

	// No persona exists; a zero cost must short-circuit before any lookup.
	tracker.Record("ghost", 0)
	tracker.Record("", 0.25)
}
