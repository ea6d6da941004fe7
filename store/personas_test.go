package store_test

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupelabs/troupe/errors"
	troupetest "github.com/troupelabs/troupe/internal/testing"
	"github.com/troupelabs/troupe/store"
)

// newTestPersona inserts a minimal enabled persona and returns it.
func newTestPersona(t *testing.T, db *sql.DB, id, projectID string) *store.Persona {
	t.Helper()
	p := &store.Persona{
		ID:           id,
		ProjectID:    projectID,
		Name:         "persona-" + id,
		SystemPrompt: "You are a helpful assistant.",
		Enabled:      true,
	}
	require.NoError(t, store.NewPersonaStore(db).Create(p))
	return p
}

func TestPersonaStore_CreateAndGet(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	s := store.NewPersonaStore(db)

	p := &store.Persona{
		ID:               "per-1",
		ProjectID:        "proj-1",
		UserID:           "user-1",
		Name:             "researcher",
		Description:      "Digs through sources",
		SystemPrompt:     "You research things.",
		StructuredPrompt: `{"role":"researcher"}`,
		ModelProfile:     `{"provider":"ollama","base_url":"http://localhost:11434","model":"llama3"}`,
		MaxConcurrent:    3,
		TimeoutMs:        120000,
		BudgetDailyUSD:   5,
		BudgetMonthlyUSD: 100,
		Enabled:          true,
	}
	require.NoError(t, s.Create(p))

	got, err := s.Get("per-1")
	require.NoError(t, err)
	assert.Equal(t, "researcher", got.Name)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, 3, got.MaxConcurrent)
	assert.Equal(t, int64(120000), got.TimeoutMs)
	assert.Equal(t, 5.0, got.BudgetDailyUSD)
	assert.True(t, got.Enabled)
	assert.False(t, got.CreatedAt.IsZero())

	profile := got.ParsedModelProfile()
	require.NotNil(t, profile)
	assert.Equal(t, "ollama", profile.Provider)
}

func TestPersonaStore_DefaultsMaxConcurrent(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	s := store.NewPersonaStore(db)

	p := &store.Persona{ID: "per-1", ProjectID: "proj-1", Name: "n"}
	require.NoError(t, s.Create(p))

	got, err := s.Get("per-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.MaxConcurrent, "unset max_concurrent should default to 1")
}

func TestPersonaStore_GetNotFound(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	s := store.NewPersonaStore(db)

	_, err := s.Get("missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPersonaStore_Update(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	s := store.NewPersonaStore(db)

	p := newTestPersona(t, db, "per-1", "proj-1")
	p.Name = "renamed"
	p.MaxConcurrent = 5
	p.Enabled = false
	require.NoError(t, s.Update(p))

	got, err := s.Get("per-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 5, got.MaxConcurrent)
	assert.False(t, got.Enabled)

	missing := &store.Persona{ID: "missing", Name: "x"}
	err = s.Update(missing)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPersonaStore_List(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	s := store.NewPersonaStore(db)

	newTestPersona(t, db, "per-1", "proj-a")
	newTestPersona(t, db, "per-2", "proj-a")
	newTestPersona(t, db, "per-3", "proj-b")

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	projA, err := s.List("proj-a")
	require.NoError(t, err)
	assert.Len(t, projA, 2)
}

func TestPersonaStore_DeleteCascades(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	personas := store.NewPersonaStore(db)
	tools := store.NewToolStore(db)
	creds := store.NewCredentialStore(db)
	triggers := store.NewTriggerStore(db)

	newTestPersona(t, db, "per-1", "proj-1")

	require.NoError(t, tools.Create(&store.ToolDefinition{ID: "tool-1", Name: "search"}))
	require.NoError(t, tools.Attach("per-1", "tool-1"))
	require.NoError(t, creds.Put(&store.Credential{
		ID: "cred-1", PersonaID: "per-1", Connector: "github",
		Ciphertext: "Y3Q=", IV: "aXY=", AuthTag: "dGFn",
	}))
	require.NoError(t, triggers.Create(&store.Trigger{ID: "trg-1", PersonaID: "per-1", Enabled: true}))

	require.NoError(t, personas.Delete("per-1"))

	attached, err := tools.ListForPersona("per-1")
	require.NoError(t, err)
	assert.Empty(t, attached, "persona_tools rows should cascade")

	connectors, err := creds.ListConnectors("per-1")
	require.NoError(t, err)
	assert.Empty(t, connectors, "credentials should cascade")

	remaining, err := triggers.List("per-1")
	require.NoError(t, err)
	assert.Empty(t, remaining, "triggers should cascade")

	// Tool definition itself survives, only the attachment goes.
	_, err = tools.Get("tool-1")
	assert.NoError(t, err)
}
