package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	troupetest "github.com/troupelabs/troupe/internal/testing"
	"github.com/troupelabs/troupe/store"
)

func TestSubscriptionStore_Matching(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	s := store.NewSubscriptionStore(db)
	newTestPersona(t, db, "per-1", "proj-a")
	newTestPersona(t, db, "per-2", "proj-a")
	newTestPersona(t, db, "per-3", "proj-b")

	require.NoError(t, s.Create(&store.Subscription{
		ID: "sub-1", ProjectID: "proj-a", EventType: "task.created",
		TargetPersonaID: "per-1", Enabled: true,
	}))
	require.NoError(t, s.Create(&store.Subscription{
		ID: "sub-2", ProjectID: "proj-a", EventType: "task.created",
		TargetPersonaID: "per-2", SourceFilter: "svc-*", Enabled: true,
	}))
	// Wrong type, wrong project, and disabled: all excluded.
	require.NoError(t, s.Create(&store.Subscription{
		ID: "sub-3", ProjectID: "proj-a", EventType: "task.deleted",
		TargetPersonaID: "per-1", Enabled: true,
	}))
	require.NoError(t, s.Create(&store.Subscription{
		ID: "sub-4", ProjectID: "proj-b", EventType: "task.created",
		TargetPersonaID: "per-3", Enabled: true,
	}))
	require.NoError(t, s.Create(&store.Subscription{
		ID: "sub-5", ProjectID: "proj-a", EventType: "task.created",
		TargetPersonaID: "per-1", Enabled: false,
	}))

	matches, err := s.Matching("proj-a", "task.created")
	require.NoError(t, err)

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	assert.ElementsMatch(t, []string{"sub-1", "sub-2"}, ids)
	for _, m := range matches {
		if m.ID == "sub-2" {
			assert.Equal(t, "svc-*", m.SourceFilter)
		}
	}

	// Empty projectID fans out across projects.
	all, err := s.Matching("", "task.created")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSubscriptionStore_SetEnabled(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	s := store.NewSubscriptionStore(db)
	newTestPersona(t, db, "per-1", "proj-a")

	require.NoError(t, s.Create(&store.Subscription{
		ID: "sub-1", ProjectID: "proj-a", EventType: "task.created",
		TargetPersonaID: "per-1", Enabled: true,
	}))
	require.NoError(t, s.SetEnabled("sub-1", false))

	matches, err := s.Matching("proj-a", "task.created")
	require.NoError(t, err)
	assert.Empty(t, matches)

	got, err := s.Get("sub-1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}
