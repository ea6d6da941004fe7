package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupelabs/troupe/errors"
	troupetest "github.com/troupelabs/troupe/internal/testing"
	"github.com/troupelabs/troupe/store"
)

func TestCredentialStore_PutReplacesExisting(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	s := store.NewCredentialStore(db)
	newTestPersona(t, db, "per-1", "proj-1")

	require.NoError(t, s.Put(&store.Credential{
		ID: "cred-1", PersonaID: "per-1", Connector: "github",
		Ciphertext: "b2xk", IV: "aXYx", AuthTag: "dGFnMQ==",
	}))
	// Same persona+connector: the row is replaced, not duplicated.
	require.NoError(t, s.Put(&store.Credential{
		ID: "cred-2", PersonaID: "per-1", Connector: "github",
		Ciphertext: "bmV3", IV: "aXYy", AuthTag: "dGFnMg==",
	}))

	creds, err := s.ListForPersona("per-1")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "bmV3", creds[0].Ciphertext)
	assert.Equal(t, "aXYy", creds[0].IV)
}

func TestCredentialStore_ListConnectorsNamesOnly(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	s := store.NewCredentialStore(db)
	newTestPersona(t, db, "per-1", "proj-1")

	require.NoError(t, s.Put(&store.Credential{
		ID: "cred-1", PersonaID: "per-1", Connector: "slack",
		Ciphertext: "Y3Q=", IV: "aXY=", AuthTag: "dGFn",
	}))
	require.NoError(t, s.Put(&store.Credential{
		ID: "cred-2", PersonaID: "per-1", Connector: "github",
		Ciphertext: "Y3Q=", IV: "aXY=", AuthTag: "dGFn",
	}))

	connectors, err := s.ListConnectors("per-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"github", "slack"}, connectors)
}

func TestCredentialStore_Delete(t *testing.T) {
	db := troupetest.CreateTestDB(t)
	s := store.NewCredentialStore(db)
	newTestPersona(t, db, "per-1", "proj-1")

	require.NoError(t, s.Put(&store.Credential{
		ID: "cred-1", PersonaID: "per-1", Connector: "github",
		Ciphertext: "Y3Q=", IV: "aXY=", AuthTag: "dGFn",
	}))
	require.NoError(t, s.Delete("per-1", "github"))

	err := s.Delete("per-1", "github")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
