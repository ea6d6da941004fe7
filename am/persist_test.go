package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateLocalOverrides(t *testing.T) {
	Reset()
	defer Reset()

	tempDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", oldHome)
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tempDir)

	// Persist a generated worker token and passphrase
	require.NoError(t, UpdateWorkersToken("generated-worker-token"))
	require.NoError(t, UpdateSecretsPassphrase("generated-passphrase"))
	require.NoError(t, UpdateBusEnabled(true))

	// The local file carries secrets: owner-only permissions
	localPath := filepath.Join(tempDir, ".troupe", "troupe_local.toml")
	info, err := os.Stat(localPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A fresh load picks the persisted values up
	Reset()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "generated-worker-token", cfg.Workers.Token)
	assert.Equal(t, "generated-passphrase", cfg.Secrets.Passphrase)
	assert.True(t, cfg.Bus.Enabled)

	// Source tracking attributes them to the local overrides file
	assert.Equal(t, SourceUserLocal, ConfigSources["workers.token"].Source)
	assert.Equal(t, SourceUserLocal, ConfigSources["secrets.passphrase"].Source)
}

func TestUpdatePreservesOtherSections(t *testing.T) {
	Reset()
	defer Reset()

	tempDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", oldHome)
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tempDir)

	require.NoError(t, UpdateWorkersToken("tok-1"))
	require.NoError(t, UpdateSecretsPassphrase("pass-1"))

	// Overwriting one section leaves the other intact
	require.NoError(t, UpdateWorkersToken("tok-2"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-2", cfg.Workers.Token)
	assert.Equal(t, "pass-1", cfg.Secrets.Passphrase)
}

func TestUpdateLocalSetting(t *testing.T) {
	Reset()
	defer Reset()

	tempDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", oldHome)
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tempDir)

	require.NoError(t, UpdateLocalSetting("events.tick_seconds", int64(7)))
	require.NoError(t, UpdateLocalSetting("server.dev_mode", true))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Events.TickSeconds)
	assert.True(t, cfg.Server.DevMode)

	// Keys must be section.key, no more, no less
	assert.Error(t, UpdateLocalSetting("tick_seconds", 7))
	assert.Error(t, UpdateLocalSetting("events.", 7))
	assert.Error(t, UpdateLocalSetting(".tick_seconds", 7))
	assert.Error(t, UpdateLocalSetting("events.tick.seconds", 7))
}

func TestCreateBackupRotation(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "troupe_local.toml")

	// No file yet: backup is a no-op
	require.NoError(t, createBackup(configPath))
	_, err := os.Stat(configPath + ".back1")
	assert.True(t, os.IsNotExist(err))

	// Write and back up three generations
	for i, content := range []string{"gen-1", "gen-2", "gen-3"} {
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
		require.NoError(t, createBackup(configPath), "backup %d", i+1)
	}

	back1, err := os.ReadFile(configPath + ".back1")
	require.NoError(t, err)
	assert.Equal(t, "gen-3", string(back1), ".back1 is the most recent generation")

	back2, err := os.ReadFile(configPath + ".back2")
	require.NoError(t, err)
	assert.Equal(t, "gen-2", string(back2))

	back3, err := os.ReadFile(configPath + ".back3")
	require.NoError(t, err)
	assert.Equal(t, "gen-1", string(back3))

	// Backups keep the owner-only mode
	info, err := os.Stat(configPath + ".back1")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/home/user/.troupe/troupe.toml.back1"))
	assert.True(t, isBackupFile("/home/user/.troupe/troupe_local.toml.back3"))
	assert.True(t, isBackupFile("config.toml.back2"))
	assert.False(t, isBackupFile("/home/user/.troupe/troupe.toml"))
	assert.False(t, isBackupFile("troupe_local.toml"))
}
