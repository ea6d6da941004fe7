package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBasicSourceTracking tests that source tracking works for defined config fields
func TestBasicSourceTracking(t *testing.T) {
	t.Run("troupe.toml vs config.toml precedence", func(t *testing.T) {
		// Reset global state
		Reset()
		defer Reset()

		// Create temp directory
		tempDir := t.TempDir()
		troupeDir := filepath.Join(tempDir, ".troupe")
		require.NoError(t, os.MkdirAll(troupeDir, 0755))

		// Create config.toml
		configToml := `
[database]
path = "config.db"

[events]
tick_seconds = 7
`
		require.NoError(t, os.WriteFile(
			filepath.Join(troupeDir, "config.toml"),
			[]byte(configToml),
			0644,
		))

		// Create troupe.toml that overrides database.path
		troupeToml := `
[database]
path = "troupe-wins.db"
`
		require.NoError(t, os.WriteFile(
			filepath.Join(troupeDir, "troupe.toml"),
			[]byte(troupeToml),
			0644,
		))

		// Set environment
		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(tempDir)
		oldHome := os.Getenv("HOME")
		os.Setenv("HOME", tempDir)
		defer os.Setenv("HOME", oldHome)

		// Load configuration
		cfg, err := Load()
		require.NoError(t, err)

		// Verify troupe.toml won
		assert.Equal(t, "troupe-wins.db", cfg.Database.Path, "troupe.toml should win over config.toml")

		// Verify source tracking
		assert.Equal(t, SourceUser, ConfigSources["database.path"].Source)
		assert.Contains(t, ConfigSources["database.path"].Path, "troupe.toml")

		// Verify events.tick_seconds from config.toml is tracked
		assert.Equal(t, 7, cfg.Events.TickSeconds)
		assert.Equal(t, SourceUser, ConfigSources["events.tick_seconds"].Source)
		assert.Contains(t, ConfigSources["events.tick_seconds"].Path, "config.toml")
	})

	t.Run("Default values are tracked", func(t *testing.T) {
		// Reset global state
		Reset()
		defer Reset()

		// Create empty temp directory (no configs)
		tempDir := t.TempDir()
		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(tempDir)
		oldHome := os.Getenv("HOME")
		os.Setenv("HOME", tempDir)
		defer os.Setenv("HOME", oldHome)

		// Load configuration (all defaults)
		cfg, err := Load()
		require.NoError(t, err)

		// Check a known default
		assert.Equal(t, int64(300000), cfg.Dispatch.DefaultTimeoutMs)

		// Verify it's tracked as default
		source, exists := ConfigSources["dispatch.default_timeout_ms"]
		assert.True(t, exists, "Default should be tracked")
		assert.Equal(t, SourceDefault, source.Source)
		assert.Equal(t, "", source.Path, "Defaults have no path")
	})

	t.Run("Local overrides win over user config", func(t *testing.T) {
		// Reset global state
		Reset()
		defer Reset()

		tempDir := t.TempDir()
		troupeDir := filepath.Join(tempDir, ".troupe")
		require.NoError(t, os.MkdirAll(troupeDir, 0755))

		// User config sets a database path
		require.NoError(t, os.WriteFile(
			filepath.Join(troupeDir, "troupe.toml"),
			[]byte("[database]\npath = \"user.db\"\n"),
			0644,
		))

		// Local overrides file (written by troupe itself) sets another
		require.NoError(t, os.WriteFile(
			filepath.Join(troupeDir, "troupe_local.toml"),
			[]byte("[database]\npath = \"local.db\"\n\n[bus]\nenabled = true\n"),
			0600,
		))

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(tempDir)
		oldHome := os.Getenv("HOME")
		os.Setenv("HOME", tempDir)
		defer os.Setenv("HOME", oldHome)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "local.db", cfg.Database.Path)
		assert.True(t, cfg.Bus.Enabled)
		assert.Equal(t, SourceUserLocal, ConfigSources["database.path"].Source)
		assert.Contains(t, ConfigSources["database.path"].Path, "troupe_local.toml")
		assert.Equal(t, SourceUserLocal, ConfigSources["bus.enabled"].Source)
	})

	t.Run("Environment wins over files", func(t *testing.T) {
		// Reset global state
		Reset()
		defer Reset()

		tempDir := t.TempDir()
		troupeDir := filepath.Join(tempDir, ".troupe")
		require.NoError(t, os.MkdirAll(troupeDir, 0755))

		require.NoError(t, os.WriteFile(
			filepath.Join(troupeDir, "troupe.toml"),
			[]byte("[database]\npath = \"file.db\"\n"),
			0644,
		))

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(tempDir)
		oldHome := os.Getenv("HOME")
		os.Setenv("HOME", tempDir)
		defer os.Setenv("HOME", oldHome)
		os.Setenv("TROUPE_DATABASE_PATH", "env.db")
		defer os.Unsetenv("TROUPE_DATABASE_PATH")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "env.db", cfg.Database.Path, "environment should win over config files")
		assert.Equal(t, SourceEnvironment, ConfigSources["database.path"].Source)
		assert.Equal(t, "TROUPE_DATABASE_PATH", ConfigSources["database.path"].Path)
	})
}

// TestIntrospectionConsistency verifies introspection matches loaded config
func TestIntrospectionConsistency(t *testing.T) {
	// Reset global state
	Reset()
	defer Reset()

	// Create temp directory with config
	tempDir := t.TempDir()
	troupeDir := filepath.Join(tempDir, ".troupe")
	require.NoError(t, os.MkdirAll(troupeDir, 0755))

	troupeToml := `
[database]
path = "introspect.db"

[triggers]
tick_seconds = 11
`
	require.NoError(t, os.WriteFile(
		filepath.Join(troupeDir, "troupe.toml"),
		[]byte(troupeToml),
		0644,
	))

	// Set environment
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tempDir)
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", oldHome)

	// Load configuration
	cfg, err := Load()
	require.NoError(t, err)

	// Get introspection
	intro, err := GetConfigIntrospection()
	require.NoError(t, err)

	// Build a map for easier lookup
	settings := make(map[string]*SettingInfo)
	for i := range intro.Settings {
		settings[intro.Settings[i].Key] = &intro.Settings[i]
	}

	// Verify database.path
	dbSetting := settings["database.path"]
	require.NotNil(t, dbSetting)
	assert.Equal(t, cfg.Database.Path, dbSetting.Value)
	assert.Equal(t, SourceUser, dbSetting.Source)
	assert.Contains(t, dbSetting.SourcePath, "troupe.toml")

	// Verify triggers.tick_seconds
	tickSetting := settings["triggers.tick_seconds"]
	require.NotNil(t, tickSetting)
	assert.Equal(t, SourceUser, tickSetting.Source)
	assert.Contains(t, tickSetting.SourcePath, "troupe.toml")
}
