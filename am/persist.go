package am

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/troupelabs/troupe/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	// Check if file exists before backing up
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Delete oldest backup if exists
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Log deletion failures (but don't fail config save)
		fmt.Printf("Failed to delete old backup %s: %v\n", back3, err)
	}

	// Rotate .back2 to .back3
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	// Rotate .back1 to .back2
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	// Copy current to .back1
	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	// Backups inherit owner-only permissions since the local file carries secrets
	if err := os.WriteFile(back1, content, SensitiveFilePermission); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// LocalOverridesPath returns the path to the locally managed config file in
// ~/.troupe/troupe_local.toml. It holds values troupe writes itself: secrets
// generated on first run and toggles flipped at runtime.
func LocalOverridesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".troupe", "troupe_local.toml")
}

// loadOrInitializeLocalConfig loads the local config file, or starts an empty one if it doesn't exist
func loadOrInitializeLocalConfig() (map[string]interface{}, string, error) {
	configPath := LocalOverridesPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	// Ensure ~/.troupe directory exists
	troupeDir := filepath.Dir(configPath)
	if err := os.MkdirAll(troupeDir, 0750); err != nil {
		return nil, "", errors.Wrap(err, "failed to create .troupe directory")
	}

	// Try to read existing config
	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		// File exists, parse it
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse local config")
		}
	} else {
		// File doesn't exist, start empty
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveLocalConfig writes the config to the local config file with backup
func saveLocalConfig(config map[string]interface{}, configPath string) error {
	// Create backup
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	// Marshal to TOML
	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	// Owner-only: the file carries the worker token and master key passphrase
	if err := os.WriteFile(configPath, data, SensitiveFilePermission); err != nil {
		return errors.Wrap(err, "failed to write local config")
	}

	return nil
}

// updateLocalValue sets one key in one section of the local config file
func updateLocalValue(section, key string, value interface{}) error {
	config, configPath, err := loadOrInitializeLocalConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load local config")
	}

	sectionMap, ok := config[section].(map[string]interface{})
	if !ok {
		sectionMap = make(map[string]interface{})
	}
	sectionMap[key] = value
	config[section] = sectionMap

	return saveLocalConfig(config, configPath)
}

// UpdateWorkersToken persists the worker shared secret. serve generates one
// on first run when neither config nor environment provides it.
func UpdateWorkersToken(token string) error {
	return updateLocalValue("workers", "token", token)
}

// UpdateSecretsPassphrase persists the credential master key passphrase
// generated on first run.
func UpdateSecretsPassphrase(passphrase string) error {
	return updateLocalValue("secrets", "passphrase", passphrase)
}

// UpdateServerAPIKeyHash persists the hex SHA-256 of a newly minted API key.
// Only the hash is written; the key itself is shown once and never stored.
func UpdateServerAPIKeyHash(hash string) error {
	return updateLocalValue("server", "api_key_hash", hash)
}

// UpdateBusEnabled persists the bus.enabled runtime toggle
func UpdateBusEnabled(enabled bool) error {
	return updateLocalValue("bus", "enabled", enabled)
}

// UpdateLocalSetting persists one dotted setting (section.key) to the local
// overrides file. Backs `troupe config set`.
func UpdateLocalSetting(key string, value interface{}) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return errors.Newf("setting %q must be written as section.key", key)
	}
	if strings.Contains(parts[1], ".") {
		return errors.Newf("setting %q nests too deep; settings are section.key", key)
	}
	return updateLocalValue(parts[0], parts[1], value)
}
