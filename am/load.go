package am

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var globalConfig *Config
var viperInstance *viper.Viper

// ConfigSources records where each effective setting came from, keyed by
// dotted setting name. Rebuilt whenever the viper instance is initialized.
var ConfigSources map[string]SourceInfo

// Load reads the troupe core configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Set defaults but don't bind environment variables for this specific load
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from %s: %w", configPath, err)
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	ConfigSources = nil
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	// Set up environment variable binding
	v.SetEnvPrefix("TROUPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific sensitive configuration values to environment variables
	BindSensitiveEnvVars(v)

	// Set defaults first
	SetDefaults(v)

	// Mark every defaulted key before any file merges over it
	ConfigSources = make(map[string]SourceInfo)
	markSettingsFromSource(v.AllSettings(), "", SourceDefault, "", ConfigSources)

	// Manually merge configs in precedence order: system -> user -> local -> project -> env vars
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig searches for troupe.toml or config.toml by walking up the
// directory tree. Returns the path to the first config file found, or empty
// string if none found. Preference order: troupe.toml > config.toml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Walk up the directory tree looking for config files
	for {
		troupePath := filepath.Join(dir, "troupe.toml")
		if _, err := os.Stat(troupePath); err == nil {
			return troupePath
		}

		configPath := filepath.Join(dir, "config.toml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root, stop searching
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles manually merges configuration files in the correct
// precedence order. Precedence (lowest to highest): system < user < local
// overrides < project < env vars.
func mergeConfigFiles(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	// Ensure ~/.troupe directory exists
	troupeDir := filepath.Join(homeDir, ".troupe")
	os.MkdirAll(troupeDir, DefaultDirPermissions)

	// Build config layers, with project config found via upward search.
	// Later layers win, so the alternate user file merges before the
	// preferred troupe.toml.
	projectConfig := findProjectConfig()
	layers := []configLayer{
		{"/etc/troupe/config.toml", SourceSystem},             // System config (lowest precedence)
		{filepath.Join(troupeDir, "config.toml"), SourceUser}, // User config (alternate name)
		{filepath.Join(troupeDir, "troupe.toml"), SourceUser}, // User config
		{LocalOverridesPath(), SourceUserLocal},               // Generated secrets and runtime toggles
	}

	// Add project config if found (highest file precedence, below env vars)
	if projectConfig != "" {
		layers = append(layers, configLayer{projectConfig, SourceProject})
	}

	for _, layer := range layers {
		if layer.path == "" {
			continue
		}
		if _, err := os.Stat(layer.path); err != nil {
			continue
		}

		tempViper := viper.New()
		tempViper.SetConfigFile(layer.path)
		tempViper.SetConfigType("toml")

		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}

		markSettingsFromSource(tempViper.AllSettings(), "", layer.source, layer.path, ConfigSources)

		// Merge leaf keys into the main viper instance. Set shadows
		// AutomaticEnv, so keys the environment overrides are skipped.
		for _, key := range tempViper.AllKeys() {
			if _, overridden := envOverride(key); overridden {
				continue
			}
			v.Set(key, tempViper.Get(key))
		}
	}

	// Environment wins over every file; record it last
	for key := range ConfigSources {
		if name, overridden := envOverride(key); overridden {
			ConfigSources[key] = SourceInfo{Source: SourceEnvironment, Path: name}
		}
	}
}

type configLayer struct {
	path   string
	source ConfigSource
}

// envOverride reports the TROUPE_* variable overriding key, if set
func envOverride(key string) (string, bool) {
	name := "TROUPE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if os.Getenv(name) != "" {
		return name, true
	}
	return "", false
}

// markSettingsFromSource records source info for every leaf key in settings,
// recursing through nested sections to build dotted keys
func markSettingsFromSource(settings map[string]interface{}, prefix string, source ConfigSource, path string, sourceMap map[string]SourceInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nestedMap, ok := value.(map[string]interface{}); ok {
			markSettingsFromSource(nestedMap, fullKey, source, path, sourceMap)
			continue
		}

		sourceMap[fullKey] = SourceInfo{Source: source, Path: path}
	}
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	v := initViper()
	return v.Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	v := initViper()
	return v.GetString(key)
}

// GetBool returns a configuration value as bool using dot notation
func GetBool(key string) bool {
	v := initViper()
	return v.GetBool(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	v := initViper()
	return v.GetInt(key)
}

// GetFloat64 returns a configuration value as float64 using dot notation
func GetFloat64(key string) float64 {
	v := initViper()
	return v.GetFloat64(key)
}

// GetDatabasePath returns the configured database path
func GetDatabasePath() (string, error) {
	// Check for DB_PATH environment variable first (for dev mode override)
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	config, err := Load()
	if err != nil {
		return "", err
	}
	return config.GetDatabasePath(), nil
}
