package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/troupelabs/troupe/am"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage troupe configuration",
	Long: `Display and manage troupe configuration settings.

Configuration sources (in order of precedence):
1. Environment variables (TROUPE_* prefix)
2. Project config (./troupe.toml or ./config.toml)
3. Local overrides (~/.troupe/troupe_local.toml, written by troupe itself)
4. User config (~/.troupe/troupe.toml or ~/.troupe/config.toml)
5. System config (/etc/troupe/config.toml)
6. Default values

Secret-bearing values (worker token, credential passphrase) are always
shown redacted.

Examples:
  troupe config show                 # Show current configuration
  troupe config show --format json   # Show configuration in JSON format
  troupe config get database.path    # Get specific config value
  troupe config set events.tick_seconds 5
  troupe config validate             # Validate current configuration
  troupe config where                # Show where configuration is loaded from`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current troupe configuration from all sources",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, events.tick_seconds)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the local overrides file",
	Long: `Set a configuration value using dot notation, persisted to the local
overrides file (~/.troupe/troupe_local.toml).

Values are parsed as bool, integer, or float when they look like one;
everything else is stored as a string. A running orchestrator reads its
settings at startup, so restart serve after changing them.

Examples:
  troupe config set events.tick_seconds 5
  troupe config set server.dev_mode true
  troupe config set database.path /var/lib/troupe/troupe.db`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate that the current troupe configuration is valid",
	RunE:  runConfigValidate,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and which files were checked.

Lists all configuration sources in order of precedence, showing
which files exist and which are missing.`,
	RunE: runConfigWhere,
}

var configFormat string

func init() {
	// Add flags
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	// Add subcommands
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configSetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Never print secrets, even to a local terminal
	display := redactedConfig(cfg)

	// Marshal to requested format
	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(display, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(display)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# troupe configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(display)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# troupe configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

// redactedConfig returns a copy with secret-bearing values masked, matching
// the redaction applied by config introspection.
func redactedConfig(cfg *am.Config) am.Config {
	display := *cfg
	if display.Workers.Token != "" {
		display.Workers.Token = "(set)"
	}
	if display.Workers.SessionSecret != "" {
		display.Workers.SessionSecret = "(set)"
	}
	if display.Secrets.Passphrase != "" {
		display.Secrets.Passphrase = "(set)"
	}
	if display.Dispatch.StaticToken != "" {
		display.Dispatch.StaticToken = "(set)"
	}
	return display
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	// Check if key exists in configuration
	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	// Get the value as interface{} to preserve type, redacting secrets
	value := am.Redact(key, am.Get(key))
	fmt.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	value := parseSettingValue(raw)
	if err := am.UpdateLocalSetting(key, value); err != nil {
		return fmt.Errorf("failed to persist setting: %w", err)
	}

	// Reload and validate so a bad value is flagged immediately. The file
	// keeps the value either way; layered sources may still override it.
	am.Reset()
	cfg, err := am.Load()
	if err != nil {
		fmt.Printf("⚠ Saved, but configuration no longer loads: %v\n", err)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("⚠ Saved, but configuration is now invalid: %v\n", err)
		return nil
	}

	fmt.Printf("✓ %s = %v (saved to %s)\n", key, am.Redact(key, value), am.LocalOverridesPath())
	return nil
}

// parseSettingValue interprets CLI input the way TOML would: bools and
// numbers become typed values, everything else stays a string.
func parseSettingValue(raw string) interface{} {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	// Get the full introspection data
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return fmt.Errorf("failed to get config introspection: %w", err)
	}

	// Show config cascade header
	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]     Built-in defaults")
	fmt.Println("  2. [SYSTEM]      /etc/troupe/config.toml")
	fmt.Println("  3. [USER]        ~/.troupe/config.toml or ~/.troupe/troupe.toml")
	fmt.Println("  4. [USER_LOCAL]  ~/.troupe/troupe_local.toml (written by troupe itself)")
	fmt.Println("  5. [PROJECT]     ./troupe.toml or ./config.toml (searches up directories)")
	fmt.Println("  6. [ENV]         TROUPE_* environment variables")
	fmt.Println()

	// Group settings by source file so each layer prints as one block
	type fileGroup struct {
		source   am.ConfigSource
		path     string
		settings []am.SettingInfo
	}

	settingsByPath := make(map[string]*fileGroup)
	for _, setting := range intro.Settings {
		key := setting.SourcePath
		if key == "" {
			// For defaults and env vars, use source as key
			key = string(setting.Source)
		}

		if group, exists := settingsByPath[key]; exists {
			group.settings = append(group.settings, setting)
		} else {
			settingsByPath[key] = &fileGroup{
				source:   setting.Source,
				path:     setting.SourcePath,
				settings: []am.SettingInfo{setting},
			}
		}
	}

	// Define source order for consistent output
	sourceOrder := []am.ConfigSource{
		am.SourceDefault,
		am.SourceSystem,
		am.SourceUser,
		am.SourceUserLocal,
		am.SourceProject,
		am.SourceEnvironment,
	}

	// Show active sources with their settings
	fmt.Println("Active configuration:")
	for _, source := range sourceOrder {
		// Collect and sort file groups for this source level
		var groups []*fileGroup
		for _, group := range settingsByPath {
			if group.source == source && len(group.settings) > 0 {
				groups = append(groups, group)
			}
		}
		sort.Slice(groups, func(i, j int) bool {
			return groups[i].path < groups[j].path
		})

		// Print each group
		for _, group := range groups {
			// Print source header
			if group.path != "" {
				fmt.Printf("\n%s: %d settings from %s\n", source, len(group.settings), group.path)
			} else if source == am.SourceEnvironment {
				fmt.Printf("\n%s: %d settings from environment variables\n", source, len(group.settings))
			} else if source == am.SourceDefault {
				fmt.Printf("\n%s: %d settings\n", source, len(group.settings))
			}

			// Print each setting
			for _, setting := range group.settings {
				// Format the value for display
				valueStr := fmt.Sprintf("%v", setting.Value)
				// Truncate long values
				if len(valueStr) > 50 {
					valueStr = valueStr[:47] + "..."
				}
				fmt.Printf("  %s = %s\n", setting.Key, valueStr)
			}
		}
	}

	return nil
}
