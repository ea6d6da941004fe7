package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "troupe.db")

	// Server defaults. Ports are deliberately not defaulted here: nil means
	// "use the server's default" and 0 is rejected by Validate.
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.shutdown_grace_seconds", 30)

	// Worker registration and liveness defaults
	v.SetDefault("workers.hello_timeout_seconds", 10)
	v.SetDefault("workers.heartbeat_interval_seconds", 30)
	v.SetDefault("workers.heartbeat_timeout_seconds", 90)

	// Dispatch defaults
	v.SetDefault("dispatch.default_timeout_ms", 300000)        // 5 minutes per execution
	v.SetDefault("dispatch.max_output_bytes", 10*1024*1024)    // 10 MiB output cap
	v.SetDefault("dispatch.retain_seconds", 600)               // Finished executions linger 10 minutes

	// Event processor defaults
	v.SetDefault("events.tick_seconds", 2)
	v.SetDefault("events.batch", 50)

	// Trigger scheduler defaults
	v.SetDefault("triggers.tick_seconds", 5)

	// Bus defaults
	v.SetDefault("bus.enabled", false)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Worker shared secret and session signing key
	v.BindEnv("workers.token", "TROUPE_WORKERS_TOKEN")
	v.BindEnv("workers.session_secret", "TROUPE_WORKERS_SESSION_SECRET")

	// API key hash for the CRUD surface
	v.BindEnv("server.api_key_hash", "TROUPE_SERVER_API_KEY_HASH")

	// Credential master key passphrase
	v.BindEnv("secrets.passphrase", "TROUPE_SECRETS_PASSPHRASE")

	// Fallback bearer for dispatched executions
	v.BindEnv("dispatch.static_token", "TROUPE_DISPATCH_STATIC_TOKEN")

	// Database path
	v.BindEnv("database.path", "TROUPE_DATABASE_PATH")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "troupe.db" // Fallback default
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// String returns a string representation of the config. Secret-bearing
// fields are summarized as set/unset, never printed.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Bus: {Enabled: %t}, Workers: {Token set: %t}, Secrets: {Passphrase set: %t}}",
		c.Database.Path, c.Bus.Enabled, c.Workers.Token != "", c.Secrets.Passphrase != "")
}
