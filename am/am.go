package am

// Config represents the core troupe configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Events   EventsConfig   `mapstructure:"events"`
	Triggers TriggersConfig `mapstructure:"triggers"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Bus      BusConfig      `mapstructure:"bus"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the API and worker HTTP listeners
type ServerConfig struct {
	APIPort              *int     `mapstructure:"api_port"`    // API listener port: nil = default 7700, 0 is invalid (omit for default)
	WorkerPort           *int     `mapstructure:"worker_port"` // Worker WebSocket port: nil = default 7701, 0 is invalid (omit for default)
	AllowedOrigins       []string `mapstructure:"allowed_origins"`
	DevMode              bool     `mapstructure:"dev_mode"`               // Relaxes CORS for local frontend development
	APIKeyHash           string   `mapstructure:"api_key_hash"`           // Hex SHA-256 of the team API key; empty disables API auth
	ShutdownGraceSeconds int      `mapstructure:"shutdown_grace_seconds"` // Grace period broadcast to workers at shutdown
}

// WorkersConfig configures worker registration and liveness
type WorkersConfig struct {
	Token                    string `mapstructure:"token"`          // Shared secret workers present at connect
	MinVersion               string `mapstructure:"min_version"`    // Reject worker hellos below this semver; empty accepts all
	SessionSecret            string `mapstructure:"session_secret"` // Signs per-session worker tokens; empty degrades to random opaque tokens
	HelloTimeoutSeconds      int    `mapstructure:"hello_timeout_seconds"`
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int    `mapstructure:"heartbeat_timeout_seconds"`
}

// DispatchConfig configures execution assignment and retention
type DispatchConfig struct {
	StaticToken      string `mapstructure:"static_token"` // Fallback bearer when no OAuth token is installed
	DefaultTimeoutMs int64  `mapstructure:"default_timeout_ms"`
	MaxOutputBytes   int64  `mapstructure:"max_output_bytes"`
	RetainSeconds    int    `mapstructure:"retain_seconds"` // How long finished executions stay in memory
}

// EventsConfig configures the event processor loop
type EventsConfig struct {
	TickSeconds int `mapstructure:"tick_seconds"` // Drain cadence (default: 2)
	Batch       int `mapstructure:"batch"`        // Pending events per tick (default: 50)
}

// TriggersConfig configures the trigger scheduler loop
type TriggersConfig struct {
	TickSeconds int `mapstructure:"tick_seconds"` // Evaluation cadence (default: 5)
}

// SecretsConfig configures the credential master key
type SecretsConfig struct {
	Passphrase string `mapstructure:"passphrase"` // Derives the AES key for stored credentials; generated on first serve run when empty
}

// OAuthConfig configures token refresh against an upstream provider
type OAuthConfig struct {
	TokenURL string `mapstructure:"token_url"` // OAuth token endpoint for refresh_token grants
	ClientID string `mapstructure:"client_id"` // Sent with refresh requests when set
}

// BusConfig configures the opaque event bus
type BusConfig struct {
	Enabled bool `mapstructure:"enabled"` // In-process broker when true, no-op client when false
}

// File system constants
const (
	DefaultDirPermissions   = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions  = 0644 // Standard file permissions (rw-r--r--)
	SensitiveFilePermission = 0600 // Owner-only permissions for files carrying secrets (rw-------)
)
