package am

import (
	"encoding/hex"
	"net/url"

	"github.com/Masterminds/semver/v3"

	"github.com/troupelabs/troupe/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to "troupe.db" per defaults.go
	// No validation needed here

	// Server ports: 0 is invalid (omit for default), negative is invalid
	if c.Server.APIPort != nil && *c.Server.APIPort <= 0 {
		return errors.Newf("server.api_port must be positive, got %d (omit for default)", *c.Server.APIPort)
	}
	if c.Server.WorkerPort != nil && *c.Server.WorkerPort <= 0 {
		return errors.Newf("server.worker_port must be positive, got %d (omit for default)", *c.Server.WorkerPort)
	}
	if c.Server.APIPort != nil && c.Server.WorkerPort != nil && *c.Server.APIPort == *c.Server.WorkerPort {
		return errors.Newf("server.api_port and server.worker_port must differ, both are %d", *c.Server.APIPort)
	}

	// API key hash, when set, must be a hex-encoded SHA-256
	if c.Server.APIKeyHash != "" {
		if len(c.Server.APIKeyHash) != 64 {
			return errors.Newf("server.api_key_hash must be 64 hex characters, got %d", len(c.Server.APIKeyHash))
		}
		if _, err := hex.DecodeString(c.Server.APIKeyHash); err != nil {
			return errors.New("server.api_key_hash must be hex-encoded")
		}
	}

	// Shutdown grace: 0 = server default, negative = invalid
	if c.Server.ShutdownGraceSeconds < 0 {
		return errors.Newf("server.shutdown_grace_seconds must be >= 0, got %d", c.Server.ShutdownGraceSeconds)
	}

	// Worker version floor must parse as semver when set
	if c.Workers.MinVersion != "" {
		if _, err := semver.NewVersion(c.Workers.MinVersion); err != nil {
			return errors.Wrapf(err, "workers.min_version %q is not valid semver", c.Workers.MinVersion)
		}
	}

	// Worker liveness timers: 0 = pool default, negative = invalid
	if c.Workers.HelloTimeoutSeconds < 0 {
		return errors.Newf("workers.hello_timeout_seconds must be >= 0, got %d", c.Workers.HelloTimeoutSeconds)
	}
	if c.Workers.HeartbeatIntervalSeconds < 0 {
		return errors.Newf("workers.heartbeat_interval_seconds must be >= 0, got %d", c.Workers.HeartbeatIntervalSeconds)
	}
	if c.Workers.HeartbeatTimeoutSeconds < 0 {
		return errors.Newf("workers.heartbeat_timeout_seconds must be >= 0, got %d", c.Workers.HeartbeatTimeoutSeconds)
	}
	if c.Workers.HeartbeatIntervalSeconds > 0 && c.Workers.HeartbeatTimeoutSeconds > 0 &&
		c.Workers.HeartbeatTimeoutSeconds <= c.Workers.HeartbeatIntervalSeconds {
		return errors.Newf("workers.heartbeat_timeout_seconds (%d) must exceed workers.heartbeat_interval_seconds (%d)",
			c.Workers.HeartbeatTimeoutSeconds, c.Workers.HeartbeatIntervalSeconds)
	}

	// Dispatch limits: 0 = dispatch default, negative = invalid
	if c.Dispatch.DefaultTimeoutMs < 0 {
		return errors.Newf("dispatch.default_timeout_ms must be >= 0, got %d", c.Dispatch.DefaultTimeoutMs)
	}
	if c.Dispatch.MaxOutputBytes < 0 {
		return errors.Newf("dispatch.max_output_bytes must be >= 0, got %d", c.Dispatch.MaxOutputBytes)
	}
	if c.Dispatch.RetainSeconds < 0 {
		return errors.Newf("dispatch.retain_seconds must be >= 0, got %d", c.Dispatch.RetainSeconds)
	}

	// Engine ticks: 0 = package default, negative = invalid
	if c.Events.TickSeconds < 0 {
		return errors.Newf("events.tick_seconds must be >= 0, got %d", c.Events.TickSeconds)
	}
	if c.Events.Batch < 0 {
		return errors.Newf("events.batch must be >= 0, got %d", c.Events.Batch)
	}
	if c.Triggers.TickSeconds < 0 {
		return errors.Newf("triggers.tick_seconds must be >= 0, got %d", c.Triggers.TickSeconds)
	}

	// Token endpoint, when set, must be an absolute http(s) URL
	if c.OAuth.TokenURL != "" {
		u, err := url.Parse(c.OAuth.TokenURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.Newf("oauth.token_url must be an absolute http(s) URL, got %q", c.OAuth.TokenURL)
		}
	}

	return nil
}
