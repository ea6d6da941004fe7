package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/troupelabs/troupe/am"
	"github.com/troupelabs/troupe/internal/util"
)

func TestParseSettingValue(t *testing.T) {
	tests := []struct {
		raw  string
		want interface{}
	}{
		{"true", true},
		{"false", false},
		{"7", int64(7)},
		{"-3", int64(-3)},
		{"2.5", 2.5},
		{"troupe.db", "troupe.db"},
		{"True", "True"}, // only lowercase TOML booleans
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseSettingValue(tt.raw), "raw=%q", tt.raw)
	}
}

func TestBuildServerConfig(t *testing.T) {
	cfg := &am.Config{}
	cfg.Server.APIPort = util.Ptr(8800)
	cfg.Server.WorkerPort = util.Ptr(8801)
	cfg.Server.ShutdownGraceSeconds = 15
	cfg.Workers.Token = "tok"
	cfg.Workers.HeartbeatIntervalSeconds = 20
	cfg.Workers.HeartbeatTimeoutSeconds = 60
	cfg.Dispatch.RetainSeconds = 120
	cfg.Events.TickSeconds = 3
	cfg.Triggers.TickSeconds = 9
	cfg.Bus.Enabled = true

	srvCfg := buildServerConfig(cfg)
	assert.Equal(t, 8800, srvCfg.APIPort)
	assert.Equal(t, 8801, srvCfg.WorkerPort)
	assert.Equal(t, 15*time.Second, srvCfg.ShutdownGrace)
	assert.Equal(t, "tok", srvCfg.Pool.WorkerToken)
	assert.Equal(t, 20*time.Second, srvCfg.Pool.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, srvCfg.Pool.HeartbeatTimeout)
	assert.Equal(t, 2*time.Minute, srvCfg.Dispatch.Retain)
	assert.Equal(t, 3*time.Second, srvCfg.Processor.Tick)
	assert.Equal(t, 9*time.Second, srvCfg.Scheduler.Tick)
	assert.True(t, srvCfg.BusEnabled)
}

func TestBuildServerConfigDefaults(t *testing.T) {
	// Unset ports stay zero so server.New falls back to its own defaults
	srvCfg := buildServerConfig(&am.Config{})
	assert.Zero(t, srvCfg.APIPort)
	assert.Zero(t, srvCfg.WorkerPort)
	assert.Zero(t, srvCfg.Dispatch.Retain)
	assert.Zero(t, srvCfg.Processor.Tick)
}
