package logger

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		verbosity  int
		jsonOutput bool
	}{
		{name: "JSON output mode", verbosity: VerbosityInfo, jsonOutput: true},
		{name: "Console output mode", verbosity: VerbosityInfo, jsonOutput: false},
		{name: "Quiet console", verbosity: VerbosityUser, jsonOutput: false},
		{name: "Debug JSON", verbosity: VerbosityDebug, jsonOutput: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			JSONOutput = false

			if err := Initialize(tt.verbosity, tt.jsonOutput); err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}
			if Logger == nil {
				t.Error("Initialize() did not set global Logger")
			}
			if JSONOutput != tt.jsonOutput {
				t.Errorf("Initialize() JSONOutput = %v, want %v", JSONOutput, tt.jsonOutput)
			}

			if Logger != nil {
				Logger.Sync()
				Logger = nil
			}
		})
	}

	// Restore the no-op default for other tests
	Logger = zap.NewNop().Sugar()
}

func TestVerbosityToLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zapcore.Level
	}{
		{0, zapcore.WarnLevel},
		{1, zapcore.InfoLevel},
		{2, zapcore.DebugLevel},
		{3, zapcore.DebugLevel},
		{7, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		if got := VerbosityToLevel(tt.verbosity); got != tt.want {
			t.Errorf("VerbosityToLevel(%d) = %v, want %v", tt.verbosity, got, tt.want)
		}
	}
}

func TestPackageWrappersWithoutInitialize(t *testing.T) {
	// The package-level wrappers must be safe before Initialize is called
	saved := Logger
	Logger = zap.NewNop().Sugar()
	defer func() { Logger = saved }()

	Info("info")
	Infof("info %d", 1)
	Infow("info", "key", "value")
	Warn("warn")
	Warnw("warn", "key", "value")
	Error("error")
	Errorw("error", "key", "value")
	Debug("debug")
	Debugw("debug", "key", "value")
}

func TestAbbreviateName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dispatch", "dispatch"},
		{"dispatch.queue", "d.queue"},
		{"schedule.events.tick", "s.events.tick"},
	}
	for _, tt := range tests {
		if got := abbreviateName(tt.in); got != tt.want {
			t.Errorf("abbreviateName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestComponentColorStable(t *testing.T) {
	a := componentColor("pool")
	b := componentColor("pool")
	if a != b {
		t.Errorf("componentColor not stable for same name: %q vs %q", a, b)
	}
}

func TestEncodeEntry(t *testing.T) {
	enc := newConsoleEncoder()
	ent := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Date(2026, 3, 14, 13, 4, 35, 0, time.UTC),
		LoggerName: "dispatch.queue",
		Message:    "Execution dispatched",
	}
	fields := []zapcore.Field{
		zap.String(FieldExecutionID, "exec-1"),
		zap.Int64(FieldDurationMS, 312),
	}

	buf, err := enc.EncodeEntry(ent, fields)
	if err != nil {
		t.Fatalf("EncodeEntry() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{"13:04:35", "d.queue", "Execution dispatched", "exec-1", "312"} {
		if !strings.Contains(out, want) {
			t.Errorf("encoded line missing %q: %s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("encoded line should end with newline")
	}
}

func TestEncodeEntryWarnBadge(t *testing.T) {
	enc := newConsoleEncoder()
	ent := zapcore.Entry{
		Level:   zapcore.WarnLevel,
		Time:    time.Now(),
		Message: "Trigger cron unparseable",
	}
	buf, err := enc.EncodeEntry(ent, nil)
	if err != nil {
		t.Fatalf("EncodeEntry() error = %v", err)
	}
	if !strings.Contains(buf.String(), "WARN") {
		t.Errorf("warn entry missing WARN badge: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	saved := Logger
	Logger = zap.NewNop().Sugar()
	defer func() { Logger = saved }()

	ctx := WithRequestID(context.Background(), "req-42")
	if FromContext(ctx) == nil {
		t.Fatal("FromContext returned nil")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without request ID returned nil")
	}
}

func TestComponentLogger(t *testing.T) {
	saved := Logger
	Logger = zap.NewNop().Sugar()
	defer func() { Logger = saved }()

	if ComponentLogger("pool") == nil {
		t.Fatal("ComponentLogger returned nil")
	}
	if ChildLogger(Logger, FieldWorkerID, "w-1") == nil {
		t.Fatal("ChildLogger returned nil")
	}
}
