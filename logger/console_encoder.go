package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// Muted palette, easy on the eyes in long-running daemon output.
var palette = struct {
	fg       string
	time     string
	id       string
	number   string
	yellow   string
	red      string
	redBg    string
	yellowBg string
	names    []string
}{
	fg:       "\x1b[38;5;223m",
	time:     "\x1b[38;5;108m",
	id:       "\x1b[38;5;109m",
	number:   "\x1b[38;5;175m",
	yellow:   "\x1b[38;5;214m",
	red:      "\x1b[38;5;167m",
	redBg:    "\x1b[48;5;88m",
	yellowBg: "\x1b[48;5;58m",
	names: []string{
		"\x1b[38;5;208m", // orange
		"\x1b[38;5;142m", // green
		"\x1b[38;5;109m", // blue
		"\x1b[38;5;175m", // purple
	},
}

// consoleEncoder renders calm, compact console lines.
// Format: "13:04:35  d.queue  Execution dispatched  exec-9f2 worker-1 312ms"
type consoleEncoder struct {
	zapcore.Encoder // embedded base encoder for field serialization
}

func newConsoleEncoder() *consoleEncoder {
	return &consoleEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	}
}

func (enc *consoleEncoder) Clone() zapcore.Encoder {
	return &consoleEncoder{Encoder: enc.Encoder.Clone()}
}

func (enc *consoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := buffer.NewPool().Get()

	final.AppendString(palette.time)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level badge only for WARN and above; INFO lines stay quiet
	if ent.Level != zapcore.InfoLevel && ent.Level != zapcore.DebugLevel {
		final.AppendString("  ")
		final.AppendString(levelBadge(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(componentColor(ent.LoggerName))
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(palette.fg)
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	if len(fields) > 0 {
		final.AppendString("  ")
		final.AppendString(renderFields(fields))
	}

	final.AppendString("\n")
	return final, nil
}

func levelBadge(level zapcore.Level) string {
	switch level {
	case zapcore.WarnLevel:
		return colorBold + palette.yellowBg + palette.yellow + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + palette.redBg + palette.red + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + palette.redBg + palette.red + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// componentColor picks a stable color per logger name for visual grouping
func componentColor(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	return palette.names[hash%len(palette.names)]
}

// abbreviateName shortens component names: dispatch.queue -> d.queue
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && len(parts[0]) > 0 {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

func fieldValue(field zapcore.Field) string {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", field.Integer)
	case zapcore.BoolType:
		if field.Integer == 1 {
			return "true"
		}
		return "false"
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok {
			return err.Error()
		}
	}
	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}
	return ""
}

// renderFields emits just the values: IDs in blue, durations and counts in
// purple, everything else in the base foreground.
func renderFields(fields []zapcore.Field) string {
	var parts []string
	for _, field := range fields {
		val := fieldValue(field)
		if val == "" {
			continue
		}
		switch {
		case strings.HasSuffix(field.Key, "_id") || field.Key == "worker" || field.Key == "persona":
			parts = append(parts, palette.id+val+colorReset)
		case field.Key == FieldDurationMS:
			parts = append(parts, palette.number+val+colorReset+"ms")
		case field.Key == FieldCount || strings.HasSuffix(field.Key, "_count") || field.Key == "depth":
			parts = append(parts, palette.number+val+colorReset)
		case field.Key == FieldError:
			parts = append(parts, palette.red+val+colorReset)
		default:
			parts = append(parts, palette.fg+val+colorReset)
		}
	}
	return strings.Join(parts, " ")
}
