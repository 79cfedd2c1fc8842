package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, want := range tests {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger("warn", format)
		if err != nil {
			t.Fatalf("NewLogger(%q) failed: %v", format, err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("%s logger should not enable info at warn level", format)
		}
		if !logger.Core().Enabled(zapcore.ErrorLevel) {
			t.Fatalf("%s logger should enable error at warn level", format)
		}
	}
}
