package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestJSONOutputRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "warn", "json")
	t.Cleanup(func() { defaultLogger = nil })

	Info("dropped %d", 1)
	Warn("kept %s", "warning")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "kept warning", entry["message"])
	assert.Contains(t, entry["caller"], "logger_test.go")
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", "text")
	t.Cleanup(func() { defaultLogger = nil })

	Debug("cycle for subscriber %d", 42)

	assert.Contains(t, buf.String(), "cycle for subscriber 42")
	assert.Contains(t, buf.String(), "DBG")
}

func TestLoggingBeforeInitIsNoop(t *testing.T) {
	defaultLogger = nil
	assert.NotPanics(t, func() {
		Info("nothing")
		Error("still nothing")
	})
}

func TestFatalLogsAtFatalLevelAndExits(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "error", "json")
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() {
		defaultLogger = nil
		exit = os.Exit
	})

	Fatal("storage unavailable: %s", "disk full")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "fatal", entry["level"])
	assert.Equal(t, "storage unavailable: disk full", entry["message"])
	assert.Equal(t, 1, code)
}
