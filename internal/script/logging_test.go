package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	buf.Reset()
	return line
}

func TestScriptLoggerAttributes(t *testing.T) {
	var buf bytes.Buffer
	sl := NewScriptLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	sl.Lifecycle(slog.LevelInfo, "Stage initialized", "orders", ScriptInit, slog.String("mode", "RECORD"))
	line := decodeLogLine(t, &buf)
	assert.Equal(t, "Stage initialized", line["msg"])
	assert.Equal(t, "script_engine", line["component"])
	assert.Equal(t, eventLifecycle, line["event_type"])
	assert.Equal(t, "orders", line["stage"])
	assert.Equal(t, "init", line["script"])
	assert.Equal(t, "RECORD", line["mode"])

	sl.Metrics("orders", ScriptMain, ExecutionMetrics{ExecutionTime: time.Millisecond, ErrorType: ErrorTypeExecution})
	line = decodeLogLine(t, &buf)
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, false, line["success"])
	assert.Equal(t, string(ErrorTypeExecution), line["error_type"])

	sl.Reload("reload", "orders", ScriptMain, "stage/main.js", errors.New("syntax"))
	line = decodeLogLine(t, &buf)
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "Script hot-reload reload", line["msg"])
	assert.Equal(t, "stage/main.js", line["file_path"])
	assert.Equal(t, "syntax", line["error"])
}

func TestScriptLoggerSkipsDisabledLevels(t *testing.T) {
	var buf bytes.Buffer
	sl := NewScriptLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	sl.Metrics("orders", ScriptMain, ExecutionMetrics{Success: true})
	assert.Zero(t, buf.Len())
}

func TestSetLoggerRoutesPackageLogs(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { SetLogger(nil) })

	LogLifecycle(slog.LevelInfo, "Stage shut down", "orders", ScriptDestroy)
	line := decodeLogLine(t, &buf)
	assert.Equal(t, "destroy", line["script"])
}
