package script

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Event types attached to every script log line.
const (
	eventExecution = "script_execution"
	eventLifecycle = "script_lifecycle"
	eventMetrics   = "script_performance"
	eventReload    = "hot_reload"
)

// ScriptLogger writes script engine logs with the stage and script they
// concern. A nil logger falls back to the slog default at call time, so
// SetDefault issued after start-up is honored.
type ScriptLogger struct {
	logger *slog.Logger
}

// NewScriptLogger returns a ScriptLogger writing to logger, or to the slog
// default when logger is nil.
func NewScriptLogger(logger *slog.Logger) *ScriptLogger {
	return &ScriptLogger{logger: logger}
}

func (sl *ScriptLogger) emit(level slog.Level, msg, eventType, stage, name string, attrs []slog.Attr) {
	logger := sl.logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}
	fields := make([]slog.Attr, 0, 4+len(attrs))
	fields = append(fields, slog.String("component", "script_engine"), slog.String("event_type", eventType))
	if stage != "" {
		fields = append(fields, slog.String("stage", stage))
	}
	if name != "" {
		fields = append(fields, slog.String("script", name))
	}
	fields = append(fields, attrs...)
	logger.LogAttrs(ctx, level, msg, fields...)
}

// Execution logs one finished invocation of a stage script.
func (sl *ScriptLogger) Execution(level slog.Level, msg, stage, name string, attrs ...slog.Attr) {
	sl.emit(level, msg, eventExecution, stage, name, attrs)
}

// Lifecycle logs compilation, init and destroy of a stage script.
func (sl *ScriptLogger) Lifecycle(level slog.Level, msg, stage, name string, attrs ...slog.Attr) {
	sl.emit(level, msg, eventLifecycle, stage, name, attrs)
}

// Metrics logs the timings of an invocation. Failed invocations log at warn.
func (sl *ScriptLogger) Metrics(stage, name string, m ExecutionMetrics) {
	level := slog.LevelDebug
	attrs := []slog.Attr{
		slog.Duration("compilation_time", m.CompilationTime),
		slog.Duration("execution_time", m.ExecutionTime),
		slog.Bool("success", m.Success),
	}
	if !m.Success {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error_type", string(m.ErrorType)))
	}
	sl.emit(level, "Script execution metrics", eventMetrics, stage, name, attrs)
}

// Reload logs a change picked up by the script watcher.
func (sl *ScriptLogger) Reload(action, stage, name, path string, err error) {
	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("action", action),
		slog.String("file_path", path),
		slog.Bool("success", err == nil),
	}
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	sl.emit(level, "Script hot-reload "+action, eventReload, stage, name, attrs)
}

var scriptLogger atomic.Pointer[ScriptLogger]

func init() {
	scriptLogger.Store(NewScriptLogger(nil))
}

// SetLogger routes the package-level script logging to logger. A nil logger
// restores the slog default.
func SetLogger(logger *slog.Logger) {
	scriptLogger.Store(NewScriptLogger(logger))
}

func logs() *ScriptLogger { return scriptLogger.Load() }

// LogLifecycle logs a stage lifecycle step on the package-level logger.
func LogLifecycle(level slog.Level, msg, stage, name string, attrs ...slog.Attr) {
	logs().Lifecycle(level, msg, stage, name, attrs...)
}
