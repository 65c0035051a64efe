package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/scriptproc/internal/scope"
)

// runFunc executes one compiled script. It must stop early when ctx is done.
type runFunc func(ctx context.Context) error

// hostPanic is a Go panic recovered from a backend invocation.
type hostPanic struct {
	value any
}

func (p *hostPanic) Error() string {
	return fmt.Sprintf("script panic: %v", p.value)
}

// execute runs a backend invocation and turns its outcome into a ScriptOutput
// or a ScriptError. message extracts the script's own message from a failure.
func execute(ctx context.Context, compiled *CompiledScript, b *scope.Bindings, limits SecurityLimits, run runFunc, message func(error) string) (*ScriptOutput, error) {
	startTime := time.Now()

	if limits.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.MaxExecutionTime)
		defer cancel()
	}

	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &hostPanic{value: r}
			}
		}()
		return run(ctx)
	}()

	metrics := ExecutionMetrics{
		CompilationTime: compiled.CompilationTime,
		ExecutionTime:   time.Since(startTime),
		Success:         true,
	}

	scriptErr := classify(ctx, compiled.Script, b.Effects, runErr, message)
	if scriptErr != nil {
		metrics.Success = false
		metrics.ErrorType = scriptErr.Type
		logs().Metrics(compiled.Script.Stage, compiled.Script.Name, metrics)
		return nil, scriptErr
	}

	logs().Execution(slog.LevelDebug, "Script executed successfully", compiled.Script.Stage, compiled.Script.Name,
		slog.String("language", string(compiled.Script.Language)),
		slog.Int("outputs", len(b.Effects.Outputs)),
		slog.Int("errors", len(b.Effects.Errors)),
		slog.Int("events", len(b.Effects.Events)),
	)
	logs().Metrics(compiled.Script.Stage, compiled.Script.Name, metrics)

	return &ScriptOutput{Effects: b.Effects, Metrics: metrics}, nil
}

func classify(ctx context.Context, s *Script, effects *scope.Effects, runErr error, message func(error) string) *ScriptError {
	if fatal := effects.Fatal(); fatal != nil {
		// marshalling failures surface even when the script caught them
		return NewScriptError(ErrorTypeMarshalling, s.Stage, s.Name, "", fatal)
	}
	if runErr == nil {
		return nil
	}
	var se *ScriptError
	if errors.As(runErr, &se) {
		return se
	}
	var hp *hostPanic
	if errors.As(runErr, &hp) {
		return NewScriptError(ErrorTypeInternal, s.Stage, s.Name, "script host panicked", hp)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewScriptError(ErrorTypeTimeout, s.Stage, s.Name, "script execution timed out", ctx.Err())
	}

	errType := ErrorTypeExecution
	if effects.Violation() != nil {
		errType = ErrorTypeSinkContract
	}
	scriptErr := NewScriptError(errType, s.Stage, s.Name, message(runErr), nil)
	scriptErr.Detail = runErr.Error()
	return scriptErr
}

func compileError(s *Script, err error, started time.Time) *ScriptError {
	logs().Lifecycle(slog.LevelWarn, "Script failed to compile", s.Stage, s.Name,
		slog.String("language", string(s.Language)),
		slog.Duration("compilation_time", time.Since(started)),
		slog.String("error", err.Error()),
	)
	return NewScriptError(ErrorTypeCompilation, s.Stage, s.Name, "failed to compile "+s.Name+" script", err)
}
