package script

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/scope"
)

func init() {
	// scripts are flat sequences of statements with loops at top level
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = true
	resolve.AllowSet = true
}

// StarlarkEngine implements the LanguageEngine interface for Starlark, the
// Python dialect embedded by go.starlark.net.
type StarlarkEngine struct {
	securityLimits SecurityLimits
	sentinels      map[*marshal.Sentinel]*starSentinel
}

// NewStarlarkEngine creates a new Starlark engine with default security limits
func NewStarlarkEngine() *StarlarkEngine {
	sentinels := make(map[*marshal.Sentinel]*starSentinel)
	for _, s := range marshal.Sentinels() {
		sentinels[s] = &starSentinel{s: s}
	}
	return &StarlarkEngine{
		securityLimits: GetDefaultSecurityLimits(),
		sentinels:      sentinels,
	}
}

// SetSecurityLimits configures resource and security constraints
func (e *StarlarkEngine) SetSecurityLimits(limits SecurityLimits) error {
	if err := limits.validate(); err != nil {
		return err
	}
	e.securityLimits = limits
	return nil
}

// starlarkModules are the library modules a script may use, keyed by the
// package name that enables them.
var starlarkModules = map[string]starlark.Value{
	"math":  starlarkmath.Module,
	"times": starlarktime.Module,
	"json":  starlarkjson.Module,
}

// starlarkName is the global a module is bound under.
func starlarkName(pkg string) string {
	if pkg == "times" {
		return "time"
	}
	return pkg
}

func (e *StarlarkEngine) predeclaredNames() map[string]bool {
	names := map[string]bool{
		"records": true, "output": true, "error": true, "state": true,
		"sdcFunctions": true, "sdcUserParams": true, "log": true,
	}
	for _, s := range marshal.Sentinels() {
		names[s.Name()] = true
	}
	for pkg := range starlarkModules {
		if e.securityLimits.allows(pkg) {
			names[starlarkName(pkg)] = true
		}
	}
	return names
}

// Compile prepares a script for execution
func (e *StarlarkEngine) Compile(script *Script) (*CompiledScript, error) {
	startTime := time.Now()

	names := e.predeclaredNames()
	_, program, err := starlark.SourceProgram(script.Name+Extension(LanguageStarlark), script.Content, func(name string) bool {
		return names[name]
	})
	if err != nil {
		return nil, compileError(script, err, startTime)
	}

	compilationTime := time.Since(startTime)
	slog.Debug("Starlark script compiled successfully",
		"stage", script.Stage,
		"script", script.Name,
		"compilation_time", compilationTime,
	)

	return &CompiledScript{
		Script:          script,
		Compiled:        program,
		CompilationTime: compilationTime,
	}, nil
}

// Execute runs a compiled script with context
func (e *StarlarkEngine) Execute(ctx context.Context, compiled *CompiledScript, b *scope.Bindings) (*ScriptOutput, error) {
	program, ok := compiled.Compiled.(*starlark.Program)
	if !ok {
		return nil, NewScriptError(
			ErrorTypeExecution,
			compiled.Script.Stage,
			compiled.Script.Name,
			"invalid compiled script type for Starlark engine",
			nil,
		)
	}

	br := &starBridge{b: b, sentinels: e.sentinels}
	predeclared := br.globals()
	for pkg, module := range starlarkModules {
		if e.securityLimits.allows(pkg) {
			predeclared[starlarkName(pkg)] = module
		}
	}

	thread := &starlark.Thread{
		Name: compiled.Script.Stage + "/" + compiled.Script.Name,
		Print: func(_ *starlark.Thread, msg string) {
			b.Log(msg)
		},
	}
	if e.securityLimits.MaxAllocs > 0 {
		thread.SetMaxExecutionSteps(uint64(e.securityLimits.MaxAllocs))
	}

	return execute(ctx, compiled, b, e.securityLimits, func(ctx context.Context) error {
		stop := context.AfterFunc(ctx, func() {
			thread.Cancel(ctx.Err().Error())
		})
		defer stop()
		_, err := program.Init(thread, predeclared)
		if err != nil && e.securityLimits.MaxAllocs > 0 && strings.Contains(err.Error(), "too many steps") {
			return NewScriptError(ErrorTypeMemoryLimit, compiled.Script.Stage, compiled.Script.Name,
				"script exceeded execution step limit", err)
		}
		return err
	}, starlarkMessage)
}

// starlarkMessage returns the message of a Starlark failure without the
// call stack and without the "fail: " prefix added by fail().
func starlarkMessage(err error) string {
	var evalErr *starlark.EvalError
	msg := err.Error()
	if errors.As(err, &evalErr) {
		msg = evalErr.Msg
	}
	return strings.TrimPrefix(msg, "fail: ")
}

func (br *starBridge) globals() starlark.StringDict {
	b := br.b
	globals := starlark.StringDict{
		"records": starlark.NewList(lo.Map(b.Records, func(r *scope.RecordView, _ int) starlark.Value {
			return br.toStar(r)
		})),
		"output": br.module("output", starlark.StringDict{
			"write": br.builtin("write", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var rec starlark.Value
				if err := starlark.UnpackPositionalArgs("write", args, kwargs, 1, &rec); err != nil {
					return nil, err
				}
				host, err := br.fromStar(rec)
				if err != nil {
					return nil, err
				}
				return starlark.None, b.Output.Write(host)
			}),
		}),
		"error": br.module("error", starlark.StringDict{
			"write": br.builtin("write", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var rec starlark.Value
				var message string
				if err := starlark.UnpackPositionalArgs("write", args, kwargs, 2, &rec, &message); err != nil {
					return nil, err
				}
				host, err := br.fromStar(rec)
				if err != nil {
					return nil, err
				}
				return starlark.None, b.Error.Write(host, message)
			}),
		}),
		"state":         &starState{state: b.State},
		"sdcFunctions":  br.functionsModule(),
		"sdcUserParams": br.frozen(br.toStar(b.UserParams)),
		"log": starlark.NewBuiltin("log", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
			b.Log(lo.Map(args, func(a starlark.Value, _ int) any {
				if s, ok := starlark.AsString(a); ok {
					return s
				}
				return a.String()
			})...)
			return starlark.None, nil
		}),
	}
	for _, s := range b.Sentinels {
		globals[s.Name()] = br.sentinels[s]
	}
	return globals
}

func (br *starBridge) frozen(v starlark.Value) starlark.Value {
	v.Freeze()
	return v
}

func (br *starBridge) functionsModule() starlark.Value {
	fn := br.b.Functions
	return br.module("sdcFunctions", starlark.StringDict{
		"createRecord": br.builtin("createRecord", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var id string
			if err := starlark.UnpackPositionalArgs("createRecord", args, kwargs, 1, &id); err != nil {
				return nil, err
			}
			view, err := fn.CreateRecord(id)
			if err != nil {
				return nil, err
			}
			return br.toStar(view), nil
		}),
		"createMap": br.builtin("createMap", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var ordered bool
			if err := starlark.UnpackPositionalArgs("createMap", args, kwargs, 0, &ordered); err != nil {
				return nil, err
			}
			return br.toStar(fn.CreateMap(ordered)), nil
		}),
		"createEvent": br.builtin("createEvent", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var eventType string
			var version int
			if err := starlark.UnpackPositionalArgs("createEvent", args, kwargs, 2, &eventType, &version); err != nil {
				return nil, err
			}
			view, err := fn.CreateEvent(eventType, version)
			if err != nil {
				return nil, err
			}
			return br.toStar(view), nil
		}),
		"toEvent": br.builtin("toEvent", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var ev starlark.Value
			if err := starlark.UnpackPositionalArgs("toEvent", args, kwargs, 1, &ev); err != nil {
				return nil, err
			}
			host, err := br.fromStar(ev)
			if err != nil {
				return nil, err
			}
			return starlark.None, fn.ToEvent(host)
		}),
		"getFieldNull": br.builtin("getFieldNull", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var rec starlark.Value
			var path string
			if err := starlark.UnpackPositionalArgs("getFieldNull", args, kwargs, 2, &rec, &path); err != nil {
				return nil, err
			}
			host, err := br.fromStar(rec)
			if err != nil {
				return nil, err
			}
			v, err := fn.GetFieldNull(host, path)
			if err != nil {
				return nil, err
			}
			return br.toStar(v), nil
		}),
		"createField": br.builtin("createField", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var typeName string
			var value starlark.Value
			if err := starlark.UnpackPositionalArgs("createField", args, kwargs, 2, &typeName, &value); err != nil {
				return nil, err
			}
			host, err := br.fromStar(value)
			if err != nil {
				return nil, err
			}
			ref, err := fn.CreateField(typeName, host)
			if err != nil {
				return nil, err
			}
			return br.toStar(ref), nil
		}),
		"pipelineParameters": br.builtin("pipelineParameters", func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return br.frozen(br.toStar(fn.PipelineParameters())), nil
		}),
		"isPreview": br.builtin("isPreview", func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.Bool(fn.IsPreview()), nil
		}),
	})
}
