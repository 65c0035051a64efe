package script

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/samber/lo"

	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/scope"
)

// JSEngine implements the LanguageEngine interface for JavaScript scripts on
// goja. It owns a single runtime; goja runtimes are not goroutine safe.
type JSEngine struct {
	securityLimits SecurityLimits
	vm             *goja.Runtime
	sentinels      map[*marshal.Sentinel]*goja.Object
}

// NewJSEngine creates a new JavaScript engine with default security limits
func NewJSEngine() *JSEngine {
	vm := goja.New()
	sentinels := make(map[*marshal.Sentinel]*goja.Object)
	for _, s := range marshal.Sentinels() {
		sentinels[s] = vm.NewDynamicObject(&jsSentinel{vm: vm, s: s})
	}
	return &JSEngine{
		securityLimits: GetDefaultSecurityLimits(),
		vm:             vm,
		sentinels:      sentinels,
	}
}

// SetSecurityLimits configures resource and security constraints
func (e *JSEngine) SetSecurityLimits(limits SecurityLimits) error {
	if err := limits.validate(); err != nil {
		return err
	}
	e.securityLimits = limits
	return nil
}

// Compile prepares a script for execution. The source runs inside a function
// body so top-level let and const declarations are fresh on every run.
func (e *JSEngine) Compile(script *Script) (*CompiledScript, error) {
	startTime := time.Now()

	src := "(function() {\n" + script.Content + "\n})();"
	program, err := goja.Compile(script.Name+Extension(LanguageJavaScript), src, false)
	if err != nil {
		return nil, compileError(script, err, startTime)
	}

	compilationTime := time.Since(startTime)
	slog.Debug("JavaScript script compiled successfully",
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
func (e *JSEngine) Execute(ctx context.Context, compiled *CompiledScript, b *scope.Bindings) (*ScriptOutput, error) {
	program, ok := compiled.Compiled.(*goja.Program)
	if !ok {
		return nil, NewScriptError(
			ErrorTypeExecution,
			compiled.Script.Stage,
			compiled.Script.Name,
			"invalid compiled script type for JavaScript engine",
			nil,
		)
	}

	br := &jsBridge{vm: e.vm, b: b, sentinels: e.sentinels}
	for name, value := range br.globals() {
		if err := e.vm.Set(name, value); err != nil {
			return nil, NewScriptError(
				ErrorTypeExecution,
				compiled.Script.Stage,
				compiled.Script.Name,
				"failed to set input variables",
				err,
			)
		}
	}

	return execute(ctx, compiled, b, e.securityLimits, func(ctx context.Context) error {
		stop := context.AfterFunc(ctx, func() {
			e.vm.Interrupt(ctx.Err())
		})
		defer func() {
			stop()
			e.vm.ClearInterrupt()
		}()
		_, err := e.vm.RunProgram(program)
		return err
	}, jsMessage)
}

// jsMessage returns the message of a thrown Error, or the thrown value itself.
func jsMessage(err error) string {
	var exception *goja.Exception
	if !errors.As(err, &exception) {
		return err.Error()
	}
	thrown := exception.Value()
	if obj, ok := thrown.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	if thrown == nil {
		return strings.TrimSpace(exception.Error())
	}
	return thrown.String()
}

func (br *jsBridge) globals() map[string]any {
	b, vm := br.b, br.vm
	globals := map[string]any{
		"records": vm.NewArray(lo.Map(b.Records, func(r *scope.RecordView, _ int) any {
			return br.toJS(r)
		})...),
		"output":        br.sinkObject(b.Output.Write),
		"error":         br.sinkObject(b.Error.Write),
		"state":         vm.NewDynamicObject(&jsState{state: b.State}),
		"sdcFunctions":  br.functionsObject(),
		"sdcUserParams": br.toJS(b.UserParams),
		"log": func(call goja.FunctionCall) goja.Value {
			b.Log(lo.Map(call.Arguments, func(a goja.Value, _ int) any { return a.String() })...)
			return goja.Undefined()
		},
	}
	for _, s := range b.Sentinels {
		globals[s.Name()] = br.sentinels[s]
	}
	return globals
}

// sinkObject exposes write(record[, message]) over a sink.
func (br *jsBridge) sinkObject(write any) *goja.Object {
	obj := br.vm.NewObject()
	_ = obj.Set("write", func(call goja.FunctionCall) goja.Value {
		rec, err := br.fromJS(call.Argument(0))
		if err != nil {
			br.throw(err)
		}
		switch w := write.(type) {
		case func(any) error:
			err = w(rec)
		case func(any, string) error:
			err = w(rec, call.Argument(1).String())
		}
		if err != nil {
			br.throw(err)
		}
		return goja.Undefined()
	})
	return obj
}

func (br *jsBridge) functionsObject() *goja.Object {
	vm, fn := br.vm, br.b.Functions
	obj := vm.NewObject()
	_ = obj.Set("createRecord", func(call goja.FunctionCall) goja.Value {
		view, err := fn.CreateRecord(stringArg(call, 0))
		if err != nil {
			br.throw(err)
		}
		return br.toJS(view)
	})
	_ = obj.Set("createMap", func(call goja.FunctionCall) goja.Value {
		return br.toJS(fn.CreateMap(call.Argument(0).ToBoolean()))
	})
	_ = obj.Set("createEvent", func(call goja.FunctionCall) goja.Value {
		view, err := fn.CreateEvent(stringArg(call, 0), int(call.Argument(1).ToInteger()))
		if err != nil {
			br.throw(err)
		}
		return br.toJS(view)
	})
	_ = obj.Set("toEvent", func(call goja.FunctionCall) goja.Value {
		v, err := br.fromJS(call.Argument(0))
		if err == nil {
			err = fn.ToEvent(v)
		}
		if err != nil {
			br.throw(err)
		}
		return goja.Undefined()
	})
	_ = obj.Set("getFieldNull", func(call goja.FunctionCall) goja.Value {
		rec, err := br.fromJS(call.Argument(0))
		if err != nil {
			br.throw(err)
		}
		v, err := fn.GetFieldNull(rec, stringArg(call, 1))
		if err != nil {
			br.throw(err)
		}
		if v == nil {
			return goja.Undefined()
		}
		return br.toJS(v)
	})
	_ = obj.Set("createField", func(call goja.FunctionCall) goja.Value {
		v, err := br.fromJS(call.Argument(1))
		if err != nil {
			br.throw(err)
		}
		ref, err := fn.CreateField(stringArg(call, 0), v)
		if err != nil {
			br.throw(err)
		}
		return br.toJS(ref)
	})
	_ = obj.Set("pipelineParameters", func(goja.FunctionCall) goja.Value {
		return br.toJS(fn.PipelineParameters())
	})
	_ = obj.Set("isPreview", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(fn.IsPreview())
	})
	return obj
}

func stringArg(call goja.FunctionCall, i int) string {
	arg := call.Argument(i)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return ""
	}
	return arg.String()
}
