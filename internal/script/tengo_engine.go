package script

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/samber/lo"

	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/scope"
)

// TengoEngine implements the LanguageEngine interface for Tengo scripts
type TengoEngine struct {
	securityLimits SecurityLimits
	sentinels      map[*marshal.Sentinel]*tengoSentinel
}

// NewTengoEngine creates a new Tengo engine with default security limits
func NewTengoEngine() *TengoEngine {
	sentinels := make(map[*marshal.Sentinel]*tengoSentinel)
	for _, s := range marshal.Sentinels() {
		sentinels[s] = &tengoSentinel{s: s}
	}
	return &TengoEngine{
		securityLimits: GetDefaultSecurityLimits(),
		sentinels:      sentinels,
	}
}

// SetSecurityLimits configures resource and security constraints
func (e *TengoEngine) SetSecurityLimits(limits SecurityLimits) error {
	if err := limits.validate(); err != nil {
		return err
	}
	e.securityLimits = limits
	return nil
}

// scriptFailure is raised by fail(message). Tengo has no throw statement.
type scriptFailure struct {
	message string
}

func (f *scriptFailure) Error() string { return f.message }

// tengoGlobalNames lists every binding; they are declared before compilation
// so that scripts can reference them and set again before each run.
func tengoGlobalNames() []string {
	names := []string{
		"records", "output", "err", "state", "sdcFunctions", "sdcUserParams",
		"log", "fail", "size", "push", "remove",
	}
	for _, s := range marshal.Sentinels() {
		names = append(names, s.Name())
	}
	return names
}

// Compile prepares a script for execution
func (e *TengoEngine) Compile(script *Script) (*CompiledScript, error) {
	startTime := time.Now()

	tengoScript := tengo.NewScript([]byte(script.Content))
	tengoScript.SetImports(e.buildModuleMap())
	if e.securityLimits.MaxAllocs > 0 {
		tengoScript.SetMaxAllocs(e.securityLimits.MaxAllocs)
	}
	for _, name := range tengoGlobalNames() {
		if err := tengoScript.Add(name, tengo.UndefinedValue); err != nil {
			return nil, compileError(script, err, startTime)
		}
	}

	compiled, err := tengoScript.Compile()
	if err != nil {
		return nil, compileError(script, err, startTime)
	}

	compilationTime := time.Since(startTime)
	slog.Debug("Tengo script compiled successfully",
		"stage", script.Stage,
		"script", script.Name,
		"compilation_time", compilationTime,
	)

	return &CompiledScript{
		Script:          script,
		Compiled:        compiled,
		CompilationTime: compilationTime,
	}, nil
}

// Execute runs a compiled script with context
func (e *TengoEngine) Execute(ctx context.Context, compiled *CompiledScript, b *scope.Bindings) (*ScriptOutput, error) {
	tengoCompiled, ok := compiled.Compiled.(*tengo.Compiled)
	if !ok {
		return nil, NewScriptError(
			ErrorTypeExecution,
			compiled.Script.Stage,
			compiled.Script.Name,
			"invalid compiled script type for Tengo engine",
			nil,
		)
	}

	br := &tengoBridge{b: b, sentinels: e.sentinels}
	for name, obj := range br.globals() {
		if err := tengoCompiled.Set(name, obj); err != nil {
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
		err := tengoCompiled.RunContext(ctx)
		if err != nil && (errors.Is(err, tengo.ErrObjectAllocLimit) ||
			strings.Contains(err.Error(), tengo.ErrObjectAllocLimit.Error())) {
			return NewScriptError(ErrorTypeMemoryLimit, compiled.Script.Stage, compiled.Script.Name,
				"script exceeded allocation limit", err)
		}
		return err
	}, tengoMessage)
}

// tengoMessage extracts the script's own message from a tengo runtime error,
// dropping the "Runtime Error:" prefix and the position trace.
func tengoMessage(err error) string {
	var failure *scriptFailure
	if errors.As(err, &failure) {
		return failure.message
	}
	msg := strings.TrimPrefix(err.Error(), "Runtime Error: ")
	if i := strings.Index(msg, "\n\tat "); i >= 0 {
		msg = msg[:i]
	}
	return msg
}

// buildModuleMap creates the allowed modules map based on security limits
func (e *TengoEngine) buildModuleMap() *tengo.ModuleMap {
	allowed := lo.Filter(stdlib.AllModuleNames(), func(name string, _ int) bool {
		return e.securityLimits.allows(name)
	})
	return stdlib.GetModuleMap(allowed...)
}

// globals builds the binding objects of one invocation.
func (br *tengoBridge) globals() map[string]tengo.Object {
	b := br.b
	globals := map[string]tengo.Object{
		"records": &tengo.ImmutableArray{Value: lo.Map(b.Records, func(r *scope.RecordView, _ int) tengo.Object {
			return br.toTengo(r)
		})},
		"output":        br.outputObject(),
		"err":           br.errorObject(),
		"state":         &tengoState{state: b.State},
		"sdcFunctions":  br.functionsObject(),
		"sdcUserParams": tengoStringMap(b.UserParams),
		"log": tengoFunc("log", func(args ...tengo.Object) (tengo.Object, error) {
			b.Log(lo.Map(args, func(a tengo.Object, _ int) any { return tengoText(a) })...)
			return tengo.UndefinedValue, nil
		}),
		"fail": tengoFunc("fail", func(args ...tengo.Object) (tengo.Object, error) {
			parts := lo.Map(args, func(a tengo.Object, _ int) string { return tengoText(a) })
			return nil, &scriptFailure{message: strings.Join(parts, " ")}
		}),
	}
	for name, fn := range br.collectionFuncs() {
		globals[name] = fn
	}
	for _, s := range b.Sentinels {
		globals[s.Name()] = br.sentinels[s]
	}
	return globals
}

func tengoText(o tengo.Object) string {
	if s, ok := tengo.ToString(o); ok {
		return s
	}
	return o.String()
}

func (br *tengoBridge) outputObject() tengo.Object {
	return &tengo.ImmutableMap{Value: map[string]tengo.Object{
		"write": tengoFunc("write", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			v, err := br.fromTengo(args[0])
			if err != nil {
				return nil, br.check(err)
			}
			return tengo.UndefinedValue, br.check(br.b.Output.Write(v))
		}),
	}}
}

func (br *tengoBridge) errorObject() tengo.Object {
	return &tengo.ImmutableMap{Value: map[string]tengo.Object{
		"write": tengoFunc("write", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 2 {
				return nil, tengo.ErrWrongNumArguments
			}
			v, err := br.fromTengo(args[0])
			if err != nil {
				return nil, br.check(err)
			}
			return tengo.UndefinedValue, br.check(br.b.Error.Write(v, tengoText(args[1])))
		}),
	}}
}

func (br *tengoBridge) functionsObject() tengo.Object {
	fn := br.b.Functions
	return &tengo.ImmutableMap{Value: map[string]tengo.Object{
		"createRecord": tengoFunc("createRecord", func(args ...tengo.Object) (tengo.Object, error) {
			id, err := tengoStringArg(args, 0, "id")
			if err != nil {
				return nil, err
			}
			view, err := fn.CreateRecord(id)
			if err != nil {
				return nil, br.check(err)
			}
			return br.toTengo(view), nil
		}),
		"createMap": tengoFunc("createMap", func(args ...tengo.Object) (tengo.Object, error) {
			ordered := len(args) > 0 && !args[0].IsFalsy()
			return br.toTengo(fn.CreateMap(ordered)), nil
		}),
		"createEvent": tengoFunc("createEvent", func(args ...tengo.Object) (tengo.Object, error) {
			eventType, err := tengoStringArg(args, 0, "type")
			if err != nil {
				return nil, err
			}
			if len(args) != 2 {
				return nil, tengo.ErrWrongNumArguments
			}
			version, ok := tengo.ToInt(args[1])
			if !ok {
				return nil, tengo.ErrInvalidArgumentType{Name: "version", Expected: "int", Found: args[1].TypeName()}
			}
			view, err := fn.CreateEvent(eventType, version)
			if err != nil {
				return nil, br.check(err)
			}
			return br.toTengo(view), nil
		}),
		"toEvent": tengoFunc("toEvent", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			v, err := br.fromTengo(args[0])
			if err != nil {
				return nil, br.check(err)
			}
			return tengo.UndefinedValue, br.check(fn.ToEvent(v))
		}),
		"getFieldNull": tengoFunc("getFieldNull", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 2 {
				return nil, tengo.ErrWrongNumArguments
			}
			rec, err := br.fromTengo(args[0])
			if err != nil {
				return nil, br.check(err)
			}
			path, err := tengoStringArg(args, 1, "path")
			if err != nil {
				return nil, err
			}
			v, err := fn.GetFieldNull(rec, path)
			if err != nil {
				return nil, err
			}
			return br.toTengo(v), nil
		}),
		"createField": tengoFunc("createField", func(args ...tengo.Object) (tengo.Object, error) {
			typeName, err := tengoStringArg(args, 0, "type")
			if err != nil {
				return nil, err
			}
			if len(args) != 2 {
				return nil, tengo.ErrWrongNumArguments
			}
			v, err := br.fromTengo(args[1])
			if err != nil {
				return nil, br.check(err)
			}
			ref, err := fn.CreateField(typeName, v)
			if err != nil {
				return nil, br.check(err)
			}
			return br.toTengo(ref), nil
		}),
		"pipelineParameters": tengoFunc("pipelineParameters", func(args ...tengo.Object) (tengo.Object, error) {
			return tengoStringMap(fn.PipelineParameters()), nil
		}),
		"isPreview": tengoFunc("isPreview", func(args ...tengo.Object) (tengo.Object, error) {
			return br.toTengo(fn.IsPreview()), nil
		}),
	}}
}

// collectionFuncs binds size, push and remove. They work on the live views,
// attributes and state as well as on plain tengo values, where they behave
// like len, append and delete. The tengo builtins cannot be rebound because
// the compiler defines them after every script global.
func (br *tengoBridge) collectionFuncs() map[string]tengo.Object {
	builtins := lo.SliceToMap(tengo.GetAllBuiltinFunctions(), func(fn *tengo.BuiltinFunction) (string, tengo.CallableFunc) {
		return fn.Name, fn.Value
	})

	return map[string]tengo.Object{
		"size": tengoFunc("size", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) == 1 {
				switch o := args[0].(type) {
				case *tengoMap:
					return &tengo.Int{Value: int64(o.view.Len())}, nil
				case *tengoList:
					return &tengo.Int{Value: int64(o.view.Len())}, nil
				case *tengoAttributes:
					return &tengo.Int{Value: int64(o.attrs.Len())}, nil
				case *tengoState:
					return &tengo.Int{Value: int64(o.state.Len())}, nil
				}
			}
			return builtins["len"](args...)
		}),
		"push": tengoFunc("push", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) > 0 {
				if o, ok := args[0].(*tengoList); ok {
					for _, arg := range args[1:] {
						v, err := br.fromTengo(arg)
						if err != nil {
							return nil, br.check(err)
						}
						if err := o.view.Append(v); err != nil {
							return nil, br.check(err)
						}
					}
					return o, nil
				}
			}
			return builtins["append"](args...)
		}),
		"remove": tengoFunc("remove", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) == 2 {
				key, ok := args[1].(*tengo.String)
				if !ok {
					return nil, tengo.ErrInvalidArgumentType{Name: "key", Expected: "string", Found: args[1].TypeName()}
				}
				switch o := args[0].(type) {
				case *tengoMap:
					o.view.Delete(key.Value)
					return tengo.UndefinedValue, nil
				case *tengoAttributes:
					o.attrs.Remove(key.Value)
					return tengo.UndefinedValue, nil
				case *tengoState:
					o.state.Delete(key.Value)
					return tengo.UndefinedValue, nil
				}
			}
			return builtins["delete"](args...)
		}),
	}
}
