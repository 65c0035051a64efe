// Package processor runs the stage scripts over record batches and applies the
// on-error policy.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/scriptproc/internal/record"
	"github.com/nfrund/scriptproc/internal/scope"
	"github.com/nfrund/scriptproc/internal/script"
)

// State is the lifecycle state of a processor.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateShutDown:
		return "SHUT_DOWN"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result holds the committed effects of init, one batch or destroy, in
// write order per channel.
type Result struct {
	Outputs []*record.Record
	Errors  []*record.ErrorRecord
	Events  []*record.Event
}

func (r *Result) add(e *scope.Effects) {
	r.Outputs = append(r.Outputs, e.Outputs...)
	r.Errors = append(r.Errors, e.Errors...)
	r.Events = append(r.Events, e.Events...)
}

// Processor owns one interpreter context and the process-wide state of one
// stage instance. Calls are serialized.
type Processor struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	factory  script.EngineFactory
	engine   script.LanguageEngine
	compiled map[string]*script.CompiledScript
	env      *scope.Env
	tracer   trace.Tracer
	reporter *script.ErrorReporter
	logger   *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithFactory sets the engine factory, for instance one carrying security limits.
func WithFactory(f script.EngineFactory) Option {
	return func(p *Processor) { p.factory = f }
}

// WithTracer sets the tracer used for batch spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) { p.tracer = t }
}

// WithLogger sets the logger of the processor and its scripts.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithErrorReporter shares an error reporter between processors.
func WithErrorReporter(r *script.ErrorReporter) Option {
	return func(p *Processor) { p.reporter = r }
}

// New validates cfg and returns an uninitialized processor.
func New(cfg Config, host Context, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, configError(cfg.StageName, err)
	}
	p := &Processor{
		cfg:     cfg,
		factory: script.NewFactory(),
		tracer:  otel.Tracer("github.com/nfrund/scriptproc/processor"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reporter == nil {
		p.reporter = script.NewErrorReporter()
	}
	p.logger = p.logger.With(slog.String("component", "processor"), slog.String("stage", cfg.StageName))
	p.env = &scope.Env{
		Stage:          cfg.StageName,
		RecordType:     cfg.RecordType,
		UserParams:     cfg.UserParams,
		PipelineParams: host.PipelineParameters,
		Preview:        host.Preview,
		State:          scope.NewState(),
		Logger:         p.logger,
	}
	return p, nil
}

// State returns the lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ErrorSummary returns the errors reported so far.
func (p *Processor) ErrorSummary() *script.ErrorSummary {
	return p.reporter.GetErrorSummary()
}

// Init compiles every script and runs the init script once. A script that
// does not compile is a configuration error.
func (p *Processor) Init(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateShutDown:
		return nil, ErrShutDown
	case StateUninitialized:
	default:
		return nil, fmt.Errorf("init called twice: %w", ErrNotReady)
	}

	engine, err := p.factory.CreateEngine(p.cfg.Language)
	if err != nil {
		return nil, configError(p.cfg.StageName, err)
	}
	compiled := make(map[string]*script.CompiledScript)
	for name, content := range p.cfg.scripts() {
		c, err := engine.Compile(&script.Script{
			Stage:    p.cfg.StageName,
			Name:     name,
			Language: p.cfg.Language,
			Content:  content,
			Source:   script.SourceInline,
		})
		if err != nil {
			var se *script.ScriptError
			if errors.As(err, &se) {
				p.reporter.ReportError(ctx, se, "", false)
			}
			return nil, configError(p.cfg.StageName, err)
		}
		compiled[name] = c
	}
	p.engine = engine
	p.compiled = compiled

	result := &Result{}
	if err := p.runLifecycle(ctx, script.ScriptInit, result); err != nil {
		return result, err
	}

	p.state = StateReady
	script.LogLifecycle(slog.LevelInfo, "Stage initialized", p.cfg.StageName, script.ScriptInit,
		slog.String("language", string(p.cfg.Language)),
		slog.String("mode", string(p.cfg.ProcessingMode)),
		slog.String("on_error", string(p.cfg.OnRecordError)),
	)
	return result, nil
}

// Process runs one batch. It refuses to start when ctx is already done; once
// started the batch runs to completion.
func (p *Processor) Process(ctx context.Context, batch []*record.Record) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch p.state {
	case StateReady:
	case StateShutDown:
		return nil, ErrShutDown
	default:
		return nil, fmt.Errorf("process called in state %s: %w", p.state, ErrNotReady)
	}

	p.state = StateRunning
	defer func() { p.state = StateReady }()

	ctx, span := p.tracer.Start(ctx, "scriptproc.batch", trace.WithAttributes(
		attribute.String("stage", p.cfg.StageName),
		attribute.String("mode", string(p.cfg.ProcessingMode)),
		attribute.Int("records", len(batch)),
	))
	defer span.End()
	// a pipeline stop must not cut a running batch short
	ctx = context.WithoutCancel(ctx)

	result := &Result{}
	var err error
	if p.cfg.ProcessingMode == ModeBatch {
		err = p.processBatch(ctx, batch, result)
	} else {
		err = p.processRecords(ctx, batch, result)
	}

	if err == nil && len(result.Errors) > 0 && p.cfg.OnRecordError == OnErrorStopPipeline {
		err = &StageError{
			Stage:    p.cfg.StageName,
			RecordID: result.Errors[0].Record.ID(),
			Kind:     KindErrorRecords,
			Err:      fmt.Errorf("%d records written to the error output: %s", len(result.Errors), result.Errors[0].Message),
		}
	}

	span.SetAttributes(
		attribute.Int("outputs", len(result.Outputs)),
		attribute.Int("errors", len(result.Errors)),
		attribute.Int("events", len(result.Events)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	p.logger.Debug("Batch processed",
		"records", len(batch),
		"outputs", len(result.Outputs),
		"errors", len(result.Errors),
		"events", len(result.Events),
		"failed", err != nil,
	)
	return result, err
}

func (p *Processor) processRecords(ctx context.Context, batch []*record.Record, result *Result) error {
	for _, rec := range batch {
		effects, se := p.invoke(ctx, script.ScriptMain, []*record.Record{rec})
		if se == nil {
			result.add(effects)
			continue
		}

		stageErr := &StageError{Stage: p.cfg.StageName, RecordID: rec.ID(), Kind: kindOf(se), Err: se}
		if !script.IsRecoverable(se) || p.cfg.OnRecordError == OnErrorStopPipeline {
			p.reporter.ReportError(ctx, se, rec.ID(), false)
			return stageErr
		}

		p.reporter.ReportError(ctx, se, rec.ID(), true)
		if p.cfg.OnRecordError == OnErrorToError {
			result.Errors = append(result.Errors, &record.ErrorRecord{Record: rec.Clone(), Message: scriptMessage(se)})
		}
	}
	return nil
}

func (p *Processor) processBatch(ctx context.Context, batch []*record.Record, result *Result) error {
	effects, se := p.invoke(ctx, script.ScriptMain, batch)
	if se != nil {
		p.reporter.ReportError(ctx, se, "", false)
		return &StageError{Stage: p.cfg.StageName, Kind: kindOf(se), Err: se}
	}
	result.add(effects)
	return nil
}

// Destroy runs the destroy script once and releases the interpreter. Later
// calls are no-ops.
func (p *Processor) Destroy(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := &Result{}
	if p.state == StateShutDown {
		return result, nil
	}
	ready := p.state == StateReady
	p.state = StateShutDown

	var err error
	if ready {
		err = p.runLifecycle(context.WithoutCancel(ctx), script.ScriptDestroy, result)
	}
	p.engine = nil
	p.compiled = nil
	p.env.State.Clear()

	script.LogLifecycle(slog.LevelInfo, "Stage shut down", p.cfg.StageName, script.ScriptDestroy,
		slog.Bool("destroy_ran", ready),
	)
	return result, err
}

// runLifecycle runs the init or destroy script when the stage has one. Any
// failure surfaces.
func (p *Processor) runLifecycle(ctx context.Context, name string, result *Result) error {
	if _, ok := p.compiled[name]; !ok {
		return nil
	}
	effects, se := p.invoke(ctx, name, nil)
	if se != nil {
		p.reporter.ReportError(ctx, se, "", false)
		return &StageError{Stage: p.cfg.StageName, Kind: kindOf(se), Err: se}
	}
	result.add(effects)
	return nil
}

// invoke runs one script over records. A failed invocation's effects are dropped.
func (p *Processor) invoke(ctx context.Context, name string, records []*record.Record) (*scope.Effects, *script.ScriptError) {
	out, err := p.engine.Execute(ctx, p.compiled[name], p.env.Bind(name, records))
	if err == nil {
		return out.Effects, nil
	}
	var se *script.ScriptError
	if errors.As(err, &se) {
		return nil, se
	}
	return nil, script.NewScriptError(script.ErrorTypeExecution, p.cfg.StageName, name, err.Error(), err)
}

// scriptMessage is the message attached to a record routed to the error output.
func scriptMessage(se *script.ScriptError) string {
	if se.Message != "" {
		return se.Message
	}
	return se.Error()
}
