package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/scriptproc/internal/config"
	"github.com/nfrund/scriptproc/internal/processor"
	"github.com/nfrund/scriptproc/internal/pubsub"
	"github.com/nfrund/scriptproc/internal/record"
	"github.com/nfrund/scriptproc/internal/scope"
	"github.com/nfrund/scriptproc/internal/script"
	"github.com/nfrund/scriptproc/internal/storage"
)

// stageOptions select the stage scripts and how they are configured.
type stageOptions struct {
	scriptsDir string
	stage      string
	mode       string
	onError    string
	recordType string
	params     map[string]string
	timeout    time.Duration
}

func (o *stageOptions) addFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.scriptsDir, "scripts", "", "directory holding the main, init and destroy scripts (env SCRIPTPROC_SCRIPTS_DIR)")
	flags.StringVar(&o.stage, "stage", "", "stage name used in logs, errors and event topics (env SCRIPTPROC_STAGE)")
	flags.StringVar(&o.mode, "mode", "", "processing mode: RECORD or BATCH (env SCRIPTPROC_MODE)")
	flags.StringVar(&o.onError, "on-error", "", "on record error: DISCARD, TO_ERROR or STOP_PIPELINE (env SCRIPTPROC_ON_ERROR)")
	flags.StringVar(&o.recordType, "record-type", "", "record type: NATIVE_OBJECTS or SDC_RECORDS (env SCRIPTPROC_RECORD_TYPE)")
	flags.StringToStringVar(&o.params, "param", nil, "user parameter exposed as sdcUserParams, repeatable (k=v)")
	flags.DurationVar(&o.timeout, "timeout", 0, "limit on one script invocation, 0 for none (env SCRIPTPROC_MAX_EXECUTION_TIME)")
}

// applyDefaults fills the options no flag set from the environment configuration.
func (o *stageOptions) applyDefaults(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	fill := func(name string, target *string, value string) {
		if !flags.Changed(name) {
			*target = value
		}
	}
	fill("scripts", &o.scriptsDir, cfg.ScriptsDir)
	fill("stage", &o.stage, cfg.StageName)
	fill("mode", &o.mode, cfg.Mode)
	fill("on-error", &o.onError, cfg.OnRecordError)
	fill("record-type", &o.recordType, cfg.RecordType)
	if !flags.Changed("timeout") {
		o.timeout = cfg.MaxExecutionTime
	}
}

// stageConfig builds the processor configuration from the options and the
// scripts of reg. processor.New validates it.
func (o *stageOptions) stageConfig(reg *script.Registry) (processor.Config, error) {
	cfg := processor.DefaultConfig(o.stage, "")
	cfg.ProcessingMode = processor.ProcessingMode(strings.ToUpper(o.mode))
	cfg.OnRecordError = processor.OnRecordError(strings.ToUpper(o.onError))
	cfg.RecordType = scope.RecordType(strings.ToUpper(o.recordType))
	cfg.UserParams = o.params
	err := cfg.LoadScripts(reg)
	return cfg, err
}

func (o *stageOptions) factory() *script.Factory {
	limits := script.GetDefaultSecurityLimits()
	limits.MaxExecutionTime = o.timeout
	return script.NewFactory().WithSecurityLimits(limits)
}

// loadRegistry reads the stage scripts from the scripts directory.
func (o *stageOptions) loadRegistry(fs afero.Fs) (*script.Registry, error) {
	reg := script.NewRegistry(fs, o.scriptsDir, o.stage)
	if err := reg.LoadScripts(); err != nil {
		return nil, err
	}
	return reg, nil
}

type runOptions struct {
	stageOptions
	input          string
	paths          storage.ResultPaths
	batchSize      int
	pipelineParams map[string]string
	preview        bool
	watch          bool
}

func newRunCommand(injector do.Injector) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process JSON-lines records through a stage",
		Long: `Run reads JSON-lines records, splits them into batches and runs the stage
scripts over them: init once, main per record or per batch, destroy once.

Outputs and error records are written as JSON lines. Events are published on
the event bus, whose subscriber writes them to the events file.

The command fails when the stage surfaces an error: a failing script under
STOP_PIPELINE or in BATCH mode, a marshalling error, or error records under
STOP_PIPELINE.

Examples:
  scriptproc run --scripts ./stage --input records.jsonl
  cat records.jsonl | scriptproc run --scripts ./stage --mode BATCH --errors errors.jsonl
  scriptproc run --scripts ./stage --input records.jsonl --output out.jsonl --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := do.Invoke[*config.Config](injector)
			if err != nil {
				return err
			}
			opts.applyDefaults(cmd, cfg)
			if !cmd.Flags().Changed("batch-size") {
				opts.batchSize = cfg.BatchSize
			}
			if !cmd.Flags().Changed("preview") {
				opts.preview = cfg.Preview
			}
			if opts.watch && opts.input == storage.Stdio {
				return errors.New("--watch needs an --input file, stdin can only be read once")
			}

			r, err := newRunner(injector, opts)
			if err != nil {
				return err
			}
			return r.run(cmd.Context())
		},
	}

	opts.addFlags(cmd)
	flags := cmd.Flags()
	flags.StringVar(&opts.input, "input", storage.Stdio, `JSON-lines records to process, "-" for stdin`)
	flags.StringVar(&opts.paths.Outputs, "output", storage.Stdio, `where output records are written, "-" for stdout, "" to discard`)
	flags.StringVar(&opts.paths.Errors, "errors", "", `where error records are written, "-" for stdout, "" to discard`)
	flags.StringVar(&opts.paths.Events, "events", "", `where events are written, "-" for stdout, "" to discard`)
	flags.IntVar(&opts.batchSize, "batch-size", config.DefaultBatchSize, "records per batch, 0 for a single batch (env SCRIPTPROC_BATCH_SIZE)")
	flags.StringToStringVar(&opts.pipelineParams, "pipeline-param", nil, "pipeline parameter returned by pipelineParameters(), repeatable (k=v)")
	flags.BoolVar(&opts.preview, "preview", false, "report preview mode to isPreview() (env SCRIPTPROC_PREVIEW)")
	flags.BoolVar(&opts.watch, "watch", false, "re-run whenever a script file changes")
	return cmd
}

// runner executes one stage over the input records.
type runner struct {
	opts    *runOptions
	fs      afero.Fs
	store   storage.Store
	bus     pubsub.Bus
	tracer  trace.Tracer
	base    *slog.Logger
	logger  *slog.Logger
	streams streams
}

func newRunner(injector do.Injector, opts *runOptions) (*runner, error) {
	bus, err := do.Invoke[*eventBus](injector)
	if err != nil {
		return nil, err
	}
	t, err := do.Invoke[*tracing](injector)
	if err != nil {
		return nil, err
	}
	base := do.MustInvoke[*slog.Logger](injector)
	return &runner{
		opts:    opts,
		fs:      do.MustInvoke[afero.Fs](injector),
		store:   do.MustInvoke[*storage.AferoStore](injector),
		bus:     bus,
		tracer:  t.tracer,
		base:    base,
		logger:  base.With(slog.String("component", "runner"), slog.String("stage", opts.stage)),
		streams: do.MustInvoke[streams](injector),
	}, nil
}

func (r *runner) run(ctx context.Context) error {
	reg, err := r.opts.loadRegistry(r.fs)
	if err != nil {
		return err
	}
	if !r.opts.watch {
		return r.runOnce(ctx, reg)
	}

	if err := r.runOnce(ctx, reg); err != nil {
		r.logger.Error("Run failed, waiting for script changes", "error", err)
	}

	changes := make(chan string, 1)
	if err := reg.StartWatcher(ctx, func(name string) {
		select {
		case changes <- name:
		default:
		}
	}); err != nil {
		return err
	}
	defer reg.StopWatcher()

	r.logger.Info("Watching scripts for changes", "dir", r.opts.scriptsDir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case name := <-changes:
			r.logger.Info("Script changed, running again", "script", name)
			if err := r.runOnce(ctx, reg); err != nil {
				r.logger.Error("Run failed, waiting for script changes", "error", err)
			}
		}
	}
}

// runOnce runs init, every batch and destroy with a fresh processor. A batch
// that surfaces an error stops the run; destroy still runs.
func (r *runner) runOnce(ctx context.Context, reg *script.Registry) (err error) {
	stageCfg, err := r.opts.stageConfig(reg)
	if err != nil {
		return err
	}
	p, err := processor.New(stageCfg,
		processor.Context{Preview: r.opts.preview, PipelineParameters: r.opts.pipelineParams},
		processor.WithFactory(r.opts.factory()),
		processor.WithLogger(r.base),
		processor.WithTracer(r.tracer),
	)
	if err != nil {
		return err
	}

	records, err := r.readInput(ctx)
	if err != nil {
		return err
	}

	writer, err := r.store.OpenResultWriter(r.opts.paths, r.streams.out)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, writer.Close())
	}()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err = pubsub.Subscribe(subCtx, r.bus, pubsub.EventTopic(stageCfg.StageName), func(ctx context.Context, stage string, ev *record.Event) error {
		return writer.WriteEvent(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	commit := func(res *processor.Result) error {
		if res == nil {
			return nil
		}
		if err := writer.WriteOutputs(res.Outputs); err != nil {
			return err
		}
		if err := writer.WriteErrors(res.Errors); err != nil {
			return err
		}
		return pubsub.PublishEvents(ctx, r.bus, stageCfg.StageName, res.Events)
	}

	res, err := p.Init(ctx)
	if cerr := commit(res); err == nil {
		err = cerr
	}
	if err != nil {
		_, derr := p.Destroy(ctx)
		return errors.Join(err, derr)
	}

	batches := storage.Batches(records, r.opts.batchSize)
	var runErr error
	for i, batch := range batches {
		res, err := p.Process(ctx, batch)
		if cerr := commit(res); err == nil {
			err = cerr
		}
		if err != nil {
			runErr = fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
			break
		}
	}

	res, err = p.Destroy(ctx)
	if cerr := commit(res); err == nil {
		err = cerr
	}
	runErr = errors.Join(runErr, err)

	counts := writer.Counts()
	r.logger.Info("Run finished",
		"records", len(records),
		"batches", len(batches),
		"outputs", counts.Outputs,
		"errors", counts.Errors,
		"events", counts.Events,
		"failed", runErr != nil,
	)
	return runErr
}

func (r *runner) readInput(ctx context.Context) ([]*record.Record, error) {
	if r.opts.input == storage.Stdio {
		records, err := record.ReadAll(r.streams.in)
		if err != nil {
			return nil, fmt.Errorf("failed to read records from stdin: %w", err)
		}
		return records, nil
	}
	return r.store.ReadRecords(ctx, r.opts.input)
}
