package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/scriptproc/internal/config"
	"github.com/nfrund/scriptproc/internal/logging"
	"github.com/nfrund/scriptproc/internal/pubsub"
	"github.com/nfrund/scriptproc/internal/script"
	"github.com/nfrund/scriptproc/internal/storage"
)

// streams are the standard streams of one CLI invocation.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// tracing owns the tracer of the run and flushes it on shutdown.
type tracing struct {
	tracer  trace.Tracer
	cleanup func()
}

func (t *tracing) Shutdown() {
	t.cleanup()
}

// eventBus is the in-memory bus events are published on.
type eventBus struct {
	*pubsub.WatermillBridge
}

func (b *eventBus) Shutdown() error {
	return b.Close()
}

// newInjector wires the services shared by the commands. Services are built
// on first use.
func newInjector(fs afero.Fs, s streams) *do.RootScope {
	injector := do.New()
	do.ProvideValue[afero.Fs](injector, fs)
	do.ProvideValue(injector, s)
	do.Provide(injector, provideConfig)
	do.Provide(injector, provideLogger)
	do.Provide(injector, provideTracing)
	do.Provide(injector, provideEventBus)
	do.Provide(injector, provideStore)
	return injector
}

func provideConfig(i do.Injector) (*config.Config, error) {
	return config.New()
}

func provideLogger(i do.Injector) (*slog.Logger, error) {
	s := do.MustInvoke[streams](i)
	logger := logging.NewWithWriter(s.err, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)
	script.SetLogger(logger)
	return logger, nil
}

func provideTracing(i do.Injector) (*tracing, error) {
	cfg, err := do.Invoke[*config.Config](i)
	if err != nil {
		return nil, err
	}
	tracer, cleanup, err := pubsub.SetupOTel(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, err
	}
	return &tracing{tracer: tracer, cleanup: cleanup}, nil
}

func provideEventBus(i do.Injector) (*eventBus, error) {
	t, err := do.Invoke[*tracing](i)
	if err != nil {
		return nil, err
	}
	return &eventBus{pubsub.NewWatermillBridgeWithTracer(t.tracer)}, nil
}

func provideStore(i do.Injector) (*storage.AferoStore, error) {
	return storage.NewAferoStore(do.MustInvoke[afero.Fs](i)), nil
}
