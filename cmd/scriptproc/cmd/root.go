package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var version = "0.1.0" // This should be set at build time using -ldflags

// NewRootCommand builds the command tree on the services of injector.
func NewRootCommand(injector do.Injector) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scriptproc",
		Short: "Run record processing stages written in Tengo, JavaScript or Starlark",
		Long: `scriptproc runs a scripted processing stage over JSON-lines records.

A stage is a directory holding a main script and optional init and destroy
scripts (main.tengo, init.tengo, destroy.tengo, or .js / .star). The main
script runs once per record or once per batch; init and destroy run once.

Available commands:
  run        Process records through a stage
  check      Compile the scripts of a stage
  scaffold   Write example scripts for a language
  languages  List the supported script languages

Use "scriptproc [command] --help" for more information about a command.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := do.Invoke[*slog.Logger](injector)
			return err
		},
	}

	rootCmd.AddCommand(
		newRunCommand(injector),
		newCheckCommand(injector),
		newScaffoldCommand(injector),
		newLanguagesCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of scriptproc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scriptproc v%s\n", version)
		},
	}
}

// Execute executes the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	injector := newInjector(afero.NewOsFs(), streams{in: os.Stdin, out: os.Stdout, err: os.Stderr})
	err := NewRootCommand(injector).ExecuteContext(ctx)
	injector.Shutdown()
	stop()

	if err != nil {
		os.Exit(1)
	}
}
