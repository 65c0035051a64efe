package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nfrund/scriptproc/internal/config"
	"github.com/nfrund/scriptproc/internal/script"
)

func newCheckCommand(injector do.Injector) *cobra.Command {
	opts := &stageOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compile the scripts of a stage",
		Long: `Check loads the stage scripts and compiles each of them without running
anything. It fails when a script is missing, mixes languages or does not compile.

Examples:
  scriptproc check --scripts ./stage`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := do.Invoke[*config.Config](injector)
			if err != nil {
				return err
			}
			opts.applyDefaults(cmd, cfg)
			return checkScripts(cmd, do.MustInvoke[afero.Fs](injector), opts)
		},
	}
	opts.addFlags(cmd)
	return cmd
}

func checkScripts(cmd *cobra.Command, fs afero.Fs, opts *stageOptions) error {
	reg, err := opts.loadRegistry(fs)
	if err != nil {
		return err
	}
	language, err := reg.Language()
	if err != nil {
		return err
	}
	engine, err := opts.factory().CreateEngine(language)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	names := reg.ListScripts()
	failed := 0
	for _, name := range names {
		s, err := reg.GetScript(name)
		if err != nil {
			return err
		}
		if _, err := engine.Compile(s); err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", filepath.Base(s.Path), err)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", filepath.Base(s.Path))
	}

	if failed > 0 {
		return script.NewScriptError(script.ErrorTypeCompilation, opts.stage, "",
			fmt.Sprintf("%d of %d %s scripts failed to compile", failed, len(names), language), nil)
	}
	return nil
}
