package cmd

import (
	"fmt"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nfrund/scriptproc/internal/config"
	"github.com/nfrund/scriptproc/internal/script"
)

func newScaffoldCommand(injector do.Injector) *cobra.Command {
	var (
		language string
		dir      string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "scaffold",
		Short: "Write example scripts for a language",
		Long: `Scaffold writes an example main, init and destroy script into a directory.
The scaffolded scripts count records in the stage state, route records flagged with
reject to the error output and emit a summary event on destroy.

Existing files are kept unless --force is set.

Examples:
  scriptproc scaffold --language starlark --dir ./stage
  scriptproc scaffold --language javascript --dir ./stage --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := do.Invoke[*config.Config](injector)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("language") && cfg.Language != "" {
				language = cfg.Language
			}
			if !cmd.Flags().Changed("dir") {
				dir = cfg.ScriptsDir
			}

			lang, err := script.ParseLanguage(language)
			if err != nil {
				return err
			}
			result, err := script.NewScaffolder(do.MustInvoke[afero.Fs](injector), force).Scaffold(dir, lang)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, file := range result.Written {
				fmt.Fprintf(out, "wrote %s\n", file)
			}
			for _, file := range result.Skipped {
				fmt.Fprintf(out, "kept  %s (exists, use --force to overwrite)\n", file)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&language, "language", string(script.LanguageTengo), "script language: tengo, javascript or starlark (env SCRIPTPROC_LANGUAGE)")
	flags.StringVar(&dir, "dir", config.DefaultScriptsDir, "directory the scripts are written to (env SCRIPTPROC_SCRIPTS_DIR)")
	flags.BoolVar(&force, "force", false, "overwrite existing scripts")
	return cmd
}
