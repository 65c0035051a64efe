package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/scriptproc/internal/script"
)

func newLanguagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the supported script languages",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, language := range script.NewFactory().SupportedLanguages() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s *%s\n", language, script.Extension(language))
			}
		},
	}
}
