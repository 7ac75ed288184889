package cmd

import (
	"github.com/spf13/cobra"

	"github.com/itsmostafa/pageindex/internal/pageindex"
	"github.com/itsmostafa/pageindex/internal/ui"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the configured LLM is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}

		provider, err := e.provider()
		if err != nil {
			return err
		}

		reply, err := pageindex.TestConnection(cmd.Context(), provider)
		ui.FormatConnection(cmd.OutOrStdout(), provider.Model(), reply, err)
		return err
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}
