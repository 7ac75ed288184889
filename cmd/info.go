package cmd

import (
	"github.com/spf13/cobra"

	"github.com/itsmostafa/pageindex/internal/store"
	"github.com/itsmostafa/pageindex/internal/ui"
)

var infoCmd = &cobra.Command{
	Use:   "info [index]",
	Short: "Show statistics for an index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}

		path := e.indexPath(args)
		tree, err := store.Load(path)
		if err != nil {
			return err
		}
		size, err := store.Size(path)
		if err != nil {
			return err
		}

		ui.FormatInfo(cmd.OutOrStdout(), ui.Info{
			Path:     path,
			FileSize: size,
			Format:   store.FormatFromPath(path).String(),
			Tree:     tree,
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
