package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/pageindex/internal/store"
	"github.com/itsmostafa/pageindex/internal/ui"
)

var showJSON bool
var showPlain bool

var showCmd = &cobra.Command{
	Use:   "show [index]",
	Short: "Print the section tree of an index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}

		tree, err := store.Load(e.indexPath(args))
		if err != nil {
			return err
		}

		switch {
		case showJSON:
			data, err := store.Encode(tree, store.FormatJSON)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		case showPlain:
			fmt.Fprint(cmd.OutOrStdout(), tree.Format())
		default:
			ui.FormatTree(cmd.OutOrStdout(), tree)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the tree as JSON")
	showCmd.Flags().BoolVar(&showPlain, "plain", false, "Print an unstyled indented outline")
	showCmd.MarkFlagsMutuallyExclusive("json", "plain")

	rootCmd.AddCommand(showCmd)
}
