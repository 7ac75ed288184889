package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/pageindex/internal/pageindex"
	"github.com/itsmostafa/pageindex/internal/store"
	"github.com/itsmostafa/pageindex/internal/ui"
)

var indexOutput string
var indexDelimiter string

var indexCmd = &cobra.Command{
	Use:   "index <document>",
	Short: "Build a tree index for a text document",
	Long: `Build a tree index for a plain-text document and save it.

The whole file is one page unless --page-delimiter is set, in which case the
text is split into pages on that string (for example "\f"). The index format
follows the output extension: .bin, .bincode and .pidx are binary, anything
else is JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}

		output := indexOutput
		if output == "" {
			output = e.cfg.Index.Path
		}
		delimiter := e.cfg.Index.PageDelimiter
		if cmd.Flags().Changed("page-delimiter") {
			delimiter = indexDelimiter
		}

		doc, err := pageindex.LoadTextFile(args[0], unescape(delimiter))
		if err != nil {
			return err
		}
		e.logger.Info("loaded document",
			"name", doc.Name,
			"pages", doc.PageCount(),
			"tokens", doc.TotalTokens())

		provider, err := e.provider()
		if err != nil {
			return err
		}

		if store.Exists(output) {
			e.logger.Warn("index file exists and will be replaced", "path", output)
		}

		indexer := pageindex.NewIndexer(provider, pageindex.IndexerOptions{
			MaxDepth: e.cfg.Index.MaxDepth,
			Timeout:  e.cfg.LLM.OperationTimeout,
			Logger:   e.logger,
		})

		start := time.Now()
		tree, err := indexer.Index(cmd.Context(), doc)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		if err := store.Save(tree, output); err != nil {
			return err
		}
		size, err := store.Size(output)
		if err != nil {
			return err
		}

		ui.FormatIndexSummary(cmd.OutOrStdout(), ui.IndexSummary{
			Document: doc.Name,
			Output:   output,
			Pages:    doc.PageCount(),
			Sections: tree.NodeCount(),
			Depth:    tree.MaxDepth(),
			Duration: elapsed,
			FileSize: size,
		})
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVarP(&indexOutput, "output", "o", "", "Index file to write (default from config, data/tree_index.json)")
	indexCmd.Flags().StringVar(&indexDelimiter, "page-delimiter", "", `Page delimiter, Go escapes allowed (e.g. "\f")`)

	rootCmd.AddCommand(indexCmd)
}
