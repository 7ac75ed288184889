package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/pageindex/internal/pageindex"
	"github.com/itsmostafa/pageindex/internal/store"
	"github.com/itsmostafa/pageindex/internal/ui"
)

var (
	searchIndex        string
	searchTopK         int
	searchWithContent  bool
	searchDocument     string
	searchMinRelevance string
	searchJSON         bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the sections of an indexed document relevant to a query",
	Long: `Search a saved tree index. The model reads the section outline and ranks the
sections it judges relevant; page ranges always come from the index.

With --with-content the page text of each result is read from the original
document given by --document.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if searchWithContent && searchDocument == "" {
			return fmt.Errorf("--with-content requires --document")
		}

		e, err := newEnv(cmd)
		if err != nil {
			return err
		}

		minRelevance, err := e.cfg.MinRelevance()
		if err != nil {
			return err
		}
		if searchMinRelevance != "" {
			r, ok := pageindex.ParseRelevance(searchMinRelevance)
			if !ok {
				return fmt.Errorf("invalid --min-relevance %q (want high, medium or low)", searchMinRelevance)
			}
			minRelevance = r
		}

		path := searchIndex
		if path == "" {
			path = e.cfg.Index.Path
		}
		tree, err := store.Load(path)
		if err != nil {
			return err
		}

		var doc *pageindex.Document
		if searchWithContent {
			doc, err = pageindex.LoadTextFile(searchDocument, unescape(e.cfg.Index.PageDelimiter))
			if err != nil {
				return err
			}
		}

		provider, err := e.provider()
		if err != nil {
			return err
		}

		searcher := pageindex.NewSearcher(provider, pageindex.SearchOptions{
			TopK:            e.cfg.Search.TopK,
			MinRelevance:    minRelevance,
			MaxOutlineBytes: e.cfg.Search.MaxOutlineBytes,
			Timeout:         e.cfg.LLM.OperationTimeout,
			Logger:          e.logger,
		})

		query := strings.Join(args, " ")
		resp, err := searcher.Search(cmd.Context(), tree, pageindex.SearchRequest{
			Query:          query,
			TopK:           searchTopK,
			IncludeContent: searchWithContent,
			Document:       doc,
		})
		if err != nil {
			return err
		}

		if searchJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		ui.FormatResults(cmd.OutOrStdout(), query, resp)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchIndex, "index", "i", "", "Index file to search (default from config)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "Maximum number of results (default from config, 5)")
	searchCmd.Flags().BoolVar(&searchWithContent, "with-content", false, "Include the page text of each result")
	searchCmd.Flags().StringVarP(&searchDocument, "document", "d", "", "Original document, required with --with-content")
	searchCmd.Flags().StringVar(&searchMinRelevance, "min-relevance", "", "Drop results below this relevance (high, medium, low)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(searchCmd)
}
