// Package pageindex implements vectorless, reasoning-based retrieval over
// tree-structured document indexes.
//
// # Overview
//
// Instead of embedding chunks, PageIndex asks a language model for a
// document's section hierarchy once, validates it into a tree of page
// ranges, and later asks the model to reason over that tree to rank the
// sections relevant to a query.
//
// # Key Concepts
//
//   - Document: an ordered sequence of page texts, addressed by 0-based
//     page index. Pages are wrapped in <physical_index_N> tags in prompts.
//
//   - TOC item: one flat entry from the structure-extraction response
//     (title, nesting level, start page). Levels only matter relative to
//     each other.
//
//   - Tree node: a titled, inclusive page range nested under its parent.
//     Ids are assigned 1..n in depth-first order and never renumbered.
//
//   - Relevance tier: the high/medium/low rank the model assigns to a
//     section for a query.
//
// # Usage
//
//	provider, err := pageindex.NewProvider(pageindex.ProviderConfig{
//		Provider: pageindex.ProviderOpenAI,
//		APIKey:   key,
//		Model:    "gpt-4o-mini",
//	})
//	doc, err := pageindex.LoadTextFile("report.txt", "\f")
//	tree, err := pageindex.NewIndexer(provider, pageindex.IndexerOptions{}).Index(ctx, doc)
//	resp, err := pageindex.NewSearcher(provider, pageindex.SearchOptions{}).
//		Search(ctx, tree, pageindex.SearchRequest{Query: "What methods were used?", TopK: 3})
//
// # Architecture
//
//   - types.go: TreeNode, DocumentTree, SearchResult and tree helpers
//   - tree.go: TOC response parsing, stack-based tree build, end-page
//     resolution and invariant validation
//   - document.go: Document pages, tagging and content ranges
//   - llm.go: LLMProvider with OpenAI-compatible and Anthropic backends
//   - indexer.go / search.go: the two reasoning passes
//   - errors.go: typed error kinds
//
// Trees are read-only after construction and safe to search concurrently.
package pageindex
