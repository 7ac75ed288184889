package pageindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	DefaultTopK            = 5
	DefaultMaxOutlineBytes = 64 << 10
)

// SearchOptions configures a Searcher.
type SearchOptions struct {
	// TopK is used when a request does not set one.
	TopK int
	// MinRelevance drops results below this tier after ordering. 0 keeps all.
	MinRelevance Relevance
	// MaxOutlineBytes bounds the serialized outline in the prompt.
	MaxOutlineBytes int
	// Timeout bounds the whole Search call, including retries. 0 means none.
	Timeout time.Duration
	Logger  *slog.Logger
}

// SearchRequest is one query against a tree.
type SearchRequest struct {
	Query string
	// TopK caps the result count; 0 uses the searcher default.
	TopK           int
	IncludeContent bool
	// Document supplies page text when IncludeContent is set.
	Document *Document
}

// SearchResponse holds ranked results and the warnings recorded while
// validating the model's answer.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Searcher ranks tree sections against a query with one reasoning call.
type Searcher struct {
	provider LLMProvider
	opts     SearchOptions
	logger   *slog.Logger
}

// NewSearcher creates a Searcher backed by provider.
func NewSearcher(provider LLMProvider, opts SearchOptions) *Searcher {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxOutlineBytes <= 0 {
		opts.MaxOutlineBytes = DefaultMaxOutlineBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger
	}
	return &Searcher{provider: provider, opts: opts, logger: logger}
}

// Search returns up to k sections ordered high to low relevance, keeping
// the model's order within a tier. The tree is only read.
func (s *Searcher) Search(ctx context.Context, tree *DocumentTree, req SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, Errorf(KindInvalidArgument, "query is empty")
	}
	k := req.TopK
	if k == 0 {
		k = s.opts.TopK
	}
	if k < 1 {
		return nil, Errorf(KindInvalidArgument, "top k must be at least 1, got %d", k)
	}
	if tree == nil || tree.NodeCount() == 0 {
		return nil, Errorf(KindEmptyTree, "tree has no sections to search")
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	outline := s.outline(tree)
	prompt := fmt.Sprintf(SearchPrompt, outline, query)

	raw, err := complete(ctx, s.provider, prompt, "search")
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{}
	warn := func(msg string, args ...any) {
		text := fmt.Sprintf(msg, args...)
		resp.Warnings = append(resp.Warnings, text)
		s.logger.Warn(text, "query", query)
	}

	results, err := parseRanking(raw, tree, warn)
	if err != nil {
		return nil, err
	}

	results = orderResults(results, s.opts.MinRelevance, k)

	if req.IncludeContent {
		for i := range results {
			r := &results[i]
			if req.Document == nil {
				r.ContentErr = Errorf(KindContentExtraction, "no document supplied for content")
			} else {
				content, err := req.Document.ContentRange(r.StartIndex, r.EndIndex)
				if err != nil {
					r.ContentErr = err
				} else {
					r.Content = &content
				}
			}
			if r.ContentErr != nil {
				warn("content unavailable for section %q: %v", r.Title, r.ContentErr)
			}
		}
	}

	resp.Results = results
	s.logger.Info("search completed",
		"query", query,
		"results", len(resp.Results),
		"warnings", len(resp.Warnings))
	return resp, nil
}

func (s *Searcher) outline(tree *DocumentTree) string {
	text, tier := BuildOutline(tree, s.opts.MaxOutlineBytes)
	s.logger.Debug("built search outline",
		"tier", tier.String(),
		"bytes", len(text),
		"estimated_tokens", EstimateTokens(text))
	if tier != OutlineFull {
		s.logger.Warn("outline exceeds size bound, using reduced form",
			"tier", tier.String(),
			"bytes", len(text),
			"max_bytes", s.opts.MaxOutlineBytes)
	}
	if len(text) > s.opts.MaxOutlineBytes {
		s.logger.Warn("compact outline still exceeds size bound, sending every section anyway",
			"bytes", len(text),
			"max_bytes", s.opts.MaxOutlineBytes)
	}
	return text
}

// OutlineTier is the level of detail used to serialize a tree.
type OutlineTier int

const (
	// OutlineFull includes summaries.
	OutlineFull OutlineTier = iota
	// OutlineNoSummaries drops summaries.
	OutlineNoSummaries
	// OutlineCompact also shortens indentation and range labels.
	OutlineCompact
)

func (t OutlineTier) String() string {
	switch t {
	case OutlineFull:
		return "full"
	case OutlineNoSummaries:
		return "no_summaries"
	case OutlineCompact:
		return "compact"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// BuildOutline serializes every node depth-first, one line per node, using
// the most detailed tier that fits in maxBytes. The compact tier is
// returned even when it does not fit: nodes are never dropped.
func BuildOutline(tree *DocumentTree, maxBytes int) (string, OutlineTier) {
	for _, tier := range []OutlineTier{OutlineFull, OutlineNoSummaries} {
		text := writeOutline(tree, tier)
		if maxBytes <= 0 || len(text) <= maxBytes {
			return text, tier
		}
	}
	return writeOutline(tree, OutlineCompact), OutlineCompact
}

func writeOutline(tree *DocumentTree, tier OutlineTier) string {
	var sb strings.Builder
	indent := "  "
	if tier == OutlineCompact {
		indent = " "
	}
	tree.Walk(func(n *TreeNode) {
		pad := strings.Repeat(indent, n.Level)
		if tier == OutlineCompact {
			fmt.Fprintf(&sb, "%s[%d] %s (%d-%d)\n", pad, n.ID, n.Title, n.StartIndex, n.EndIndex)
			return
		}
		fmt.Fprintf(&sb, "%s[%d] %s (pages %d-%d)\n", pad, n.ID, n.Title, n.StartIndex, n.EndIndex)
		if tier == OutlineFull && n.Summary != nil && *n.Summary != "" {
			fmt.Fprintf(&sb, "%s%ssummary: %s\n", pad, indent, strings.Join(strings.Fields(*n.Summary), " "))
		}
	})
	return sb.String()
}

// rankedEntry is one ranked section as the model writes it.
type rankedEntry struct {
	NodeID    json.RawMessage `json:"node_id"`
	ID        json.RawMessage `json:"id"`
	Title     string          `json:"title"`
	Relevance string          `json:"relevance"`
	Reason    string          `json:"reason"`
}

// parseRanking validates the model's ranking against the tree. Entries that
// cannot be decoded or resolved are dropped with a warning; the call fails
// only when the response has no list at all or every entry is malformed.
func parseRanking(raw string, tree *DocumentTree, warn func(string, ...any)) ([]SearchResult, error) {
	elements, err := decodeRanking(raw)
	if err != nil {
		return nil, NewError(KindResponseUnparseable, "search response has no ranked sections", err).WithRaw(raw)
	}

	var results []SearchResult
	malformed := 0
	for i, element := range elements {
		var entry rankedEntry
		if err := json.Unmarshal(element, &entry); err != nil {
			malformed++
			warn("dropping malformed ranked entry %d: %v", i, err)
			continue
		}

		relevance, ok := ParseRelevance(entry.Relevance)
		if !ok {
			malformed++
			warn("dropping ranked entry %d with unknown relevance %q", i, entry.Relevance)
			continue
		}

		node, fuzzy := resolveReference(tree, entry)
		if node == nil {
			warn("dropping ranked entry %d: section %s not found in tree", i, describeReference(entry))
			continue
		}
		if fuzzy != "" {
			warn("ranked entry %d: section %s matched %q by %s", i, describeReference(entry), node.Title, fuzzy)
		}

		results = append(results, SearchResult{
			NodeID:     node.ID,
			Title:      node.Title,
			Relevance:  relevance,
			StartIndex: node.StartIndex,
			EndIndex:   node.EndIndex,
			Reason:     strings.TrimSpace(entry.Reason),
		})
	}

	if len(elements) > 0 && malformed == len(elements) {
		return nil, Errorf(KindResponseUnparseable, "all %d ranked entries are malformed", len(elements)).WithRaw(raw)
	}
	return results, nil
}

func decodeRanking(raw string) ([]json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty response")
	}

	wrapped, err := ExtractJSON[struct {
		RelevantSections *[]json.RawMessage `json:"relevant_sections"`
	}](raw)
	if err == nil {
		if wrapped.RelevantSections == nil {
			return nil, fmt.Errorf("missing relevant_sections")
		}
		return *wrapped.RelevantSections, nil
	}

	list, listErr := ExtractJSON[[]json.RawMessage](raw)
	if listErr != nil {
		return nil, err
	}
	return list, nil
}

var leadingNumbering = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+`)

// resolveReference finds the node an entry refers to. An id or an exact
// title is an exact match. Otherwise a title matches after its section
// number is stripped only when the numbers agree (or the entry has none),
// and an unnumbered entry may match one node whose title contains it or is
// contained in it. The second return value names the fuzzy rule used and
// is empty for exact matches.
func resolveReference(tree *DocumentTree, entry rankedEntry) (*TreeNode, string) {
	for _, raw := range []json.RawMessage{entry.NodeID, entry.ID} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if id, err := parseIntValue(raw); err == nil {
			if node := tree.FindByID(id); node != nil {
				return node, ""
			}
		}
	}

	want := normalizeTitle(entry.Title)
	if want == "" {
		return nil, ""
	}
	if node := tree.FindByTitle(want); node != nil {
		return node, ""
	}

	wantNum, wantText := splitNumbering(want)
	if wantText == "" {
		return nil, ""
	}

	var byText *TreeNode
	tree.Walk(func(n *TreeNode) {
		if byText != nil {
			return
		}
		num, text := splitNumbering(normalizeTitle(n.Title))
		if text == wantText && (wantNum == "" || wantNum == num) {
			byText = n
		}
	})
	if byText != nil {
		return byText, "title without section number"
	}

	if wantNum != "" {
		return nil, ""
	}
	var candidates []*TreeNode
	tree.Walk(func(n *TreeNode) {
		_, text := splitNumbering(normalizeTitle(n.Title))
		if text == "" {
			return
		}
		if strings.Contains(text, wantText) || strings.Contains(wantText, text) {
			candidates = append(candidates, n)
		}
	})
	if len(candidates) == 1 {
		return candidates[0], "partial title"
	}
	return nil, ""
}

// splitNumbering separates a leading section number such as "3.2" or "3."
// from the rest of a normalized title.
func splitNumbering(title string) (number, text string) {
	m := leadingNumbering.FindStringSubmatchIndex(title)
	if m == nil {
		return "", strings.TrimSpace(title)
	}
	return title[m[2]:m[3]], strings.TrimSpace(title[m[1]:])
}

func describeReference(entry rankedEntry) string {
	if entry.Title != "" {
		return fmt.Sprintf("%q", entry.Title)
	}
	if len(entry.NodeID) > 0 {
		return "id " + string(entry.NodeID)
	}
	if len(entry.ID) > 0 {
		return "id " + string(entry.ID)
	}
	return "(no reference)"
}

// orderResults deduplicates by node keeping the first occurrence, sorts by
// tier preserving model order within a tier, applies the relevance floor
// and truncates to k.
func orderResults(results []SearchResult, minRelevance Relevance, k int) []SearchResult {
	seen := make(map[int]bool, len(results))
	deduped := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if seen[r.NodeID] {
			continue
		}
		seen[r.NodeID] = true
		deduped = append(deduped, r)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Relevance > deduped[j].Relevance
	})

	filtered := deduped[:0]
	for _, r := range deduped {
		if r.Relevance >= minRelevance {
			filtered = append(filtered, r)
		}
	}

	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered
}
