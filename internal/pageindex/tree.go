package pageindex

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxDepth bounds the nesting depth accepted from the model.
const DefaultMaxDepth = 32

// BuildOptions controls tree construction.
type BuildOptions struct {
	// MaxDepth is the deepest nesting accepted; 0 means DefaultMaxDepth.
	MaxDepth int
	Logger   *slog.Logger
}

func (o BuildOptions) maxDepth() int {
	if o.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return o.MaxDepth
}

func (o BuildOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return discardLogger
	}
	return o.Logger
}

var discardLogger = slog.New(slog.DiscardHandler)

// BuildTree turns a raw structure-extraction completion into a validated
// tree for a document of pageCount pages. The returned tree has no metadata.
// Each section's range stops the page before its next sibling starts.
func BuildTree(raw string, pageCount int, opts BuildOptions) (*DocumentTree, error) {
	if pageCount < 1 {
		return nil, Errorf(KindInvalidArgument, "page count must be at least 1, got %d", pageCount)
	}

	items, err := ParseTOCResponse(raw, opts.logger())
	if err != nil {
		return nil, err
	}

	roots, err := BuildTreeFromItems(items, opts)
	if err != nil {
		return nil, err
	}
	ResolveEndIndices(roots, pageCount)

	tree := &DocumentTree{Roots: roots}
	if err := Validate(tree, pageCount); err != nil {
		return nil, err
	}
	return tree, nil
}

// BuildTreeFromItems nests a flat, ordered TOC list using a frame stack.
// Items compare by raw level only: an equal level is a sibling, a greater
// level is a child of the nearest preceding item with a smaller level. The
// first item always becomes a root, whatever its level. Node ids are
// assigned 1..n in input order, which is also depth-first order. End
// indices are provisional (equal to start) until ResolveEndIndices runs.
func BuildTreeFromItems(items []TOCItem, opts BuildOptions) ([]*TreeNode, error) {
	if len(items) == 0 {
		return nil, Errorf(KindParseFailure, "no table of contents entries")
	}

	logger := opts.logger()
	maxDepth := opts.maxDepth()

	minLevel := items[0].Level
	for _, item := range items[1:] {
		minLevel = min(minLevel, item.Level)
	}
	if items[0].Level > minLevel {
		logger.Warn("first entry is nested below the top level, treating it as a root",
			"title", items[0].Title,
			"level", items[0].Level,
			"min_level", minLevel)
	}

	type frame struct {
		node  *TreeNode
		level int
	}

	var stack []frame
	var roots []*TreeNode

	for i, item := range items {
		// Pop frames until the top is a strict ancestor
		for len(stack) > 0 && stack[len(stack)-1].level >= item.Level {
			stack = stack[:len(stack)-1]
		}

		depth := len(stack)
		if depth >= maxDepth {
			return nil, Errorf(KindInvalidStructure,
				"entry %q nests %d levels deep, limit is %d", item.Title, depth+1, maxDepth)
		}

		node := &TreeNode{
			ID:         i + 1,
			Title:      item.Title,
			Level:      depth,
			StartIndex: item.StartIndex,
			EndIndex:   item.StartIndex,
		}

		if depth == 0 {
			roots = append(roots, node)
		} else {
			parent := stack[depth-1].node
			parent.Children = append(parent.Children, node)
		}

		stack = append(stack, frame{node: node, level: item.Level})
	}

	return roots, nil
}

// ResolveEndIndices fills in end pages from the start pages. A section ends
// the page before its next sibling starts, or on its own start page when
// both start on the same page. The last child inherits its parent's end and
// the last root ends on the final page of the document.
func ResolveEndIndices(roots []*TreeNode, pageCount int) {
	type frame struct {
		siblings []*TreeNode
		end      int
	}

	stack := []frame{{siblings: roots, end: pageCount - 1}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for i, node := range f.siblings {
			if i+1 < len(f.siblings) {
				node.EndIndex = max(f.siblings[i+1].StartIndex-1, node.StartIndex)
			} else {
				node.EndIndex = f.end
			}
			if len(node.Children) > 0 {
				stack = append(stack, frame{siblings: node.Children, end: node.EndIndex})
			}
		}
	}
}

// Validate checks the structural invariants of a tree. When pageCount is
// positive every range must also fit inside the document.
func Validate(tree *DocumentTree, pageCount int) error {
	if tree == nil {
		return Errorf(KindInvariantViolation, "tree is nil")
	}

	type frame struct {
		node   *TreeNode
		parent *TreeNode
	}

	seen := make(map[int]bool)
	stack := make([]frame, 0, len(tree.Roots))

	if err := checkSiblings(tree.Roots); err != nil {
		return err
	}
	for i := len(tree.Roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: tree.Roots[i]})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.node

		if n == nil {
			return Errorf(KindInvariantViolation, "nil node in tree")
		}
		if seen[n.ID] {
			return Errorf(KindInvariantViolation, "duplicate node id %d", n.ID).WithNode(n.ID)
		}
		seen[n.ID] = true

		if n.StartIndex < 0 {
			return Errorf(KindInvariantViolation, "node %q starts at negative page %d", n.Title, n.StartIndex).WithNode(n.ID)
		}
		if n.StartIndex > n.EndIndex {
			return Errorf(KindInvariantViolation, "node %q has start %d after end %d",
				n.Title, n.StartIndex, n.EndIndex).WithNode(n.ID)
		}
		if pageCount > 0 && n.EndIndex > pageCount-1 {
			return Errorf(KindInvariantViolation, "node %q ends at page %d, document has %d pages",
				n.Title, n.EndIndex, pageCount).WithNode(n.ID)
		}

		if f.parent == nil {
			if n.Level != 0 {
				return Errorf(KindInvariantViolation, "root %q has level %d", n.Title, n.Level).WithNode(n.ID)
			}
		} else {
			p := f.parent
			if n.Level != p.Level+1 {
				return Errorf(KindInvariantViolation, "node %q has level %d under parent level %d",
					n.Title, n.Level, p.Level).WithNode(n.ID)
			}
			if n.StartIndex < p.StartIndex || n.EndIndex > p.EndIndex {
				return Errorf(KindInvariantViolation, "node %q pages %d-%d fall outside parent %q pages %d-%d",
					n.Title, n.StartIndex, n.EndIndex, p.Title, p.StartIndex, p.EndIndex).WithNode(n.ID)
			}
		}

		if err := checkSiblings(n.Children); err != nil {
			return err
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: n.Children[i], parent: n})
		}
	}

	return nil
}

func checkSiblings(nodes []*TreeNode) error {
	for i := 0; i+1 < len(nodes); i++ {
		cur, next := nodes[i], nodes[i+1]
		if cur == nil || next == nil {
			continue
		}
		if cur.EndIndex > next.StartIndex {
			return Errorf(KindInvariantViolation, "node %q ends at page %d after sibling %q starts at page %d",
				cur.Title, cur.EndIndex, next.Title, next.StartIndex).WithNode(cur.ID)
		}
	}
	return nil
}

// tocEntry is one entry as the model writes it. Numeric fields stay raw
// because models emit them as numbers, numeric strings or tagged labels.
type tocEntry struct {
	Title         *string         `json:"title"`
	Level         json.RawMessage `json:"level"`
	Structure     string          `json:"structure"`
	PhysicalIndex json.RawMessage `json:"physical_index"`
	Page          json.RawMessage `json:"page"`
}

var physicalIndexPattern = regexp.MustCompile(`^<?\s*physical_index_(\d+)\s*>?$`)

// ParseTOCResponse decodes a structure-extraction completion into flat TOC
// items. The list may be bare or wrapped in {"table_of_contents": [...]},
// fenced or embedded in prose. Entries with a blank title are dropped; any
// other malformed entry fails the whole parse.
func ParseTOCResponse(raw string, logger *slog.Logger) ([]TOCItem, error) {
	if logger == nil {
		logger = discardLogger
	}
	if strings.TrimSpace(raw) == "" {
		return nil, Errorf(KindParseFailure, "empty structure response").WithRaw(raw)
	}

	entries, err := decodeTOCEntries(raw)
	if err != nil {
		return nil, NewError(KindParseFailure, "structure response is not a table of contents", err).WithRaw(raw)
	}

	items := make([]TOCItem, 0, len(entries))
	for i, entry := range entries {
		if entry.Title == nil || strings.TrimSpace(*entry.Title) == "" {
			logger.Warn("dropping table of contents entry with blank title", "position", i)
			continue
		}
		title := strings.TrimSpace(*entry.Title)

		level, err := entryLevel(entry)
		if err != nil {
			return nil, NewError(KindParseFailure, fmt.Sprintf("entry %d (%q)", i, title), err).WithRaw(raw)
		}

		label, start, err := entryStart(entry)
		if err != nil {
			return nil, NewError(KindParseFailure, fmt.Sprintf("entry %d (%q)", i, title), err).WithRaw(raw)
		}

		items = append(items, TOCItem{
			Title:         title,
			Level:         level,
			StartIndex:    start,
			PhysicalIndex: label,
		})
	}

	if len(items) == 0 {
		return nil, Errorf(KindParseFailure, "structure response has no usable entries").WithRaw(raw)
	}
	return items, nil
}

func decodeTOCEntries(raw string) ([]tocEntry, error) {
	if entries, err := ExtractJSON[[]tocEntry](raw); err == nil {
		return entries, nil
	}

	wrapped, err := ExtractJSON[struct {
		TableOfContents *[]tocEntry `json:"table_of_contents"`
	}](raw)
	if err != nil {
		return nil, err
	}
	if wrapped.TableOfContents == nil {
		return nil, fmt.Errorf("missing table_of_contents")
	}
	return *wrapped.TableOfContents, nil
}

func entryLevel(entry tocEntry) (int, error) {
	if len(entry.Level) > 0 && string(entry.Level) != "null" {
		level, err := parseIntValue(entry.Level)
		if err != nil {
			return 0, fmt.Errorf("invalid level: %w", err)
		}
		if level < 0 {
			return 0, fmt.Errorf("negative level %d", level)
		}
		return level, nil
	}

	structure := strings.Trim(strings.TrimSpace(entry.Structure), ".")
	if structure == "" {
		return 0, fmt.Errorf("missing level and structure")
	}
	parts := strings.Split(structure, ".")
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return 0, fmt.Errorf("malformed structure %q", entry.Structure)
		}
	}
	return len(parts), nil
}

func entryStart(entry tocEntry) (string, int, error) {
	raw := entry.PhysicalIndex
	if len(raw) == 0 || string(raw) == "null" {
		raw = entry.Page
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", 0, fmt.Errorf("missing physical_index")
	}

	var label string
	if err := json.Unmarshal(raw, &label); err == nil {
		label = strings.TrimSpace(label)
		if m := physicalIndexPattern.FindStringSubmatch(label); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return "", 0, fmt.Errorf("invalid physical_index %q", label)
			}
			return label, n, nil
		}
	}

	n, err := parseIntValue(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid physical_index %s", string(raw))
	}
	if n < 0 {
		return "", 0, fmt.Errorf("negative physical_index %d", n)
	}
	if label == "" {
		label = strconv.Itoa(n)
	}
	return label, n, nil
}

// parseIntValue accepts a JSON integer, an integral float or a numeric string.
func parseIntValue(raw json.RawMessage) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt32 {
			return 0, fmt.Errorf("not an integer: %v", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected value %s", string(raw))
	}
}
