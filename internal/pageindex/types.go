package pageindex

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TreeNode is one section of a document: a contiguous, inclusive page range
// with a title, nested under its parent section.
type TreeNode struct {
	ID         int         `json:"id"`
	Title      string      `json:"title"`
	Level      int         `json:"level"`
	StartIndex int         `json:"start_index"`
	// EndIndex is inclusive. It stops the page before the next sibling
	// starts, or equals StartIndex when the sibling starts on the same page.
	EndIndex   int         `json:"end_index"`
	Children   []*TreeNode `json:"children"`
	Summary    *string     `json:"summary,omitempty"`
}

// SourceMetadata describes the document a tree was built from.
type SourceMetadata struct {
	Title     *string `json:"title,omitempty"`
	PageCount *int    `json:"page_count,omitempty"`
	CreatedAt *string `json:"created_at,omitempty"`
}

// DocumentTree is the persisted index: top-level sections plus optional
// source metadata. Trees are read-only once built.
type DocumentTree struct {
	Roots    []*TreeNode     `json:"roots"`
	Metadata *SourceMetadata `json:"source_metadata,omitempty"`
}

// TOCItem is a flat table-of-contents entry parsed from the model's
// structure-extraction response, before tree construction.
type TOCItem struct {
	Title         string
	Level         int
	StartIndex    int
	PhysicalIndex string // label as the model wrote it, e.g. "<physical_index_3>"
}

// Relevance is the coarse tier the reasoning step assigns to a section.
type Relevance int

const (
	RelevanceLow Relevance = iota + 1
	RelevanceMedium
	RelevanceHigh
)

// ParseRelevance converts a tier name (case-insensitive) to a Relevance.
func ParseRelevance(s string) (Relevance, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return RelevanceHigh, true
	case "medium":
		return RelevanceMedium, true
	case "low":
		return RelevanceLow, true
	default:
		return 0, false
	}
}

func (r Relevance) String() string {
	switch r {
	case RelevanceHigh:
		return "high"
	case RelevanceMedium:
		return "medium"
	case RelevanceLow:
		return "low"
	default:
		return fmt.Sprintf("relevance(%d)", int(r))
	}
}

func (r Relevance) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Relevance) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, ok := ParseRelevance(s)
	if !ok {
		return fmt.Errorf("unknown relevance %q", s)
	}
	*r = parsed
	return nil
}

// SearchResult is one ranked section for a query. NodeID is a lookup key
// into the searched tree, not a reference to the node itself.
type SearchResult struct {
	NodeID     int       `json:"node_id"`
	Title      string    `json:"title"`
	Relevance  Relevance `json:"relevance"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
	Reason     string    `json:"reason"`
	Content    *string   `json:"content,omitempty"`
	// ContentErr is set when content was requested but could not be extracted.
	ContentErr error `json:"-"`
}

// String returns a JSON representation of the TreeNode for debugging.
func (n *TreeNode) String() string {
	b, _ := json.MarshalIndent(n, "", "  ")
	return string(b)
}

// PageSpan returns the number of pages the node covers.
func (n *TreeNode) PageSpan() int {
	if n.EndIndex < n.StartIndex {
		return 0
	}
	return n.EndIndex - n.StartIndex + 1
}

// Clone creates a deep copy of the TreeNode.
func (n *TreeNode) Clone() *TreeNode {
	if n == nil {
		return nil
	}
	clone := &TreeNode{
		ID:         n.ID,
		Title:      n.Title,
		Level:      n.Level,
		StartIndex: n.StartIndex,
		EndIndex:   n.EndIndex,
	}
	if n.Summary != nil {
		s := *n.Summary
		clone.Summary = &s
	}
	if n.Children != nil {
		clone.Children = make([]*TreeNode, len(n.Children))
		for i, child := range n.Children {
			clone.Children[i] = child.Clone()
		}
	}
	return clone
}

// Walk traverses the subtree in depth-first order, calling fn for each node.
func (n *TreeNode) Walk(fn func(*TreeNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// NodeCount counts all nodes in the subtree, including n.
func (n *TreeNode) NodeCount() int {
	count := 0
	n.Walk(func(*TreeNode) { count++ })
	return count
}

// Walk visits every node of the tree in depth-first order.
func (t *DocumentTree) Walk(fn func(*TreeNode)) {
	for _, root := range t.Roots {
		root.Walk(fn)
	}
}

// Flatten returns all nodes in depth-first order.
func (t *DocumentTree) Flatten() []*TreeNode {
	var nodes []*TreeNode
	t.Walk(func(n *TreeNode) {
		nodes = append(nodes, n)
	})
	return nodes
}

// NodeCount returns the total number of sections.
func (t *DocumentTree) NodeCount() int {
	count := 0
	t.Walk(func(*TreeNode) { count++ })
	return count
}

// MaxDepth returns the number of levels on the deepest root-to-leaf path.
func (t *DocumentTree) MaxDepth() int {
	var depth func(*TreeNode) int
	depth = func(n *TreeNode) int {
		deepest := 0
		for _, child := range n.Children {
			if d := depth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	}
	deepest := 0
	for _, root := range t.Roots {
		if d := depth(root); d > deepest {
			deepest = d
		}
	}
	return deepest
}

// FindByID returns the node with the given id, or nil.
func (t *DocumentTree) FindByID(id int) *TreeNode {
	var found *TreeNode
	t.Walk(func(n *TreeNode) {
		if found == nil && n.ID == id {
			found = n
		}
	})
	return found
}

// FindByTitle returns the first node, in depth-first order, whose title
// matches case-insensitively, or nil.
func (t *DocumentTree) FindByTitle(title string) *TreeNode {
	want := normalizeTitle(title)
	var found *TreeNode
	t.Walk(func(n *TreeNode) {
		if found == nil && normalizeTitle(n.Title) == want {
			found = n
		}
	})
	return found
}

// PageCount returns the page count recorded in the metadata, or 0 if unknown.
func (t *DocumentTree) PageCount() int {
	if t.Metadata == nil || t.Metadata.PageCount == nil {
		return 0
	}
	return *t.Metadata.PageCount
}

// Title returns the source title recorded in the metadata, or "".
func (t *DocumentTree) Title() string {
	if t.Metadata == nil || t.Metadata.Title == nil {
		return ""
	}
	return *t.Metadata.Title
}

// Clone creates a deep copy of the tree.
func (t *DocumentTree) Clone() *DocumentTree {
	clone := &DocumentTree{}
	if t.Roots != nil {
		clone.Roots = make([]*TreeNode, len(t.Roots))
		for i, root := range t.Roots {
			clone.Roots[i] = root.Clone()
		}
	}
	if t.Metadata != nil {
		m := *t.Metadata
		if m.Title != nil {
			s := *m.Title
			m.Title = &s
		}
		if m.PageCount != nil {
			c := *m.PageCount
			m.PageCount = &c
		}
		if m.CreatedAt != nil {
			s := *m.CreatedAt
			m.CreatedAt = &s
		}
		clone.Metadata = &m
	}
	return clone
}

// Format renders the tree as an indented plain-text outline.
func (t *DocumentTree) Format() string {
	var sb strings.Builder
	name := t.Title()
	if name == "" {
		name = "(untitled)"
	}
	fmt.Fprintf(&sb, "Document: %s (%d pages, %d sections)\n", name, t.PageCount(), t.NodeCount())
	sb.WriteString(strings.Repeat("─", 50))
	sb.WriteString("\n")
	var write func([]*TreeNode, int)
	write = func(nodes []*TreeNode, indent int) {
		for _, node := range nodes {
			fmt.Fprintf(&sb, "%s%s [pages %d-%d]\n", strings.Repeat("  ", indent), node.Title, node.StartIndex, node.EndIndex)
			write(node.Children, indent+1)
		}
	}
	write(t.Roots, 0)
	return sb.String()
}

// Normalize replaces empty child slices with nil so that decoded trees
// compare equal to built ones.
func (t *DocumentTree) Normalize() {
	if len(t.Roots) == 0 {
		t.Roots = nil
	}
	t.Walk(func(n *TreeNode) {
		if len(n.Children) == 0 {
			n.Children = nil
		}
	})
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to i.
func IntPtr(i int) *int { return &i }

func normalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
