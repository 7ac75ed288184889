// Package ui renders pageindex results for the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/itsmostafa/pageindex/internal/pageindex"
)

var (
	// titleStyle for bold red headers
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("160"))

	// dimStyle for muted metadata text
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// successStyle for success indicators
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	// warnStyle for warnings and medium relevance
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	// errorStyle for error indicators
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	// boxStyle for summary boxes with rounded border
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("160")).
			Padding(0, 1)

	// headerBoxStyle for document headers
	headerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("160")).
			Padding(0, 1)

	// nodeIDStyle for section ids in listings
	nodeIDStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)
)

// IndexSummary describes a finished index run.
type IndexSummary struct {
	Document string
	Output   string
	Pages    int
	Sections int
	Depth    int
	Duration time.Duration
	FileSize int64
}

// FormatIndexSummary renders the result box printed after indexing.
func FormatIndexSummary(w io.Writer, s IndexSummary) {
	line1 := fmt.Sprintf("%s %s  %s %s",
		dimStyle.Render("Document:"), s.Document,
		dimStyle.Render("Pages:"), formatNumber(s.Pages),
	)
	line2 := fmt.Sprintf("%s %d  %s %d  %s %.1fs",
		dimStyle.Render("Sections:"), s.Sections,
		dimStyle.Render("Depth:"), s.Depth,
		dimStyle.Render("Time:"), s.Duration.Seconds(),
	)
	line3 := fmt.Sprintf("%s %s (%s)",
		dimStyle.Render("Saved:"), successStyle.Render(s.Output), formatBytes(s.FileSize),
	)

	content := titleStyle.Render("Index Complete") + "\n" + line1 + "\n" + line2 + "\n" + line3
	fmt.Fprintln(w, boxStyle.Render(content))
}

// FormatTree renders the section hierarchy with page ranges.
func FormatTree(w io.Writer, tree *pageindex.DocumentTree) {
	header := fmt.Sprintf("%s\n%s %d  %s %d",
		titleStyle.Render(documentTitle(tree)),
		dimStyle.Render("Pages:"), tree.PageCount(),
		dimStyle.Render("Sections:"), tree.NodeCount(),
	)
	fmt.Fprintln(w, headerBoxStyle.Render(header))

	if len(tree.Roots) == 0 {
		fmt.Fprintln(w, dimStyle.Render("(no sections)"))
		return
	}
	writeBranch(w, tree.Roots, "")
}

func writeBranch(w io.Writer, nodes []*pageindex.TreeNode, prefix string) {
	for i, n := range nodes {
		last := i == len(nodes)-1
		connector, indent := "├── ", "│   "
		if last {
			connector, indent = "└── ", "    "
		}
		fmt.Fprintf(w, "%s%s%s %s %s\n",
			dimStyle.Render(prefix+connector),
			nodeIDStyle.Render(fmt.Sprintf("[%d]", n.ID)),
			n.Title,
			dimStyle.Render(pageRange(n.StartIndex, n.EndIndex)),
		)
		if len(n.Children) > 0 {
			writeBranch(w, n.Children, prefix+indent)
		}
	}
}

// FormatResults renders ranked search results, their content when present
// and any warnings.
func FormatResults(w io.Writer, query string, resp *pageindex.SearchResponse) {
	fmt.Fprintf(w, "%s %s\n\n", dimStyle.Render("Query:"), titleStyle.Render(query))

	if len(resp.Results) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No relevant sections found."))
	}

	for i, r := range resp.Results {
		fmt.Fprintf(w, "%d. %s %s %s %s\n",
			i+1,
			relevanceLabel(r.Relevance),
			nodeIDStyle.Render(fmt.Sprintf("[%d]", r.NodeID)),
			r.Title,
			dimStyle.Render(pageRange(r.StartIndex, r.EndIndex)),
		)
		if r.Reason != "" {
			fmt.Fprintf(w, "   %s\n", dimStyle.Render(r.Reason))
		}
		switch {
		case r.Content != nil:
			fmt.Fprintln(w, boxStyle.Render(strings.TrimSpace(*r.Content)))
		case r.ContentErr != nil:
			fmt.Fprintf(w, "   %s %v\n", errorStyle.Render("content unavailable:"), r.ContentErr)
		}
	}

	FormatWarnings(w, resp.Warnings)
}

// FormatWarnings lists warnings, if any.
func FormatWarnings(w io.Writer, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, msg := range warnings {
		fmt.Fprintf(w, "%s %s\n", warnStyle.Render("warning:"), msg)
	}
}

// Info is the summary shown by the info command.
type Info struct {
	Path     string
	FileSize int64
	Format   string
	Tree     *pageindex.DocumentTree
}

// FormatInfo renders index statistics.
func FormatInfo(w io.Writer, info Info) {
	tree := info.Tree
	lines := []string{
		titleStyle.Render("Index Info"),
		fmt.Sprintf("%s %s", dimStyle.Render("Document:"), documentTitle(tree)),
		fmt.Sprintf("%s %d", dimStyle.Render("Total pages:"), tree.PageCount()),
		fmt.Sprintf("%s %d", dimStyle.Render("Sections:"), tree.NodeCount()),
		fmt.Sprintf("%s %d", dimStyle.Render("Top-level:"), len(tree.Roots)),
		fmt.Sprintf("%s %d", dimStyle.Render("Max depth:"), tree.MaxDepth()),
	}
	if largest := largestSection(tree); largest != nil {
		lines = append(lines, fmt.Sprintf("%s %s (%s)", dimStyle.Render("Largest section:"),
			largest.Title, pluralPages(largest.PageSpan())))
	}
	if tree.Metadata != nil && tree.Metadata.CreatedAt != nil {
		lines = append(lines, fmt.Sprintf("%s %s", dimStyle.Render("Created:"), *tree.Metadata.CreatedAt))
	}
	lines = append(lines,
		fmt.Sprintf("%s %s (%s)", dimStyle.Render("File size:"), formatBytes(info.FileSize), info.Format),
		fmt.Sprintf("%s %s", dimStyle.Render("Index path:"), info.Path),
	)
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

// largestSection returns the section covering the most pages, the first
// in document order on ties.
func largestSection(tree *pageindex.DocumentTree) *pageindex.TreeNode {
	var largest *pageindex.TreeNode
	for _, n := range tree.Flatten() {
		if largest == nil || n.PageSpan() > largest.PageSpan() {
			largest = n
		}
	}
	return largest
}

func pluralPages(n int) string {
	if n == 1 {
		return "1 page"
	}
	return fmt.Sprintf("%d pages", n)
}

// FormatConnection renders the result of a connection test.
func FormatConnection(w io.Writer, model, reply string, err error) {
	if err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", errorStyle.Render("✗"), model, err)
		return
	}
	fmt.Fprintf(w, "%s %s replied %q\n", successStyle.Render("✓"), model, strings.TrimSpace(reply))
}

func relevanceLabel(r pageindex.Relevance) string {
	label := fmt.Sprintf("%-6s", strings.ToUpper(r.String()))
	switch r {
	case pageindex.RelevanceHigh:
		return successStyle.Render(label)
	case pageindex.RelevanceMedium:
		return warnStyle.Render(label)
	default:
		return dimStyle.Render(label)
	}
}

func documentTitle(tree *pageindex.DocumentTree) string {
	if t := tree.Title(); t != "" {
		return t
	}
	return "Untitled document"
}

func pageRange(start, end int) string {
	if start == end {
		return fmt.Sprintf("(page %d)", start)
	}
	return fmt.Sprintf("(pages %d-%d)", start, end)
}

// formatNumber adds commas to large numbers for readability
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
