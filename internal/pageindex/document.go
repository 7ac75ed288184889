package pageindex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Page is one page of a document. Index is 0-based.
type Page struct {
	Index      int
	Text       string
	TokenCount int
}

// Document is an ordered, immutable sequence of page texts.
type Document struct {
	Name  string
	Path  string
	Pages []Page
}

// NewDocument creates a document from page texts in order.
func NewDocument(name string, texts []string) *Document {
	pages := make([]Page, len(texts))
	for i, text := range texts {
		pages[i] = Page{Index: i, Text: text, TokenCount: EstimateTokens(text)}
	}
	return &Document{Name: name, Pages: pages}
}

// LoadTextFile reads a text document from disk. With an empty delimiter the
// whole file is a single page; otherwise the file is split on the delimiter
// and blank parts are dropped.
func LoadTextFile(path, delimiter string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	content := string(data)
	var texts []string
	if delimiter == "" {
		if strings.TrimSpace(content) != "" {
			texts = []string{content}
		}
	} else {
		for _, part := range strings.Split(content, delimiter) {
			if strings.TrimSpace(part) != "" {
				texts = append(texts, strings.TrimSpace(part))
			}
		}
	}
	if len(texts) == 0 {
		return nil, Errorf(KindInvalidArgument, "document %s has no pages", path)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc := NewDocument(name, texts)
	doc.Path = path
	return doc, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// TotalTokens returns the estimated token count of the whole document.
func (d *Document) TotalTokens() int {
	total := 0
	for _, p := range d.Pages {
		total += p.TokenCount
	}
	return total
}

// ContentWithTags wraps every page in <physical_index_N> tags so the model
// can cite page positions.
func (d *Document) ContentWithTags() string {
	var sb strings.Builder
	for _, p := range d.Pages {
		fmt.Fprintf(&sb, "<physical_index_%d>\n%s\n</physical_index_%d>\n\n", p.Index, p.Text, p.Index)
	}
	return sb.String()
}

// ContentRange returns the text of pages start..end inclusive.
func (d *Document) ContentRange(start, end int) (string, error) {
	if d == nil {
		return "", Errorf(KindContentExtraction, "no document")
	}
	if start < 0 || end < start || end >= len(d.Pages) {
		return "", Errorf(KindContentExtraction, "pages %d-%d outside document with %d pages",
			start, end, len(d.Pages))
	}

	texts := make([]string, 0, end-start+1)
	for _, p := range d.Pages[start : end+1] {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n\n"), nil
}
