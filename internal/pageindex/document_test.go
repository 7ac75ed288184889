package pageindex

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTextFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		content   string
		delimiter string
		want      []string
	}{
		{"single page", "one\ntwo\n", "", []string{"one\ntwo\n"}},
		{"form feed pages", "first\fsecond\f\fthird", "\f", []string{"first", "second", "third"}},
		{"custom delimiter trims parts", "a\n---\n b \n---\n", "---", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".txt")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			doc, err := LoadTextFile(path, tt.delimiter)
			require.NoError(t, err)
			assert.Equal(t, strings.ReplaceAll(tt.name, " ", "_"), doc.Name)
			assert.Equal(t, path, doc.Path)
			require.Equal(t, len(tt.want), doc.PageCount())
			for i, text := range tt.want {
				assert.Equal(t, i, doc.Pages[i].Index)
				assert.Equal(t, text, doc.Pages[i].Text)
			}
		})
	}
}

func TestLoadTextFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadTextFile(filepath.Join(dir, "missing.txt"), "")
	assert.Error(t, err)

	blank := filepath.Join(dir, "blank.txt")
	require.NoError(t, os.WriteFile(blank, []byte(" \n\f \n"), 0o644))
	_, err = LoadTextFile(blank, "\f")
	assert.True(t, IsKind(err, KindInvalidArgument), "error = %v", err)
}

func TestDocumentContentWithTags(t *testing.T) {
	doc := NewDocument("d", []string{"alpha", "beta"})
	want := "<physical_index_0>\nalpha\n</physical_index_0>\n\n<physical_index_1>\nbeta\n</physical_index_1>\n\n"
	assert.Equal(t, want, doc.ContentWithTags())
}

func TestDocumentContentRange(t *testing.T) {
	doc := NewDocument("d", []string{"p0", "p1", "p2"})

	tests := []struct {
		name       string
		start, end int
		want       string
		wantErr    bool
	}{
		{"single page", 1, 1, "p1", false},
		{"whole document", 0, 2, "p0\n\np1\n\np2", false},
		{"end past last page", 1, 3, "", true},
		{"negative start", -1, 0, "", true},
		{"reversed range", 2, 1, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := doc.ContentRange(tt.start, tt.end)
			if tt.wantErr {
				assert.True(t, IsKind(err, KindContentExtraction), "error = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	var missing *Document
	_, err := missing.ContentRange(0, 0)
	assert.True(t, IsKind(err, KindContentExtraction))
}

func TestDocumentTotalTokens(t *testing.T) {
	doc := NewDocument("d", []string{"one two three", "four five"})
	assert.Equal(t, EstimateTokens("one two three")+EstimateTokens("four five"), doc.TotalTokens())
	assert.Equal(t, 0, NewDocument("empty", nil).TotalTokens())
}
