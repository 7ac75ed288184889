package pageindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// IndexerOptions configures an Indexer.
type IndexerOptions struct {
	// MaxDepth bounds accepted nesting; 0 means DefaultMaxDepth.
	MaxDepth int
	// Timeout bounds the whole Index call, including retries. 0 means none.
	Timeout time.Duration
	Logger  *slog.Logger
	// Now is used for created_at; nil means time.Now.
	Now func() time.Time
}

// Indexer builds a DocumentTree from a Document with one reasoning call.
type Indexer struct {
	provider LLMProvider
	opts     IndexerOptions
	logger   *slog.Logger
}

// NewIndexer creates an Indexer backed by provider.
func NewIndexer(provider LLMProvider, opts IndexerOptions) *Indexer {
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Indexer{provider: provider, opts: opts, logger: logger}
}

// Index asks the model for the document's section structure and builds a
// validated tree with source metadata. Nothing is returned on failure.
func (ix *Indexer) Index(ctx context.Context, doc *Document) (*DocumentTree, error) {
	if doc == nil || doc.PageCount() == 0 {
		return nil, Errorf(KindInvalidArgument, "document has no pages")
	}

	if ix.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	ix.logger.Info("indexing document",
		"document", doc.Name,
		"pages", doc.PageCount(),
		"estimated_tokens", doc.TotalTokens(),
		"model", ix.provider.Model())

	prompt := fmt.Sprintf(StructurePrompt, doc.ContentWithTags())
	raw, err := complete(ctx, ix.provider, prompt, "structure extraction")
	if err != nil {
		return nil, err
	}

	tree, err := BuildTree(raw, doc.PageCount(), BuildOptions{
		MaxDepth: ix.opts.MaxDepth,
		Logger:   ix.logger,
	})
	if err != nil {
		ix.logger.Error("failed to build tree", "document", doc.Name, "error", err)
		return nil, err
	}

	tree.Metadata = &SourceMetadata{
		Title:     StringPtr(doc.Name),
		PageCount: IntPtr(doc.PageCount()),
		CreatedAt: StringPtr(ix.opts.Now().UTC().Format(time.RFC3339)),
	}

	ix.logger.Info("built document tree",
		"document", doc.Name,
		"sections", tree.NodeCount(),
		"depth", tree.MaxDepth(),
		"elapsed", time.Since(start))
	return tree, nil
}

// complete runs one reasoning call and maps failures onto error kinds.
func complete(ctx context.Context, provider LLMProvider, prompt, op string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", contextError(ctx, op)
	}
	raw, err := provider.Complete(ctx, prompt)
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return "", contextError(ctx, op)
	}
	var pe *Error
	if errors.As(err, &pe) {
		return "", err
	}
	return "", NewError(KindLLMUnavailable, op+" failed", err)
}
