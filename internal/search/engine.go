package search

import (
	"context"
	"fmt"

	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/errors"
	"github.com/dataalchemy/alchemy/internal/record"
	"github.com/dataalchemy/alchemy/internal/store"
)

// Engine exposes the structured and vector query operations the executor
// runs.
type Engine struct {
	store    *store.Store
	index    store.VectorIndex
	embedder embed.Embedder
}

// NewEngine creates a search engine over the given store and index.
func NewEngine(s *store.Store, idx store.VectorIndex, embedder embed.Embedder) *Engine {
	return &Engine{store: s, index: idx, embedder: embedder}
}

// Structured runs one structured query and returns its rows.
func (e *Engine) Structured(ctx context.Context, q StructuredQuery) ([]*record.Record, error) {
	switch q.Kind {
	case QueryText:
		return e.store.SearchData(ctx, q.Text)
	case QueryFile:
		return e.store.ByFileType(ctx, q.FileType)
	case QueryDate:
		if q.Range == nil {
			return nil, errors.New(errors.ErrCodeInvalidQuery, "date query without range", nil)
		}
		return e.store.ByDateRange(ctx, q.Range.Start, q.Range.End)
	default:
		return nil, errors.New(errors.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown structured query kind %q", q.Kind), nil)
	}
}

// Vector embeds the reference text, searches the index, and drops hits
// below the similarity threshold.
func (e *Engine) Vector(ctx context.Context, q VectorQuery) ([]*store.VectorHit, error) {
	if e.embedder == nil {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "no embedder configured", nil)
	}

	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := e.embedder.Embed(ctx, q.ReferenceText)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
	}

	hits, err := e.index.Search(ctx, vec, topK)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "vector search failed", err)
	}

	// Threshold against the mapped similarity, before any dedup.
	kept := hits[:0]
	for _, h := range hits {
		if h.Similarity >= q.Threshold {
			kept = append(kept, h)
		}
	}
	return kept, nil
}
