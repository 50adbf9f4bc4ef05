// Package retriever orchestrates query embedding, similarity search, and
// score-based filtering of the retrieved context.
package retriever

import (
	"context"
	"fmt"

	"docchat-rag-llm/internal/embeddings"
	"docchat-rag-llm/internal/models"
	"docchat-rag-llm/internal/ragerr"
	"docchat-rag-llm/internal/storage"
)

// Retriever answers "which chunks are relevant to this query" for one
// owner's slice of the knowledge base.
type Retriever struct {
	embedder      embeddings.Embedder
	store         storage.VectorStore
	minSimilarity float32
}

// New creates a retriever. Results scoring below minSimilarity are dropped
// even when they are among the top k, so an empty knowledge base or an
// off-topic query yields no context rather than noise.
func New(embedder embeddings.Embedder, store storage.VectorStore, minSimilarity float64) *Retriever {
	return &Retriever{
		embedder:      embedder,
		store:         store,
		minSimilarity: float32(minSimilarity),
	}
}

// Retrieve embeds the query and returns up to k chunks ranked by descending
// similarity. An empty result is a legitimate "no relevant context"
// outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, f storage.Filter) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		return nil, ragerr.ErrConfiguration.WithMessage(fmt.Sprintf("k must be positive, got %d", k))
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, ragerr.ErrEmbeddingService.WithMessage(
			fmt.Sprintf("expected 1 query vector, got %d", len(vectors)))
	}

	candidates, err := r.store.Query(ctx, vectors[0], k, f)
	if err != nil {
		return nil, err
	}

	results := candidates[:0]
	for _, c := range candidates {
		if c.Score >= r.minSimilarity {
			results = append(results, c)
		}
	}
	return results, nil
}
