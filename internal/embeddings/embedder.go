// Package embeddings turns text into fixed-dimension vectors via an
// external embedding service.
package embeddings

import (
	"context"
	"fmt"

	"docchat-rag-llm/internal/ragerr"
)

// Embedder is the capability interface for vectorization. Embed returns one
// vector per input text, in input order. Vectors from different ModelIDs are
// never comparable.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// embedInBatches splits texts into sub-batches of at most maxBatch and
// concatenates the results, preserving input order. The per-batch call is
// all-or-nothing: any failed batch fails the whole request.
func embedInBatches(ctx context.Context, texts []string, maxBatch int, call func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if maxBatch <= 0 {
		return nil, ragerr.ErrConfiguration.WithMessage(
			fmt.Sprintf("max batch size must be positive, got %d", maxBatch))
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := call(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, ragerr.ErrEmbeddingService.WithMessage(
				fmt.Sprintf("embedding service returned %d vectors for %d inputs", len(batch), end-start))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}
