package embeddings

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docchat-rag-llm/internal/ragerr"
	"docchat-rag-llm/internal/retry"
)

// OpenAIEmbedder vectorizes text through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	maxBatch   int
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIEmbedder creates an embedder using the given API key and model.
func NewOpenAIEmbedder(apiKey, model string, maxBatch, maxRetries int, retryDelay time.Duration) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, ragerr.ErrConfiguration.WithMessage("OpenAI API key is required")
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(apiKey),
		model:      openai.EmbeddingModel(model),
		maxBatch:   maxBatch,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}, nil
}

// ModelID identifies the model producing these vectors.
func (e *OpenAIEmbedder) ModelID() string {
	return "openai/" + string(e.model)
}

// Embed vectorizes texts in input order, batching up to the configured size.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, e.maxBatch, e.embedBatch)
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retry.Backoff(e.retryDelay, attempt)):
			case <-ctx.Done():
				return nil, ragerr.ErrEmbeddingService.WithCause(ctx.Err())
			}
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: batch,
			Model: e.model,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Data) != len(batch) {
			lastErr = fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(batch))
			continue
		}

		// The API reports an index per vector; place by index rather than
		// trusting response order.
		vectors := make([][]float32, len(batch))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(vectors) {
				return nil, ragerr.ErrEmbeddingService.WithMessage(
					fmt.Sprintf("embedding index %d out of range", item.Index))
			}
			vectors[item.Index] = item.Embedding
		}
		return vectors, nil
	}
	return nil, ragerr.ErrEmbeddingService.WithCause(
		fmt.Errorf("exhausted %d attempts: %w", e.maxRetries+1, lastErr))
}
