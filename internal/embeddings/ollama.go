package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docchat-rag-llm/internal/ragerr"
	"docchat-rag-llm/internal/retry"
)

// OllamaEmbedder calls Ollama's batch embedding endpoint. Transient
// failures (transport errors, 429, 5xx) are retried with exponential
// backoff; other responses fail immediately.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	client     *http.Client
	maxBatch   int
	maxRetries int
	retryDelay time.Duration
}

// NewOllamaEmbedder creates an embedder against an Ollama server.
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration, maxBatch, maxRetries int, retryDelay time.Duration) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL:    baseURL,
		model:      model,
		client:     &http.Client{Timeout: timeout},
		maxBatch:   maxBatch,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// ModelID identifies the model producing these vectors.
func (e *OllamaEmbedder) ModelID() string {
	return "ollama/" + e.model
}

// Embed vectorizes texts in input order, batching up to the configured size.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, e.maxBatch, e.embedBatch)
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retry.Backoff(e.retryDelay, attempt)):
			case <-ctx.Done():
				return nil, ragerr.ErrEmbeddingService.WithCause(ctx.Err())
			}
		}

		vectors, retryable, err := e.callOnce(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		if !retryable {
			return nil, ragerr.ErrEmbeddingService.WithCause(err)
		}
		lastErr = err
	}
	return nil, ragerr.ErrEmbeddingService.WithCause(
		fmt.Errorf("exhausted %d attempts: %w", e.maxRetries+1, lastErr))
}

func (e *OllamaEmbedder) callOnce(ctx context.Context, batch []string) (vectors [][]float32, retryable bool, err error) {
	reqBody := map[string]interface{}{
		"model": e.model,
		"input": batch,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, false, err
	}
	if len(result.Embeddings) == 0 {
		return nil, false, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings, false, nil
}
