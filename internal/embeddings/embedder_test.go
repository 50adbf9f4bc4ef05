package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"docchat-rag-llm/internal/ragerr"
)

func TestEmbedInBatchesPreservesOrder(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e"}

	var batches [][]string
	call := func(_ context.Context, batch []string) ([][]float32, error) {
		batches = append(batches, batch)
		out := make([][]float32, len(batch))
		for i, text := range batch {
			out[i] = []float32{float32(len(text)), float32(text[0])}
		}
		return out, nil
	}

	vectors, err := embedInBatches(context.Background(), texts, 2, call)
	if err != nil {
		t.Fatalf("Failed to embed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("Expected %d vectors, got %d", len(texts), len(vectors))
	}
	for i, text := range texts {
		if vectors[i][1] != float32(text[0]) {
			t.Errorf("Vector %d out of order: got %v for text %q", i, vectors[i], text)
		}
	}

	wantBatches := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	if len(batches) != len(wantBatches) {
		t.Fatalf("Expected %d batches, got %d", len(wantBatches), len(batches))
	}
	for i, want := range wantBatches {
		if len(batches[i]) != len(want) {
			t.Errorf("Batch %d: expected %d texts, got %d", i, len(want), len(batches[i]))
		}
	}
}

func TestEmbedInBatchesEmptyInput(t *testing.T) {
	called := false
	vectors, err := embedInBatches(context.Background(), nil, 4, func(_ context.Context, _ []string) ([][]float32, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if vectors != nil || called {
		t.Errorf("Expected no work for empty input, vectors=%v called=%v", vectors, called)
	}
}

func TestEmbedInBatchesFailedBatchFailsAll(t *testing.T) {
	call := func(_ context.Context, batch []string) ([][]float32, error) {
		if batch[0] == "c" {
			return nil, errors.New("boom")
		}
		out := make([][]float32, len(batch))
		for i := range batch {
			out[i] = []float32{1}
		}
		return out, nil
	}

	if _, err := embedInBatches(context.Background(), []string{"a", "b", "c"}, 2, call); err == nil {
		t.Fatal("Expected error from failing batch, got nil")
	}
}

func TestOllamaEmbedderSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			embeddings[i] = []float32{float32(i), 1, 2}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": embeddings})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "nomic-embed-text", 5*time.Second, 8, 2, time.Millisecond)

	vectors, err := e.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Failed to embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("Expected 2 vectors, got %d", len(vectors))
	}
	if vectors[1][0] != 1 {
		t.Errorf("Vectors came back out of order: %v", vectors)
	}
}

func TestOllamaEmbedderRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": [][]float32{{1, 2, 3}}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "nomic-embed-text", 5*time.Second, 8, 3, time.Millisecond)

	vectors, err := e.Embed(context.Background(), []string{"text"})
	if err != nil {
		t.Fatalf("Expected retries to succeed, got %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("Expected 1 vector, got %d", len(vectors))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("Expected 3 calls (2 failures + 1 success), got %d", got)
	}
}

func TestOllamaEmbedderExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "nomic-embed-text", 5*time.Second, 8, 2, time.Millisecond)

	_, err := e.Embed(context.Background(), []string{"text"})
	if err == nil {
		t.Fatal("Expected error after exhausting retries, got nil")
	}
	if !errors.Is(err, ragerr.ErrEmbeddingService) {
		t.Errorf("Expected embedding service error, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("Expected maxRetries+1 = 3 calls, got %d", got)
	}
}

func TestOllamaEmbedderDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "malformed input"}`)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "nomic-embed-text", 5*time.Second, 8, 5, time.Millisecond)

	_, err := e.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, ragerr.ErrEmbeddingService) {
		t.Fatalf("Expected embedding service error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 call for a non-retryable failure, got %d", got)
	}
}

func TestOllamaEmbedderModelID(t *testing.T) {
	e := NewOllamaEmbedder("http://localhost:11434", "nomic-embed-text", time.Second, 8, 0, 0)
	if e.ModelID() != "ollama/nomic-embed-text" {
		t.Errorf("Unexpected model id %q", e.ModelID())
	}
}
