package retriever

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"docchat-rag-llm/internal/models"
	"docchat-rag-llm/internal/ragerr"
	"docchat-rag-llm/internal/storage"
)

// fakeEmbedder maps known texts to fixed vectors so similarity is
// controlled by the test, not by a live service.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := f.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no fixture vector for %q", text)
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) ModelID() string { return "fake/test-model" }

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ragerr.ErrEmbeddingService.WithMessage("service down")
}

func (failingEmbedder) ModelID() string { return "fake/failing" }

func ingestFixture(t *testing.T, store storage.VectorStore, ownerID, source string, chunks []models.EmbeddedChunk) models.Document {
	t.Helper()
	doc := models.NewDocument(source, ownerID)
	doc.Status = models.StatusProcessed
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
	}
	if err := store.UpsertDocument(context.Background(), doc, chunks); err != nil {
		t.Fatalf("Failed to ingest fixture %s: %v", source, err)
	}
	return doc
}

func fixtureChunk(index int, text string, vec []float32) models.EmbeddedChunk {
	return models.EmbeddedChunk{
		Chunk: models.Chunk{
			Index: index,
			Text:  text,
			Start: 0,
			End:   len(text),
		},
		Embedding: vec,
	}
}

func TestRetrieveRanksByProximity(t *testing.T) {
	store, err := storage.NewMemoryVectorStore(storage.MetricCosine, "fake/test-model")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ingestFixture(t, store, "alice", "sky.txt", []models.EmbeddedChunk{
		fixtureChunk(0, "The sky is blue.", []float32{1, 0, 0}),
		fixtureChunk(1, "The grass is green.", []float32{0, 1, 0}),
	})
	ingestFixture(t, store, "alice", "sea.txt", []models.EmbeddedChunk{
		fixtureChunk(0, "The sea is salty.", []float32{0, 0, 1}),
	})

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"What color is the sky?": {0.95, 0.05, 0},
	}}
	r := New(embedder, store, 0)

	results, err := r.Retrieve(context.Background(), "What color is the sky?", 2, storage.Filter{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("Failed to retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Text != "The sky is blue." {
		t.Errorf("Expected the sky chunk first, got %q", results[0].Text)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("Results out of score order: %f then %f", results[0].Score, results[1].Score)
	}
}

func TestRetrieveEmptyKnowledgeBase(t *testing.T) {
	store, err := storage.NewMemoryVectorStore(storage.MetricCosine, "fake/test-model")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"anything": {1, 0, 0},
	}}
	r := New(embedder, store, 0)

	results, err := r.Retrieve(context.Background(), "anything", 5, storage.Filter{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("Empty knowledge base must not be an error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
}

func TestRetrieveDropsLowSimilarity(t *testing.T) {
	store, err := storage.NewMemoryVectorStore(storage.MetricCosine, "fake/test-model")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ingestFixture(t, store, "alice", "mixed.txt", []models.EmbeddedChunk{
		fixtureChunk(0, "on topic", []float32{1, 0, 0}),
		fixtureChunk(1, "off topic", []float32{0, 1, 0}),
	})

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0, 0},
	}}
	r := New(embedder, store, 0.5)

	results, err := r.Retrieve(context.Background(), "query", 10, storage.Filter{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("Failed to retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected the orthogonal chunk to be dropped, got %d results", len(results))
	}
	if results[0].Text != "on topic" {
		t.Errorf("Expected the on-topic chunk, got %q", results[0].Text)
	}
}

func TestRetrieveInvalidK(t *testing.T) {
	store, err := storage.NewMemoryVectorStore(storage.MetricCosine, "fake/test-model")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	r := New(&fakeEmbedder{}, store, 0)

	if _, err := r.Retrieve(context.Background(), "query", 0, storage.Filter{OwnerID: "alice"}); !errors.Is(err, ragerr.ErrConfiguration) {
		t.Errorf("Expected configuration error for k=0, got %v", err)
	}
}

func TestRetrievePropagatesEmbedderFailure(t *testing.T) {
	store, err := storage.NewMemoryVectorStore(storage.MetricCosine, "fake/failing")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	r := New(failingEmbedder{}, store, 0)

	if _, err := r.Retrieve(context.Background(), "query", 3, storage.Filter{OwnerID: "alice"}); !errors.Is(err, ragerr.ErrEmbeddingService) {
		t.Errorf("Expected embedding service error, got %v", err)
	}
}
