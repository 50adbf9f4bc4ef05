package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"docchat-rag-llm/internal/models"
	"docchat-rag-llm/internal/ragerr"
)

// MemoryVectorStore is an in-process VectorStore used in tests and
// single-shot tooling. It honors the same atomicity, scoping, and
// tie-break guarantees as the SQLite store.
type MemoryVectorStore struct {
	mu        sync.RWMutex
	metric    string
	modelID   string
	dimension int
	documents map[uuid.UUID]models.Document
	chunks    []memChunk
	nextSeq   int64
}

type memChunk struct {
	models.EmbeddedChunk
	seq int64
}

// NewMemoryVectorStore creates an empty store bound to one distance metric
// and one embedding model. The store lives only as long as the process, so
// there is no reopen path on which a different model or metric could
// arrive; binding both here is the entire consistency check, where the
// SQLite store must additionally verify its persisted metadata on open.
func NewMemoryVectorStore(metric, modelID string) (*MemoryVectorStore, error) {
	if metric != MetricCosine && metric != MetricL2 {
		return nil, ragerr.ErrConfiguration.WithMessage(fmt.Sprintf("unsupported distance metric %q", metric))
	}
	return &MemoryVectorStore{
		metric:    metric,
		modelID:   modelID,
		documents: make(map[uuid.UUID]models.Document),
	}, nil
}

// UpsertDocument atomically replaces the document's chunks under the lock.
func (m *MemoryVectorStore) UpsertDocument(ctx context.Context, doc models.Document, chunks []models.EmbeddedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkDimensionsLocked(chunks); err != nil {
		return err
	}

	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if c.DocumentID != doc.ID {
			kept = append(kept, c)
		}
	}
	m.chunks = kept

	for _, c := range chunks {
		m.nextSeq++
		m.chunks = append(m.chunks, memChunk{EmbeddedChunk: c, seq: m.nextSeq})
	}
	m.documents[doc.ID] = doc
	return nil
}

func (m *MemoryVectorStore) checkDimensionsLocked(chunks []models.EmbeddedChunk) error {
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return ragerr.ErrConfiguration.WithMessage(
				fmt.Sprintf("chunk %d has no embedding", c.Index))
		}
		if m.dimension == 0 {
			m.dimension = len(c.Embedding)
		} else if len(c.Embedding) != m.dimension {
			return ragerr.ErrConfiguration.WithMessage(
				fmt.Sprintf("embedding dimension %d does not match store dimension %d", len(c.Embedding), m.dimension))
		}
	}
	return nil
}

// Query scans all chunks, scoring only those whose document the filter
// allows. Ties on score resolve to the earlier-ingested chunk.
func (m *MemoryVectorStore) Query(ctx context.Context, vector []float32, k int, f Filter) ([]models.RetrievedChunk, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ragerr.ErrConfiguration.WithMessage(fmt.Sprintf("k must be positive, got %d", k))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// dimension is written by UpsertDocument, so it must be read under the
	// same lock.
	if m.dimension != 0 && len(vector) != m.dimension {
		return nil, ragerr.ErrConfiguration.WithMessage(
			fmt.Sprintf("query vector dimension %d does not match store dimension %d", len(vector), m.dimension))
	}

	type scored struct {
		chunk memChunk
		dist  float32
	}
	var candidates []scored
	for _, c := range m.chunks {
		doc, ok := m.documents[c.DocumentID]
		if !ok || doc.OwnerID != f.OwnerID || !f.allowsDocument(c.DocumentID) {
			continue
		}
		var dist float32
		if m.metric == MetricCosine {
			dist = cosineDistance(vector, c.Embedding)
		} else {
			dist = l2Distance(vector, c.Embedding)
		}
		candidates = append(candidates, scored{chunk: c, dist: dist})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].chunk.seq < candidates[j].chunk.seq
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]models.RetrievedChunk, 0, k)
	for _, cand := range candidates[:k] {
		results = append(results, models.RetrievedChunk{
			Chunk: cand.chunk.Chunk,
			Score: similarityFromDistance(m.metric, cand.dist),
		})
	}
	return results, nil
}

// DeleteDocument removes the document and its chunks; unknown ids are a no-op.
func (m *MemoryVectorStore) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.documents, documentID)
	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	m.chunks = kept
	return nil
}

// GetDocument fetches document metadata.
func (m *MemoryVectorStore) GetDocument(ctx context.Context, documentID uuid.UUID) (models.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[documentID]
	return doc, ok, nil
}

// ListDocuments returns the owner's documents, newest first.
func (m *MemoryVectorStore) ListDocuments(ctx context.Context, ownerID string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]models.Document, 0)
	for _, doc := range m.documents {
		if doc.OwnerID == ownerID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID.String() < docs[j].ID.String()
	})
	return docs, nil
}

// ModelID reports the embedding model this store accepts.
func (m *MemoryVectorStore) ModelID() string {
	return m.modelID
}

// Close is a no-op for the in-memory store.
func (m *MemoryVectorStore) Close() error {
	return nil
}
