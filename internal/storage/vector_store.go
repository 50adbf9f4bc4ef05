// Package storage provides vector storage implementations for chunk embeddings.
package storage

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/google/uuid"

	"docchat-rag-llm/internal/models"
	"docchat-rag-llm/internal/ragerr"
)

// Supported distance metrics. A store is built with exactly one and never
// mixes them.
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
)

// Filter scopes a query. OwnerID is mandatory: every read is scoped to one
// owner inside the store, so no caller can observe another user's chunks.
type Filter struct {
	OwnerID     string
	DocumentIDs []uuid.UUID
}

func (f Filter) validate() error {
	if f.OwnerID == "" {
		return ragerr.ErrConfiguration.WithMessage("query filter requires an owner id")
	}
	return nil
}

func (f Filter) allowsDocument(id uuid.UUID) bool {
	if len(f.DocumentIDs) == 0 {
		return true
	}
	for _, want := range f.DocumentIDs {
		if want == id {
			return true
		}
	}
	return false
}

// VectorStore persists chunks with their embeddings and answers
// nearest-neighbor queries over them.
type VectorStore interface {
	// UpsertDocument atomically replaces the document's chunks with the
	// given set. Queries never observe a partially written document, and
	// re-ingesting an id leaves no stale chunks behind.
	UpsertDocument(ctx context.Context, doc models.Document, chunks []models.EmbeddedChunk) error

	// Query returns the k chunks nearest to vector among documents visible
	// under f, ordered by descending similarity with ties broken by
	// insertion order.
	Query(ctx context.Context, vector []float32, k int, f Filter) ([]models.RetrievedChunk, error)

	// DeleteDocument removes a document and all its chunks. Deleting an
	// unknown id is not an error.
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error

	// GetDocument fetches document metadata; found is false for unknown ids.
	GetDocument(ctx context.Context, documentID uuid.UUID) (doc models.Document, found bool, err error)

	// ListDocuments returns the owner's documents, newest first.
	ListDocuments(ctx context.Context, ownerID string) ([]models.Document, error)

	Close() error
}

// serializeFloat32Vector converts a float32 slice to the byte format expected by sqlite-vec
func serializeFloat32Vector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(v))
	}
	return buf
}

// similarityFromDistance maps a metric distance onto a similarity score in
// which higher means closer. Cosine distance inverts directly; L2 is mapped
// through 1/(1+d).
func similarityFromDistance(metric string, distance float32) float32 {
	switch metric {
	case MetricCosine:
		return 1 - distance
	default:
		return 1 / (1 + distance)
	}
}

func cosineDistance(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1 - sim
}

func l2Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}
