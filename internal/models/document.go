package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks a document through the ingestion pipeline.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusProcessed DocumentStatus = "processed"
	StatusFailed    DocumentStatus = "failed"
)

// Document is an ingested source of retrievable knowledge. It is created on
// upload and mutated only by the ingestion pipeline.
type Document struct {
	ID        uuid.UUID      `json:"id"`
	Source    string         `json:"source"`
	OwnerID   string         `json:"owner_id"`
	Status    DocumentStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewDocument creates a pending document for the given owner.
func NewDocument(source, ownerID string) Document {
	return Document{
		ID:        uuid.New(),
		Source:    source,
		OwnerID:   ownerID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Chunk is a bounded, overlapping segment of a document's text, the unit of
// retrieval. Indices are zero-based and contiguous per document; Start/End
// are rune offsets into the source text.
type Chunk struct {
	DocumentID uuid.UUID `json:"document_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
}

// EmbeddedChunk pairs a chunk with the vector that makes it queryable.
// A chunk without its vector is never visible to retrieval.
type EmbeddedChunk struct {
	Chunk
	Embedding []float32 `json:"-"`
}

// ID returns the chunk's stable identifier, derived from its document and
// position so re-ingestion reproduces the same ids.
func (c Chunk) ID() string {
	return c.DocumentID.String() + ":" + strconv.Itoa(c.Index)
}

// RetrievedChunk is a chunk returned from similarity search with its
// similarity score (higher is closer).
type RetrievedChunk struct {
	Chunk
	Score float32 `json:"score"`
}
