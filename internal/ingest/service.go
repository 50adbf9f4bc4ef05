// Package ingest turns raw document sources into queryable chunks: load,
// split, embed, store.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"docchat-rag-llm/internal/chunker"
	"docchat-rag-llm/internal/embeddings"
	"docchat-rag-llm/internal/models"
	"docchat-rag-llm/internal/ragerr"
	"docchat-rag-llm/internal/storage"
)

const maxFetchBytes = 10 << 20 // 10 MiB cap on fetched documents

// Service runs the ingestion path. Each call is a self-contained unit of
// work; a failed embedding batch persists no chunks.
type Service struct {
	splitter *chunker.Splitter
	embedder embeddings.Embedder
	store    storage.VectorStore
	client   *http.Client
}

// NewService wires the ingestion pipeline.
func NewService(splitter *chunker.Splitter, embedder embeddings.Embedder, store storage.VectorStore) *Service {
	return &Service{
		splitter: splitter,
		embedder: embedder,
		store:    store,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// IngestText chunks, embeds, and stores raw text for the given owner.
// Empty text stores a processed document with no chunks; it is simply never
// retrieved.
func (s *Service) IngestText(ctx context.Context, source, text, ownerID string) (models.Document, int, error) {
	doc := models.NewDocument(source, ownerID)
	return s.ingest(ctx, doc, text)
}

// IngestURL fetches a URL and ingests its body as text.
func (s *Service) IngestURL(ctx context.Context, url, ownerID string) (models.Document, int, error) {
	text, err := s.fetch(ctx, url)
	if err != nil {
		return models.Document{}, 0, err
	}
	doc := models.NewDocument(url, ownerID)
	return s.ingest(ctx, doc, text)
}

// Reingest replaces an existing document's content, keeping its id so the
// old chunks are fully displaced. A failed embedding leaves the stored
// version untouched.
func (s *Service) Reingest(ctx context.Context, doc models.Document, text string) (models.Document, int, error) {
	return s.ingest(ctx, doc, text)
}

func (s *Service) ingest(ctx context.Context, doc models.Document, text string) (models.Document, int, error) {
	chunks := s.splitter.Split(doc.ID, text)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		// A document that already has a stored version keeps it: recording
		// the failure would displace chunks that are still queryable, and
		// the caller can simply retry. A first-time ingest records the
		// failure with no chunks, so nothing partial is ever queryable.
		if _, exists, getErr := s.store.GetDocument(ctx, doc.ID); getErr != nil || exists {
			return models.Document{}, 0, err
		}
		doc.Status = models.StatusFailed
		if storeErr := s.store.UpsertDocument(ctx, doc, nil); storeErr != nil {
			return models.Document{}, 0, storeErr
		}
		return doc, 0, err
	}
	if len(vectors) != len(chunks) {
		return models.Document{}, 0, ragerr.ErrEmbeddingService.WithMessage(
			fmt.Sprintf("got %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	embedded := make([]models.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		embedded[i] = models.EmbeddedChunk{Chunk: c, Embedding: vectors[i]}
	}

	doc.Status = models.StatusProcessed
	if err := s.store.UpsertDocument(ctx, doc, embedded); err != nil {
		return models.Document{}, 0, err
	}
	return doc, len(embedded), nil
}

func (s *Service) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", ragerr.ErrConfiguration.WithMessage(fmt.Sprintf("invalid document URL %q", url)).WithCause(err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch document: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read document body: %w", err)
	}
	return string(body), nil
}
