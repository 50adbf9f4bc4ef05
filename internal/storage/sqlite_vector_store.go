package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // Import sqlite3 driver

	"docchat-rag-llm/internal/models"
	"docchat-rag-llm/internal/ragerr"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteVectorStore implements VectorStore on SQLite with the sqlite-vec
// extension. Chunk metadata lives in ordinary tables; vectors live in a
// vec0 virtual table keyed by the chunk rowid, so insertion order doubles
// as the deterministic tie-break.
type SQLiteVectorStore struct {
	db      *sql.DB
	metric  string
	modelID string

	// mu guards dimension, which is set lazily by the first ingest while
	// queries may be running.
	mu        sync.RWMutex
	dimension int
}

// NewSQLiteVectorStore opens (or creates) a store at dsn bound to one
// distance metric and one embedding model. Reopening with a different
// metric or model than the one recorded in the store is a configuration
// error: vectors from different models are never comparable.
func NewSQLiteVectorStore(dsn, metric, modelID string) (*SQLiteVectorStore, error) {
	if metric != MetricCosine && metric != MetricL2 {
		return nil, ragerr.ErrConfiguration.WithMessage(fmt.Sprintf("unsupported distance metric %q", metric))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to open database: %w", err))
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to connect to database: %w", err))
	}

	store := &SQLiteVectorStore{
		db:      db,
		metric:  metric,
		modelID: modelID,
	}

	if err := store.initDB(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// initDB creates the metadata tables and verifies the collection settings.
// vec_chunks is created lazily on first insert, once the dimension is known.
func (s *SQLiteVectorStore) initDB() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL REFERENCES documents(id),
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
	CREATE TABLE IF NOT EXISTS collection_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to create tables: %w", err))
	}

	if err := s.checkMeta("metric", s.metric); err != nil {
		return err
	}
	if err := s.checkMeta("embedding_model", s.modelID); err != nil {
		return err
	}

	var dim string
	err := s.db.QueryRow(`SELECT value FROM collection_meta WHERE key = 'dimension'`).Scan(&dim)
	switch err {
	case nil:
		if _, err := fmt.Sscanf(dim, "%d", &s.dimension); err != nil {
			return ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("corrupt dimension metadata %q", dim))
		}
	case sql.ErrNoRows:
	default:
		return ragerr.ErrStoreUnavailable.WithCause(err)
	}

	return nil
}

// checkMeta enforces that a recorded collection setting matches the
// configured one, recording it on first open.
func (s *SQLiteVectorStore) checkMeta(key, want string) error {
	var got string
	err := s.db.QueryRow(`SELECT value FROM collection_meta WHERE key = ?`, key).Scan(&got)
	switch err {
	case nil:
		if got != want {
			return ragerr.ErrConfiguration.WithMessage(
				fmt.Sprintf("store was created with %s=%q, cannot open with %q", key, got, want))
		}
		return nil
	case sql.ErrNoRows:
		if _, err := s.db.Exec(`INSERT INTO collection_meta (key, value) VALUES (?, ?)`, key, want); err != nil {
			return ragerr.ErrStoreUnavailable.WithCause(err)
		}
		return nil
	default:
		return ragerr.ErrStoreUnavailable.WithCause(err)
	}
}

// ensureVecTableExists creates the vec0 table once the embedding dimension
// is known and pins the dimension in the collection metadata.
func (s *SQLiteVectorStore) ensureVecTableExists(dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension != 0 {
		if dim != s.dimension {
			return ragerr.ErrConfiguration.WithMessage(
				fmt.Sprintf("embedding dimension %d does not match store dimension %d", dim, s.dimension))
		}
		return nil
	}

	opts := ""
	if s.metric == MetricCosine {
		opts = " distance_metric=cosine"
	}
	create := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(embedding FLOAT[%d]%s)`, dim, opts)
	if _, err := s.db.Exec(create); err != nil {
		return ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to create vec_chunks table: %w", err))
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO collection_meta (key, value) VALUES ('dimension', ?)`, fmt.Sprintf("%d", dim)); err != nil {
		return ragerr.ErrStoreUnavailable.WithCause(err)
	}
	s.dimension = dim
	return nil
}

// ModelID reports the embedding model this store accepts.
func (s *SQLiteVectorStore) ModelID() string {
	return s.modelID
}

// Close closes the database connection
func (s *SQLiteVectorStore) Close() error {
	return s.db.Close()
}

// UpsertDocument replaces the document's chunks in one transaction, so a
// concurrent query sees either the old set or the new set, never a mix.
func (s *SQLiteVectorStore) UpsertDocument(ctx context.Context, doc models.Document, chunks []models.EmbeddedChunk) error {
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return ragerr.ErrConfiguration.WithMessage(fmt.Sprintf("chunk %d has no embedding", c.Index))
		}
		if err := s.ensureVecTableExists(len(c.Embedding)); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.ErrStoreUnavailable.WithCause(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteDocumentTx(tx, doc.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, source, owner_id, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID.String(), doc.Source, doc.OwnerID, string(doc.Status), doc.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to insert document: %w", err))
	}

	for _, c := range chunks {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (document_id, chunk_index, content, start_offset, end_offset) VALUES (?, ?, ?, ?, ?)`,
			c.DocumentID.String(), c.Index, c.Text, c.Start, c.End,
		)
		if err != nil {
			return ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to insert chunk %d: %w", c.Index, err))
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return ragerr.ErrStoreUnavailable.WithCause(err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_chunks (rowid, embedding) VALUES (?, ?)`,
			rowID, serializeFloat32Vector(c.Embedding),
		); err != nil {
			return ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to insert vector for chunk %d: %w", c.Index, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return ragerr.ErrStoreUnavailable.WithCause(err)
	}
	return nil
}

// DeleteDocument removes a document and all its chunks and vectors.
// Deleting an unknown id is a no-op.
func (s *SQLiteVectorStore) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.ErrStoreUnavailable.WithCause(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteDocumentTx(tx, documentID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ragerr.ErrStoreUnavailable.WithCause(err)
	}
	return nil
}

func deleteDocumentTx(tx *sql.Tx, documentID uuid.UUID) error {
	// vec0 rows must go first while the chunk rowids still exist.
	if _, err := tx.Exec(
		`DELETE FROM vec_chunks WHERE rowid IN (SELECT id FROM chunks WHERE document_id = ?)`,
		documentID.String(),
	); err != nil {
		// The virtual table does not exist until the first insert.
		if !strings.Contains(err.Error(), "no such table") {
			return ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to delete vectors: %w", err))
		}
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE document_id = ?`, documentID.String()); err != nil {
		return ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to delete chunks: %w", err))
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, documentID.String()); err != nil {
		return ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to delete document: %w", err))
	}
	return nil
}

const (
	initialMultiplier = 2
	growthFactor      = 2
	maxSearchAttempts = 10
)

// Query performs KNN search, widening the candidate pool until k chunks
// matching the filter are found or the store is exhausted. Owner scoping is
// applied in SQL, never by the caller.
func (s *SQLiteVectorStore) Query(ctx context.Context, vector []float32, k int, f Filter) ([]models.RetrievedChunk, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ragerr.ErrConfiguration.WithMessage(fmt.Sprintf("k must be positive, got %d", k))
	}
	s.mu.RLock()
	dimension := s.dimension
	s.mu.RUnlock()
	if dimension == 0 {
		// Nothing ingested yet.
		return nil, nil
	}
	if len(vector) != dimension {
		return nil, ragerr.ErrConfiguration.WithMessage(
			fmt.Sprintf("query vector dimension %d does not match store dimension %d", len(vector), dimension))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&total); err != nil {
		return nil, ragerr.ErrStoreUnavailable.WithCause(err)
	}
	if total == 0 {
		return nil, nil
	}

	multiplier := initialMultiplier
	for attempt := 0; attempt < maxSearchAttempts; attempt++ {
		candidateK := k * multiplier
		if candidateK > total {
			candidateK = total
		}

		results, err := s.knnQuery(ctx, vector, candidateK, k, f)
		if err != nil {
			return nil, err
		}
		if len(results) >= k || candidateK >= total {
			return results, nil
		}
		multiplier *= growthFactor
	}

	// Candidate pool capped out; return what matched.
	return s.knnQuery(ctx, vector, total, k, f)
}

// knnQuery fetches candidateK nearest vectors and keeps at most k rows the
// filter admits. Ties on distance resolve to the earlier-inserted chunk.
func (s *SQLiteVectorStore) knnQuery(ctx context.Context, vector []float32, candidateK, k int, f Filter) ([]models.RetrievedChunk, error) {
	query := `
		SELECT c.document_id, c.chunk_index, c.content, c.start_offset, c.end_offset, v.distance
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE v.embedding MATCH ? AND v.k = ? AND d.owner_id = ?`
	args := []interface{}{serializeFloat32Vector(vector), candidateK, f.OwnerID}

	if len(f.DocumentIDs) > 0 {
		placeholders := make([]string, len(f.DocumentIDs))
		for i, id := range f.DocumentIDs {
			placeholders[i] = "?"
			args = append(args, id.String())
		}
		query += ` AND c.document_id IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY v.distance, c.id LIMIT ?`
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("failed to perform vector search: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var results []models.RetrievedChunk
	for rows.Next() {
		var (
			docID      string
			chunkIndex int
			content    string
			start, end int
			distance   float32
		)
		if err := rows.Scan(&docID, &chunkIndex, &content, &start, &end, &distance); err != nil {
			return nil, ragerr.ErrStoreUnavailable.WithCause(err)
		}
		id, err := uuid.Parse(docID)
		if err != nil {
			return nil, ragerr.ErrStoreUnavailable.WithCause(fmt.Errorf("corrupt document id %q: %w", docID, err))
		}
		results = append(results, models.RetrievedChunk{
			Chunk: models.Chunk{
				DocumentID: id,
				Index:      chunkIndex,
				Text:       content,
				Start:      start,
				End:        end,
			},
			Score: similarityFromDistance(s.metric, distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.ErrStoreUnavailable.WithCause(err)
	}
	return results, nil
}

// GetDocument fetches document metadata; found is false for unknown ids.
func (s *SQLiteVectorStore) GetDocument(ctx context.Context, documentID uuid.UUID) (models.Document, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, owner_id, status, created_at FROM documents WHERE id = ?`,
		documentID.String(),
	)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return models.Document{}, false, nil
	}
	if err != nil {
		return models.Document{}, false, ragerr.ErrStoreUnavailable.WithCause(err)
	}
	return doc, true, nil
}

// ListDocuments returns the owner's documents, newest first.
func (s *SQLiteVectorStore) ListDocuments(ctx context.Context, ownerID string) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, owner_id, status, created_at FROM documents WHERE owner_id = ? ORDER BY created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, ragerr.ErrStoreUnavailable.WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	docs := make([]models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, ragerr.ErrStoreUnavailable.WithCause(err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.ErrStoreUnavailable.WithCause(err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (models.Document, error) {
	var (
		id, source, owner, status, createdAt string
	)
	if err := row.Scan(&id, &source, &owner, &status, &createdAt); err != nil {
		return models.Document{}, err
	}
	docID, err := uuid.Parse(id)
	if err != nil {
		return models.Document{}, fmt.Errorf("corrupt document id %q: %w", id, err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("corrupt created_at %q: %w", createdAt, err)
	}
	return models.Document{
		ID:        docID,
		Source:    source,
		OwnerID:   owner,
		Status:    models.DocumentStatus(status),
		CreatedAt: created,
	}, nil
}
