package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docchat-rag-llm/internal/chunker"
	"docchat-rag-llm/internal/conversation"
	"docchat-rag-llm/internal/ingest"
	"docchat-rag-llm/internal/llm"
	"docchat-rag-llm/internal/models"
	"docchat-rag-llm/internal/retriever"
	"docchat-rag-llm/internal/storage"
)

// hashEmbedder derives a deterministic vector from the text so related
// strings embed identically only when equal. Good enough for routing tests.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		var sum float32
		for _, r := range text {
			sum += float32(r)
		}
		out[i] = []float32{sum, float32(len(text)), 1}
	}
	return out, nil
}

func (hashEmbedder) ModelID() string { return "fake/hash" }

type staticGenerator struct {
	answer string
}

func (g staticGenerator) Generate(context.Context, string, []llm.Message, string) (string, error) {
	return g.answer, nil
}

func newTestServer(t *testing.T) (*Server, storage.VectorStore) {
	t.Helper()

	store, err := storage.NewMemoryVectorStore(storage.MetricCosine, "fake/hash")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	splitter, err := chunker.NewSplitter(1000, 200, 200)
	if err != nil {
		t.Fatalf("Failed to create splitter: %v", err)
	}

	embedder := hashEmbedder{}
	ingestSvc := ingest.NewService(splitter, embedder, store)
	ret := retriever.New(embedder, store, 0)

	conv, err := conversation.NewManager(ret, staticGenerator{answer: "The sky is blue."}, conversation.Options{
		TopK:            5,
		MaxContextChars: 6000,
		HistoryWindow:   6,
	})
	if err != nil {
		t.Fatalf("Failed to create conversation manager: %v", err)
	}

	return NewServer(ingestSvc, store, conv, ServerTimeouts{Read: 5 * time.Second, Write: 5 * time.Second}), store
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server.Handler(), http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected healthy status, got %q", resp.Status)
	}
}

func TestDocumentsRequireAuth(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/documents"},
		{http.MethodGet, "/documents"},
		{http.MethodDelete, "/documents/" + "00000000-0000-0000-0000-000000000000"},
		{http.MethodPost, "/ask"},
	}
	for _, p := range paths {
		w := doRequest(t, handler, p.method, p.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: expected 401, got %d", p.method, p.path, w.Code)
		}
	}
}

func TestAddDocument(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server.Handler(), http.MethodPost, "/documents", "alice", models.IngestRequest{
		Source: "notes.txt",
		Text:   "The sky is blue. The grass is green.",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Document.Source != "notes.txt" {
		t.Errorf("Expected source notes.txt, got %q", resp.Document.Source)
	}
	if resp.Document.OwnerID != "alice" {
		t.Errorf("Expected owner alice, got %q", resp.Document.OwnerID)
	}
	if resp.Document.Status != models.StatusProcessed {
		t.Errorf("Expected processed status, got %q", resp.Document.Status)
	}
	if resp.Chunks != 1 {
		t.Errorf("Expected 1 chunk for a short document, got %d", resp.Chunks)
	}
}

func TestAddDocumentRejectsEmptyRequest(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server.Handler(), http.MethodPost, "/documents", "alice", models.IngestRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a request without source or url, got %d", w.Code)
	}
}

func TestListDocumentsScopedToOwner(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	if w := doRequest(t, handler, http.MethodPost, "/documents", "alice", models.IngestRequest{
		Source: "alice.txt", Text: "alice's notes",
	}); w.Code != http.StatusCreated {
		t.Fatalf("Failed to add alice's document: %d", w.Code)
	}
	if w := doRequest(t, handler, http.MethodPost, "/documents", "bob", models.IngestRequest{
		Source: "bob.txt", Text: "bob's notes",
	}); w.Code != http.StatusCreated {
		t.Fatalf("Failed to add bob's document: %d", w.Code)
	}

	w := doRequest(t, handler, http.MethodGet, "/documents", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.DocumentListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 1 || len(resp.Documents) != 1 {
		t.Fatalf("Expected exactly alice's document, got count=%d", resp.Count)
	}
	if resp.Documents[0].Source != "alice.txt" {
		t.Errorf("Expected alice.txt, got %q", resp.Documents[0].Source)
	}
}

func TestDeleteDocumentOwnerScoped(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()

	w := doRequest(t, handler, http.MethodPost, "/documents", "alice", models.IngestRequest{
		Source: "alice.txt", Text: "alice's notes",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to add document: %d", w.Code)
	}
	var created models.IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	docID := created.Document.ID

	// Bob's delete succeeds with 204 but must not remove alice's document.
	if w := doRequest(t, handler, http.MethodDelete, "/documents/"+docID.String(), "bob", nil); w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 for cross-owner delete, got %d", w.Code)
	}
	if _, found, err := store.GetDocument(context.Background(), docID); err != nil || !found {
		t.Fatalf("Cross-owner delete must not remove the document, found=%v err=%v", found, err)
	}

	if w := doRequest(t, handler, http.MethodDelete, "/documents/"+docID.String(), "alice", nil); w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 for owner delete, got %d", w.Code)
	}
	if _, found, err := store.GetDocument(context.Background(), docID); err != nil || found {
		t.Errorf("Expected document gone after owner delete, found=%v err=%v", found, err)
	}

	// Deleting again is a no-op.
	if w := doRequest(t, handler, http.MethodDelete, "/documents/"+docID.String(), "alice", nil); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for repeat delete, got %d", w.Code)
	}
}

func TestDeleteDocumentInvalidID(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server.Handler(), http.MethodDelete, "/documents/not-a-uuid", "alice", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed id, got %d", w.Code)
	}
}

func TestAskReturnsAnswerAndSession(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	if w := doRequest(t, handler, http.MethodPost, "/documents", "alice", models.IngestRequest{
		Source: "sky.txt", Text: "The sky is blue.",
	}); w.Code != http.StatusCreated {
		t.Fatalf("Failed to add document: %d", w.Code)
	}

	w := doRequest(t, handler, http.MethodPost, "/ask", "alice", models.AskRequest{
		Message: "What color is the sky?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.AskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Answer != "The sky is blue." {
		t.Errorf("Unexpected answer %q", resp.Answer)
	}
	if resp.SessionID == "" {
		t.Error("Expected a generated session id for an empty request session")
	}
	if len(resp.ChunkIDs) == 0 {
		t.Error("Expected the answer to cite retrieved chunks")
	}

	// Reusing the returned session id continues the same conversation.
	w2 := doRequest(t, handler, http.MethodPost, "/ask", "alice", models.AskRequest{
		SessionID: resp.SessionID,
		Message:   "And the grass?",
	})
	if w2.Code != http.StatusOK {
		t.Fatalf("Expected 200 on follow-up, got %d: %s", w2.Code, w2.Body.String())
	}
	var resp2 models.AskResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &resp2); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp2.SessionID != resp.SessionID {
		t.Errorf("Expected the session id to be preserved, got %q", resp2.SessionID)
	}
}

func TestAskRejectsEmptyMessage(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server.Handler(), http.MethodPost, "/ask", "alice", models.AskRequest{Message: "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for blank message, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	if w := doRequest(t, handler, http.MethodPut, "/documents", "alice", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /documents: expected 405, got %d", w.Code)
	}
	if w := doRequest(t, handler, http.MethodGet, "/ask", "alice", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /ask: expected 405, got %d", w.Code)
	}
	if w := doRequest(t, handler, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health: expected 405, got %d", w.Code)
	}
}
