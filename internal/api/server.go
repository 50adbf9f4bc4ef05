// Package api exposes the ingestion and ask surfaces over HTTP.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ory/herodot"

	"docchat-rag-llm/internal/auth"
	"docchat-rag-llm/internal/conversation"
	"docchat-rag-llm/internal/ingest"
	"docchat-rag-llm/internal/models"
	"docchat-rag-llm/internal/storage"
)

// Server routes HTTP traffic onto the retrieval pipeline.
type Server struct {
	mux     *http.ServeMux
	ingest  *ingest.Service
	store   storage.VectorStore
	conv    *conversation.Manager
	writer  *herodot.JSONWriter
	timeout ServerTimeouts
}

// ServerTimeouts bound request handling.
type ServerTimeouts struct {
	Read  time.Duration
	Write time.Duration
}

// NewServer wires routes onto the given collaborators.
func NewServer(ingestSvc *ingest.Service, store storage.VectorStore, conv *conversation.Manager, timeouts ServerTimeouts) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		ingest:  ingestSvc,
		store:   store,
		conv:    conv,
		writer:  herodot.NewJSONWriter(nil),
		timeout: timeouts,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/documents", auth.Middleware(http.HandlerFunc(s.handleDocuments)))
	s.mux.Handle("/documents/", auth.Middleware(http.HandlerFunc(s.handleDocumentByID)))
	s.mux.Handle("/ask", auth.Middleware(http.HandlerFunc(s.handleAsk)))
	s.mux.HandleFunc("/health", s.healthCheck)
}

// Run starts the HTTP server on addr and blocks.
func (s *Server) Run(addr string) error {
	log.Printf("Server starting on %s", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(s.mux),
		ReadTimeout:  s.timeout.Read,
		WriteTimeout: s.timeout.Write,
	}
	return srv.ListenAndServe()
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.mux)
}

// owner reads the authenticated owner set by the auth middleware. Routes
// are registered behind it, so a miss means broken wiring, not bad input.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		s.writer.WriteError(w, r, herodot.ErrInternalServerError.WithReason("No authenticated owner on request"))
	}
	return owner, ok
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.addDocument(w, r)
	case http.MethodGet:
		s.listDocuments(w, r)
	default:
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (s *Server) addDocument(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return
	}
	if req.URL == "" && req.Source == "" {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Either url or source with text is required"))
		return
	}

	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	var (
		doc    models.Document
		chunks int
		err    error
	)
	if req.URL != "" {
		doc, chunks, err = s.ingest.IngestURL(r.Context(), req.URL, owner)
	} else {
		doc, chunks, err = s.ingest.IngestText(r.Context(), req.Source, req.Text, owner)
	}
	if err != nil {
		s.writeTaxonomyError(w, r, err)
		return
	}

	s.writer.WriteCreated(w, r, "/documents/"+doc.ID.String(), &models.IngestResponse{
		Document: doc,
		Chunks:   chunks,
	})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	docs, err := s.store.ListDocuments(r.Context(), owner)
	if err != nil {
		s.writeTaxonomyError(w, r, err)
		return
	}
	s.writer.Write(w, r, &models.DocumentListResponse{
		Documents: docs,
		Count:     len(docs),
	})
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/documents/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid document id"))
		return
	}

	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	// Deletion is owner-scoped like every other access: deleting someone
	// else's document behaves exactly like deleting an unknown id.
	doc, found, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.writeTaxonomyError(w, r, err)
		return
	}
	if found && doc.OwnerID == owner {
		if err := s.store.DeleteDocument(r.Context(), id); err != nil {
			s.writeTaxonomyError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Message is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	turn, err := s.conv.Ask(r.Context(), req.SessionID, owner, req.Message)
	if err != nil {
		s.writeTaxonomyError(w, r, err)
		return
	}

	s.writer.Write(w, r, &models.AskResponse{
		SessionID: req.SessionID,
		Answer:    turn.Answer,
		ChunkIDs:  turn.ChunkIDs,
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	s.writer.Write(w, r, &models.HealthResponse{Status: "healthy"})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s %s", r.Method, r.RequestURI, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
