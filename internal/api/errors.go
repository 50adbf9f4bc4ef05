package api

import (
	"errors"
	"net/http"

	"github.com/ory/herodot"

	"docchat-rag-llm/internal/ragerr"
)

var errServiceUnavailable = &herodot.DefaultError{
	CodeField:   http.StatusBadGateway,
	StatusField: http.StatusText(http.StatusBadGateway),
	ErrorField:  "External service unavailable",
}

var errStoreUnavailable = &herodot.DefaultError{
	CodeField:   http.StatusServiceUnavailable,
	StatusField: http.StatusText(http.StatusServiceUnavailable),
	ErrorField:  "Storage unavailable",
}

// writeTaxonomyError maps the pipeline's error taxonomy onto HTTP statuses:
// configuration errors are the caller's fault, exhausted external services
// are a bad gateway, and a dead store is service-unavailable.
func (s *Server) writeTaxonomyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ragerr.ErrConfiguration):
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason(err.Error()))
	case errors.Is(err, ragerr.ErrEmbeddingService), errors.Is(err, ragerr.ErrGenerationService):
		s.writer.WriteError(w, r, errServiceUnavailable.WithReason(err.Error()))
	case errors.Is(err, ragerr.ErrStoreUnavailable):
		s.writer.WriteError(w, r, errStoreUnavailable.WithReason(err.Error()))
	default:
		s.writer.WriteError(w, r, herodot.ErrInternalServerError.WithReason(err.Error()))
	}
}
