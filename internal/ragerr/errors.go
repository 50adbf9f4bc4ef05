// Package ragerr defines the error taxonomy shared across the retrieval pipeline.
package ragerr

// Error represents a classified application error.
type Error struct {
	Type    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy of the error carrying the given cause.
func (e *Error) WithCause(cause error) *Error {
	return &Error{
		Type:    e.Type,
		Message: e.Message,
		Cause:   cause,
	}
}

// WithMessage returns a copy of the error with a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{
		Type:    e.Type,
		Message: msg,
		Cause:   e.Cause,
	}
}

// Is reports whether target shares this error's type, so wrapped instances
// still match their sentinel via errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Type == e.Type
}

// ErrConfiguration indicates an invalid static configuration value
// (chunk/overlap sizes, mismatched embedding models). Never retried.
var ErrConfiguration = &Error{
	Type:    "CONFIGURATION_ERROR",
	Message: "invalid configuration",
}

// ErrEmbeddingService indicates the embedding service failed after
// exhausting retries.
var ErrEmbeddingService = &Error{
	Type:    "EMBEDDING_SERVICE_ERROR",
	Message: "embedding service failed",
}

// ErrGenerationService indicates the completion service failed after
// exhausting retries.
var ErrGenerationService = &Error{
	Type:    "GENERATION_SERVICE_ERROR",
	Message: "generation service failed",
}

// ErrStoreUnavailable indicates the vector store could not serve the
// operation. There is no local fallback.
var ErrStoreUnavailable = &Error{
	Type:    "STORE_UNAVAILABLE_ERROR",
	Message: "vector store unavailable",
}
