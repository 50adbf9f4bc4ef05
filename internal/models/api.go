package models

// IngestRequest submits a new document. Exactly one of Text or URL must be
// set; Source names the document (filename, URL, or free-form label).
type IngestRequest struct {
	Source string `json:"source"`
	Text   string `json:"text,omitempty"`
	URL    string `json:"url,omitempty"`
}

// IngestResponse reports the stored document.
type IngestResponse struct {
	Document Document `json:"document"`
	Chunks   int      `json:"chunks"`
}

// DocumentListResponse lists an owner's documents.
type DocumentListResponse struct {
	Documents []Document `json:"documents"`
	Count     int        `json:"count"`
}

// AskRequest poses a question within a session. An unknown or empty
// session id starts a fresh conversation.
type AskRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// AskResponse carries the generated answer and the chunks used as context.
type AskResponse struct {
	SessionID string   `json:"session_id"`
	Answer    string   `json:"answer"`
	ChunkIDs  []string `json:"chunk_ids"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status string `json:"status"`
}
