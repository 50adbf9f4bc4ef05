package models

import "time"

// ConversationTurn is one finalized exchange within a session. Turns are
// append-only: once recorded they are never mutated.
type ConversationTurn struct {
	Sequence   int       `json:"sequence"`
	UserQuery  string    `json:"user_query"`
	Standalone string    `json:"standalone_query,omitempty"`
	ChunkIDs   []string  `json:"chunk_ids"`
	Answer     string    `json:"answer"`
	CreatedAt  time.Time `json:"created_at"`
}

// EffectiveQuery returns the query actually used for retrieval: the
// rewritten standalone form when rewriting occurred, the raw query otherwise.
func (t ConversationTurn) EffectiveQuery() string {
	if t.Standalone != "" {
		return t.Standalone
	}
	return t.UserQuery
}
