// Package conversation maintains per-session history, rewrites follow-up
// questions into standalone queries, and assembles the context handed to
// the generator.
package conversation

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"docchat-rag-llm/internal/llm"
	"docchat-rag-llm/internal/models"
	"docchat-rag-llm/internal/ragerr"
	"docchat-rag-llm/internal/retriever"
	"docchat-rag-llm/internal/storage"
)

const answerSystemPrompt = `You are a knowledgeable assistant that answers questions based on the provided document context.
Answer using ONLY the information in the context below. If the answer cannot be found there, say so clearly.

Context:
`

const rewriteSystemPrompt = `Rewrite the user's latest message into a single standalone question that can be understood without the conversation history. Resolve pronouns and references to earlier turns. Reply with the rewritten question only.`

// Options bound prompt assembly and history use.
type Options struct {
	TopK            int
	MaxContextChars int
	HistoryWindow   int
}

// Manager owns the session table. Sessions are keyed per owner, turns are
// append-only, and a turn is recorded only after generation succeeds, so a
// failed exchange can be retried with the same message.
type Manager struct {
	mu        sync.Mutex
	sessions  map[sessionKey][]models.ConversationTurn
	retriever *retriever.Retriever
	generator llm.Generator
	opts      Options
}

type sessionKey struct {
	ownerID   string
	sessionID string
}

// NewManager validates the options and creates an empty session table.
func NewManager(r *retriever.Retriever, g llm.Generator, opts Options) (*Manager, error) {
	if opts.TopK <= 0 {
		return nil, ragerr.ErrConfiguration.WithMessage("conversation top_k must be positive")
	}
	if opts.MaxContextChars <= 0 {
		return nil, ragerr.ErrConfiguration.WithMessage("max context size must be positive")
	}
	if opts.HistoryWindow <= 0 {
		return nil, ragerr.ErrConfiguration.WithMessage("history window must be positive")
	}
	return &Manager{
		sessions:  make(map[sessionKey][]models.ConversationTurn),
		retriever: r,
		generator: g,
		opts:      opts,
	}, nil
}

// Ask runs one exchange: rewrite the message if it is a follow-up, retrieve
// owner-scoped context, generate the answer, and append the finalized turn.
// An unknown session id simply starts a fresh history.
func (m *Manager) Ask(ctx context.Context, sessionID, ownerID, message string) (models.ConversationTurn, error) {
	key := sessionKey{ownerID: ownerID, sessionID: sessionID}

	// Snapshot the history; network calls happen outside the lock.
	m.mu.Lock()
	history := make([]models.ConversationTurn, len(m.sessions[key]))
	copy(history, m.sessions[key])
	m.mu.Unlock()

	turn := models.ConversationTurn{
		UserQuery: message,
	}

	if len(history) > 0 {
		standalone, err := m.rewrite(ctx, history, message)
		if err != nil {
			// Degraded retrieval beats a hard failure here; the raw
			// message still embeds to something.
			log.Printf("follow-up rewrite failed, using raw message: %v", err)
		} else if standalone != "" && standalone != message {
			turn.Standalone = standalone
		}
	}

	chunks, err := m.retriever.Retrieve(ctx, turn.EffectiveQuery(), m.opts.TopK, storage.Filter{OwnerID: ownerID})
	if err != nil {
		return models.ConversationTurn{}, err
	}

	contextText, used := m.assembleContext(chunks)
	for _, c := range used {
		turn.ChunkIDs = append(turn.ChunkIDs, c.ID())
	}

	answer, err := m.generator.Generate(ctx, answerSystemPrompt+contextText, historyMessages(history), message)
	if err != nil {
		// No turn is recorded: the session history never holds a lost
		// exchange and the caller may retry the same message.
		return models.ConversationTurn{}, err
	}
	turn.Answer = answer
	turn.CreatedAt = time.Now().UTC()

	m.mu.Lock()
	turn.Sequence = len(m.sessions[key])
	m.sessions[key] = append(m.sessions[key], turn)
	m.mu.Unlock()

	return turn, nil
}

// TurnCount reports the number of finalized turns in a session.
func (m *Manager) TurnCount(sessionID, ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions[sessionKey{ownerID: ownerID, sessionID: sessionID}])
}

// History returns a copy of the session's finalized turns.
func (m *Manager) History(sessionID, ownerID string) []models.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.sessions[sessionKey{ownerID: ownerID, sessionID: sessionID}]
	out := make([]models.ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

// rewrite turns a follow-up message into a standalone query using the most
// recent turns.
func (m *Manager) rewrite(ctx context.Context, history []models.ConversationTurn, message string) (string, error) {
	window := history
	if len(window) > m.opts.HistoryWindow {
		window = window[len(window)-m.opts.HistoryWindow:]
	}

	standalone, err := m.generator.Generate(ctx, rewriteSystemPrompt, historyMessages(window), message)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(standalone), `"`)), nil
}

// assembleContext concatenates chunks in rank order up to the configured
// size, dropping lower-ranked chunks first. Returns the prompt text and the
// chunks that made the cut.
func (m *Manager) assembleContext(chunks []models.RetrievedChunk) (string, []models.RetrievedChunk) {
	var b strings.Builder
	var used []models.RetrievedChunk
	for _, c := range chunks {
		if b.Len()+len(c.Text) > m.opts.MaxContextChars && len(used) > 0 {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(c.Text)
		used = append(used, c)
		if b.Len() >= m.opts.MaxContextChars {
			break
		}
	}
	return b.String(), used
}

func historyMessages(turns []models.ConversationTurn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.UserQuery},
			llm.Message{Role: llm.RoleAssistant, Content: t.Answer},
		)
	}
	return msgs
}
