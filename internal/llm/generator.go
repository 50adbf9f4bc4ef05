// Package llm wraps the external text-completion services used for answer
// generation and follow-up rewriting. The services are opaque: prompt in,
// text out.
package llm

import "context"

// Message roles mirror the chat-completion convention.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior exchange handed to the generator.
type Message struct {
	Role    string
	Content string
}

// Generator is the capability interface for text completion.
type Generator interface {
	Generate(ctx context.Context, system string, history []Message, user string) (string, error)
}
