package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docchat-rag-llm/internal/ragerr"
	"docchat-rag-llm/internal/retry"
)

// OpenAIClient generates completions through the OpenAI chat API.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIClient creates a generation client using the given API key and model.
func NewOpenAIClient(apiKey, model string, maxRetries int, retryDelay time.Duration) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, ragerr.ErrConfiguration.WithMessage("OpenAI API key is required")
	}
	return &OpenAIClient{
		client:     openai.NewClient(apiKey),
		model:      model,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}, nil
}

// Generate maps the system prompt and history onto chat messages and
// completes them. Failed calls are retried with exponential backoff.
func (c *OpenAIClient) Generate(ctx context.Context, system string, history []Message, user string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retry.Backoff(c.retryDelay, attempt)):
			case <-ctx.Done():
				return "", ragerr.ErrGenerationService.WithCause(ctx.Err())
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: messages,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no completion choices returned")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", ragerr.ErrGenerationService.WithCause(
		fmt.Errorf("exhausted %d attempts: %w", c.maxRetries+1, lastErr))
}
