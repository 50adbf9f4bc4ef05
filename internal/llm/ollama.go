package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docchat-rag-llm/internal/ragerr"
	"docchat-rag-llm/internal/retry"
)

// OllamaClient generates completions through Ollama's generate endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOllamaClient creates a generation client against an Ollama server.
func NewOllamaClient(baseURL, model string, timeout time.Duration, maxRetries int, retryDelay time.Duration) *OllamaClient {
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Generate flattens the system prompt and history into a single prompt and
// completes it. Transient failures are retried with exponential backoff.
func (o *OllamaClient) Generate(ctx context.Context, system string, history []Message, user string) (string, error) {
	prompt := flattenPrompt(system, history, user)

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retry.Backoff(o.retryDelay, attempt)):
			case <-ctx.Done():
				return "", ragerr.ErrGenerationService.WithCause(ctx.Err())
			}
		}

		answer, retryable, err := o.callOnce(ctx, prompt)
		if err == nil {
			return answer, nil
		}
		if !retryable {
			return "", ragerr.ErrGenerationService.WithCause(err)
		}
		lastErr = err
	}
	return "", ragerr.ErrGenerationService.WithCause(
		fmt.Errorf("exhausted %d attempts: %w", o.maxRetries+1, lastErr))
}

func (o *OllamaClient) callOnce(ctx context.Context, prompt string) (answer string, retryable bool, err error) {
	reqBody := map[string]interface{}{
		"model":  o.model,
		"prompt": prompt,
		"stream": false,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, fmt.Errorf("generation request failed with status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", false, err
	}
	return result.Response, false, nil
}

func flattenPrompt(system string, history []Message, user string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	for _, msg := range history {
		switch msg.Role {
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(user)
	b.WriteString("\nAssistant: ")
	return b.String()
}
