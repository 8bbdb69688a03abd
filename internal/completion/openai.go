package completion

import (
	"context"
	"encoding/json"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"carechain/internal/config"
	"carechain/pkg/domain"
)

// OpenAIClient targets any OpenAI-compatible chat-completions endpoint with
// JSON response format enforced and temperature pinned to zero for
// deterministic-leaning generation.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAI constructs a client from configuration.
func NewOpenAI(cfg config.Completion) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Complete performs one structured-JSON chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, domain.Transientf("completion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.Structuralf("completion returned no choices")
	}
	content := []byte(resp.Choices[0].Message.Content)
	if !json.Valid(content) {
		return nil, domain.Structuralf("completion output is not valid JSON")
	}
	return json.RawMessage(content), nil
}
