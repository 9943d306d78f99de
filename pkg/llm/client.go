// Package llm wraps chat completion for the gateway's /api/chat
// endpoint.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/copperline/chatvault/pkg/logger"
)

const systemPrompt = "You are a helpful assistant. Answer the question, " +
	"then suggest two or three relevant follow-up questions the user could " +
	"ask next. When the user asks for structured data, include it as a " +
	"JSON object."

type Client struct {
	api   openai.Client
	model string
}

func NewClient(apiKey, apiBase, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &Client{
		api:   openai.NewClient(opts...),
		model: model,
	}
}

func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(message),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}

	logger.DebugCF("llm", "completion ok", map[string]any{
		"model":  c.model,
		"tokens": resp.Usage.TotalTokens,
	})
	return resp.Choices[0].Message.Content, nil
}
