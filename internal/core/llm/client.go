// Package llm wraps the chat-model SPI used by the reply generator and the
// memory engine. Any OpenAI-compatible endpoint works.
package llm

import (
	"context"
	"fmt"

	"github.com/bytedance/gg/gptr"
	einoOpenAI "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Client is the narrow inference surface the runtime needs.
type Client interface {
	// Generate runs one chat completion and returns the assistant text.
	Generate(ctx context.Context, messages []*schema.Message) (string, error)
}

// Config holds connection settings for an OpenAI-compatible endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float32
	MaxTokens   int
}

type chatClient struct {
	cm model.BaseChatModel
}

// NewClient wraps an existing eino chat model.
func NewClient(cm model.BaseChatModel) Client {
	return &chatClient{cm: cm}
}

// NewOpenAIClient builds a client against an OpenAI-compatible endpoint.
func NewOpenAIClient(ctx context.Context, cfg Config) (Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm config missing model")
	}
	mc := &einoOpenAI.ChatModelConfig{
		Model:  cfg.Model,
		APIKey: cfg.APIKey,
	}
	if cfg.BaseURL != "" {
		mc.BaseURL = cfg.BaseURL
	}
	if cfg.Temperature != nil {
		mc.Temperature = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		mc.MaxTokens = gptr.Of(cfg.MaxTokens)
	}
	cm, err := einoOpenAI.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("build chat model: %w", err)
	}
	return &chatClient{cm: cm}, nil
}

func (c *chatClient) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	out, err := c.cm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}
	return out.Content, nil
}

// System builds a system message.
func System(content string) *schema.Message {
	return &schema.Message{Role: schema.System, Content: content}
}

// User builds a user message.
func User(content string) *schema.Message {
	return &schema.Message{Role: schema.User, Content: content}
}
