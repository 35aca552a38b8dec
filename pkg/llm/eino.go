package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoClient adapts an eino chat model to Completer. It backs the
// OpenAI-compatible (Groq, OpenAI, vLLM) and Ollama providers.
type EinoClient struct {
	log      *slog.Logger
	provider Provider
	model    model.BaseChatModel
}

func NewEinoClient(log *slog.Logger, provider Provider, m model.BaseChatModel) *EinoClient {
	return &EinoClient{
		log:      log,
		provider: provider,
		model:    m,
	}
}

// NewOpenAIClient creates a client for any OpenAI-compatible endpoint.
func NewOpenAIClient(ctx context.Context, cfg Config) (*EinoClient, error) {
	temperature := cfg.Temperature
	maxTokens := cfg.MaxTokens
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai chat model: %w", err)
	}
	return NewEinoClient(cfg.Logger, ProviderOpenAI, cm), nil
}

// NewOllamaClient creates a client for a local Ollama server.
func NewOllamaClient(ctx context.Context, cfg Config) (*EinoClient, error) {
	cm, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama chat model: %w", err)
	}
	return NewEinoClient(cfg.Logger, ProviderOllama, cm), nil
}

func (c *EinoClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	c.log.Debug("llm: chat model call starting", "provider", c.provider, "userPromptLen", len(userPrompt))

	msg, err := c.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	})
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", c.provider, err)
	}
	c.log.Debug("llm: chat model call completed", "provider", c.provider, "duration", time.Since(start))

	if msg == nil || msg.Content == "" {
		return "", ErrNoContent
	}
	return msg.Content, nil
}
