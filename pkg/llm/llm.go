// Package llm provides text completion clients for the supported model
// providers. Every client satisfies Completer; New wraps the provider client
// with retries and a per-call timeout.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/sqlviz/pkg/logger"
)

// Completer sends a system prompt and a user prompt and returns the response text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultOpenAIBaseURL  = "https://api.groq.com/openai/v1"
	DefaultOpenAIModel    = "llama3-70b-8192"
	DefaultOllamaBaseURL  = "http://localhost:11434"
	DefaultOllamaModel    = "llama3"

	defaultTemperature = 0.3
	defaultMaxTokens   = 4096
	defaultTimeout     = 60 * time.Second
	defaultRetries     = 3
)

// StatusError carries the HTTP status of a failed provider call so the
// retry wrapper can tell client errors from transient ones.
type StatusError struct {
	Provider   Provider
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the status indicates a transient failure.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == 408, e.StatusCode == 409, e.StatusCode == 429:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	}
	return true
}

var ErrNoContent = errors.New("no text content in response")

type Config struct {
	Logger      *slog.Logger
	Provider    Provider
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float32
	MaxTokens   int
	// Timeout bounds a single provider call.
	Timeout time.Duration
	// Retries is the total number of tries per completion, including the first.
	Retries int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	switch cfg.Provider {
	case ProviderAnthropic:
		if cfg.Model == "" {
			cfg.Model = DefaultAnthropicModel
		}
	case ProviderOpenAI:
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultOpenAIBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAIModel
		}
		if cfg.APIKey == "" {
			return fmt.Errorf("api key is required for provider %q", cfg.Provider)
		}
	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultOllamaBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultOllamaModel
		}
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	if cfg.Temperature < 0 {
		return fmt.Errorf("temperature must not be negative")
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	return nil
}

// New builds the provider client described by cfg, wrapped with retries.
func New(ctx context.Context, cfg Config) (Completer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate llm config: %w", err)
	}

	var client Completer
	switch cfg.Provider {
	case ProviderAnthropic:
		client = NewAnthropicClient(cfg)
	case ProviderOpenAI:
		c, err := NewOpenAIClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client = c
	case ProviderOllama:
		c, err := NewOllamaClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client = c
	}

	cfg.Logger.Info("llm: client initialized", "provider", cfg.Provider, "model", cfg.Model, "base_url", cfg.BaseURL)
	return NewRetrying(cfg.Logger, client, cfg.Provider, cfg.Retries, cfg.Timeout), nil
}
