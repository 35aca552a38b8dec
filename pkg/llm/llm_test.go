package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/sqlviz/pkg/llm/llmtest"
	"github.com/malbeclabs/sqlviz/pkg/logger"
)

func newTestRetrying(next Completer, tries int, timeout time.Duration) *Retrying {
	r := NewRetrying(logger.Discard(), next, "test", tries, timeout)
	r.newBackOff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}
	return r
}

func TestLLM_Retrying_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	next := llmtest.New(func(llmtest.Call) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "SELECT 1", nil
	})

	text, err := newTestRetrying(next, 3, 0).Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", text)
	require.Equal(t, 3, calls)
}

func TestLLM_Retrying_GivesUpAfterMaxTries(t *testing.T) {
	next := llmtest.New(func(llmtest.Call) (string, error) {
		return "", errors.New("unavailable")
	})

	_, err := newTestRetrying(next, 2, 0).Complete(context.Background(), "sys", "user")
	require.ErrorContains(t, err, "unavailable")
	require.Len(t, next.Calls(), 2)
}

func TestLLM_Retrying_DoesNotRetryClientErrors(t *testing.T) {
	authErr := &StatusError{Provider: ProviderAnthropic, StatusCode: 401, Err: errors.New("invalid x-api-key")}
	next := llmtest.New(func(llmtest.Call) (string, error) {
		return "", authErr
	})

	_, err := newTestRetrying(next, 5, 0).Complete(context.Background(), "sys", "user")
	require.ErrorIs(t, err, authErr)
	require.Len(t, next.Calls(), 1)
}

func TestLLM_Retrying_PerCallTimeout(t *testing.T) {
	var deadlines []bool
	next := completerFunc(func(ctx context.Context, _, _ string) (string, error) {
		_, ok := ctx.Deadline()
		deadlines = append(deadlines, ok)
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := newTestRetrying(next, 2, 20*time.Millisecond).Complete(context.Background(), "sys", "user")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, []bool{true, true}, deadlines)
}

func TestLLM_Retrying_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	next := llmtest.New(func(llmtest.Call) (string, error) {
		cancel()
		return "", errors.New("interrupted")
	})

	_, err := newTestRetrying(next, 5, 0).Complete(ctx, "sys", "user")
	require.Error(t, err)
	require.Len(t, next.Calls(), 1)
}

func TestLLM_StatusError_Retryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{409, true},
		{429, true},
		{500, true},
		{529, true},
	}
	for _, tt := range tests {
		e := &StatusError{StatusCode: tt.code, Err: errors.New("x")}
		require.Equal(t, tt.want, e.Retryable(), "status %d", tt.code)
	}
}

func TestLLM_Config_Validate(t *testing.T) {
	cfg := Config{Provider: ProviderOpenAI, APIKey: "k"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultOpenAIBaseURL, cfg.BaseURL)
	require.Equal(t, DefaultOpenAIModel, cfg.Model)
	require.InDelta(t, 0.3, cfg.Temperature, 1e-6)
	require.Equal(t, defaultMaxTokens, cfg.MaxTokens)
	require.Equal(t, defaultTimeout, cfg.Timeout)
	require.Equal(t, defaultRetries, cfg.Retries)

	cfg = Config{Provider: ProviderOllama}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultOllamaBaseURL, cfg.BaseURL)

	cfg = Config{Provider: ProviderAnthropic}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultAnthropicModel, cfg.Model)

	cfg = Config{}
	require.ErrorContains(t, cfg.Validate(), "provider is required")

	cfg = Config{Provider: "bard"}
	require.ErrorContains(t, cfg.Validate(), `unsupported provider "bard"`)

	cfg = Config{Provider: ProviderOpenAI}
	require.ErrorContains(t, cfg.Validate(), "api key is required")

	cfg = Config{Provider: ProviderOllama, Temperature: -1}
	require.ErrorContains(t, cfg.Validate(), "temperature must not be negative")
}

func TestLLM_EinoClient_Complete(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("```sql\nSELECT 1\n```", nil)}
	c := NewEinoClient(logger.Discard(), ProviderOpenAI, fake)

	text, err := c.Complete(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	require.Equal(t, "```sql\nSELECT 1\n```", text)
	require.Len(t, fake.input, 2)
	require.Equal(t, schema.System, fake.input[0].Role)
	require.Equal(t, "system prompt", fake.input[0].Content)
	require.Equal(t, schema.User, fake.input[1].Role)
	require.Equal(t, "user prompt", fake.input[1].Content)
}

func TestLLM_EinoClient_Errors(t *testing.T) {
	c := NewEinoClient(logger.Discard(), ProviderOllama, &fakeChatModel{err: errors.New("model not found")})
	_, err := c.Complete(context.Background(), "s", "u")
	require.ErrorContains(t, err, "ollama API error: model not found")

	c = NewEinoClient(logger.Discard(), ProviderOllama, &fakeChatModel{reply: schema.AssistantMessage("", nil)})
	_, err = c.Complete(context.Background(), "s", "u")
	require.ErrorIs(t, err, ErrNoContent)
}

type completerFunc func(ctx context.Context, system, user string) (string, error)

func (f completerFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

type fakeChatModel struct {
	reply *schema.Message
	err   error
	input []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}
