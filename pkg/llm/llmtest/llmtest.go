// Package llmtest provides deterministic completers for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"
)

// Call records the prompts of a single completion.
type Call struct {
	System string
	User   string
}

type HandlerFunc func(call Call) (string, error)

// Completer answers completions with a handler and records every call.
type Completer struct {
	mu      sync.Mutex
	handler HandlerFunc
	calls   []Call
}

func New(handler HandlerFunc) *Completer {
	return &Completer{handler: handler}
}

// Sequence returns the responses in order and fails once they run out.
func Sequence(responses ...string) *Completer {
	i := 0
	return New(func(Call) (string, error) {
		if i >= len(responses) {
			return "", fmt.Errorf("llmtest: no more responses (served %d)", len(responses))
		}
		resp := responses[i]
		i++
		return resp, nil
	})
}

func (c *Completer) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	call := Call{System: systemPrompt, User: userPrompt}
	c.calls = append(c.calls, call)
	return c.handler(call)
}

// Calls returns a copy of the recorded calls.
func (c *Completer) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}
