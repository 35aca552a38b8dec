package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/malbeclabs/sqlviz/pkg/metrics"
)

// Retrying wraps a Completer with a per-call timeout and exponential backoff.
// Client errors (4xx other than 408, 409 and 429) are not retried.
type Retrying struct {
	log        *slog.Logger
	next       Completer
	provider   Provider
	tries      uint
	timeout    time.Duration
	newBackOff func() backoff.BackOff
}

func NewRetrying(log *slog.Logger, next Completer, provider Provider, tries int, timeout time.Duration) *Retrying {
	if tries < 1 {
		tries = 1
	}
	return &Retrying{
		log:      log,
		next:     next,
		provider: provider,
		tries:    uint(tries),
		timeout:  timeout,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

func (r *Retrying) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	attempt := 0

	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		text, err := r.next.Complete(callCtx, systemPrompt, userPrompt)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return "", backoff.Permanent(err)
		}
		return "", err
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.tries),
		backoff.WithNotify(func(err error, delay time.Duration) {
			r.log.Warn("llm: completion failed, retrying", "provider", r.provider, "attempt", attempt, "delay", delay, "error", err)
		}),
	)

	metrics.LLMCallDuration.WithLabelValues(string(r.provider)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues(string(r.provider), "error").Inc()
		r.log.Error("llm: completion failed", "provider", r.provider, "attempts", attempt, "error", err)
		return "", err
	}
	metrics.LLMCallsTotal.WithLabelValues(string(r.provider), "success").Inc()
	return text, nil
}
