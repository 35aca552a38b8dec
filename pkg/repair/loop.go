// Package repair implements the retry-bounded generate, execute, repair loop
// shared by SQL validation and visualization code validation.
//
// A candidate moves through three states: generated, executing and resolved.
// A failed execution increments the retry counter, stores the truncated
// error and asks the repairer for a new candidate, unless the counter has
// reached the budget, in which case the loop resolves as NotPass with the
// last failing candidate and error retained. At least one execution always
// happens, so a budget of zero still tries the candidate once.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/malbeclabs/sqlviz/pkg/logger"
)

const DefaultMaxErrorChars = 300

// ExecuteFunc runs a candidate and returns its result or a structured error.
type ExecuteFunc[T any] func(ctx context.Context, candidate string) (T, error)

// RepairFunc returns a corrected candidate given the failing one and its
// truncated error message.
type RepairFunc func(ctx context.Context, candidate, errMsg string) (string, error)

// Attempt describes one execution, passed to Config.OnAttempt.
type Attempt struct {
	Loop      string
	Number    int
	Candidate string
	Status    Status
	Err       string
	Duration  time.Duration
}

type Config[T any] struct {
	// Name identifies the loop in logs and attempt callbacks.
	Name          string
	Logger        *slog.Logger
	Execute       ExecuteFunc[T]
	Repair        RepairFunc
	MaxRetries    int
	MaxErrorChars int
	OnAttempt     func(Attempt)
}

func (cfg *Config[T]) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.Execute == nil {
		return fmt.Errorf("execute function is required")
	}
	if cfg.Repair == nil {
		return fmt.Errorf("repair function is required")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if cfg.MaxErrorChars < 0 {
		return fmt.Errorf("max error chars must not be negative")
	}
	if cfg.MaxErrorChars == 0 {
		cfg.MaxErrorChars = DefaultMaxErrorChars
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return nil
}

// Outcome is the resolved state of a loop run.
type Outcome[T any] struct {
	// Candidate is the last candidate executed.
	Candidate string
	// Result is only meaningful when Status is Pass.
	Result   T
	Status   Status
	Retries  int
	Err      string
	Attempts int
	// RepairErr holds the last error returned by the repairer, if any.
	RepairErr error
}

type Loop[T any] struct {
	log *slog.Logger
	cfg Config[T]
}

func New[T any](cfg Config[T]) (*Loop[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate repair loop config: %w", err)
	}
	return &Loop[T]{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (l *Loop[T]) MaxRetries() int {
	return l.cfg.MaxRetries
}

type loopState int

const (
	stateGenerated loopState = iota
	stateExecuting
	stateResolved
)

// Run drives candidate to resolution. retries is the counter carried over
// from earlier runs of the same loop, so a resumed loop honors the budget
// already spent.
//
// A repairer error is counted like an execution failure: the unchanged
// candidate goes back to generated and is executed again, which consumes
// budget. Context cancellation resolves the loop immediately.
func (l *Loop[T]) Run(ctx context.Context, candidate string, retries int) Outcome[T] {
	out := Outcome[T]{Candidate: candidate, Retries: retries}

	state := stateGenerated
	for state != stateResolved {
		switch state {
		case stateGenerated:
			state = stateExecuting

		case stateExecuting:
			out.Attempts++
			start := time.Now()
			result, err := l.cfg.Execute(ctx, out.Candidate)
			duration := time.Since(start)

			if err == nil {
				out.Result = result
				out.Status = Pass
				out.Err = ""
				l.observe(out, duration)
				l.log.Info("repair: candidate passed", "loop", l.cfg.Name, "attempt", out.Attempts, "retries", out.Retries, "duration", duration)
				state = stateResolved
				continue
			}

			out.Retries++
			out.Status = NotPass
			out.Err = errorMessage(err, l.cfg.MaxErrorChars)
			l.observe(out, duration)
			l.log.Warn("repair: candidate failed", "loop", l.cfg.Name, "attempt", out.Attempts, "retries", out.Retries, "max_retries", l.cfg.MaxRetries, "error", out.Err)

			if out.Retries >= l.cfg.MaxRetries {
				l.log.Warn("repair: retry budget exhausted", "loop", l.cfg.Name, "retries", out.Retries)
				state = stateResolved
				continue
			}
			if ctx.Err() != nil {
				state = stateResolved
				continue
			}

			next, err := l.cfg.Repair(ctx, out.Candidate, out.Err)
			if err != nil {
				out.RepairErr = err
				l.log.Error("repair: failed to repair candidate", "loop", l.cfg.Name, "error", err)
				if ctx.Err() != nil {
					state = stateResolved
					continue
				}
				state = stateGenerated
				continue
			}
			l.logDiff(out.Candidate, next)
			out.Candidate = next
			state = stateGenerated
		}
	}
	return out
}

func (l *Loop[T]) observe(out Outcome[T], d time.Duration) {
	if l.cfg.OnAttempt == nil {
		return
	}
	l.cfg.OnAttempt(Attempt{
		Loop:      l.cfg.Name,
		Number:    out.Attempts,
		Candidate: out.Candidate,
		Status:    out.Status,
		Err:       out.Err,
		Duration:  d,
	})
}

func (l *Loop[T]) logDiff(before, after string) {
	if !l.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if before == after {
		l.log.Debug("repair: repaired candidate is unchanged", "loop", l.cfg.Name)
		return
	}
	name := l.cfg.Name + "/candidate"
	edits := myers.ComputeEdits(span.URIFromPath("before/"+name), before+"\n", after+"\n")
	diff := fmt.Sprint(gotextdiff.ToUnified("before/"+name, "after/"+name, before+"\n", edits))
	l.log.Debug("repair: candidate repaired", "loop", l.cfg.Name, "diff", diff)
}

// errorMessage renders err for storage in state. The result is never empty
// and never longer than max runes.
func errorMessage(err error, max int) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = fmt.Sprintf("%T", err)
		if errors.Unwrap(err) != nil {
			msg += ": " + errors.Unwrap(err).Error()
		}
	}
	return Truncate(msg, max)
}

// Truncate cuts s to at most max runes. Invalid UTF-8 is replaced first so
// the result is always valid.
func Truncate(s string, max int) string {
	s = strings.ToValidUTF8(s, "�")
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
