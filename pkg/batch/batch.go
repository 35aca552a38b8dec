// Package batch answers many questions concurrently, one pipeline run per
// question.
package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alitto/pond/v2"

	"github.com/malbeclabs/sqlviz/pkg/logger"
	"github.com/malbeclabs/sqlviz/pkg/pipeline"
)

const (
	defaultConcurrency = 4

	// maxQuestionBytes bounds a single question line.
	maxQuestionBytes = 1 << 20
)

// Asker runs one question to completion. *pipeline.Pipeline satisfies it.
type Asker interface {
	Run(ctx context.Context, question string) (*pipeline.State, error)
}

type Config struct {
	Logger      *slog.Logger
	Asker       Asker
	Concurrency int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Asker == nil {
		return fmt.Errorf("asker is required")
	}
	if cfg.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return nil
}

// Result pairs a question with the state its run produced. Err holds a fatal
// run error; State is still set when the run got that far.
type Result struct {
	Index    int             `json:"index"`
	Question string          `json:"question"`
	State    *pipeline.State `json:"state,omitempty"`
	Err      string          `json:"error,omitempty"`
}

func (r Result) Passed() bool {
	return r.Err == "" && r.State != nil && r.State.Passed()
}

type Runner struct {
	log  *slog.Logger
	cfg  Config
	pool pond.ResultPool[Result]
}

func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate batch config: %w", err)
	}
	return &Runner{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[Result](cfg.Concurrency),
	}, nil
}

// Close waits for queued runs and releases the workers.
func (r *Runner) Close() {
	r.pool.StopAndWait()
}

// Run answers every question and returns results in input order. A failed
// run does not stop the others; only ctx cancellation returns an error.
func (r *Runner) Run(ctx context.Context, questions []string) ([]Result, error) {
	group := r.pool.NewGroupContext(ctx)

	for i, question := range questions {
		group.SubmitErr(func() (Result, error) {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			res := Result{Index: i, Question: question}
			state, err := r.cfg.Asker.Run(ctx, question)
			res.State = state
			if err != nil {
				r.log.Warn("batch: run failed", "index", i, "question", question, "error", err)
				res.Err = err.Error()
			} else {
				r.log.Info("batch: run finished", "index", i, "passed", state.Passed())
			}
			return res, nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to run batch: %w", err)
	}
	return results, nil
}

// ReadQuestions reads one question per line. Blank lines and lines starting
// with '#' are skipped. Lines longer than 1 MiB are rejected.
func ReadQuestions(rd io.Reader) ([]string, error) {
	var questions []string
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxQuestionBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions: %w", err)
	}
	return questions, nil
}
