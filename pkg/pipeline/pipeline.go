// Package pipeline turns a natural-language question into a validated SQL
// query, a result frame, a presentation plan and validated visualization
// code. Two repair loops bound the query and code validation stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/sqlviz/pkg/extract"
	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/llm"
	"github.com/malbeclabs/sqlviz/pkg/logger"
	"github.com/malbeclabs/sqlviz/pkg/metrics"
	"github.com/malbeclabs/sqlviz/pkg/querier"
	"github.com/malbeclabs/sqlviz/pkg/repair"
	"github.com/malbeclabs/sqlviz/pkg/schema"
	"github.com/malbeclabs/sqlviz/pkg/viz"
)

const (
	StageDiscoverSchema StageName = "discover_schema"
	StageGenerateSQL    StageName = "generate_sql"
	StageReviewSQL      StageName = "review_sql"
	StageValidateSQL    StageName = "validate_sql"
	StagePlanViz        StageName = "plan_viz"
	StageGenerateViz    StageName = "generate_viz"
	StageValidateViz    StageName = "validate_viz"
)

const (
	DefaultMaxRetries = 3
	defaultRunTimeout = 10 * time.Minute
	sampleRows        = 5
)

// ErrCompletion marks a run stopped because a completion call failed in a
// stage that has nothing to fall back on.
var ErrCompletion = errors.New("completion failed")

// Querier is the query executor the pipeline needs.
type Querier interface {
	Explain(ctx context.Context, sql string) error
	Query(ctx context.Context, sql string) (*frame.Frame, error)
}

// CodeExecutor runs visualization programs against a frame.
type CodeExecutor interface {
	Execute(ctx context.Context, code string, df *frame.Frame) (viz.Bindings, error)
	AllowedImports() []string
}

type Config struct {
	Logger   *slog.Logger
	LLM      llm.Completer
	Catalog  schema.Catalog
	Querier  Querier
	Executor CodeExecutor
	Prompts  *Prompts
	Clock    clockwork.Clock

	// Dialect names the SQL dialect in prompts.
	Dialect string
	// MaxRetries is the repair budget of each loop. Zero still executes each
	// candidate once.
	MaxRetries    int
	MaxErrorChars int
	// ReviewSQL inserts the review_sql stage before validation.
	ReviewSQL  bool
	RunTimeout time.Duration
	MaxSteps   int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.LLM == nil {
		return fmt.Errorf("llm is required")
	}
	if cfg.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if cfg.Querier == nil {
		return fmt.Errorf("querier is required")
	}
	if cfg.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if cfg.Prompts == nil {
		prompts, err := LoadPrompts()
		if err != nil {
			return err
		}
		cfg.Prompts = prompts
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DialectFor(querier.DriverPostgres)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if cfg.MaxErrorChars < 0 {
		return fmt.Errorf("max error chars must not be negative")
	}
	if cfg.MaxErrorChars == 0 {
		cfg.MaxErrorChars = repair.DefaultMaxErrorChars
	}
	if cfg.RunTimeout < 0 {
		return fmt.Errorf("run timeout must not be negative")
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	return nil
}

// DialectFor names the SQL dialect of a query backend.
func DialectFor(driver querier.Driver) string {
	switch driver {
	case querier.DriverDuckDB:
		return "DuckDB"
	case querier.DriverClickHouse:
		return "ClickHouse"
	default:
		return "PostgreSQL"
	}
}

// Pipeline runs questions through the stage graph. It holds no per-run
// state and is safe for concurrent runs.
type Pipeline struct {
	log   *slog.Logger
	cfg   Config
	graph *Graph
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate pipeline config: %w", err)
	}
	p := &Pipeline{log: cfg.Logger, cfg: cfg}

	graph, err := NewGraph(GraphConfig{Logger: cfg.Logger, Clock: cfg.Clock, MaxSteps: cfg.MaxSteps})
	if err != nil {
		return nil, err
	}
	graph.AddStage(StageDiscoverSchema, p.discoverSchema, nil)
	graph.AddStage(StageGenerateSQL, p.generateSQL, nil)
	graph.AddStage(StageValidateSQL, p.validateSQL, func(s *State) string { return s.ResultDebugSQL.String() })
	graph.AddStage(StagePlanViz, p.planViz, nil)
	graph.AddStage(StageGenerateViz, p.generateViz, nil)
	graph.AddStage(StageValidateViz, p.validateViz, func(s *State) string { return s.ResultDebugViz.String() })

	graph.Edge(StageDiscoverSchema, StageGenerateSQL)
	if cfg.ReviewSQL {
		graph.AddStage(StageReviewSQL, p.reviewSQL, nil)
		graph.Edge(StageGenerateSQL, StageReviewSQL)
		graph.Edge(StageReviewSQL, StageValidateSQL)
	} else {
		graph.Edge(StageGenerateSQL, StageValidateSQL)
	}
	graph.ConditionalEdge(StageValidateSQL, func(s *State) StageName {
		if resolved(s.ResultDebugSQL, s.NumRetriesDebugSQL, s.MaxNumRetriesDebug) {
			return StagePlanViz
		}
		return StageValidateSQL
	})
	graph.Edge(StagePlanViz, StageGenerateViz)
	graph.Edge(StageGenerateViz, StageValidateViz)
	graph.ConditionalEdge(StageValidateViz, func(s *State) StageName {
		if resolved(s.ResultDebugViz, s.NumRetriesDebugViz, s.MaxNumRetriesDebug) {
			return StageEnd
		}
		return StageValidateViz
	})
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("failed to build pipeline graph: %w", err)
	}

	p.graph = graph
	return p, nil
}

// Graph exposes the stage graph, e.g. for listing stages.
func (p *Pipeline) Graph() *Graph {
	return p.graph
}

// NewState returns a fresh state for question using the configured budget
// and clock.
func (p *Pipeline) NewState(question string) *State {
	return NewState(question, p.cfg.MaxRetries, p.cfg.Clock.Now())
}

// Run answers question end to end. The returned state is never nil. The
// error is non-nil only when ctx ends or a completion fails in a generation
// stage; the partial state is returned in that case too.
func (p *Pipeline) Run(ctx context.Context, question string) (*State, error) {
	s := p.NewState(question)
	err := p.Resume(ctx, s, StageDiscoverSchema)
	return s, err
}

// Resume continues s from the named stage. Repair loops pick up the retry
// counters already recorded in s.
func (p *Pipeline) Resume(ctx context.Context, s *State, from StageName) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout)
	defer cancel()

	p.log.Info("pipeline: run started", "run_id", s.RunID, "from", from, "question", s.Question, "max_retries", s.MaxNumRetriesDebug)
	err := p.graph.RunFrom(ctx, s, from)
	s.FinishedAt = p.cfg.Clock.Now()
	duration := s.FinishedAt.Sub(s.StartedAt)

	status := "pass"
	switch {
	case err != nil:
		status = "error"
	case !s.Passed():
		status = "not_pass"
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()
	metrics.RunDuration.Observe(duration.Seconds())

	if err != nil {
		p.log.Error("pipeline: run failed", "run_id", s.RunID, "duration", duration, "error", err)
		return err
	}
	p.log.Info("pipeline: run finished", "run_id", s.RunID, "duration", duration,
		"sql", s.ResultDebugSQL.String(), "sql_retries", s.NumRetriesDebugSQL,
		"viz", s.ResultDebugViz.String(), "viz_retries", s.NumRetriesDebugViz)
	return nil
}

func (p *Pipeline) discoverSchema(ctx context.Context, s *State) error {
	schemas, err := p.cfg.Catalog.Describe(ctx)
	if err != nil {
		p.log.Warn("pipeline: schema discovery failed", "run_id", s.RunID, "error", err)
		schemas = ""
	}
	if strings.TrimSpace(schemas) == "" {
		p.log.Warn("pipeline: no tables found", "run_id", s.RunID)
		schemas = NoSchemaSentinel
	}
	s.DatabaseSchemas = schemas
	return nil
}

func (p *Pipeline) generateSQL(ctx context.Context, s *State) error {
	system, err := render(p.cfg.Prompts.SQLWriter, p.promptData(s))
	if err != nil {
		return err
	}
	response, err := p.cfg.LLM.Complete(ctx, system, s.Question)
	if err != nil {
		return completionError(ctx, err)
	}
	s.Query = extract.SQL(response)
	p.log.Debug("pipeline: query generated", "run_id", s.RunID, "sql", s.Query)
	return nil
}

// reviewSQL rewrites the generated query. A failed review keeps the query
// as generated.
func (p *Pipeline) reviewSQL(ctx context.Context, s *State) error {
	system, err := render(p.cfg.Prompts.SQLReviewer, p.promptData(s))
	if err != nil {
		return err
	}
	response, err := p.cfg.LLM.Complete(ctx, system, "```sql\n"+s.Query+"\n```")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn("pipeline: review failed, keeping generated query", "run_id", s.RunID, "error", err)
		return nil
	}
	if reviewed := extract.SQL(response); reviewed != "" {
		s.Query = reviewed
	}
	return nil
}

func (p *Pipeline) validateSQL(ctx context.Context, s *State) error {
	if resolved(s.ResultDebugSQL, s.NumRetriesDebugSQL, s.MaxNumRetriesDebug) {
		return nil
	}
	loop, err := repair.New(repair.Config[*frame.Frame]{
		Name:          "sql",
		Logger:        p.log.With("run_id", s.RunID),
		MaxRetries:    s.MaxNumRetriesDebug,
		MaxErrorChars: p.cfg.MaxErrorChars,
		OnAttempt:     observeAttempt,
		Execute: func(ctx context.Context, sql string) (*frame.Frame, error) {
			if err := p.cfg.Querier.Explain(ctx, sql); err != nil {
				return nil, err
			}
			return p.cfg.Querier.Query(ctx, sql)
		},
		Repair: func(ctx context.Context, sql, errMsg string) (string, error) {
			data := p.promptData(s)
			data.Query = sql
			data.Error = errMsg
			system, err := render(p.cfg.Prompts.SQLFixer, data)
			if err != nil {
				return "", err
			}
			response, err := p.cfg.LLM.Complete(ctx, system, "Fix the query.")
			if err != nil {
				return "", err
			}
			return extract.SQL(response), nil
		},
	})
	if err != nil {
		return err
	}

	out := loop.Run(ctx, s.Query, s.NumRetriesDebugSQL)
	s.Query = out.Candidate
	s.NumRetriesDebugSQL = out.Retries
	s.ResultDebugSQL = out.Status
	s.ErrorMsgDebugSQL = out.Err
	if out.Status == repair.Pass {
		s.DF = out.Result
	}
	return ctx.Err()
}

func (p *Pipeline) planViz(ctx context.Context, s *State) error {
	system, err := render(p.cfg.Prompts.BIExpert, p.promptData(s))
	if err != nil {
		return err
	}
	response, err := p.cfg.LLM.Complete(ctx, system, "Recommend how to present this result.")
	if err != nil {
		return completionError(ctx, err)
	}
	s.VisualizationRequest = strings.TrimSpace(response)
	return nil
}

func (p *Pipeline) generateViz(ctx context.Context, s *State) error {
	system, err := render(p.cfg.Prompts.VizGenerator, p.promptData(s))
	if err != nil {
		return err
	}
	response, err := p.cfg.LLM.Complete(ctx, system, "Write the visualization program.")
	if err != nil {
		return completionError(ctx, err)
	}
	s.VizCode = extract.CodeBlock(response, "go")
	p.log.Debug("pipeline: visualization code generated", "run_id", s.RunID, "code", s.VizCode)
	return nil
}

func (p *Pipeline) validateViz(ctx context.Context, s *State) error {
	if resolved(s.ResultDebugViz, s.NumRetriesDebugViz, s.MaxNumRetriesDebug) {
		return nil
	}
	df := s.DF
	loop, err := repair.New(repair.Config[viz.Bindings]{
		Name:          "viz",
		Logger:        p.log.With("run_id", s.RunID),
		MaxRetries:    s.MaxNumRetriesDebug,
		MaxErrorChars: p.cfg.MaxErrorChars,
		OnAttempt:     observeAttempt,
		Execute: func(ctx context.Context, code string) (viz.Bindings, error) {
			return p.cfg.Executor.Execute(ctx, code, df)
		},
		Repair: func(ctx context.Context, code, errMsg string) (string, error) {
			data := p.promptData(s)
			data.Code = code
			data.Error = errMsg
			system, err := render(p.cfg.Prompts.VizFixer, data)
			if err != nil {
				return "", err
			}
			response, err := p.cfg.LLM.Complete(ctx, system, "Fix the program.")
			if err != nil {
				return "", err
			}
			return extract.CodeBlock(response, "go"), nil
		},
	})
	if err != nil {
		return err
	}

	out := loop.Run(ctx, s.VizCode, s.NumRetriesDebugViz)
	s.VizCode = out.Candidate
	s.NumRetriesDebugViz = out.Retries
	s.ResultDebugViz = out.Status
	s.ErrorMsgDebugViz = out.Err
	if out.Status == repair.Pass {
		s.VizBindings = out.Result
	}
	return ctx.Err()
}

func (p *Pipeline) promptData(s *State) promptData {
	df := s.DF
	if df == nil {
		df = frame.Empty()
	}
	return promptData{
		Dialect:              p.cfg.Dialect,
		Question:             s.Question,
		DatabaseSchemas:      s.DatabaseSchemas,
		Query:                s.Query,
		Structure:            df.Structure(),
		Sample:               df.Sample(sampleRows),
		VisualizationRequest: s.VisualizationRequest,
		Code:                 s.VizCode,
		Imports:              quoteList(p.cfg.Executor.AllowedImports()),
		TextBinding:          viz.TextBinding,
		TableBinding:         viz.TableBinding,
		ChartBinding:         viz.ChartBinding,
	}
}

func observeAttempt(a repair.Attempt) {
	status := "pass"
	if a.Status != repair.Pass {
		status = "not_pass"
	}
	metrics.RepairAttemptsTotal.WithLabelValues(a.Loop, status).Inc()
}

// completionError wraps err with ErrCompletion unless the run itself was
// cancelled.
func completionError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", ErrCompletion, err)
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = `"` + item + `"`
	}
	return strings.Join(quoted, ", ")
}
