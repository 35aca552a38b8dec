package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/sqlviz/pkg/logger"
	"github.com/malbeclabs/sqlviz/pkg/metrics"
)

type StageName string

// StageEnd terminates a graph run.
const StageEnd StageName = "__end__"

const defaultMaxSteps = 64

var (
	ErrStepLimit    = errors.New("step limit exceeded")
	ErrUnknownStage = errors.New("unknown stage")
)

// StageFunc mutates the state in place. A returned error stops the run.
type StageFunc func(ctx context.Context, s *State) error

// Router picks the next stage from the state after a stage finishes.
type Router func(s *State) StageName

// StatusFunc reports the status recorded in the trace for a stage.
type StatusFunc func(s *State) string

type GraphConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	MaxSteps int
}

func (cfg *GraphConfig) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxSteps < 0 {
		return fmt.Errorf("max steps must not be negative")
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	return nil
}

type stage struct {
	fn     StageFunc
	status StatusFunc
}

// Graph is a directed graph of named stages executed strictly sequentially.
// Every stage has exactly one outgoing edge, unconditional or routed.
type Graph struct {
	log    *slog.Logger
	cfg    GraphConfig
	entry  StageName
	stages map[StageName]stage
	edges  map[StageName]Router
	order  []StageName
}

func NewGraph(cfg GraphConfig) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate graph config: %w", err)
	}
	return &Graph{
		log:    cfg.Logger,
		cfg:    cfg,
		stages: make(map[StageName]stage),
		edges:  make(map[StageName]Router),
	}, nil
}

// AddStage registers fn under name. The first stage added is the entry
// unless SetEntry overrides it. status may be nil.
func (g *Graph) AddStage(name StageName, fn StageFunc, status StatusFunc) {
	if g.entry == "" {
		g.entry = name
	}
	if _, ok := g.stages[name]; !ok {
		g.order = append(g.order, name)
	}
	g.stages[name] = stage{fn: fn, status: status}
}

func (g *Graph) SetEntry(name StageName) {
	g.entry = name
}

func (g *Graph) Edge(from, to StageName) {
	g.edges[from] = func(*State) StageName { return to }
}

func (g *Graph) ConditionalEdge(from StageName, route Router) {
	g.edges[from] = route
}

// Stages returns the registered stage names in registration order.
func (g *Graph) Stages() []StageName {
	out := make([]StageName, len(g.order))
	copy(out, g.order)
	return out
}

// Validate checks that the entry exists and every stage has an edge.
func (g *Graph) Validate() error {
	if _, ok := g.stages[g.entry]; !ok {
		return fmt.Errorf("%w: entry %q", ErrUnknownStage, g.entry)
	}
	for _, name := range g.order {
		if _, ok := g.edges[name]; !ok {
			return fmt.Errorf("stage %q has no outgoing edge", name)
		}
	}
	for from := range g.edges {
		if _, ok := g.stages[from]; !ok {
			return fmt.Errorf("%w: edge from %q", ErrUnknownStage, from)
		}
	}
	return nil
}

// Run executes the graph from its entry stage.
func (g *Graph) Run(ctx context.Context, s *State) error {
	return g.RunFrom(ctx, s, g.entry)
}

// RunFrom executes the graph starting at start, e.g. to resume a
// deserialized state.
func (g *Graph) RunFrom(ctx context.Context, s *State, start StageName) error {
	current := start
	for step := 0; current != StageEnd; step++ {
		if step >= g.cfg.MaxSteps {
			return fmt.Errorf("%w: %d steps, last stage %q", ErrStepLimit, step, current)
		}
		st, ok := g.stages[current]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownStage, current)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		startedAt := g.cfg.Clock.Now()
		g.log.Debug("pipeline: stage started", "run_id", s.RunID, "stage", current, "step", step)

		err := st.fn(ctx, s)
		duration := g.cfg.Clock.Since(startedAt)
		metrics.StageDuration.WithLabelValues(string(current)).Observe(duration.Seconds())

		record := StepRecord{Stage: current, StartedAt: startedAt, Duration: duration, Status: "ok"}
		if st.status != nil {
			record.Status = st.status(s)
		}
		if err != nil {
			record.Status = "error"
			record.Err = err.Error()
		}
		s.Trace = append(s.Trace, record)

		if err != nil {
			g.log.Error("pipeline: stage failed", "run_id", s.RunID, "stage", current, "duration", duration, "error", err)
			return fmt.Errorf("stage %s: %w", current, err)
		}

		next := g.edges[current](s)
		g.log.Info("pipeline: stage finished", "run_id", s.RunID, "stage", current, "status", record.Status, "duration", duration, "next", next)
		current = next
	}
	return nil
}
