package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/repair"
	"github.com/malbeclabs/sqlviz/pkg/viz"
)

// NoSchemaSentinel replaces the schema text when discovery finds nothing or
// fails, so SQL generation still runs.
const NoSchemaSentinel = "no tables/schemas/columns available"

// State is the record threaded through every stage of a run. Each run owns
// exactly one State; stages receive it by pointer.
type State struct {
	RunID    string `json:"run_id"`
	Question string `json:"question"`

	DatabaseSchemas string `json:"database_schemas"`
	Query           string `json:"query"`

	MaxNumRetriesDebug int `json:"max_num_retries_debug"`

	NumRetriesDebugSQL int           `json:"num_retries_debug_sql"`
	ResultDebugSQL     repair.Status `json:"result_debug_sql"`
	ErrorMsgDebugSQL   string        `json:"error_msg_debug_sql"`
	DF                 *frame.Frame  `json:"df"`

	VisualizationRequest string       `json:"visualization_request"`
	VizCode              string       `json:"viz_code"`
	VizBindings          viz.Bindings `json:"viz_bindings"`

	NumRetriesDebugViz int           `json:"num_retries_debug_viz"`
	ResultDebugViz     repair.Status `json:"result_debug_viz"`
	ErrorMsgDebugViz   string        `json:"error_msg_debug_viz"`

	Trace      []StepRecord `json:"trace"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at,omitzero"`
}

// StepRecord describes one stage execution.
type StepRecord struct {
	Stage     StageName     `json:"stage"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	// Status is the repair status for validation stages, otherwise "ok" or
	// "error".
	Status string `json:"status"`
	Err    string `json:"error,omitempty"`
}

// NewState returns a fresh record for question with zero counters, an empty
// frame and empty bindings.
func NewState(question string, maxRetries int, now time.Time) *State {
	return &State{
		RunID:              uuid.NewString(),
		Question:           question,
		MaxNumRetriesDebug: maxRetries,
		DF:                 frame.Empty(),
		VizBindings:        viz.Bindings{},
		Trace:              []StepRecord{},
		StartedAt:          now,
	}
}

// SQLPassed reports whether the most recent query attempt succeeded.
func (s *State) SQLPassed() bool {
	return s.ResultDebugSQL == repair.Pass
}

// VizPassed reports whether the most recent visualization attempt succeeded.
func (s *State) VizPassed() bool {
	return s.ResultDebugViz == repair.Pass
}

// Passed reports whether both repair loops resolved with Pass.
func (s *State) Passed() bool {
	return s.SQLPassed() && s.VizPassed()
}

// resolved reports whether a loop with the given counters has nothing left
// to do: it passed, or it spent its budget.
func resolved(status repair.Status, retries, maxRetries int) bool {
	return status == repair.Pass || (status == repair.NotPass && retries >= max(maxRetries, 1))
}
