package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/llm/llmtest"
	"github.com/malbeclabs/sqlviz/pkg/viz"
)

// fakeQuerier fails the first `failures` calls and then returns result.
type fakeQuerier struct {
	mu       sync.Mutex
	failures int
	err      error
	result   *frame.Frame
	calls    []string
	onQuery  func()
}

func (q *fakeQuerier) Explain(_ context.Context, sql string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, sql)
	if len(q.calls) <= q.failures {
		return q.err
	}
	return nil
}

func (q *fakeQuerier) Query(context.Context, string) (*frame.Frame, error) {
	if q.onQuery != nil {
		q.onQuery()
	}
	return q.result, nil
}

func (q *fakeQuerier) Calls() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.calls...)
}

// fakeExecutor fails the first `failures` executions.
type fakeExecutor struct {
	mu       sync.Mutex
	failures int
	err      error
	bindings viz.Bindings
	codes    []string
	frames   []*frame.Frame
}

func (e *fakeExecutor) Execute(_ context.Context, code string, df *frame.Frame) (viz.Bindings, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
	e.frames = append(e.frames, df)
	if len(e.codes) <= e.failures {
		return nil, e.err
	}
	return e.bindings, nil
}

func (e *fakeExecutor) AllowedImports() []string {
	return []string{"fmt", "sqlviz/frame", "sqlviz/viz"}
}

type fakeCatalog struct {
	schema string
	err    error
}

func (c fakeCatalog) Describe(context.Context) (string, error) {
	return c.schema, c.err
}

// role identifies which prompt a completion call was rendered from.
func role(call llmtest.Call) string {
	switch {
	case strings.Contains(call.System, "SQL reviewer"):
		return "review"
	case strings.Contains(call.System, "silently fixes failing queries"):
		return "sql_fix"
	case strings.Contains(call.System, "SQL developer"):
		return "sql_write"
	case strings.Contains(call.System, "Business Intelligence"):
		return "plan"
	case strings.Contains(call.System, "silently fixes failing programs"):
		return "viz_fix"
	case strings.Contains(call.System, "Go data visualization assistant"):
		return "viz_write"
	}
	return "unknown"
}

// scriptedLLM answers each prompt role deterministically. Fix responses
// number themselves so repaired candidates differ.
type scriptedLLM struct {
	mu     sync.Mutex
	fixes  map[string]int
	failOn map[string]error
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{fixes: map[string]int{}, failOn: map[string]error{}}
}

func (l *scriptedLLM) handle(call llmtest.Call) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := role(call)
	if err, ok := l.failOn[r]; ok {
		return "", err
	}
	switch r {
	case "sql_write":
		return "Here you go:\n```sql\nSELECT region, total FROM sales;\n```", nil
	case "review":
		return "```sql\nSELECT region, total FROM sales ORDER BY total DESC\n```", nil
	case "sql_fix":
		l.fixes[r]++
		return "```sql\nSELECT region, total FROM sales -- fix " + string(rune('0'+l.fixes[r])) + "\n```", nil
	case "plan":
		return "A bar chart is best. The x-axis is region and the y-axis is total.", nil
	case "viz_write":
		return "```go\nfunc Visualize(df *frame.Frame) (viz.Bindings, error) { return nil, nil }\n```", nil
	case "viz_fix":
		l.fixes[r]++
		return "```go\n// fix " + string(rune('0'+l.fixes[r])) + "\nfunc Visualize(df *frame.Frame) (viz.Bindings, error) { return nil, nil }\n```", nil
	}
	return "", errors.New("unexpected prompt")
}

func salesFrame() *frame.Frame {
	return frame.New(
		[]frame.Column{{Name: "region", Type: "text"}, {Name: "total", Type: "numeric"}},
		[][]any{{"north", 15.75}, {"south", 20.0}},
	)
}

type fixture struct {
	llm      *llmtest.Completer
	script   *scriptedLLM
	querier  *fakeQuerier
	executor *fakeExecutor
	catalog  fakeCatalog
}

func newFixture() *fixture {
	script := newScriptedLLM()
	return &fixture{
		llm:     llmtest.New(script.handle),
		script:  script,
		querier: &fakeQuerier{err: errors.New(`relation "sales" does not exist`), result: salesFrame()},
		executor: &fakeExecutor{
			err:      errors.New("undefined: viz.Barr"),
			bindings: viz.Bindings{viz.TextBinding: viz.Text("ok")},
		},
		catalog: fakeCatalog{schema: "public.sales: region (text), total (numeric)"},
	}
}

func (f *fixture) config() Config {
	return Config{
		LLM:        f.llm,
		Catalog:    f.catalog,
		Querier:    f.querier,
		Executor:   f.executor,
		MaxRetries: DefaultMaxRetries,
	}
}

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func rolesOf(calls []llmtest.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = role(c)
	}
	return out
}

func stagesOf(s *State) []StageName {
	out := make([]StageName, len(s.Trace))
	for i, r := range s.Trace {
		out[i] = r.Stage
	}
	return out
}
