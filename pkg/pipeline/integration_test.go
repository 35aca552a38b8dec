package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/sqlviz/pkg/llm/llmtest"
	"github.com/malbeclabs/sqlviz/pkg/querier"
	"github.com/malbeclabs/sqlviz/pkg/repair"
	"github.com/malbeclabs/sqlviz/pkg/schema"
	"github.com/malbeclabs/sqlviz/pkg/viz"
	"github.com/malbeclabs/sqlviz/pkg/vizexec"
)

const brokenBarProgram = "```go\n" + `package main

import (
	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	fig, err := viz.Bar(df, "region", "totals")
	if err != nil {
		return nil, err
	}
	return viz.Bindings{"fig": fig}, nil
}
` + "```"

const barProgram = "```go\n" + `package main

import (
	"fmt"

	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	fig, err := viz.Bar(df, "region", "total")
	if err != nil {
		return nil, err
	}
	return viz.Bindings{
		"fig":               fig.WithTitle("Sales by region"),
		"string_viz_result": viz.Text(fmt.Sprintf("%d regions", df.Len())),
	}, nil
}
` + "```"

// TestPipeline_DuckDBAndInterpreter runs every stage against a real
// DuckDB database and the Go interpreter, with a scripted model that
// first writes a broken query and a broken program.
func TestPipeline_DuckDBAndInterpreter(t *testing.T) {
	t.Parallel()

	q, err := querier.NewDuckDB(t.Context(), querier.Config{Driver: querier.DriverDuckDB})
	require.NoError(t, err)
	defer q.Close()
	_, err = q.DB().ExecContext(t.Context(), `
		CREATE TABLE sales (region VARCHAR, amount DOUBLE);
		INSERT INTO sales VALUES ('north', 10.5), ('south', 20), ('north', 5.25);
	`)
	require.NoError(t, err)

	catalog, err := schema.New(schema.Config{Querier: q})
	require.NoError(t, err)
	executor, err := vizexec.New(vizexec.Config{})
	require.NoError(t, err)

	completer := llmtest.New(func(call llmtest.Call) (string, error) {
		switch role(call) {
		case "sql_write":
			return "```sql\nSELECT region, SUM(amount) AS total FROM sale GROUP BY region ORDER BY region\n```", nil
		case "sql_fix":
			return "```sql\nSELECT region, SUM(amount) AS total FROM sales GROUP BY region ORDER BY region\n```", nil
		case "plan":
			return "A bar chart of total by region.", nil
		case "viz_write":
			return brokenBarProgram, nil
		case "viz_fix":
			return barProgram, nil
		}
		return "", nil
	})

	p := newTestPipeline(t, Config{
		LLM:        completer,
		Catalog:    catalog,
		Querier:    q,
		Executor:   executor,
		Dialect:    DialectFor(q.Driver()),
		MaxRetries: DefaultMaxRetries,
	})

	s, err := p.Run(t.Context(), "What are total sales by region?")
	require.NoError(t, err)

	require.Equal(t, "main.sales: region (VARCHAR), amount (DOUBLE)", s.DatabaseSchemas)
	require.Contains(t, completer.Calls()[0].System, "DuckDB")

	require.Equal(t, repair.Pass, s.ResultDebugSQL)
	require.Equal(t, 1, s.NumRetriesDebugSQL)
	require.Equal(t, 2, s.DF.Len())
	require.Equal(t, []string{"region", "total"}, s.DF.Names())

	require.Equal(t, repair.Pass, s.ResultDebugViz)
	require.Equal(t, 1, s.NumRetriesDebugViz)
	require.Empty(t, s.ErrorMsgDebugViz)

	fig := s.VizBindings[viz.ChartBinding]
	require.Equal(t, viz.KindChart, fig.Kind)
	require.Equal(t, "Sales by region", fig.Chart.Title)
	require.Equal(t, []string{"north", "south"}, fig.Chart.Labels)
	require.InDeltaSlice(t, []float64{15.75, 20}, fig.Chart.Series[0].Values, 1e-9)
	require.Equal(t, "2 regions", s.VizBindings[viz.TextBinding].Text)

	// The viz fixer saw the error about the missing column.
	var fixPrompt string
	for _, c := range completer.Calls() {
		if role(c) == "viz_fix" {
			fixPrompt = c.System
		}
	}
	require.True(t, strings.Contains(fixPrompt, `column "totals" not found`), fixPrompt)
}

const mutatingProgram = "```go\n" + `package main

import (
	"errors"

	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	df.Rows[0][1] = 999.0
	df.Columns[0].Name = "hacked"
	df.Rows = df.Rows[:1]
	return nil, errors.New("boom")
}
` + "```"

// TestPipeline_FailedVizAttemptLeavesFrameIntact checks that a program that
// edits its input and fails does not change State.DF or what the repaired
// program sees.
func TestPipeline_FailedVizAttemptLeavesFrameIntact(t *testing.T) {
	t.Parallel()

	q, err := querier.NewDuckDB(t.Context(), querier.Config{Driver: querier.DriverDuckDB})
	require.NoError(t, err)
	defer q.Close()
	_, err = q.DB().ExecContext(t.Context(), `
		CREATE TABLE sales (region VARCHAR, amount DOUBLE);
		INSERT INTO sales VALUES ('north', 10.5), ('south', 20), ('north', 5.25);
	`)
	require.NoError(t, err)

	catalog, err := schema.New(schema.Config{Querier: q})
	require.NoError(t, err)
	executor, err := vizexec.New(vizexec.Config{})
	require.NoError(t, err)

	completer := llmtest.New(func(call llmtest.Call) (string, error) {
		switch role(call) {
		case "sql_write":
			return "```sql\nSELECT region, SUM(amount) AS total FROM sales GROUP BY region ORDER BY region\n```", nil
		case "plan":
			return "A bar chart of total by region.", nil
		case "viz_write":
			return mutatingProgram, nil
		case "viz_fix":
			return barProgram, nil
		}
		return "", nil
	})

	p := newTestPipeline(t, Config{
		LLM:        completer,
		Catalog:    catalog,
		Querier:    q,
		Executor:   executor,
		Dialect:    DialectFor(q.Driver()),
		MaxRetries: DefaultMaxRetries,
	})

	s, err := p.Run(t.Context(), "What are total sales by region?")
	require.NoError(t, err)

	require.Equal(t, repair.Pass, s.ResultDebugViz)
	require.Equal(t, 1, s.NumRetriesDebugViz)

	require.Equal(t, []string{"region", "total"}, s.DF.Names())
	require.Equal(t, 2, s.DF.Len())
	require.Equal(t, "north", s.DF.Rows[0][0])
	require.InDelta(t, 15.75, s.DF.Rows[0][1], 1e-9)

	fig := s.VizBindings[viz.ChartBinding]
	require.Equal(t, []string{"north", "south"}, fig.Chart.Labels)
	require.InDeltaSlice(t, []float64{15.75, 20}, fig.Chart.Series[0].Values, 1e-9)
}
