package vizexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/viz"
)

func newTestExecutor(t *testing.T, timeout time.Duration) *Executor {
	t.Helper()
	e, err := New(Config{Timeout: timeout})
	require.NoError(t, err)
	return e
}

func salesFrame() *frame.Frame {
	return frame.New(
		[]frame.Column{{Name: "region"}, {Name: "total"}},
		[][]any{{"north", 10.0}, {"south", 25.5}},
	)
}

const barProgram = `package main

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
`

func TestVizExec_Execute_Bar(t *testing.T) {
	e := newTestExecutor(t, 0)

	b, err := e.Execute(context.Background(), barProgram, salesFrame())
	require.NoError(t, err)
	require.Equal(t, []string{"fig", "string_viz_result"}, b.Names())

	fig := b[viz.ChartBinding]
	require.Equal(t, viz.KindChart, fig.Kind)
	require.Equal(t, "Sales by region", fig.Chart.Title)
	require.Equal(t, []string{"north", "south"}, fig.Chart.Labels)
	require.Equal(t, []float64{10, 25.5}, fig.Chart.Series[0].Values)
	require.Equal(t, "2 regions", b[viz.TextBinding].Text)
}

func TestVizExec_Execute_WrapsMissingPackageClause(t *testing.T) {
	e := newTestExecutor(t, 0)

	code := `import (
	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	return viz.Bindings{"df_viz": viz.Table(df.Head(1))}, nil
}`
	b, err := e.Execute(context.Background(), code, salesFrame())
	require.NoError(t, err)
	require.Equal(t, 1, b[viz.TableBinding].Table.Len())
}

func TestVizExec_Execute_NilFrame(t *testing.T) {
	e := newTestExecutor(t, 0)

	code := `package main

import (
	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	return viz.Bindings{"string_viz_result": viz.Textf("%d", df.Len())}, nil
}`
	b, err := e.Execute(context.Background(), code, nil)
	require.NoError(t, err)
	require.Equal(t, "0", b[viz.TextBinding].Text)
}

func TestVizExec_Execute_Failures(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantIs  error
		wantMsg string
	}{
		{
			name: "forbidden import",
			code: `package main

import (
	"os"
	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	os.Exit(1)
	return nil, nil
}`,
			wantIs:  ErrForbiddenImport,
			wantMsg: "os",
		},
		{
			name: "dot import",
			code: `package main

import . "strings"
`,
			wantIs:  ErrForbiddenImport,
			wantMsg: ". strings",
		},
		{
			name:    "parse error",
			code:    "package main\n\nimport (\n",
			wantMsg: "code parse failed",
		},
		{
			name:    "wrong package",
			code:    "package viz\n",
			wantMsg: "must be package main",
		},
		{
			name: "compile error",
			code: `package main

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	return undefinedThing, nil
}`,
			wantMsg: "code evaluation failed",
		},
		{
			name: "missing entry point",
			code: `package main

func Render() string { return "" }`,
			wantIs:  ErrEntrypoint,
			wantMsg: "Visualize function not found",
		},
		{
			name: "wrong signature",
			code: `package main

func Visualize(n int) string { return "" }`,
			wantIs:  ErrEntrypoint,
			wantMsg: "expected func(*frame.Frame) (viz.Bindings, error)",
		},
		{
			name: "returns error",
			code: `package main

import (
	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	_, err := viz.Bar(df, "missing_column", "total")
	return nil, err
}`,
			wantMsg: `column "missing_column" not found`,
		},
		{
			name: "panics",
			code: `package main

import (
	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	panic("boom")
}`,
			wantMsg: "Visualize panicked",
		},
		{
			name: "no artifacts",
			code: `package main

import (
	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	return viz.Bindings{}, nil
}`,
			wantIs:  ErrInvalidArtifact,
			wantMsg: "returned no artifacts",
		},
		{
			name: "unknown artifact kind",
			code: `package main

import (
	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	return viz.Bindings{"fig": viz.Artifact{Kind: "image"}}, nil
}`,
			wantIs:  ErrInvalidArtifact,
			wantMsg: `unknown kind "image"`,
		},
	}

	e := newTestExecutor(t, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := e.Execute(context.Background(), tt.code, salesFrame())
			require.Error(t, err)
			require.Nil(t, b)
			if tt.wantIs != nil {
				require.ErrorIs(t, err, tt.wantIs)
			}
			require.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestVizExec_Execute_DoesNotMutateInput(t *testing.T) {
	e := newTestExecutor(t, 0)

	mutating := `package main

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
}`
	df := salesFrame()
	want := salesFrame()

	_, err := e.Execute(context.Background(), mutating, df)
	require.ErrorContains(t, err, "boom")
	require.Equal(t, want, df)

	// A successful run that edits its input before binding it returns the
	// edited copy and leaves the caller's frame alone.
	editing := `package main

import (
	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	df.Rows[1][1] = 0.0
	return viz.Bindings{"df_viz": viz.Table(df)}, nil
}`
	b, err := e.Execute(context.Background(), editing, df)
	require.NoError(t, err)
	require.Equal(t, want, df)
	require.Equal(t, 0.0, b[viz.TableBinding].Table.Rows[1][1])
	require.NotSame(t, df, b[viz.TableBinding].Table)
}

func TestVizExec_Execute_Timeout(t *testing.T) {
	e := newTestExecutor(t, 200*time.Millisecond)

	code := `package main

import (
	"time"

	"sqlviz/frame"
	"sqlviz/viz"
)

func Visualize(df *frame.Frame) (viz.Bindings, error) {
	time.Sleep(time.Minute)
	return nil, nil
}`
	start := time.Now()
	_, err := e.Execute(context.Background(), code, salesFrame())
	require.ErrorContains(t, err, "timed out")
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestVizExec_Config(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	require.Equal(t, defaultTimeout, cfg.Timeout)
	require.Equal(t, DefaultAllowedStdlib, cfg.AllowedStdlib)
	require.NotNil(t, cfg.Logger)

	cfg = Config{Timeout: -time.Second}
	require.ErrorContains(t, cfg.Validate(), "timeout must not be negative")

	cfg = Config{AllowedStdlib: []string{"not/a/package"}}
	require.ErrorContains(t, cfg.Validate(), "not available")
}

func TestVizExec_WrapCode(t *testing.T) {
	require.Equal(t, "package main\n\nfunc Visualize() {}\n", wrapCode("func Visualize() {}"))
	require.Equal(t, "package main", wrapCode("  package main  "))
	require.Equal(t, "// header\npackage main", wrapCode("// header\npackage main"))
}
