// Package viz defines the closed set of artifacts visualization code may
// produce, and the helpers generated code uses to build them.
package viz

import (
	"errors"
	"fmt"
	"sort"

	"github.com/malbeclabs/sqlviz/pkg/frame"
)

// Conventional binding names looked up by renderers.
const (
	TextBinding  = "string_viz_result"
	TableBinding = "df_viz"
	ChartBinding = "fig"
)

type Kind string

const (
	KindText  Kind = "text"
	KindTable Kind = "table"
	KindChart Kind = "chart"
)

type ChartType string

const (
	ChartBar     ChartType = "bar"
	ChartLine    ChartType = "line"
	ChartScatter ChartType = "scatter"
	ChartPie     ChartType = "pie"
)

var ErrInvalidArtifact = errors.New("invalid artifact")

// Series is one named sequence of values plotted against the chart labels.
type Series struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// Chart is a renderer-agnostic chart specification.
type Chart struct {
	Type    ChartType `json:"type"`
	Title   string    `json:"title,omitempty"`
	X       string    `json:"x"`
	Y       []string  `json:"y"`
	Labels  []string  `json:"labels,omitempty"`
	XValues []float64 `json:"x_values,omitempty"`
	Series  []Series  `json:"series"`
}

// Artifact is a tagged union over the supported output kinds.
type Artifact struct {
	Kind  Kind         `json:"kind"`
	Text  string       `json:"text,omitempty"`
	Table *frame.Frame `json:"table,omitempty"`
	Chart *Chart       `json:"chart,omitempty"`
}

// Bindings maps the names produced by visualization code to artifacts.
type Bindings map[string]Artifact

func Text(s string) Artifact {
	return Artifact{Kind: KindText, Text: s}
}

func Textf(format string, args ...any) Artifact {
	return Text(fmt.Sprintf(format, args...))
}

func Table(df *frame.Frame) Artifact {
	return Artifact{Kind: KindTable, Table: df}
}

// Bar plots one or more numeric columns against the categories in column x.
func Bar(df *frame.Frame, x string, y ...string) (Artifact, error) {
	return categorical(ChartBar, df, x, y)
}

// Line plots one or more numeric columns in row order against column x.
func Line(df *frame.Frame, x string, y ...string) (Artifact, error) {
	return categorical(ChartLine, df, x, y)
}

// Pie plots the share of column value per label.
func Pie(df *frame.Frame, label, value string) (Artifact, error) {
	return categorical(ChartPie, df, label, []string{value})
}

// Scatter plots numeric column y against numeric column x.
func Scatter(df *frame.Frame, x, y string) (Artifact, error) {
	xs, err := df.Floats(x)
	if err != nil {
		return Artifact{}, err
	}
	ys, err := df.Floats(y)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Kind: KindChart, Chart: &Chart{
		Type:    ChartScatter,
		X:       x,
		Y:       []string{y},
		XValues: xs,
		Series:  []Series{{Name: y, Values: ys}},
	}}, nil
}

func categorical(typ ChartType, df *frame.Frame, x string, y []string) (Artifact, error) {
	if len(y) == 0 {
		return Artifact{}, fmt.Errorf("%s chart needs at least one value column", typ)
	}
	labels, err := df.Strings(x)
	if err != nil {
		return Artifact{}, err
	}
	series := make([]Series, 0, len(y))
	for _, col := range y {
		values, err := df.Floats(col)
		if err != nil {
			return Artifact{}, err
		}
		series = append(series, Series{Name: col, Values: values})
	}
	return Artifact{Kind: KindChart, Chart: &Chart{
		Type:   typ,
		X:      x,
		Y:      y,
		Labels: labels,
		Series: series,
	}}, nil
}

// WithTitle returns a copy of a chart artifact with its title set. Other
// kinds are returned unchanged.
func (a Artifact) WithTitle(title string) Artifact {
	if a.Chart == nil {
		return a
	}
	c := *a.Chart
	c.Title = title
	a.Chart = &c
	return a
}

func (a Artifact) Validate() error {
	switch a.Kind {
	case KindText:
		return nil
	case KindTable:
		if a.Table == nil {
			return fmt.Errorf("%w: table artifact without a table", ErrInvalidArtifact)
		}
		return nil
	case KindChart:
		if a.Chart == nil {
			return fmt.Errorf("%w: chart artifact without a chart", ErrInvalidArtifact)
		}
		return a.Chart.Validate()
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidArtifact, a.Kind)
	}
}

func (c *Chart) Validate() error {
	want := len(c.Labels)
	switch c.Type {
	case ChartBar, ChartLine, ChartPie:
	case ChartScatter:
		want = len(c.XValues)
	default:
		return fmt.Errorf("%w: unknown chart type %q", ErrInvalidArtifact, c.Type)
	}
	if len(c.Series) == 0 {
		return fmt.Errorf("%w: %s chart has no series", ErrInvalidArtifact, c.Type)
	}
	for _, s := range c.Series {
		if len(s.Values) != want {
			return fmt.Errorf("%w: series %q has %d values, expected %d", ErrInvalidArtifact, s.Name, len(s.Values), want)
		}
	}
	return nil
}

// Validate checks every binding and returns the first problem found, in name
// order.
func (b Bindings) Validate() error {
	for _, name := range b.Names() {
		if name == "" {
			return fmt.Errorf("%w: empty binding name", ErrInvalidArtifact)
		}
		if err := b[name].Validate(); err != nil {
			return fmt.Errorf("binding %q: %w", name, err)
		}
	}
	return nil
}

func (b Bindings) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy of the map.
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}
